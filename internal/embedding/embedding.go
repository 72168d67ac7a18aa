// Package embedding holds the vector post-processing applied to face
// embeddings: L2 normalization, cosine similarity, template averaging and the
// base64 wire codec for float32 vectors.
package embedding

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two vectors of different lengths are
// compared.
var ErrDimensionMismatch = errors.New("embedding dimensions do not match")

// L2Normalize returns a copy of v scaled to unit length. A zero vector is
// returned unchanged.
func L2Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sumSquares)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Cosine computes the cosine similarity of a and b. Both vectors are
// normalized independently, so neither side needs to arrive pre-normalized.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, errors.New("empty embedding")
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// BuildTemplate averages the given embeddings into a single enrollment
// template: each input is L2-normalized, the normalized vectors are averaged
// element-wise and the mean is normalized again.
func BuildTemplate(embeddings [][]float32) ([]float32, error) {
	if len(embeddings) == 0 {
		return nil, errors.New("no embeddings to average")
	}
	dim := len(embeddings[0])
	if dim == 0 {
		return nil, errors.New("empty embedding")
	}

	sum := make([]float64, dim)
	for _, emb := range embeddings {
		if len(emb) != dim {
			return nil, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(emb), dim)
		}
		for i, x := range L2Normalize(emb) {
			sum[i] += float64(x)
		}
	}

	mean := make([]float32, dim)
	n := float64(len(embeddings))
	for i, x := range sum {
		mean[i] = float32(x / n)
	}
	return L2Normalize(mean), nil
}

// Encode serializes a vector as little-endian float32 bytes in base64, the
// layout callers store alongside their enrollment records.
func Encode(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// Decode reverses Encode.
func Decode(s string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("invalid template length %d", len(raw))
	}
	v := make([]float32, len(raw)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return v, nil
}
