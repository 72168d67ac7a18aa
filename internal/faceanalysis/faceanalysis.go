// Package faceanalysis defines the contract with the external face-analysis
// model. The model is a pretrained detector and embedder running as a
// sidecar; everything here treats it as a black box.
package faceanalysis

import "context"

// BoundingBox holds face corner coordinates as [x1, y1, x2, y2].
type BoundingBox [4]float32

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() float32 { return b[2] - b[0] }

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() float32 { return b[3] - b[1] }

// Area returns width times height.
func (b BoundingBox) Area() float32 { return b.Width() * b.Height() }

// Face is a single detection returned by the model: a bounding box, a
// detection confidence in [0,1] and a fixed-length embedding whose
// dimensionality is owned by the model.
type Face struct {
	BBox      BoundingBox
	Score     float32
	Embedding []float32
}

// Client exposes the subset of model functionality used by the service.
type Client interface {
	Analyze(ctx context.Context, image []byte) ([]Face, error)
	ModelName() string
}
