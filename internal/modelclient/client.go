// Package modelclient talks HTTP to the face-analysis model sidecar.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-liveness/internal/faceanalysis"
	"github.com/example/face-liveness/internal/logging"
)

const (
	analyzePath = "/analyze"
	modelPath   = "/model"

	// inference on CPU can take a few seconds per frame
	defaultRequestTimeout = 30 * time.Second
)

// Client is an HTTP implementation of faceanalysis.Client.
type Client struct {
	baseURL   string
	http      *http.Client
	logger    *zap.Logger
	modelName string
}

type modelInfoResponse struct {
	Model string `json:"model"`
}

type analyzeResponse struct {
	Faces []struct {
		BBox      [4]float32 `json:"bbox"`
		Score     float32    `json:"det_score"`
		Embedding []float32  `json:"embedding"`
	} `json:"faces"`
}

// Dial verifies connectivity with the sidecar and returns a ready-to-use
// client. The model name reported by the sidecar is cached for health checks.
func Dial(ctx context.Context, baseURL string, logger *zap.Logger) (*Client, error) {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultRequestTimeout},
		logger:  logger.Named("modelclient"),
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	name, err := c.fetchModelName(dialCtx)
	if err != nil {
		wrapped := logging.NewOperationError("modelclient.dial", "", err)
		c.logger.Error("failed to reach face analysis model", zap.Error(wrapped), zap.String("addr", baseURL))
		return nil, wrapped
	}
	c.modelName = name
	c.logger.Info("connected to face analysis model", zap.String("addr", baseURL), zap.String("model", name))
	return c, nil
}

// ModelName reports the model identifier announced by the sidecar at dial time.
func (c *Client) ModelName() string {
	return c.modelName
}

// Analyze submits an encoded image and returns the detected faces.
func (c *Client) Analyze(ctx context.Context, image []byte) ([]faceanalysis.Face, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+analyzePath, bytes.NewReader(image))
	if err != nil {
		return nil, logging.NewOperationError("modelclient.analyze", "", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("modelclient.analyze", "", err)
		c.logger.Error("face analysis call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("model returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
		wrapped := logging.NewOperationError("modelclient.analyze", "", err)
		c.logger.Error("face analysis call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	var payload analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, logging.NewOperationError("modelclient.analyze.decode", "", err)
	}

	faces := make([]faceanalysis.Face, 0, len(payload.Faces))
	for _, f := range payload.Faces {
		faces = append(faces, faceanalysis.Face{
			BBox:      faceanalysis.BoundingBox(f.BBox),
			Score:     f.Score,
			Embedding: f.Embedding,
		})
	}
	return faces, nil
}

func (c *Client) fetchModelName(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+modelPath, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model returned status %d", resp.StatusCode)
	}

	var info modelInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.Model == "" {
		return "", fmt.Errorf("model did not report a name")
	}
	return info.Model, nil
}
