// Package photofetch downloads enrollment photos from caller-supplied URLs.
package photofetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxPhotoBytes caps how much of a photo response is read.
const MaxPhotoBytes = 15 << 20

// Fetcher retrieves the raw bytes of a photo.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher downloads photos over HTTP with a fixed per-request timeout and
// no retries; enrollment treats any failure as a bad photo.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds a fetcher with the given timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads the photo at url.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build photo request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("photo host returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read photo body: %w", err)
	}
	if len(data) > MaxPhotoBytes {
		return nil, fmt.Errorf("photo exceeds %d bytes", MaxPhotoBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("photo body is empty")
	}
	return data, nil
}
