package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/sunzc-sunny/RDAnnotator/internal/retry"
)

// HTTPClassifier sends JPEG crops to an external classification service and
// reads back {"label": n}.
type HTTPClassifier struct {
	url    string
	client *http.Client
}

// NewHTTPClassifier creates a classifier posting to url.
func NewHTTPClassifier(url string, timeout time.Duration) *HTTPClassifier {
	return &HTTPClassifier{url: url, client: &http.Client{Timeout: timeout}}
}

type classifyResponse struct {
	Label *int `json:"label"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, crop image.Image) (int, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, crop, &jpeg.Options{Quality: 95}); err != nil {
		return 0, retry.Permanent(fmt.Errorf("encode crop: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("build classifier request: %w", err))
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read classifier response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return 0, &retry.StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var out classifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode classifier response: %w", err)
	}
	if out.Label == nil {
		return 0, fmt.Errorf("classifier response missing label")
	}
	if _, err := ColorName(*out.Label); err != nil {
		return 0, err
	}
	return *out.Label, nil
}
