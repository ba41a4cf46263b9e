// Package vision runs the multi-pass image analysis that populates the object,
// color, material and room facts for every indexed image. The detector is an
// external service; everything after pass A is computed locally.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"piclocate/internal/apperr"
	"piclocate/internal/types"
)

// Detection is one raw detector hit before canonicalization.
type Detection struct {
	Label string     `json:"label"`
	Score float64    `json:"score"`
	BBox  types.BBox `json:"bbox"`
}

// Detector is the object detection contract. Implementations must be safe for
// concurrent use.
type Detector interface {
	Detect(ctx context.Context, imageBytes []byte) ([]Detection, error)
}

// HTTPDetector calls a detection service over HTTP. The service accepts a
// base64 image and returns labeled boxes with scores.
type HTTPDetector struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPDetector creates a detector client for the given base URL.
func NewHTTPDetector(baseURL string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDetector{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type detectRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type detectResponse struct {
	Detections []Detection `json:"detections"`
}

// Detect sends the image to the detection service.
func (d *HTTPDetector) Detect(ctx context.Context, imageBytes []byte) ([]Detection, error) {
	payload, err := json.Marshal(detectRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(imageBytes),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "detector request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := apperr.KindTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			kind = apperr.KindInput
		}
		return nil, apperr.Newf(kind, "detector returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.KindParse, err, "detector response decode failed")
	}
	return out.Detections, nil
}

var _ Detector = (*HTTPDetector)(nil)
