package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/apperror"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

// HTTPClient talks to the detector over plain HTTP+JSON. It sets a request
// timeout and shares one *http.Client with a bounded idle-connection pool
// rather than dialling per request; keepalive and message size are left at
// the net/http defaults.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewHTTPClient builds a Detector backed by an HTTP+JSON endpoint.
func NewHTTPClient(baseURL string, timeout time.Duration, log *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: log,
	}
}

type detectRequest struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	JPEGBase64 string `json:"jpeg_base64"`
}

type detectResponseItem struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
}

type detectResponse struct {
	Detections []detectResponseItem `json:"detections"`
}

// Detect posts a single JPEG frame to the detector's /detect endpoint and
// decodes its bounding boxes.
func (c *HTTPClient) Detect(ctx context.Context, jpeg []byte, width, height int) ([]types.Detection, error) {
	body := detectRequest{
		Width:      width,
		Height:     height,
		JPEGBase64: base64.StdEncoding.EncodeToString(jpeg),
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, apperror.Wrap(apperror.DetectorError, "encode detect request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return nil, apperror.Wrap(apperror.DetectorError, "build detect request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.Wrap(apperror.DetectorError, "call detector", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperror.New(apperror.DetectorError, fmt.Sprintf("detector returned status %d", resp.StatusCode))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperror.Wrap(apperror.DetectorError, "decode detect response", err)
	}

	dets := make([]types.Detection, 0, len(out.Detections))
	for _, d := range out.Detections {
		dets = append(dets, types.Detection{
			BBox:       types.BBox{X1: d.X1, Y1: d.Y1, X2: d.X2, Y2: d.Y2},
			Confidence: d.Confidence,
			ClassID:    d.ClassID,
		})
	}
	return dets, nil
}

// HealthCheck confirms the detector endpoint is reachable.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	healthURL := c.baseURL + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return apperror.Wrap(apperror.DetectorError, "build health request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.Wrap(apperror.SourceUnavailable, "detector unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperror.New(apperror.SourceUnavailable, fmt.Sprintf("detector health returned status %d", resp.StatusCode))
	}
	return nil
}

// Close releases pooled connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
