// Package client is a Go client for the person detection HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Tutortoise/person-detection-service/metrics"
	"github.com/Tutortoise/person-detection-service/models"
)

const defaultTimeout = 30 * time.Second

// Client talks to one detection server.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which has a 30s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

type Health struct {
	Status      string          `json:"status"`
	ModelName   string          `json:"model_name"`
	Device      string          `json:"device"`
	CPUFeatures map[string]bool `json:"cpu_features"`
}

type DetectResult struct {
	Detections []models.Detection `json:"detections"`
	Count      int                `json:"count"`
	// ImageSize is [height, width].
	ImageSize [2]int `json:"image_size"`
}

type BatchImage struct {
	ID   string
	Data []byte
}

type BatchResult struct {
	ID         string             `json:"id"`
	Detections []models.Detection `json:"detections"`
	Count      int                `json:"count"`
	Error      string             `json:"error,omitempty"`
	Code       string             `json:"code,omitempty"`
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", "", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Detect sends uncompressed pixels.
func (c *Client) Detect(ctx context.Context, f models.Frame) (*DetectResult, error) {
	q := url.Values{}
	q.Set("width", strconv.Itoa(f.Width))
	q.Set("height", strconv.Itoa(f.Height))
	q.Set("channels", strconv.Itoa(f.Channels))
	if f.Order != "" {
		q.Set("order", string(f.Order))
	}

	var res DetectResult
	if err := c.do(ctx, http.MethodPost, "/detect?"+q.Encode(), "application/octet-stream", f.Pix, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DetectImage sends an encoded image (PNG, JPEG, ...) as base64 JSON.
func (c *Client) DetectImage(ctx context.Context, encoded []byte) (*DetectResult, error) {
	body, err := json.Marshal(map[string]string{
		"image_base64": base64.StdEncoding.EncodeToString(encoded),
	})
	if err != nil {
		return nil, err
	}

	var res DetectResult
	if err := c.do(ctx, http.MethodPost, "/detect", "application/json", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DetectBatch sends several encoded images. Per-image failures are reported
// on the matching BatchResult, not as an error.
func (c *Client) DetectBatch(ctx context.Context, images []BatchImage) ([]BatchResult, error) {
	type entry struct {
		ID     string `json:"id"`
		Base64 string `json:"base64"`
	}
	req := struct {
		Images []entry `json:"images"`
	}{Images: make([]entry, len(images))}
	for i, img := range images {
		req.Images[i] = entry{ID: img.ID, Base64: base64.StdEncoding.EncodeToString(img.Data)}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var res struct {
		Results []BatchResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/detect_batch", "application/json", body, &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

func (c *Client) Metrics(ctx context.Context) (*metrics.Snapshot, error) {
	var s metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/metrics", "", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &e) == nil && e.Code != "" {
			apiErr.Code, apiErr.Message = e.Code, e.Error
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
