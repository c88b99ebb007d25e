package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/person-detection-service/models"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func TestClient_Detect(t *testing.T) {
	var gotQuery, gotType string
	var gotBody []byte
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"detections":[{"x":0.1,"y":0.2,"width":0.3,"height":0.4,"confidence":0.9,"track_id":null}],"count":1,"image_size":[2,3]}`))
	})

	f := models.Frame{Pix: make([]byte, 3*2*3), Width: 3, Height: 2, Channels: 3, Order: models.OrderBGR}
	res, err := c.Detect(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, "channels=3&height=2&order=bgr&width=3", gotQuery)
	assert.Equal(t, "application/octet-stream", gotType)
	assert.Len(t, gotBody, 18)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, [2]int{2, 3}, res.ImageSize)
	assert.Equal(t, 0.9, res.Detections[0].Confidence)
	assert.Nil(t, res.Detections[0].TrackID)
}

func TestClient_DetectImage(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		data, err := base64.StdEncoding.DecodeString(req["image_base64"])
		if err != nil || string(data) != "png bytes" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"detections":[],"count":0,"image_size":[1,1]}`))
	})

	res, err := c.DetectImage(context.Background(), []byte("png bytes"))
	require.NoError(t, err)
	assert.Empty(t, res.Detections)
}

func TestClient_DetectBatch(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect_batch", r.URL.Path)
		_, _ = w.Write([]byte(`{"results":[{"id":"a","detections":[],"count":0},{"id":"b","detections":[],"count":0,"error":"bad","code":"invalid_image"}]}`))
	})

	res, err := c.DetectBatch(context.Background(), []BatchImage{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].ID)
	assert.Equal(t, "invalid_image", res[1].Code)
}

func TestClient_Errors(t *testing.T) {
	t.Run("server error body carries the code", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"No image provided.","code":"missing_image"}`))
		})

		_, err := c.DetectImage(context.Background(), nil)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal(t, "missing_image", apiErr.Code)
		assert.Equal(t, "No image provided.", apiErr.Message)
	})

	t.Run("plain text errors keep the body", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "404 page not found", http.StatusNotFound)
		})

		_, err := c.Health(context.Background())
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Empty(t, apiErr.Code)
		assert.Equal(t, "404 page not found", apiErr.Message)
	})
}

func TestClient_HealthAndMetrics(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte(`{"status":"healthy","model_name":"YOLO-NAS","device":"cpu","cpu_features":{"avx2":true}}`))
		case "/metrics":
			_, _ = w.Write([]byte(`{"total_requests":4,"total_detections":6,"total_inference_time_ms":40,"avg_inference_time_ms":10,"avg_detections_per_image":1.5}`))
		default:
			http.NotFound(w, r)
		}
	})

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.CPUFeatures["avx2"])

	m, err := c.Metrics(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, m.TotalRequests)
	assert.Equal(t, 1.5, m.AvgDetectionsPerImage)
}
