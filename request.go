package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	// Decoders registered with image.Decode
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Tutortoise/person-detection-service/detections"
	"github.com/Tutortoise/person-detection-service/models"
)

type detectJSONRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type batchImage struct {
	ID     string `json:"id"`
	Base64 string `json:"base64"`
}

type batchRequest struct {
	Images []batchImage `json:"images"`
}

// uploadLimits bounds what a single request may make the server decode.
// maxBytes caps the body, maxPixels the decoded frame.
type uploadLimits struct {
	maxBytes  int64
	maxPixels int
}

// readFrame extracts the image of a /detect request. Multipart uploads are
// checked first, then JSON bodies, then raw pixel bodies.
func readFrame(w http.ResponseWriter, r *http.Request, limits uploadLimits) (models.Frame, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limits.maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return handleMultipartRequest(r, limits)
	case "application/json":
		return handleJSONRequest(r, limits)
	default:
		return handleRawRequest(r, limits)
	}
}

func handleMultipartRequest(r *http.Request, limits uploadLimits) (models.Frame, error) {
	if err := r.ParseMultipartForm(limits.maxBytes); err != nil {
		return models.Frame{}, bodyError(err)
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return models.Frame{}, detections.ErrMissingImageInput
		}
		return models.Frame{}, fmt.Errorf("%w: %w", detections.ErrImageDecode, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return models.Frame{}, bodyError(err)
	}
	return decodeFrame(data, limits.maxPixels)
}

func handleJSONRequest(r *http.Request, limits uploadLimits) (models.Frame, error) {
	var req detectJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return models.Frame{}, detections.ErrMissingImageInput
		}
		return models.Frame{}, bodyError(err)
	}
	if strings.TrimSpace(req.ImageBase64) == "" {
		return models.Frame{}, detections.ErrMissingImageInput
	}
	return decodeBase64Frame(req.ImageBase64, limits.maxPixels)
}

// handleRawRequest reads uncompressed pixels described by the width, height,
// channels and order query parameters. Without width and height the body is
// decoded as an encoded image.
func handleRawRequest(r *http.Request, limits uploadLimits) (models.Frame, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return models.Frame{}, bodyError(err)
	}
	if len(data) == 0 {
		return models.Frame{}, detections.ErrMissingImageInput
	}

	q := r.URL.Query()
	if !q.Has("width") && !q.Has("height") {
		return decodeFrame(data, limits.maxPixels)
	}
	frame, err := rawFrame(data, q.Get("width"), q.Get("height"), q.Get("channels"), q.Get("order"))
	if err != nil {
		return models.Frame{}, err
	}
	if err := checkPixels(frame.Width, frame.Height, limits.maxPixels); err != nil {
		return models.Frame{}, err
	}
	return frame, nil
}

func rawFrame(data []byte, width, height, channels, order string) (models.Frame, error) {
	w, err := positiveParam("width", width)
	if err != nil {
		return models.Frame{}, err
	}
	h, err := positiveParam("height", height)
	if err != nil {
		return models.Frame{}, err
	}

	c := 3
	if channels != "" {
		if c, err = positiveParam("channels", channels); err != nil {
			return models.Frame{}, err
		}
	}

	o := models.ChannelOrder(strings.ToLower(order))
	if o == "" {
		switch c {
		case 1:
			o = models.OrderGray
		case 3:
			o = models.OrderRGB
		case 4:
			o = models.OrderRGBA
		default:
			return models.Frame{}, fmt.Errorf("%w: unsupported channel count %d", detections.ErrImageDecode, c)
		}
	}
	if o.Channels() != c {
		return models.Frame{}, fmt.Errorf("%w: order %q does not fit %d channels", detections.ErrImageDecode, order, c)
	}

	if want := w * h * c; len(data) != want {
		return models.Frame{}, fmt.Errorf("%w: got %d bytes, want %d for %dx%dx%d", detections.ErrImageDecode, len(data), want, w, h, c)
	}

	return models.Frame{Pix: data, Width: w, Height: h, Channels: c, Order: o}, nil
}

func positiveParam(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", detections.ErrImageDecode, name, value)
	}
	return n, nil
}

func readBatchRequest(w http.ResponseWriter, r *http.Request, maxBytes int64) (batchRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, detections.ErrMissingImageInput
		}
		return req, bodyError(err)
	}
	if len(req.Images) == 0 {
		return req, detections.ErrMissingImageInput
	}
	return req, nil
}

func decodeBase64Frame(s string, maxPixels int) (models.Frame, error) {
	data, err := decodeBase64(s)
	if err != nil {
		return models.Frame{}, err
	}
	return decodeFrame(data, maxPixels)
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not, with
// an optional data URI prefix.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			s = payload
		}
	}
	if s == "" {
		return nil, detections.ErrMissingImageInput
	}

	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: base64: %w", detections.ErrImageDecode, lastErr)
}

// decodeFrame reads the image header before decoding so that a small file
// declaring huge dimensions is rejected without allocating its pixels.
func decodeFrame(data []byte, maxPixels int) (models.Frame, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.Frame{}, fmt.Errorf("%w: %w", detections.ErrImageDecode, err)
	}
	if err := checkPixels(cfg.Width, cfg.Height, maxPixels); err != nil {
		return models.Frame{}, err
	}

	img, err := decodeImage(data)
	if err != nil {
		return models.Frame{}, fmt.Errorf("%w: %w", detections.ErrImageDecode, err)
	}
	return frameFromImage(img), nil
}

func checkPixels(width, height, maxPixels int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: image is %dx%d", detections.ErrImageDecode, width, height)
	}
	if maxPixels > 0 && width > maxPixels/height {
		return fmt.Errorf("%w: image is %dx%d, limit is %d pixels", detections.ErrImageDecode, width, height, maxPixels)
	}
	return nil
}

func decodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

// frameFromImage converts any decoded image to a tightly packed RGBA frame.
func frameFromImage(img image.Image) models.Frame {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	return models.Frame{
		Pix:      nrgba.Pix,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Channels: 4,
		Order:    models.OrderRGBA,
	}
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: request body exceeds %d bytes", detections.ErrImageDecode, tooLarge.Limit)
	}
	return fmt.Errorf("%w: %w", detections.ErrImageDecode, err)
}
