package main

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/person-detection-service/detections"
	"github.com/Tutortoise/person-detection-service/models"
)

func TestDecodeBase64(t *testing.T) {
	payload := []byte{0xfb, 0xff, 0x01, 0x02}

	cases := map[string]string{
		"standard":     base64.StdEncoding.EncodeToString(payload),
		"unpadded":     base64.RawStdEncoding.EncodeToString(payload),
		"url safe":     base64.URLEncoding.EncodeToString(payload),
		"url unpadded": base64.RawURLEncoding.EncodeToString(payload),
		"data uri":     "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload),
		"whitespace":   "  " + base64.StdEncoding.EncodeToString(payload) + "\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := decodeBase64(in)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}

	t.Run("garbage", func(t *testing.T) {
		_, err := decodeBase64("***")
		assert.True(t, errors.Is(err, detections.ErrImageDecode))
	})

	t.Run("empty data uri", func(t *testing.T) {
		_, err := decodeBase64("data:image/png;base64,")
		assert.True(t, errors.Is(err, detections.ErrMissingImageInput))
	})
}

func TestRawFrame(t *testing.T) {
	t.Run("order defaults by channel count", func(t *testing.T) {
		for channels, want := range map[string]models.ChannelOrder{
			"":  models.OrderRGB,
			"1": models.OrderGray,
			"3": models.OrderRGB,
			"4": models.OrderRGBA,
		} {
			c := want.Channels()
			f, err := rawFrame(make([]byte, 2*3*c), "2", "3", channels, "")
			require.NoError(t, err, "channels=%q", channels)
			assert.Equal(t, want, f.Order)
			assert.Equal(t, c, f.Channels)
			assert.Equal(t, 2, f.Width)
			assert.Equal(t, 3, f.Height)
		}
	})

	t.Run("explicit order", func(t *testing.T) {
		f, err := rawFrame(make([]byte, 4*4), "2", "2", "4", "BGRA")
		require.NoError(t, err)
		assert.Equal(t, models.OrderBGRA, f.Order)
	})

	bad := []struct {
		name                            string
		size                            int
		width, height, channels, order string
	}{
		{"length mismatch", 5, "2", "1", "", ""},
		{"zero width", 0, "0", "1", "", ""},
		{"non numeric height", 3, "1", "x", "", ""},
		{"two channels", 4, "1", "2", "2", ""},
		{"order disagrees", 3, "1", "1", "3", "rgba"},
		{"unknown order", 3, "1", "1", "3", "yuv"},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rawFrame(make([]byte, tc.size), tc.width, tc.height, tc.channels, tc.order)
			assert.True(t, errors.Is(err, detections.ErrImageDecode), "got %v", err)
		})
	}
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{detections.ErrMissingImageInput, 400, CodeMissingImage},
		{detections.ErrImageDecode, 400, CodeInvalidImage},
		{detections.ErrInvalidImageFormat, 400, CodeInvalidImage},
		{detections.ErrInvalidImageDimensions, 400, CodeInvalidImage},
		{detections.ErrInferenceFailure, 500, CodeInferenceFailed},
		{errors.New("anything else"), 500, CodeInferenceFailed},
	}
	for _, tc := range cases {
		status, code := errorStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

// pngWithHeader encodes a 1x1 PNG and rewrites its IHDR to claim w x h.
func pngWithHeader(t *testing.T, w, h uint32) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	data := buf.Bytes()

	// signature (8), length (4), "IHDR" (4), width, height, ..., crc
	binary.BigEndian.PutUint32(data[16:], w)
	binary.BigEndian.PutUint32(data[20:], h)
	binary.BigEndian.PutUint32(data[29:], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestDecodeFrame_PixelLimit(t *testing.T) {
	t.Run("header claiming a huge image is rejected before decoding", func(t *testing.T) {
		_, err := decodeFrame(pngWithHeader(t, 60000, 60000), 40_000_000)
		require.Error(t, err)
		assert.True(t, errors.Is(err, detections.ErrImageDecode))
		assert.Contains(t, err.Error(), "60000x60000")
	})

	t.Run("image within the limit decodes", func(t *testing.T) {
		f, err := decodeFrame(pngWithHeader(t, 1, 1), 1)
		require.NoError(t, err)
		assert.Equal(t, 1, f.Width)
		assert.Equal(t, models.OrderRGBA, f.Order)
	})

	t.Run("limit is on area", func(t *testing.T) {
		assert.NoError(t, checkPixels(10, 10, 100))
		assert.True(t, errors.Is(checkPixels(11, 10, 100), detections.ErrImageDecode))
		assert.True(t, errors.Is(checkPixels(0, 10, 100), detections.ErrImageDecode))
	})
}
