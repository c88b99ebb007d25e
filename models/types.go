package models

import "time"

// Detection is one person found in an image. Coordinates are normalized to
// the original image, (X, Y) being the top-left corner.
type Detection struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	TrackID    *int    `json:"track_id"`
}

// RawCandidate is a single predictor output row before filtering.
type RawCandidate struct {
	X1, Y1, X2, Y2 float64
	ClassID        int
	Score          float64
}

type ChannelOrder string

const (
	OrderRGB  ChannelOrder = "rgb"
	OrderBGR  ChannelOrder = "bgr"
	OrderRGBA ChannelOrder = "rgba"
	OrderBGRA ChannelOrder = "bgra"
	OrderGray ChannelOrder = "gray"
)

// Channels returns how many bytes per pixel the order implies, 0 if unknown.
func (o ChannelOrder) Channels() int {
	switch o {
	case OrderGray:
		return 1
	case OrderRGB, OrderBGR:
		return 3
	case OrderRGBA, OrderBGRA:
		return 4
	}
	return 0
}

// Frame is an uncompressed, interleaved pixel buffer.
type Frame struct {
	Pix      []byte
	Width    int
	Height   int
	Channels int
	Order    ChannelOrder
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Dedupe      time.Duration
	Total       time.Duration
}
