package detections

import (
	"fmt"

	"github.com/Tutortoise/person-detection-service/models"
)

// BoxSpace names the coordinate space predictor boxes are reported in.
type BoxSpace string

const (
	// BoxSpaceInput is pixels of the resized input tensor.
	BoxSpaceInput BoxSpace = "input"
	// BoxSpaceNormalized is [0,1] relative to the input tensor.
	BoxSpaceNormalized BoxSpace = "normalized"
	// BoxSpaceOriginal is pixels of the original, un-resized image.
	BoxSpaceOriginal BoxSpace = "original"
)

func ParseBoxSpace(s string) (BoxSpace, error) {
	switch BoxSpace(s) {
	case BoxSpaceInput, BoxSpaceNormalized, BoxSpaceOriginal:
		return BoxSpace(s), nil
	}
	return "", fmt.Errorf("%w: unknown box space %q", ErrConfiguration, s)
}

// Mapper converts predictor boxes into normalized Detection geometry.
type Mapper struct {
	space          BoxSpace
	inputW, inputH float64
}

func NewMapper(space BoxSpace, inputWidth, inputHeight int) (*Mapper, error) {
	if _, err := ParseBoxSpace(string(space)); err != nil {
		return nil, err
	}
	if inputWidth <= 0 || inputHeight <= 0 {
		return nil, fmt.Errorf("%w: input resolution %dx%d", ErrConfiguration, inputWidth, inputHeight)
	}
	return &Mapper{space: space, inputW: float64(inputWidth), inputH: float64(inputHeight)}, nil
}

// Map returns the normalized detection for c. ok is false when the box has
// no area left after clamping to the image.
func (m *Mapper) Map(c models.RawCandidate, originalWidth, originalHeight int) (models.Detection, bool, error) {
	if originalWidth <= 0 || originalHeight <= 0 {
		return models.Detection{}, false, fmt.Errorf("%w: %dx%d", ErrInvalidImageDimensions, originalWidth, originalHeight)
	}
	ow, oh := float64(originalWidth), float64(originalHeight)

	// Bring the box into original-image pixels first. The resize did not
	// keep the aspect ratio, so each axis scales independently.
	x1, y1, x2, y2 := c.X1, c.Y1, c.X2, c.Y2
	switch m.space {
	case BoxSpaceInput:
		sx, sy := ow/m.inputW, oh/m.inputH
		x1, x2 = x1*sx, x2*sx
		y1, y2 = y1*sy, y2*sy
	case BoxSpaceNormalized:
		x1, x2 = x1*ow, x2*ow
		y1, y2 = y1*oh, y2*oh
	}

	x1 = clamp(x1/ow, 0, 1)
	x2 = clamp(x2/ow, 0, 1)
	y1 = clamp(y1/oh, 0, 1)
	y2 = clamp(y2/oh, 0, 1)

	w, h := x2-x1, y2-y1
	if w <= 0 || h <= 0 {
		return models.Detection{}, false, nil
	}
	return models.Detection{
		X:          x1,
		Y:          y1,
		Width:      w,
		Height:     h,
		Confidence: clamp(c.Score, 0, 1),
	}, true, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
