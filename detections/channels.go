package detections

import (
	"fmt"
	"image"
	"sync"

	"github.com/Tutortoise/person-detection-service/models"
)

// sourceIndex gives, for each of R, G and B, the byte offset inside one
// source pixel.
var sourceIndex = map[models.ChannelOrder][3]int{
	models.OrderGray: {0, 0, 0},
	models.OrderRGB:  {0, 1, 2},
	models.OrderBGR:  {2, 1, 0},
	models.OrderRGBA: {0, 1, 2},
	models.OrderBGRA: {2, 1, 0},
}

func validateFrame(f models.Frame) error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidImageDimensions, f.Width, f.Height)
	}
	order := f.Order
	if order == "" {
		order = defaultOrder(f.Channels)
	}
	want := order.Channels()
	if want == 0 {
		return fmt.Errorf("%w: unknown channel order %q", ErrInvalidImageFormat, f.Order)
	}
	if f.Channels != want {
		return fmt.Errorf("%w: %d channels with order %q", ErrInvalidImageFormat, f.Channels, order)
	}
	if len(f.Pix) != f.Width*f.Height*f.Channels {
		return fmt.Errorf("%w: buffer holds %d bytes, want %d", ErrInvalidImageFormat, len(f.Pix), f.Width*f.Height*f.Channels)
	}
	return nil
}

func defaultOrder(channels int) models.ChannelOrder {
	switch channels {
	case 1:
		return models.OrderGray
	case 3:
		return models.OrderRGB
	case 4:
		return models.OrderRGBA
	}
	return ""
}

type channelProcessor struct {
	width, height int
	stride        int
	index         [3]int
}

func newChannelProcessor(f models.Frame) *channelProcessor {
	order := f.Order
	if order == "" {
		order = defaultOrder(f.Channels)
	}
	return &channelProcessor{
		width:  f.Width,
		height: f.Height,
		stride: f.Channels,
		index:  sourceIndex[order],
	}
}

// toNRGBA copies the frame into an opaque RGB image, one goroutine per
// output channel. Alpha in the source is ignored.
func (cp *channelProcessor) toNRGBA(src []byte) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, cp.width, cp.height))
	n := cp.width * cp.height

	var wg sync.WaitGroup
	wg.Add(3)
	for c := 0; c < 3; c++ {
		go func(channel int) {
			defer wg.Done()
			from := cp.index[channel]
			for i := 0; i < n; i++ {
				dst.Pix[i*4+channel] = src[i*cp.stride+from]
			}
		}(c)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		dst.Pix[i*4+3] = 0xff
	}
	return dst
}
