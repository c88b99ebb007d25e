package detections

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"

	"github.com/Tutortoise/person-detection-service/models"
)

// Preprocessor turns frames into the NCHW float tensor the predictor takes.
type Preprocessor struct {
	width, height int
	numWorkers    int
	filter        imaging.ResampleFilter
}

func NewPreprocessor(width, height int) (*Preprocessor, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: target resolution %dx%d", ErrConfiguration, width, height)
	}
	return &Preprocessor{
		width:      width,
		height:     height,
		numWorkers: runtime.GOMAXPROCS(0),
		filter:     imaging.Linear,
	}, nil
}

func (p *Preprocessor) Width() int  { return p.width }
func (p *Preprocessor) Height() int { return p.height }

// Prepare resizes the frame to the target resolution without keeping the
// aspect ratio and returns a (1, 3, H, W) tensor with values in [0, 1].
func (p *Preprocessor) Prepare(f models.Frame) (*tensor.Dense, error) {
	if err := validateFrame(f); err != nil {
		return nil, err
	}

	rgb := newChannelProcessor(f).toNRGBA(f.Pix)
	var resized *image.NRGBA
	if f.Width == p.width && f.Height == p.height {
		resized = rgb
	} else {
		resized = imaging.Resize(rgb, p.width, p.height, p.filter)
	}

	buffer := make([]float32, 3*p.width*p.height)
	p.processParallel(resized, buffer)

	return tensor.New(
		tensor.WithShape(1, 3, p.height, p.width),
		tensor.WithBacking(buffer),
	), nil
}

func (p *Preprocessor) processParallel(img *image.NRGBA, buffer []float32) {
	channelSize := p.width * p.height
	workers := p.numWorkers
	if workers > p.height {
		workers = p.height
	}
	if workers < 1 {
		workers = 1
	}
	rowsPerWorker := p.height / workers

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == workers-1 {
			endRow = p.height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				row := img.Pix[y*img.Stride:]
				offset := y * p.width
				for x := 0; x < p.width; x++ {
					i := offset + x
					buffer[i] = float32(row[x*4]) / 255.0
					buffer[channelSize+i] = float32(row[x*4+1]) / 255.0
					buffer[channelSize*2+i] = float32(row[x*4+2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}
