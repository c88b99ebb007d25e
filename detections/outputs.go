package detections

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/Tutortoise/person-detection-service/models"
)

// OutputLayout pins how a predictor output tensor is laid out. It is never
// inferred from the tensor shape.
type OutputLayout string

const (
	// LayoutRows is [1, N, 6]: box, score, class id.
	LayoutRows OutputLayout = "rows"
	// LayoutDense is [1, N, 4+1+C]: box, objectness, per-class scores.
	LayoutDense OutputLayout = "dense"
)

type BoxFormat string

const (
	BoxXYXY   BoxFormat = "xyxy"
	BoxCXCYWH BoxFormat = "cxcywh"
)

// OutputSpec describes the predictor output tensor.
type OutputSpec struct {
	Layout        OutputLayout
	BoxFormat     BoxFormat
	NumDetections int
	NumClasses    int
}

func (s OutputSpec) Validate() error {
	switch s.Layout {
	case LayoutRows, LayoutDense:
	default:
		return fmt.Errorf("%w: unknown output layout %q", ErrConfiguration, s.Layout)
	}
	switch s.BoxFormat {
	case BoxXYXY, BoxCXCYWH:
	default:
		return fmt.Errorf("%w: unknown box format %q", ErrConfiguration, s.BoxFormat)
	}
	if s.NumDetections <= 0 {
		return fmt.Errorf("%w: num_detections must be positive", ErrConfiguration)
	}
	if s.Layout == LayoutDense && s.NumClasses <= 0 {
		return fmt.Errorf("%w: num_classes must be positive for the dense layout", ErrConfiguration)
	}
	return nil
}

// RowWidth is the number of floats per detection row.
func (s OutputSpec) RowWidth() int {
	if s.Layout == LayoutDense {
		return denseLayoutBoxWidth + s.NumClasses
	}
	return rowsLayoutWidth
}

// Shape is the full output tensor shape, batch first.
func (s OutputSpec) Shape() []int64 {
	return []int64{1, int64(s.NumDetections), int64(s.RowWidth())}
}

const decodeChunkSize = 512

// DecodeOutput converts a flat output tensor into candidates. Rows with a
// non-positive score are skipped; everything else is left to the pipeline
// filters. Candidate order follows row order.
func DecodeOutput(data []float32, spec OutputSpec) ([]models.RawCandidate, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	width := spec.RowWidth()
	expected := spec.NumDetections * width
	if len(data) != expected {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(data), expected)
	}

	numChunks := (spec.NumDetections + decodeChunkSize - 1) / decodeChunkSize
	chunks := make([][]models.RawCandidate, numChunks)
	jobs := make(chan int, numChunks)
	for i := 0; i < numChunks; i++ {
		jobs <- i
	}
	close(jobs)

	workers := runtime.NumCPU()
	if workers > numChunks {
		workers = numChunks
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				start := chunk * decodeChunkSize
				end := min(start+decodeChunkSize, spec.NumDetections)
				local := make([]models.RawCandidate, 0, 16)
				for i := start; i < end; i++ {
					row := data[i*width : (i+1)*width]
					if c, ok := decodeRow(row, spec); ok {
						local = append(local, c)
					}
				}
				chunks[chunk] = local
			}
		}()
	}
	wg.Wait()

	out := make([]models.RawCandidate, 0, 64)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out, nil
}

func decodeRow(row []float32, spec OutputSpec) (models.RawCandidate, bool) {
	var c models.RawCandidate
	switch spec.Layout {
	case LayoutRows:
		c.Score = float64(row[4])
		c.ClassID = int(row[5])
	case LayoutDense:
		objectness := float64(row[4])
		best, bestScore := 0, float32(-1)
		for k, s := range row[denseLayoutBoxWidth:] {
			if s > bestScore {
				best, bestScore = k, s
			}
		}
		c.Score = objectness * float64(bestScore)
		c.ClassID = best
	}
	if c.Score <= 0 {
		return c, false
	}

	a, b, cc, d := float64(row[0]), float64(row[1]), float64(row[2]), float64(row[3])
	if spec.BoxFormat == BoxCXCYWH {
		c.X1, c.Y1, c.X2, c.Y2 = a-cc/2, b-d/2, a+cc/2, b+d/2
	} else {
		c.X1, c.Y1, c.X2, c.Y2 = a, b, cc, d
	}
	return c, true
}
