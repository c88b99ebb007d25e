package detections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorgonia.org/tensor"

	"github.com/Tutortoise/person-detection-service/models"
)

// Predictor is the object detector behind the pipeline. Implementations
// receive a (1, 3, H, W) float32 tensor and return raw candidate rows.
type Predictor interface {
	Predict(ctx context.Context, input *tensor.Dense) ([]models.RawCandidate, error)
}

// PredictorFunc adapts a plain function to Predictor.
type PredictorFunc func(ctx context.Context, input *tensor.Dense) ([]models.RawCandidate, error)

func (f PredictorFunc) Predict(ctx context.Context, input *tensor.Dense) ([]models.RawCandidate, error) {
	return f(ctx, input)
}

// Postprocessor filters raw candidates before they are mapped.
type Postprocessor func([]models.RawCandidate) []models.RawCandidate

// NewClassFilter keeps candidates of a single class.
func NewClassFilter(classID int) Postprocessor {
	return func(in []models.RawCandidate) []models.RawCandidate {
		out := make([]models.RawCandidate, 0, len(in))
		for _, c := range in {
			if c.ClassID == classID {
				out = append(out, c)
			}
		}
		return out
	}
}

// NewScoreFilter keeps candidates scoring at least conf.
func NewScoreFilter(conf float64) Postprocessor {
	return func(in []models.RawCandidate) []models.RawCandidate {
		out := make([]models.RawCandidate, 0, len(in))
		for _, c := range in {
			if c.Score >= conf {
				out = append(out, c)
			}
		}
		return out
	}
}

type Pipeline struct {
	pre       *Preprocessor
	predictor Predictor
	mapper    *Mapper
	dedup     *Deduplicator
	filters   []Postprocessor
}

type PipelineOption func(*Pipeline)

// WithPersonClass sets the class id treated as "person".
func WithPersonClass(classID int) PipelineOption {
	return func(p *Pipeline) { p.filters[0] = NewClassFilter(classID) }
}

// WithConfidenceThreshold sets the minimum candidate score.
func WithConfidenceThreshold(conf float64) PipelineOption {
	return func(p *Pipeline) { p.filters[1] = NewScoreFilter(conf) }
}

// WithFilters appends extra candidate filters after the class and score ones.
func WithFilters(filters ...Postprocessor) PipelineOption {
	return func(p *Pipeline) { p.filters = append(p.filters, filters...) }
}

func NewPipeline(pre *Preprocessor, predictor Predictor, mapper *Mapper, dedup *Deduplicator, opts ...PipelineOption) (*Pipeline, error) {
	if pre == nil || predictor == nil || mapper == nil || dedup == nil {
		return nil, fmt.Errorf("%w: pipeline needs a preprocessor, predictor, mapper and deduplicator", ErrConfiguration)
	}
	p := &Pipeline{
		pre:       pre,
		predictor: predictor,
		mapper:    mapper,
		dedup:     dedup,
		filters:   []Postprocessor{NewClassFilter(PersonClassID), NewScoreFilter(ConfThreshold)},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Detect runs preprocess, predict, filter, map and deduplicate on one frame.
func (p *Pipeline) Detect(ctx context.Context, f models.Frame) ([]models.Detection, error) {
	return p.DetectWithTimings(ctx, f, nil)
}

// DetectWithTimings is Detect that also fills the stage durations of t when
// t is not nil.
func (p *Pipeline) DetectWithTimings(ctx context.Context, f models.Frame, t *models.ProcessingTimings) ([]models.Detection, error) {
	if t == nil {
		t = &models.ProcessingTimings{}
	}

	prepStart := time.Now()
	input, err := p.pre.Prepare(f)
	if err != nil {
		return nil, err
	}
	t.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	candidates, err := p.predictor.Predict(ctx, input)
	if err != nil {
		if errors.Is(err, ErrInferenceFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInferenceFailure, err)
	}
	t.Inference = time.Since(inferStart)

	postStart := time.Now()
	for _, filter := range p.filters {
		candidates = filter(candidates)
	}
	dets := make([]models.Detection, 0, len(candidates))
	for _, c := range candidates {
		d, ok, err := p.mapper.Map(c, f.Width, f.Height)
		if err != nil {
			return nil, err
		}
		if ok {
			dets = append(dets, d)
		}
	}
	t.Postprocess = time.Since(postStart)

	dedupeStart := time.Now()
	dets = p.dedup.Apply(dets)
	t.Dedupe = time.Since(dedupeStart)

	return dets, nil
}
