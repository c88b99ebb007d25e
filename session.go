package main

import (
	"context"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/Tutortoise/person-detection-service/config"
	"github.com/Tutortoise/person-detection-service/detections"
	"github.com/Tutortoise/person-detection-service/models"
)

// ModelSession is one ONNX Runtime session with its bound input and output
// tensors. A session runs one inference at a time.
type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

func initSession(cfg *config.Config) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("error setting intra-op threads: %w", err)
		}
	}

	if cfg.Device == "cuda" {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("error creating CUDA options: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, fmt.Errorf("error enabling CUDA: %w", err)
		}
	}

	inputShape := ort.NewShape(1, 3, int64(cfg.InputHeight), int64(cfg.InputWidth))
	outputShape := ort.NewShape(cfg.OutputSpec().Shape()...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}

// onnxPredictor runs inference on sessions borrowed from the pool.
type onnxPredictor struct {
	pool *ModelSessionPool
	spec detections.OutputSpec
}

func newONNXPredictor(pool *ModelSessionPool, spec detections.OutputSpec) (*onnxPredictor, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &onnxPredictor{pool: pool, spec: spec}, nil
}

func (p *onnxPredictor) Predict(ctx context.Context, input *tensor.Dense) ([]models.RawCandidate, error) {
	data, ok := input.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: input tensor is %T, want []float32", detections.ErrInferenceFailure, input.Data())
	}

	session, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", detections.ErrInferenceFailure, err)
	}

	dst := session.Input.GetData()
	if len(dst) != len(data) {
		p.pool.Release(session)
		return nil, fmt.Errorf("%w: input has %d values, session expects %d", detections.ErrInferenceFailure, len(data), len(dst))
	}
	copy(dst, data)

	if err := session.Session.Run(); err != nil {
		// a failed run may leave the session unusable; the pool refills it
		p.pool.Discard(session)
		return nil, fmt.Errorf("%w: model inference: %w", detections.ErrInferenceFailure, err)
	}

	// decode before handing the session back, Output is overwritten by the
	// next run
	candidates, err := detections.DecodeOutput(session.Output.GetData(), p.spec)
	p.pool.Release(session)
	if err != nil {
		return nil, fmt.Errorf("%w: process predictions: %w", detections.ErrInferenceFailure, err)
	}
	return candidates, nil
}
