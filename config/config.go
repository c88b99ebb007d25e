// Package config defines the service configuration and how it is loaded.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/Tutortoise/person-detection-service/detections"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogDevelopment switches to human-readable console logs.
	LogDevelopment bool `koanf:"log_development"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr           string `koanf:"addr"`
	ReadTimeoutMS  int    `koanf:"read_timeout_ms"`
	WriteTimeoutMS int    `koanf:"write_timeout_ms"`
	MaxUploadBytes int64  `koanf:"max_upload_bytes"`
	MaxBatchSize   int    `koanf:"max_batch_size"`
	// MaxPixels caps width*height of a decoded upload.
	MaxPixels int `koanf:"max_pixels"`

	// ModelPath points at the ONNX model file.
	ModelPath string `koanf:"model_path"`
	// ModelName is reported by /health.
	ModelName string `koanf:"model_name"`
	// ORTLibraryPath is the onnxruntime shared library, or a directory
	// containing it under its default per-OS name.
	ORTLibraryPath string `koanf:"ort_library_path"`
	// Device selects the execution provider: cpu or cuda.
	Device           string `koanf:"device"`
	PoolSize         int    `koanf:"pool_size"`
	AcquireTimeoutMS int    `koanf:"acquire_timeout_ms"`
	IntraOpThreads   int    `koanf:"intra_op_threads"`

	InputWidth  int    `koanf:"input_width"`
	InputHeight int    `koanf:"input_height"`
	InputName   string `koanf:"input_name"`
	OutputName  string `koanf:"output_name"`

	// OutputLayout, BoxFormat and BoxSpace pin how predictor output is read.
	OutputLayout  string `koanf:"output_layout"`
	BoxFormat     string `koanf:"box_format"`
	BoxSpace      string `koanf:"box_space"`
	NumDetections int    `koanf:"num_detections"`
	NumClasses    int    `koanf:"num_classes"`

	PersonClassID       int     `koanf:"person_class_id"`
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
	NMSThreshold        float64 `koanf:"nms_threshold"`
}

// New returns a Config filled with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":8080",
		ReadTimeoutMS:       60_000,
		WriteTimeoutMS:      60_000,
		MaxUploadBytes:      10 << 20,
		MaxPixels:           40_000_000,
		MaxBatchSize:        32,
		ModelPath:           "models/yolo_nas_s_people.onnx",
		ModelName:           "YOLO-NAS",
		ORTLibraryPath:      "lib",
		Device:              "cpu",
		PoolSize:            4,
		AcquireTimeoutMS:    5_000,
		IntraOpThreads:      runtime.NumCPU(),
		InputWidth:          detections.InputWidth,
		InputHeight:         detections.InputHeight,
		InputName:           "input",
		OutputName:          "output",
		OutputLayout:        string(detections.LayoutRows),
		BoxFormat:           string(detections.BoxXYXY),
		BoxSpace:            string(detections.BoxSpaceInput),
		NumDetections:       detections.NumDetections,
		NumClasses:          detections.NumClasses,
		PersonClassID:       detections.PersonClassID,
		ConfidenceThreshold: detections.ConfThreshold,
		NMSThreshold:        detections.NMSThreshold,
	}
}

// Validate reports the first invalid setting wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.InputWidth <= 0 || c.InputHeight <= 0:
		return invalid("input_width and input_height must be positive")
	case c.PoolSize <= 0:
		return invalid("pool_size must be positive")
	case c.MaxBatchSize <= 0:
		return invalid("max_batch_size must be positive")
	case c.MaxUploadBytes <= 0:
		return invalid("max_upload_bytes must be positive")
	case c.MaxPixels <= 0:
		return invalid("max_pixels must be positive")
	case c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1:
		return invalid("confidence_threshold must be within [0, 1]")
	case c.NMSThreshold < 0 || c.NMSThreshold > 1:
		return invalid("nms_threshold must be within [0, 1]")
	case c.Device != "cpu" && c.Device != "cuda":
		return invalid("device must be cpu or cuda")
	}
	if _, err := detections.ParseBoxSpace(c.BoxSpace); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.OutputSpec().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) OutputSpec() detections.OutputSpec {
	return detections.OutputSpec{
		Layout:        detections.OutputLayout(c.OutputLayout),
		BoxFormat:     detections.BoxFormat(c.BoxFormat),
		NumDetections: c.NumDetections,
		NumClasses:    c.NumClasses,
	}
}

func (c *Config) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutMS) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
