package config_test

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/Tutortoise/person-detection-service/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it should match the detector defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.InputWidth, convey.ShouldEqual, 640)
			convey.So(cfg.InputHeight, convey.ShouldEqual, 640)
			convey.So(cfg.ConfidenceThreshold, convey.ShouldEqual, 0.5)
			convey.So(cfg.NMSThreshold, convey.ShouldEqual, 0.45)
			convey.So(cfg.PersonClassID, convey.ShouldEqual, 0)
			convey.So(cfg.OutputLayout, convey.ShouldEqual, "rows")
			convey.So(cfg.BoxSpace, convey.ShouldEqual, "input")
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		clearConfigEnvVars()
		convey.Reset(clearConfigEnvVars)

		convey.Convey("When loading with defaults only", func() {
			cfg, err := config.Load()

			convey.Convey("Then the defaults come back", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.PoolSize, convey.ShouldEqual, 4)
				convey.So(cfg.ModelName, convey.ShouldEqual, "YOLO-NAS")
			})
		})

		convey.Convey("When loading with environment variables", func() {
			_ = os.Setenv("DETECTOR_ADDR", ":9090")
			_ = os.Setenv("DETECTOR_POOL_SIZE", "2")
			_ = os.Setenv("DETECTOR_CONFIDENCE_THRESHOLD", "0.65")
			_ = os.Setenv("DETECTOR_DEVICE", "cuda")

			cfg, err := config.Load()

			convey.Convey("Then env overrides defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.PoolSize, convey.ShouldEqual, 2)
				convey.So(cfg.ConfidenceThreshold, convey.ShouldEqual, 0.65)
				convey.So(cfg.Device, convey.ShouldEqual, "cuda")
			})
		})

		convey.Convey("When loading a YAML file and env together", func() {
			tmpFile := createTempConfigFile(`
addr: ":7070"
output_layout: dense
box_format: cxcywh
num_classes: 80
nms_threshold: 0.5
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("DETECTOR_CONFIG", tmpFile)
			_ = os.Setenv("DETECTOR_NMS_THRESHOLD", "0.3")

			cfg, err := config.Load()

			convey.Convey("Then file values apply and env wins over the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.OutputLayout, convey.ShouldEqual, "dense")
				convey.So(cfg.BoxFormat, convey.ShouldEqual, "cxcywh")
				convey.So(cfg.NMSThreshold, convey.ShouldEqual, 0.3)
				convey.So(cfg.InputWidth, convey.ShouldEqual, 640)
			})
		})

		convey.Convey("When the YAML file is malformed", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("DETECTOR_CONFIG", tmpFile)

			cfg, err := config.Load()

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the YAML file does not exist", func() {
			_ = os.Setenv("DETECTOR_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load()

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a numeric variable is not a number", func() {
			_ = os.Setenv("DETECTOR_POOL_SIZE", "many")

			cfg, err := config.Load()

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When addr is empty", func() {
			_ = os.Setenv("DETECTOR_ADDR", "")

			cfg, err := config.Load()

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the input resolution is zero", func() {
			_ = os.Setenv("DETECTOR_INPUT_WIDTH", "0")

			_, err := config.Load()

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the output layout is unknown", func() {
			_ = os.Setenv("DETECTOR_OUTPUT_LAYOUT", "grid")

			_, err := config.Load()

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "unknown output layout")
			})
		})

		convey.Convey("When the box space is unknown", func() {
			_ = os.Setenv("DETECTOR_BOX_SPACE", "polar")

			_, err := config.Load()

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the confidence threshold is out of range", func() {
			_ = os.Setenv("DETECTOR_CONFIDENCE_THRESHOLD", "1.5")

			_, err := config.Load()

			convey.Convey("Then validation fails", func() {
				convey.So(err.Error(), convey.ShouldContainSubstring, "confidence_threshold")
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "DETECTOR_") {
			_ = os.Unsetenv(name)
		}
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "detector-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
