package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Tutortoise/person-detection-service/config"
	"github.com/Tutortoise/person-detection-service/detections"
	"github.com/Tutortoise/person-detection-service/logger"
	"github.com/Tutortoise/person-detection-service/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		logger.Get().Error("server exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogDevelopment); err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return err
	}
	log := logger.Named("server")

	if err := checkModelFile(cfg.ModelPath); err != nil {
		return err
	}
	libPath, err := resolveLibraryPath(cfg.ORTLibraryPath)
	if err != nil {
		return err
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	defer func() { _ = ort.DestroyEnvironment() }()

	collectors := metrics.NewCollectors()

	pool, err := NewModelSessionPool(
		func() (*ModelSession, error) { return initSession(cfg) },
		cfg.PoolSize,
		WithAcquireTimeout(cfg.AcquireTimeout()),
		WithPoolObserver(collectors),
		WithPoolLogger(logger.Named("pool")),
	)
	if err != nil {
		return fmt.Errorf("failed to create model session pool: %w", err)
	}
	defer pool.Destroy()

	pipeline, err := buildPipeline(cfg, pool)
	if err != nil {
		return err
	}

	state := &AppState{
		Config:     cfg,
		Detector:   pipeline,
		Pool:       pool,
		Metrics:    metrics.NewAccumulator(),
		Collectors: collectors,
		Log:        logger.Named("http"),
	}

	srv := &http.Server{
		Handler:      newRouter(state),
		Addr:         cfg.Addr,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("model", cfg.ModelPath),
			zap.String("device", cfg.Device),
			zap.Int("pool_size", cfg.PoolSize),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildPipeline(cfg *config.Config, pool *ModelSessionPool) (*detections.Pipeline, error) {
	pre, err := detections.NewPreprocessor(cfg.InputWidth, cfg.InputHeight)
	if err != nil {
		return nil, err
	}
	space, err := detections.ParseBoxSpace(cfg.BoxSpace)
	if err != nil {
		return nil, err
	}
	mapper, err := detections.NewMapper(space, cfg.InputWidth, cfg.InputHeight)
	if err != nil {
		return nil, err
	}
	predictor, err := newONNXPredictor(pool, cfg.OutputSpec())
	if err != nil {
		return nil, err
	}

	return detections.NewPipeline(pre, predictor, mapper,
		detections.NewDeduplicator(cfg.NMSThreshold),
		detections.WithPersonClass(cfg.PersonClassID),
		detections.WithConfidenceThreshold(cfg.ConfidenceThreshold),
	)
}
