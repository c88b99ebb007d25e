package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/cpu"

	"github.com/Tutortoise/person-detection-service/config"
	"github.com/Tutortoise/person-detection-service/detections"
	"github.com/Tutortoise/person-detection-service/metrics"
	"github.com/Tutortoise/person-detection-service/models"
)

// detector is the part of *detections.Pipeline the handlers use.
type detector interface {
	DetectWithTimings(ctx context.Context, f models.Frame, t *models.ProcessingTimings) ([]models.Detection, error)
}

type AppState struct {
	Config     *config.Config
	Detector   detector
	Pool       *ModelSessionPool
	Metrics    *metrics.Accumulator
	Collectors *metrics.Collectors
	Log        *zap.Logger
}

type DetectResponse struct {
	Detections []models.Detection `json:"detections"`
	Count      int                `json:"count"`
	ImageSize  [2]int             `json:"image_size"`
}

type BatchResult struct {
	ID         string             `json:"id"`
	Detections []models.Detection `json:"detections"`
	Count      int                `json:"count"`
	Error      string             `json:"error,omitempty"`
	Code       string             `json:"code,omitempty"`
}

type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

type HealthResponse struct {
	Status      string          `json:"status"`
	ModelName   string          `json:"model_name"`
	Device      string          `json:"device"`
	CPUFeatures map[string]bool `json:"cpu_features"`
	Pool        *PoolStats      `json:"pool,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func newRouter(state *AppState) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, metricsMiddleware(state.Collectors), recoverMiddleware(state.Log))

	r.HandleFunc("/health", handleHealth(state)).Methods(http.MethodGet)
	r.HandleFunc("/detect", handleDetect(state)).Methods(http.MethodPost)
	r.HandleFunc("/detect_batch", handleDetectBatch(state)).Methods(http.MethodPost)
	r.HandleFunc("/metrics", handleMetrics(state)).Methods(http.MethodGet)
	r.Handle("/metrics/prometheus", state.Collectors.Handler()).Methods(http.MethodGet)
	return r
}

func handleDetect(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		requestID := requestIDFrom(r.Context())
		timings := &models.ProcessingTimings{RequestID: requestID}

		decodeStart := time.Now()
		frame, err := readFrame(w, r, state.limits())
		timings.ImageDecode = time.Since(decodeStart)
		if err != nil {
			state.fail(w, requestID, err)
			return
		}

		dets, err := state.detect(r.Context(), frame, timings)
		if err != nil {
			state.fail(w, requestID, err)
			return
		}

		timings.Total = time.Since(startTotal)
		state.logTimings(timings)

		writeJSON(w, http.StatusOK, DetectResponse{
			Detections: dets,
			Count:      len(dets),
			ImageSize:  [2]int{frame.Height, frame.Width},
		})
	}
}

func handleDetectBatch(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := requestIDFrom(r.Context())

		req, err := readBatchRequest(w, r, state.Config.MaxUploadBytes)
		if err != nil {
			state.fail(w, requestID, err)
			return
		}
		if len(req.Images) > state.Config.MaxBatchSize {
			state.Collectors.RecordError(CodeBatchTooLarge)
			sendErrorResponse(w, CodeBatchTooLarge,
				fmt.Sprintf("%s Got %d, limit is %d.", MsgBatchTooLarge, len(req.Images), state.Config.MaxBatchSize),
				http.StatusBadRequest)
			return
		}

		results := make([]BatchResult, len(req.Images))
		g, ctx := errgroup.WithContext(r.Context())
		g.SetLimit(max(1, state.Config.PoolSize))
		for i, entry := range req.Images {
			g.Go(func() error {
				defer func() {
					if rec := recover(); rec != nil {
						results[i] = state.failEntry(requestID, entry.ID,
							fmt.Errorf("%w: panic: %v", detections.ErrInferenceFailure, rec))
					}
				}()
				results[i] = state.detectEntry(ctx, requestID, entry)
				return nil
			})
		}
		_ = g.Wait()

		writeJSON(w, http.StatusOK, BatchResponse{Results: results})
	}
}

// detectEntry runs one batch image. Failures stay on the entry.
func (s *AppState) detectEntry(ctx context.Context, requestID string, entry batchImage) BatchResult {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{RequestID: requestID + "/" + entry.ID}
	result := BatchResult{ID: entry.ID, Detections: []models.Detection{}}

	decodeStart := time.Now()
	frame, err := decodeBase64Frame(entry.Base64, s.Config.MaxPixels)
	timings.ImageDecode = time.Since(decodeStart)
	if err == nil {
		var dets []models.Detection
		if dets, err = s.detect(ctx, frame, timings); err == nil {
			result.Detections = dets
			result.Count = len(dets)
		}
	}
	if err != nil {
		return s.failEntry(requestID, entry.ID, err)
	}

	timings.Total = time.Since(startTotal)
	s.logTimings(timings)
	return result
}

func (s *AppState) failEntry(requestID, entryID string, err error) BatchResult {
	_, code := errorStatus(err)
	s.Collectors.RecordError(code)
	s.Log.Warn("batch entry failed",
		zap.String("request_id", requestID),
		zap.String("entry_id", entryID),
		zap.String("code", code),
		zap.Error(err),
	)
	return BatchResult{
		ID:         entryID,
		Detections: []models.Detection{},
		Error:      err.Error(),
		Code:       code,
	}
}

// detect runs the pipeline and, on success only, updates the counters.
func (s *AppState) detect(ctx context.Context, frame models.Frame, timings *models.ProcessingTimings) ([]models.Detection, error) {
	start := time.Now()
	dets, err := s.runDetector(ctx, frame, timings)
	if err != nil {
		return nil, err
	}
	elapsedMs := float64(time.Since(start).Microseconds()) / 1000
	if dets == nil {
		dets = []models.Detection{}
	}

	s.Metrics.Record(len(dets), elapsedMs)
	s.Collectors.RecordDetection(len(dets), elapsedMs)
	return dets, nil
}

// runDetector reports a detector panic as an inference failure.
func (s *AppState) runDetector(ctx context.Context, frame models.Frame, timings *models.ProcessingTimings) (dets []models.Detection, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.Log.Error("detector panic",
				zap.String("request_id", timings.RequestID),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			dets, err = nil, fmt.Errorf("%w: panic: %v", detections.ErrInferenceFailure, rec)
		}
	}()
	return s.Detector.DetectWithTimings(ctx, frame, timings)
}

func (s *AppState) limits() uploadLimits {
	return uploadLimits{maxBytes: s.Config.MaxUploadBytes, maxPixels: s.Config.MaxPixels}
}

func handleHealth(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status:      "healthy",
			ModelName:   state.Config.ModelName,
			Device:      state.Config.Device,
			CPUFeatures: cpuFeatures(),
		}
		if state.Pool != nil {
			stats := state.Pool.Stats()
			resp.Pool = &stats
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleMetrics(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, state.Metrics.Snapshot())
	}
}

func cpuFeatures() map[string]bool {
	return map[string]bool{
		"sse41":   cpu.X86.HasSSE41,
		"avx":     cpu.X86.HasAVX,
		"avx2":    cpu.X86.HasAVX2,
		"avx512f": cpu.X86.HasAVX512F,
		"fma":     cpu.X86.HasFMA,
		"asimd":   cpu.ARM64.HasASIMD,
	}
}

// errorStatus maps pipeline and request errors to a status and code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, detections.ErrMissingImageInput):
		return http.StatusBadRequest, CodeMissingImage
	case errors.Is(err, detections.ErrImageDecode),
		errors.Is(err, detections.ErrInvalidImageFormat),
		errors.Is(err, detections.ErrInvalidImageDimensions):
		return http.StatusBadRequest, CodeInvalidImage
	default:
		return http.StatusInternalServerError, CodeInferenceFailed
	}
}

func (s *AppState) fail(w http.ResponseWriter, requestID string, err error) {
	status, code := errorStatus(err)
	s.Collectors.RecordError(code)

	msg := err.Error()
	switch code {
	case CodeMissingImage:
		msg = MsgMissingImage
	case CodeInferenceFailed:
		msg = MsgInferenceFailed
	}

	fields := []zap.Field{zap.String("request_id", requestID), zap.String("code", code), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		s.Log.Error("detection failed", fields...)
	} else {
		s.Log.Info("rejected request", fields...)
	}
	sendErrorResponse(w, code, msg, status)
}

func (s *AppState) logTimings(t *models.ProcessingTimings) {
	s.Log.Debug("processing times",
		zap.String("request_id", t.RequestID),
		zap.Duration("image_decode", t.ImageDecode),
		zap.Duration("preprocess", t.Preprocess),
		zap.Duration("inference", t.Inference),
		zap.Duration("postprocess", t.Postprocess),
		zap.Duration("dedupe", t.Dedupe),
		zap.Duration("total", t.Total),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
