// Package metrics holds the service counters: the JSON accumulator served on
// /metrics and the Prometheus collectors.
package metrics

import "sync"

// Accumulator keeps running totals over successful detection requests.
type Accumulator struct {
	mu                   sync.Mutex
	totalRequests        int64
	totalDetections      int64
	totalInferenceTimeMs float64
}

type Snapshot struct {
	TotalRequests         int64   `json:"total_requests"`
	TotalDetections       int64   `json:"total_detections"`
	TotalInferenceTimeMs  float64 `json:"total_inference_time_ms"`
	AvgInferenceTimeMs    float64 `json:"avg_inference_time_ms"`
	AvgDetectionsPerImage float64 `json:"avg_detections_per_image"`
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Record adds one completed request.
func (a *Accumulator) Record(detections int, inferenceMs float64) {
	a.mu.Lock()
	a.totalRequests++
	a.totalDetections += int64(detections)
	a.totalInferenceTimeMs += inferenceMs
	a.mu.Unlock()
}

func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := float64(max(1, a.totalRequests))
	return Snapshot{
		TotalRequests:         a.totalRequests,
		TotalDetections:       a.totalDetections,
		TotalInferenceTimeMs:  a.totalInferenceTimeMs,
		AvgInferenceTimeMs:    a.totalInferenceTimeMs / n,
		AvgDetectionsPerImage: float64(a.totalDetections) / n,
	}
}
