package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Latency buckets in milliseconds, sized for CPU inference.
var defaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Collectors groups the Prometheus metrics of the service. Each instance owns
// its registry so tests can build as many as they like.
type Collectors struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	detections          prometheus.Counter
	images              prometheus.Counter
	inferenceLatency    prometheus.Histogram
	errorsByCode        *prometheus.CounterVec

	poolInUse           prometheus.Gauge
	poolAcquireFailures prometheus.Counter
	poolAcquireWait     prometheus.Histogram
}

type Option func(*options)

type options struct {
	namespace string
	buckets   []float64
}

func WithNamespace(namespace string) Option {
	return func(o *options) {
		if namespace != "" {
			o.namespace = namespace
		}
	}
}

func WithHistogramBuckets(buckets []float64) Option {
	return func(o *options) {
		if len(buckets) > 0 {
			o.buckets = buckets
		}
	}
}

func NewCollectors(opts ...Option) *Collectors {
	o := options{namespace: "person_detection", buckets: defaultBuckets}
	for _, opt := range opts {
		opt(&o)
	}

	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)
	c := &Collectors{registry: reg}

	c.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "status_code"})

	c.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: o.namespace,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds.",
		Buckets:   o.buckets,
	}, []string{"route", "method", "status_code"})

	c.detections = auto.NewCounter(prometheus.CounterOpts{
		Namespace: o.namespace,
		Name:      "detections_total",
		Help:      "People detected across all successful requests.",
	})

	c.images = auto.NewCounter(prometheus.CounterOpts{
		Namespace: o.namespace,
		Name:      "images_processed_total",
		Help:      "Images that went through the detection pipeline successfully.",
	})

	c.inferenceLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: o.namespace,
		Name:      "inference_latency_milliseconds",
		Help:      "Pipeline latency per image in milliseconds.",
		Buckets:   o.buckets,
	})

	c.errorsByCode = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.namespace,
		Name:      "errors_total",
		Help:      "Failed detections by error code.",
	}, []string{"code"})

	c.poolInUse = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: o.namespace,
		Subsystem: "pool",
		Name:      "sessions_in_use",
		Help:      "Model sessions currently checked out.",
	})

	c.poolAcquireFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: o.namespace,
		Subsystem: "pool",
		Name:      "acquire_failures_total",
		Help:      "Session acquisitions that timed out.",
	})

	c.poolAcquireWait = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: o.namespace,
		Subsystem: "pool",
		Name:      "acquire_wait_milliseconds",
		Help:      "Time spent waiting for a model session.",
		Buckets:   o.buckets,
	})

	return c
}

func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Handler serves the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) RecordHTTPRequest(route, method, statusCode string, durationMs float64) {
	c.httpRequests.WithLabelValues(route, method, statusCode).Inc()
	c.httpRequestDuration.WithLabelValues(route, method, statusCode).Observe(durationMs)
}

func (c *Collectors) RecordDetection(count int, latencyMs float64) {
	c.images.Inc()
	c.detections.Add(float64(count))
	c.inferenceLatency.Observe(latencyMs)
}

func (c *Collectors) RecordError(code string) {
	c.errorsByCode.WithLabelValues(code).Inc()
}

func (c *Collectors) SetPoolInUse(n int) {
	c.poolInUse.Set(float64(n))
}

func (c *Collectors) RecordPoolAcquire(waitMs float64, failed bool) {
	c.poolAcquireWait.Observe(waitMs)
	if failed {
		c.poolAcquireFailures.Inc()
	}
}
