package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the capture and
// analysis pipeline.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	motionEventsTotal   prometheus.Counter
	clipsRecordedTotal  prometheus.Counter
	clipsDiscardedTotal prometheus.Counter
	clipsAnalyzedTotal  prometheus.Counter
	processingErrsTotal prometheus.Counter
	queueDepth          prometheus.Gauge
	streaming           prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inspectre_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inspectre_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	motionEventsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inspectre_motion_events_total",
		Help: "Total number of motion state transitions (edges)",
	})
	clipsRecordedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inspectre_clips_recorded_total",
		Help: "Total number of clips finalized and queued for analysis",
	})
	clipsDiscardedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inspectre_clips_discarded_total",
		Help: "Total number of recordings discarded as invalid (too small or missing)",
	})
	clipsAnalyzedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inspectre_clips_analyzed_total",
		Help: "Total number of clips successfully analyzed and stored",
	})
	processingErrsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inspectre_processing_errors_total",
		Help: "Total number of clips that failed analysis or storage",
	})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "inspectre_clip_queue_depth",
		Help: "Number of clips waiting for analysis",
	})
	streaming := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "inspectre_streaming",
		Help: "1 while a capture stream is active, 0 otherwise",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		motionEventsTotal,
		clipsRecordedTotal,
		clipsDiscardedTotal,
		clipsAnalyzedTotal,
		processingErrsTotal,
		queueDepth,
		streaming,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		errorsTotal:         errorsTotal,
		motionEventsTotal:   motionEventsTotal,
		clipsRecordedTotal:  clipsRecordedTotal,
		clipsDiscardedTotal: clipsDiscardedTotal,
		clipsAnalyzedTotal:  clipsAnalyzedTotal,
		processingErrsTotal: processingErrsTotal,
		queueDepth:          queueDepth,
		streaming:           streaming,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the HTTP errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncMotionEvents increments the motion edge counter.
func (m *Metrics) IncMotionEvents() {
	m.motionEventsTotal.Inc()
}

// IncClipsRecorded increments the finalized-clip counter.
func (m *Metrics) IncClipsRecorded() {
	m.clipsRecordedTotal.Inc()
}

// IncClipsDiscarded increments the invalid-recording counter.
func (m *Metrics) IncClipsDiscarded() {
	m.clipsDiscardedTotal.Inc()
}

// IncClipsAnalyzed increments the analyzed-clip counter.
func (m *Metrics) IncClipsAnalyzed() {
	m.clipsAnalyzedTotal.Inc()
}

// IncProcessingErrors increments the failed-clip counter.
func (m *Metrics) IncProcessingErrors() {
	m.processingErrsTotal.Inc()
}

// SetQueueDepth sets the pending-clip gauge.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// SetStreaming sets the streaming gauge to 1 or 0.
func (m *Metrics) SetStreaming(active bool) {
	if active {
		m.streaming.Set(1)
	} else {
		m.streaming.Set(0)
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. queue depth).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
