package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	upstreamRequestsTotal *prometheus.CounterVec
	upstreamDuration      *prometheus.HistogramVec
	engineAttemptsTotal   *prometheus.CounterVec
	engineAttemptDuration *prometheus.HistogramVec
	selectedHintsTotal    *prometheus.CounterVec
	rejectedClipsTotal    *prometheus.CounterVec
	suppressedTotal       prometheus.Counter
	intentsTotal          *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seniorvoice_http_requests_total",
				Help: "Total number of HTTP requests handled.",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seniorvoice_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		upstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seniorvoice_upstream_requests_total",
				Help: "Total upstream OpenAI-compatible API requests.",
			},
			[]string{"endpoint", "status"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seniorvoice_upstream_request_duration_seconds",
				Help:    "Upstream request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "status"},
		),
		engineAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seniorvoice_engine_attempts_total",
				Help: "Recognition attempts by language hint and outcome.",
			},
			[]string{"hint", "outcome"},
		),
		engineAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seniorvoice_engine_attempt_duration_seconds",
				Help:    "Duration of a single recognition attempt in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"hint"},
		),
		selectedHintsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seniorvoice_selected_hint_total",
				Help: "Language hint of the hypothesis retained by the selector.",
			},
			[]string{"hint"},
		),
		rejectedClipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seniorvoice_rejected_clips_total",
				Help: "Clips rejected as non-speech before recognition.",
			},
			[]string{"reason"},
		),
		suppressedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "seniorvoice_suppressed_transcripts_total",
				Help: "Repetitive low-confidence transcripts cleared as hallucinations.",
			},
		),
		intentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seniorvoice_intents_total",
				Help: "Parsed commands by action.",
			},
			[]string{"action"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.upstreamRequestsTotal,
		m.upstreamDuration,
		m.engineAttemptsTotal,
		m.engineAttemptDuration,
		m.selectedHintsTotal,
		m.rejectedClipsTotal,
		m.suppressedTotal,
		m.intentsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveHTTP(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "UNKNOWN"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(route, method, statusLabel).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveUpstream(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.upstreamRequestsTotal.WithLabelValues(endpoint, statusLabel).Inc()
	m.upstreamDuration.WithLabelValues(endpoint, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveAttempt(hint string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.engineAttemptsTotal.WithLabelValues(hint, outcome).Inc()
	m.engineAttemptDuration.WithLabelValues(hint).Observe(duration.Seconds())
}

func (m *Metrics) ObserveSelectedHint(hint string) {
	if m == nil {
		return
	}
	m.selectedHintsTotal.WithLabelValues(hint).Inc()
}

func (m *Metrics) ObserveRejectedClip(reason string) {
	if m == nil {
		return
	}
	m.rejectedClipsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveSuppressedTranscript() {
	if m == nil {
		return
	}
	m.suppressedTotal.Inc()
}

func (m *Metrics) ObserveIntent(action string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	m.intentsTotal.WithLabelValues(action).Inc()
}
