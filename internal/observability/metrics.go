// Package observability wires Prometheus collectors for the HTTP surface
// and the governance counters the domain services feed.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the registry and every collector of the process.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	entriesCreated     *prometheus.CounterVec
	entriesFailed      *prometheus.CounterVec
	reversalsCreated   prometheus.Counter
	movementsProcessed *prometheus.CounterVec
	quarantinePending  prometheus.Gauge
	signalFailures     *prometheus.CounterVec
}

// NewMetrics initialises the registry and all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgergate_http_requests_total",
		Help: "HTTP requests partitioned by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgergate_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	entriesCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgergate_journal_entries_total",
		Help: "Journal entries created, partitioned by entry type.",
	}, []string{"entry_type"})
	entriesFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgergate_journal_entry_failures_total",
		Help: "Journal entry creations refused, partitioned by error code.",
	}, []string{"code"})
	reversals := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledgergate_journal_reversals_total",
		Help: "Reversal entries created.",
	})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgergate_stock_movements_total",
		Help: "Stock movements processed, partitioned by movement type.",
	}, []string{"movement_type"})
	quarantinePending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledgergate_quarantine_pending",
		Help: "Quarantined records awaiting review.",
	})
	signalFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgergate_signal_handler_failures_total",
		Help: "Signal handler failures partitioned by handler name.",
	}, []string{"handler"})
	registry.MustRegister(requests, duration, entriesCreated, entriesFailed,
		reversals, movements, quarantinePending, signalFailures)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		entriesCreated:     entriesCreated,
		entriesFailed:      entriesFailed,
		reversalsCreated:   reversals,
		movementsProcessed: movements,
		quarantinePending:  quarantinePending,
		signalFailures:     signalFailures,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counts and durations per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// EntryCreated counts a posted or drafted journal entry.
func (m *Metrics) EntryCreated(entryType string) {
	if m == nil {
		return
	}
	m.entriesCreated.WithLabelValues(entryType).Inc()
}

// EntryFailed counts a refused journal entry by its error code.
func (m *Metrics) EntryFailed(code string) {
	if m == nil {
		return
	}
	m.entriesFailed.WithLabelValues(code).Inc()
}

// ReversalCreated counts a reversal entry.
func (m *Metrics) ReversalCreated() {
	if m == nil {
		return
	}
	m.reversalsCreated.Inc()
}

// MovementProcessed counts a stock movement by type.
func (m *Metrics) MovementProcessed(movementType string) {
	if m == nil {
		return
	}
	m.movementsProcessed.WithLabelValues(movementType).Inc()
}

// SetQuarantinePending sets the pending-review gauge.
func (m *Metrics) SetQuarantinePending(n int64) {
	if m == nil {
		return
	}
	m.quarantinePending.Set(float64(n))
}

// SignalHandlerFailed counts a contained signal handler failure.
func (m *Metrics) SignalHandlerFailed(handler string) {
	if m == nil {
		return
	}
	m.signalFailures.WithLabelValues(handler).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
