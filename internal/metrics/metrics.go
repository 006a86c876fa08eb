// Package metrics provides Prometheus instrumentation for the settle engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CalculationsTotal counts calculation attempts, partitioned by outcome.
	CalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settle_calculations_total",
		Help: "Total settlement calculation attempts by outcome",
	}, []string{"outcome"})

	// CalculationLatency tracks end-to-end calculation duration.
	CalculationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settle_calculation_latency_seconds",
		Help:    "Settlement calculation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// LockContention counts acquire attempts that found the lock busy.
	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settle_lock_contention_total",
		Help: "Calculation attempts rejected because the game lock was held",
	})

	// ExpiredLocksReclaimed counts locks removed by the cleanup sweep.
	ExpiredLocksReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settle_expired_locks_reclaimed_total",
		Help: "Expired calculation locks removed by the sweeper",
	})

	// SettlementsCreated counts settlement rows written by successful
	// calculations.
	SettlementsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settle_settlements_created_total",
		Help: "Settlement rows created",
	})

	// SettlementsCompleted counts pending→completed transitions.
	SettlementsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settle_settlements_completed_total",
		Help: "Settlements marked completed",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settle_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settle_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settle_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; route cardinality is small.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
