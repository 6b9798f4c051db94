// Package metrics provides Prometheus instrumentation for the exchange.
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
	// SessionsTotal counts matching sessions, partitioned by outcome.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rex_sessions_total",
		Help: "Total matching sessions run",
	}, []string{"result"})

	// SessionDuration tracks how long a session takes to reach its
	// fixed point.
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rex_session_duration_seconds",
		Help:    "Matching session duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TradesTotal counts trades executed, partitioned by contract.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rex_trades_total",
		Help: "Total trades executed",
	}, []string{"contract"})

	// TradeVolume tracks cumulative traded units per contract.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rex_trade_volume_units_total",
		Help: "Cumulative trade volume in units",
	}, []string{"contract"})

	// IOUsMinted counts IOUs issued by matching sessions.
	IOUsMinted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rex_ious_minted_total",
		Help: "IOUs minted by matching sessions",
	})

	// ContractsResolved counts resolutions, partitioned by outcome.
	ContractsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rex_contracts_resolved_total",
		Help: "Contracts resolved",
	}, []string{"outcome"})

	// RequestsRejected counts envelope requests refused with a business
	// error.
	RequestsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rex_requests_rejected_total",
		Help: "Envelope requests rejected by business rules",
	})

	// WorkerQueueDepth tracks requests waiting for the writer goroutine.
	WorkerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rex_worker_queue_depth",
		Help: "Requests queued for the writer goroutine",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rex_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rex_http_request_duration_seconds",
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

		// Use the raw path for the label; the route surface is tiny, so
		// cardinality stays bounded.
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
