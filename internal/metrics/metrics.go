// Package metrics provides Prometheus instrumentation for the trade engine.
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
	// TicksTotal counts simulation ticks.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersim_ticks_total",
		Help: "Total number of simulation ticks",
	})

	// TradesTotal counts settled trades, partitioned by side and kind.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papersim_trades_total",
		Help: "Total number of trades settled",
	}, []string{"side", "kind"})

	// FillsTotal counts limit orders filled by the matcher.
	FillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersim_fills_total",
		Help: "Total number of limit orders filled",
	})

	// OpenOrders tracks the number of resting limit orders per account.
	OpenOrders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "papersim_open_orders",
		Help: "Number of currently open limit orders per account",
	}, []string{"account"})

	// SaveFailures counts failed ledger persistence attempts.
	SaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersim_ledger_save_failures_total",
		Help: "Failed ledger save attempts",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papersim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papersim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papersim_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
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
