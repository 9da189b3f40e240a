// Package metrics provides Prometheus instrumentation for the cost-basis
// service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eupholio/costbasis/internal/model"
)

var (
	// CalculationsTotal counts finished engine runs by method and rounding
	// timing. Failed runs carry outcome="error".
	CalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "costbasis_calculations_total",
		Help: "Total number of cost-basis calculations",
	}, []string{"method", "timing", "outcome"})

	// CalculationDuration tracks engine run time.
	CalculationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "costbasis_calculation_duration_seconds",
		Help:    "Cost-basis calculation duration in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method"})

	// DiagnosticsTotal counts warnings emitted in reports by kind.
	DiagnosticsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "costbasis_diagnostics_total",
		Help: "Report diagnostics by kind",
	}, []string{"kind"})

	// CacheRequestsTotal counts report cache lookups, result is hit, miss or error.
	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "costbasis_cache_requests_total",
		Help: "Report cache lookups",
	}, []string{"result"})

	// NormalizedRowsTotal counts normalized source rows by format and outcome
	// (event or diagnostic).
	NormalizedRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "costbasis_normalized_rows_total",
		Help: "Normalized export rows",
	}, []string{"format", "outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "costbasis_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "costbasis_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "costbasis_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveReport records the diagnostics of a finished report.
func ObserveReport(r *model.Report) {
	for _, w := range r.Diagnostics {
		DiagnosticsTotal.WithLabelValues(string(w.Kind)).Inc()
	}
}

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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern uses the matched chi pattern to keep label cardinality low;
// /api/v1/normalize/{format} is one series however many formats are asked for.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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

// Unwrap lets http.ResponseController and the WebSocket upgrader reach the
// underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
