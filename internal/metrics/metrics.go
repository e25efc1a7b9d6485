// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheRequests counts TTL cache lookups by bucket and result (hit, miss, expired).
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_cache_requests_total",
		Help: "TTL cache lookups by bucket and result",
	}, []string{"bucket", "result"})

	// CacheEvictions counts entries evicted by the per-bucket size bound.
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_cache_evictions_total",
		Help: "TTL cache entries evicted by the size bound",
	}, []string{"bucket"})

	// ProviderRequests counts market-data provider calls by operation and outcome.
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_provider_requests_total",
		Help: "Market-data provider calls by operation and outcome",
	}, []string{"op", "outcome"})

	// FetchRetries counts retry attempts (not first attempts) by operation.
	FetchRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_fetch_retries_total",
		Help: "Provider retries by operation",
	}, []string{"op"})

	// StoreWriteFailures counts price store writes that failed and were bypassed.
	StoreWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "folio_store_write_failures_total",
		Help: "Price store writes that failed and were skipped",
	})

	// GapFillFetches counts provider range fetches issued to back-fill missing dates.
	GapFillFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "folio_gapfill_fetches_total",
		Help: "Range fetches issued to back-fill missing dates",
	})

	// BatchLatency tracks orchestrator batch duration.
	BatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "folio_orchestrator_batch_seconds",
		Help:    "Fetch orchestrator batch latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// HoldingFailures counts per-holding task failures inside a batch.
	HoldingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "folio_orchestrator_holding_failures_total",
		Help: "Per-holding fetch tasks that failed and fell back",
	})

	// EventsDropped counts price events dropped because the hub buffer was full.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "folio_price_events_dropped_total",
		Help: "Price update events dropped by the notification hub",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "folio_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// JobRuns counts background job executions by job and outcome.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_job_runs_total",
		Help: "Background job runs by job and outcome",
	}, []string{"job", "outcome"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "folio_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
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

		HTTPRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(duration)
	})
}

// routePattern uses the chi route pattern for the path label to avoid high
// cardinality from tickers in URLs.
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
