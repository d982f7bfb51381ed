// Package metrics provides Prometheus metrics for the locker server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webls_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webls_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// File operation metrics
	fileOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webls_file_operations_total",
			Help: "Total file operations by kind and outcome",
		},
		[]string{"op", "status"},
	)

	fileOpEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webls_file_operation_entries_total",
			Help: "Total batch entries completed by file operations",
		},
		[]string{"op"},
	)

	listDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webls_list_duration_seconds",
			Help:    "Directory listing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// Content transfer metrics
	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webls_bytes_uploaded_total",
			Help: "Total bytes written by uploads",
		},
	)

	uploadFieldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webls_upload_fields_total",
			Help: "Total upload fields by outcome",
		},
		[]string{"status"},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webls_downloads_total",
			Help: "Total number of downloads",
		},
		[]string{"status"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webls_auth_attempts_total",
			Help: "Total shared-secret checks",
		},
		[]string{"result"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webls_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webls_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webls_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	// Watcher metrics
	watcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webls_watcher_events_total",
			Help: "Total filesystem notifications handled by the watcher",
		},
		[]string{"op"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordFileOp records a file operation and how many entries it completed.
func RecordFileOp(op string, completed int, success bool) {
	fileOpsTotal.WithLabelValues(op, status(success)).Inc()
	fileOpEntries.WithLabelValues(op).Add(float64(completed))
}

// RecordList records a directory listing.
func RecordList(duration time.Duration, success bool) {
	listDuration.WithLabelValues(status(success)).Observe(duration.Seconds())
}

// RecordUploadField records one upload field.
func RecordUploadField(bytes int64, success bool) {
	bytesUploaded.Add(float64(bytes))
	uploadFieldsTotal.WithLabelValues(status(success)).Inc()
}

// RecordDownload records a download.
func RecordDownload(success bool) {
	downloadsTotal.WithLabelValues(status(success)).Inc()
}

// RecordAuthAttempt records a shared-secret check.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordWatcherEvent records a filesystem notification.
func RecordWatcherEvent(op string) {
	watcherEventsTotal.WithLabelValues(op).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, RouteLabel(r.URL.Path), rw.statusCode, time.Since(start))
	})
}

// RouteLabel collapses a request path to its route so file paths do not
// end up as label values: /api/v1/list/a/b becomes /api/v1/list and
// /download/a/b becomes /download.
func RouteLabel(p string) string {
	parts := strings.SplitN(strings.TrimPrefix(p, "/"), "/", 4)
	if parts[0] == "api" && len(parts) >= 3 {
		return "/" + strings.Join(parts[:3], "/")
	}
	return "/" + parts[0]
}
