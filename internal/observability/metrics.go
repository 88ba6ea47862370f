package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager manages the process's Prometheus metrics.
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	queueDepth        prometheus.Gauge
	batchSize         prometheus.Histogram
	detectionLatency  prometheus.Histogram
	detectionsTotal   *prometheus.CounterVec
	policyMatchLatency prometheus.Histogram
	wsReconnects      *prometheus.CounterVec
	tokenRefreshes    *prometheus.CounterVec
	autoResponses     *prometheus.CounterVec
}

// NewMetricsManager creates a new metrics manager with its own registry.
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	registry := prometheus.NewRegistry()
	mm := &MetricsManager{logger: logger, registry: registry}
	mm.initMetrics()
	mm.registerMetrics()
	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "icsguard_uptime_seconds",
		Help: "Time since the application started",
	})

	mm.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "icsguard_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	mm.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "icsguard_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	mm.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "icsguard_detection_queue_depth",
		Help: "Number of flow tasks currently queued for detection",
	})

	mm.batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "icsguard_detection_batch_size",
		Help:    "Size of deduped detection batches processed by workers",
		Buckets: []float64{1, 4, 8, 16, 32, 64},
	})

	mm.detectionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "icsguard_detection_latency_seconds",
		Help:    "Time to run inference and write back a single flow's detection result",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	mm.detectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "icsguard_detections_total",
		Help: "Total number of completed detections by decision level",
	}, []string{"decision_level"})

	mm.policyMatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "icsguard_policy_match_latency_seconds",
		Help:    "Time to resolve check_packet against the active policy set",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	mm.wsReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "icsguard_eventbus_reconnects_total",
		Help: "Total number of event bus WebSocket reconnect attempts",
	}, []string{"endpoint"})

	mm.tokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "icsguard_controller_token_refreshes_total",
		Help: "Total number of controller token refresh attempts",
	}, []string{"result"})

	mm.autoResponses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "icsguard_auto_responses_total",
		Help: "Total number of auto-responder policy applications",
	}, []string{"action", "result"})
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.queueDepth,
		mm.batchSize,
		mm.detectionLatency,
		mm.detectionsTotal,
		mm.policyMatchLatency,
		mm.wsReconnects,
		mm.tokenRefreshes,
		mm.autoResponses,
	)
	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the Prometheus registry for custom metrics.
func (mm *MetricsManager) Registry() *prometheus.Registry { return mm.registry }

// SetUptime sets the uptime metric.
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records an HTTP request.
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// SetQueueDepth reports the detection pipeline's current inbound queue depth.
func (mm *MetricsManager) SetQueueDepth(depth int) { mm.queueDepth.Set(float64(depth)) }

// RecordBatch records a processed detection batch's deduped size and the
// latency to run inference and write back every flow in it.
func (mm *MetricsManager) RecordBatch(size int, latency time.Duration) {
	mm.batchSize.Observe(float64(size))
	mm.detectionLatency.Observe(latency.Seconds())
}

// RecordDetection records one completed detection by decision level.
func (mm *MetricsManager) RecordDetection(level string) {
	mm.detectionsTotal.WithLabelValues(level).Inc()
}

// RecordPolicyMatch records the latency of one check_packet call.
func (mm *MetricsManager) RecordPolicyMatch(duration time.Duration) {
	mm.policyMatchLatency.Observe(duration.Seconds())
}

// RecordWSReconnect records an event bus reconnect attempt for an endpoint.
func (mm *MetricsManager) RecordWSReconnect(endpoint string) {
	mm.wsReconnects.WithLabelValues(endpoint).Inc()
}

// RecordTokenRefresh records a controller token refresh outcome.
func (mm *MetricsManager) RecordTokenRefresh(result string) {
	mm.tokenRefreshes.WithLabelValues(result).Inc()
}

// RecordAutoResponse records an auto-responder policy application outcome.
func (mm *MetricsManager) RecordAutoResponse(action, result string) {
	mm.autoResponses.WithLabelValues(action, result).Inc()
}

// HTTPMiddleware returns middleware that records HTTP metrics.
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)
			duration := time.Since(start)
			mm.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.statusCode), duration)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
