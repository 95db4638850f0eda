package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager manages Prometheus metrics
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime           prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	serversTotal     prometheus.Gauge
	serversConnected prometheus.Gauge
	toolsCached      prometheus.Gauge
	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	connects         *prometheus.CounterVec
	connectDuration  *prometheus.HistogramVec
	idleDisconnects  *prometheus.CounterVec
	stateChanges     *prometheus.CounterVec
	oauthFlows       *prometheus.CounterVec
	storageOps       *prometheus.CounterVec
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	registry := prometheus.NewRegistry()

	mm := &MetricsManager{
		logger:   logger,
		registry: registry,
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

// initMetrics initializes all Prometheus metrics
func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgate_uptime_seconds",
		Help: "Time since the application started",
	})

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgate_http_requests_total",
			Help: "Total number of HTTP requests to the observability endpoint",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpgate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	mm.serversTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgate_servers_total",
		Help: "Total number of configured servers",
	})

	mm.serversConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgate_servers_connected",
		Help: "Number of connected servers",
	})

	mm.toolsCached = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgate_tools_cached",
		Help: "Number of tools held in the catalog cache",
	})

	mm.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgate_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"server", "tool", "status"},
	)

	mm.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpgate_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"server", "tool", "status"},
	)

	mm.connects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgate_connects_total",
			Help: "Total number of connection attempts",
		},
		[]string{"server", "result"}, // result: success, auth_required, failed
	)

	mm.connectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpgate_connect_duration_seconds",
			Help:    "Time taken to connect and initialize a server",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"server", "result"},
	)

	mm.idleDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgate_idle_disconnects_total",
			Help: "Total number of disconnects caused by the idle timer",
		},
		[]string{"server"},
	)

	mm.stateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgate_server_state_changes_total",
			Help: "Total number of server state changes",
		},
		[]string{"server", "from_state", "to_state"},
	)

	mm.oauthFlows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgate_oauth_flows_total",
			Help: "Total number of interactive OAuth flows",
		},
		[]string{"server", "result"},
	)

	mm.storageOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgate_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)
}

// registerMetrics registers all metrics with the registry
func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.serversTotal,
		mm.serversConnected,
		mm.toolsCached,
		mm.toolCalls,
		mm.toolDuration,
		mm.connects,
		mm.connectDuration,
		mm.idleDisconnects,
		mm.stateChanges,
		mm.oauthFlows,
		mm.storageOps,
	)

	// Also register Go runtime metrics
	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry for custom metrics
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime sets the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records an HTTP request
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// SetServerStats updates server-related metrics
func (mm *MetricsManager) SetServerStats(total, connected, toolsCached int) {
	mm.serversTotal.Set(float64(total))
	mm.serversConnected.Set(float64(connected))
	mm.toolsCached.Set(float64(toolsCached))
}

// RecordToolCall records a tool call
func (mm *MetricsManager) RecordToolCall(server, tool, status string, duration time.Duration) {
	mm.toolCalls.WithLabelValues(server, tool, status).Inc()
	mm.toolDuration.WithLabelValues(server, tool, status).Observe(duration.Seconds())
}

// RecordConnect records a connection attempt
func (mm *MetricsManager) RecordConnect(server, result string, duration time.Duration) {
	mm.connects.WithLabelValues(server, result).Inc()
	mm.connectDuration.WithLabelValues(server, result).Observe(duration.Seconds())
}

// RecordIdleDisconnect records a disconnect triggered by the idle timer
func (mm *MetricsManager) RecordIdleDisconnect(server string) {
	mm.idleDisconnects.WithLabelValues(server).Inc()
}

// RecordServerStateChange records a server state change
func (mm *MetricsManager) RecordServerStateChange(server, fromState, toState string) {
	mm.stateChanges.WithLabelValues(server, fromState, toState).Inc()
}

// RecordOAuthFlow records the outcome of an interactive OAuth flow
func (mm *MetricsManager) RecordOAuthFlow(server, result string) {
	mm.oauthFlows.WithLabelValues(server, result).Inc()
}

// RecordStorageOperation records a storage operation
func (mm *MetricsManager) RecordStorageOperation(operation, status string) {
	mm.storageOps.WithLabelValues(operation, status).Inc()
}

// HTTPMiddleware returns middleware that records HTTP metrics
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap the response writer to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			mm.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.statusCode), time.Since(start))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
