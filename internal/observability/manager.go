package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Result labels
const (
	StatusSuccess      = "success"
	StatusError        = "error"
	StatusAuthRequired = "auth_required"
	StatusTimeout      = "timeout"
)

// Config holds configuration for observability features
type Config struct {
	Metrics bool          `json:"metrics"`
	Tracing TracingConfig `json:"tracing"`
}

// DefaultConfig returns a default observability configuration
func DefaultConfig(serviceName, serviceVersion string) Config {
	return Config{
		Metrics: true,
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     1.0,
		},
	}
}

// Manager coordinates all observability features. Every recording method is
// safe to call on a nil *Manager.
type Manager struct {
	logger  *zap.SugaredLogger
	health  *HealthManager
	metrics *MetricsManager
	tracing *TracingManager

	startTime time.Time
}

// NewManager creates a new observability manager
func NewManager(logger *zap.SugaredLogger, config Config) (*Manager, error) {
	manager := &Manager{
		logger:    logger,
		health:    NewHealthManager(logger),
		startTime: time.Now(),
	}

	if config.Metrics {
		manager.metrics = NewMetricsManager(logger)
		logger.Debug("Prometheus metrics enabled")
	}

	tracing, err := NewTracingManager(logger, config.Tracing)
	if err != nil {
		return nil, err
	}
	manager.tracing = tracing

	return manager, nil
}

// Health returns the health manager
func (m *Manager) Health() *HealthManager {
	return m.health
}

// Metrics returns the metrics manager
func (m *Manager) Metrics() *MetricsManager {
	if m == nil {
		return nil
	}
	return m.metrics
}

// Tracing returns the tracing manager
func (m *Manager) Tracing() *TracingManager {
	if m == nil {
		return nil
	}
	return m.tracing
}

// RegisterHealthChecker registers a health checker
func (m *Manager) RegisterHealthChecker(checker HealthChecker) {
	m.health.AddHealthChecker(checker)
}

// RegisterReadinessChecker registers a readiness checker
func (m *Manager) RegisterReadinessChecker(checker ReadinessChecker) {
	m.health.AddReadinessChecker(checker)
}

// Router serves /healthz, /readyz and, when enabled, /metrics.
func (m *Manager) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(m.HTTPMiddleware())

	r.Get("/healthz", m.health.HealthzHandler())
	r.Get("/readyz", m.health.ReadyzHandler())
	if m.metrics != nil {
		r.Handle("/metrics", m.metrics.Handler())
	}
	return r
}

// HTTPMiddleware returns combined HTTP middleware for observability
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	var middlewares []func(http.Handler) http.Handler
	if m.metrics != nil {
		middlewares = append(middlewares, m.metrics.HTTPMiddleware())
	}
	middlewares = append(middlewares, m.tracing.HTTPMiddleware())

	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// UpdateMetrics refreshes the uptime gauge.
func (m *Manager) UpdateMetrics() {
	if m.Metrics() == nil {
		return
	}
	m.metrics.SetUptime(m.startTime)
}

// Close gracefully shuts down observability components
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if err := m.tracing.Close(ctx); err != nil {
		m.logger.Errorw("Failed to close tracing manager", "error", err)
		return err
	}
	return nil
}

// StartSpan starts a span, or returns the current one when tracing is off.
func (m *Manager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return m.Tracing().StartSpan(ctx, name, attrs...)
}

// TraceToolCall starts a tool call span.
func (m *Manager) TraceToolCall(ctx context.Context, server, tool string) (context.Context, oteltrace.Span) {
	return m.Tracing().TraceToolCall(ctx, server, tool)
}

// TraceServerConnection starts a connection span.
func (m *Manager) TraceServerConnection(ctx context.Context, server, operation string) (context.Context, oteltrace.Span) {
	return m.Tracing().TraceServerConnection(ctx, server, operation)
}

// TraceAuthenticate starts an OAuth flow span.
func (m *Manager) TraceAuthenticate(ctx context.Context, server string) (context.Context, oteltrace.Span) {
	return m.Tracing().TraceAuthenticate(ctx, server)
}

// RecordToolCall records tool call metrics.
func (m *Manager) RecordToolCall(serverName, toolName, status string, duration time.Duration) {
	if mm := m.Metrics(); mm != nil {
		mm.RecordToolCall(serverName, toolName, status, duration)
	}
}

// RecordConnect records a connection attempt.
func (m *Manager) RecordConnect(serverName, result string, duration time.Duration) {
	if mm := m.Metrics(); mm != nil {
		mm.RecordConnect(serverName, result, duration)
	}
}

// RecordIdleDisconnect records an idle-timer disconnect.
func (m *Manager) RecordIdleDisconnect(serverName string) {
	if mm := m.Metrics(); mm != nil {
		mm.RecordIdleDisconnect(serverName)
	}
}

// RecordStateChange records a server state change.
func (m *Manager) RecordStateChange(serverName, from, to string) {
	if mm := m.Metrics(); mm != nil {
		mm.RecordServerStateChange(serverName, from, to)
	}
}

// RecordOAuthFlow records an interactive OAuth flow outcome.
func (m *Manager) RecordOAuthFlow(serverName, result string) {
	if mm := m.Metrics(); mm != nil {
		mm.RecordOAuthFlow(serverName, result)
	}
}

// RecordStorageOperation is a convenience method to record storage operations
func (m *Manager) RecordStorageOperation(operation string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	if mm := m.Metrics(); mm != nil {
		mm.RecordStorageOperation(operation, status)
	}
}

// SetServerStats updates the server gauges.
func (m *Manager) SetServerStats(total, connected, toolsCached int) {
	if mm := m.Metrics(); mm != nil {
		mm.SetServerStats(total, connected, toolsCached)
	}
}
