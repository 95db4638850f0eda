// Package upstream manages connections to the configured tool servers: the
// registry, the per-server connection state machine with its idle timer, the
// tool catalog cache, search, call dispatch and the OAuth flow.
package upstream

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
	"github.com/smart-mcp-proxy/mcpgate/internal/logs"
	"github.com/smart-mcp-proxy/mcpgate/internal/oauth"
	"github.com/smart-mcp-proxy/mcpgate/internal/observability"
	"github.com/smart-mcp-proxy/mcpgate/internal/storage"
	"github.com/smart-mcp-proxy/mcpgate/internal/transport"
)

const (
	// DefaultOperationTimeout bounds each list-tools and call-tool request.
	DefaultOperationTimeout = 30 * time.Second

	// DefaultCacheTTL is how long a tool catalog is reused.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultConnectTimeout bounds spawning or dialing plus the handshake.
	DefaultConnectTimeout = 60 * time.Second

	// DefaultCloseTimeout bounds closing a client during teardown.
	DefaultCloseTimeout = 10 * time.Second
)

// AuthNotApplicable is the auth status reported for stdio servers.
const AuthNotApplicable oauth.Status = "n/a"

// ActivityRecorder persists tool call records. *storage.ActivityStore
// implements it.
type ActivityRecorder interface {
	SaveActivityAsync(record *storage.ActivityRecord)
}

// Options configures a Manager. Zero values select defaults.
type Options struct {
	Builder transport.Builder
	OAuth   *oauth.Provider
	Browser oauth.BrowserOpener
	Clock   clock.WithDelayedExecution
	Logger  *zap.Logger

	// LogConfig enables per-server log files when EnableFile is set.
	LogConfig *config.LogConfig

	Observability *observability.Manager
	Activity      ActivityRecorder
	Notifications *NotificationManager

	// ClientVersion is sent in the initialize handshake.
	ClientVersion string

	// CallbackPort is the loopback port of the OAuth callback listener.
	// Zero picks a free port.
	CallbackPort    int
	CallbackTimeout time.Duration

	OperationTimeout time.Duration
	CacheTTL         time.Duration
	ConnectTimeout   time.Duration
	CloseTimeout     time.Duration
}

func (o *Options) setDefaults() {
	if o.Builder == nil {
		o.Builder = transport.NewDefaultBuilder()
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Browser == nil {
		o.Browser = oauth.SystemBrowser{Logger: o.Logger}
	}
	if o.CallbackTimeout <= 0 {
		o.CallbackTimeout = config.DefaultCallbackTimeout
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = DefaultOperationTimeout
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "dev"
	}
}

// managedServer is one configured server. mu guards every field below it.
type managedServer struct {
	name   string
	logger *zap.Logger
	// serverLogger receives the server's own output (stderr, transport traces).
	serverLogger *zap.Logger

	mu          sync.Mutex
	cfg         *config.ServerConfig
	state       connState
	gen         uint64
	tools       []ToolInfo
	refreshedAt time.Time
}

// Manager owns every managed server. Lock order is Manager.mu, then
// managedServer.mu. No network I/O happens while either is held.
type Manager struct {
	opts   Options
	logger *zap.Logger
	clock  clock.WithDelayedExecution
	obs    *observability.Manager

	mu      sync.RWMutex
	servers map[string]*managedServer

	connects singleflight.Group
	auths    singleflight.Group
}

// NewManager creates an empty manager. Call Reload to populate it.
func NewManager(opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		opts:    opts,
		logger:  opts.Logger.Named("upstream"),
		clock:   opts.Clock,
		obs:     opts.Observability,
		servers: make(map[string]*managedServer),
	}
}

func (m *Manager) newManagedServer(name string, cfg *config.ServerConfig) *managedServer {
	logger := m.logger.With(zap.String("server", name))
	serverLogger := logger
	if lc := m.opts.LogConfig; lc != nil && lc.EnableFile {
		if l, err := logs.CreateServerLogger(lc, name); err != nil {
			logger.Warn("Failed to create server log file, using main log", zap.Error(err))
		} else {
			serverLogger = l
		}
	}
	return &managedServer{
		name:         name,
		logger:       logger,
		serverLogger: serverLogger,
		cfg:          cfg,
		state:        stateDisconnected{},
	}
}

// Reload reconciles the managed set against cfg. Servers missing from cfg are
// disconnected and discarded. New servers start disconnected. Existing
// servers get the new config in place; a live connection keeps running with
// the old settings until it reconnects, unless the server was disabled.
func (m *Manager) Reload(cfg *config.Config) {
	if cfg == nil {
		cfg = &config.Config{}
	}

	var stale []*stateConnected
	var added, removed []string

	m.mu.Lock()
	for name, s := range m.servers {
		if sc, ok := cfg.Servers[name]; ok && sc != nil {
			continue
		}
		s.mu.Lock()
		if st := m.resetLocked(s, stateDisconnected{}); st != nil {
			stale = append(stale, st)
		}
		s.mu.Unlock()
		delete(m.servers, name)
		removed = append(removed, name)
	}
	for _, name := range cfg.Names() {
		sc := cfg.Servers[name]
		if sc == nil {
			continue
		}
		s, ok := m.servers[name]
		if !ok {
			m.servers[name] = m.newManagedServer(name, sc.Clone())
			added = append(added, name)
			continue
		}
		s.mu.Lock()
		s.cfg = sc.Clone()
		if !sc.IsEnabled() {
			if st := m.resetLocked(s, stateDisconnected{}); st != nil {
				stale = append(stale, st)
			}
		}
		s.mu.Unlock()
	}
	total := len(m.servers)
	m.mu.Unlock()

	m.closeConnections(stale)
	m.updateGauges()

	m.logger.Info("Reloaded server configuration",
		zap.Int("servers", total),
		zap.Strings("added", added),
		zap.Strings("removed", removed))
}

// Names returns the managed server names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// enabledServers returns the enabled servers in sorted name order.
func (m *Manager) enabledServers() []*managedServer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*managedServer, 0, len(m.servers))
	for _, s := range m.servers {
		s.mu.Lock()
		enabled := s.cfg.IsEnabled()
		s.mu.Unlock()
		if enabled {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b *managedServer) int {
		return strings.Compare(a.name, b.name)
	})
	return out
}

func (m *Manager) lookup(name string) (*managedServer, error) {
	m.mu.RLock()
	s, ok := m.servers[name]
	m.mu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{Server: name, Err: ErrUnknownServer}
	}
	return s, nil
}

// Status returns every managed server in sorted name order.
func (m *Manager) Status() []ServerStatus {
	names := m.Names()
	out := make([]ServerStatus, 0, len(names))
	for _, name := range names {
		if st, err := m.ServerStatus(name); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// ServerStatus returns a snapshot of one server.
func (m *Manager) ServerStatus(name string) (ServerStatus, error) {
	s, err := m.lookup(name)
	if err != nil {
		return ServerStatus{}, err
	}

	s.mu.Lock()
	st := ServerStatus{
		Name:      name,
		Transport: s.cfg.Kind(),
		Enabled:   s.cfg.IsEnabled(),
		Status:    s.state.status(),
		ToolCount: len(s.tools),
	}
	switch v := s.state.(type) {
	case stateFailed:
		st.Error = v.message
		st.AuthRequired = v.authRequired
	case *stateConnected:
		since := v.since
		st.ConnectedAt = &since
	}
	s.mu.Unlock()

	st.AuthStatus = AuthNotApplicable
	if st.Transport == config.TransportHTTP && m.opts.OAuth != nil {
		st.AuthStatus = m.opts.OAuth.Status(name)
	}
	return st, nil
}

// ConnectEager connects every enabled server whose lifecycle is eager.
// Failures are logged; they never fail the call.
func (m *Manager) ConnectEager(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range m.enabledServers() {
		s.mu.Lock()
		eager := s.cfg.IsEager()
		s.mu.Unlock()
		if !eager {
			continue
		}
		wg.Add(1)
		go func(s *managedServer) {
			defer wg.Done()
			if err := m.EnsureConnected(ctx, s.name); err != nil {
				s.logger.Warn("Eager connect failed", zap.Error(err))
			}
		}(s)
	}
	wg.Wait()
}

// DisconnectAll disconnects every managed server. Used at shutdown.
func (m *Manager) DisconnectAll() {
	var stale []*stateConnected
	m.mu.RLock()
	for _, s := range m.servers {
		s.mu.Lock()
		if st := m.resetLocked(s, stateDisconnected{}); st != nil {
			stale = append(stale, st)
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	m.closeConnections(stale)
	m.updateGauges()
}

// setStateLocked moves s to next, recording the transition.
func (m *Manager) setStateLocked(s *managedServer, next connState) {
	from, to := s.state.status(), next.status()
	s.state = next
	if from == to {
		return
	}
	s.logger.Debug("Server state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	m.obs.RecordStateChange(s.name, from.String(), to.String())

	var reason string
	authRequired := false
	if f, ok := next.(stateFailed); ok {
		reason, authRequired = f.message, f.authRequired
	}
	m.opts.Notifications.NotifyStateChange(s.name, from, to, reason, authRequired)
}

// resetLocked invalidates the current generation and moves s to next. A live
// connection is returned for the caller to close outside the lock.
func (m *Manager) resetLocked(s *managedServer, next connState) *stateConnected {
	s.gen++
	st, _ := s.state.(*stateConnected)
	if st != nil {
		st.idle.Stop()
	}
	m.setStateLocked(s, next)
	return st
}

// closeConnections closes clients concurrently, each bounded by CloseTimeout.
// Errors are logged and swallowed.
func (m *Manager) closeConnections(conns []*stateConnected) {
	var wg sync.WaitGroup
	for _, st := range conns {
		wg.Add(1)
		go func(st *stateConnected) {
			defer wg.Done()
			m.closeConnection(st)
		}(st)
	}
	wg.Wait()
}

func (m *Manager) closeConnection(st *stateConnected) {
	if st == nil {
		return
	}
	done := make(chan error, 1)
	go func() { done <- st.client.Close() }()

	timer := time.NewTimer(m.opts.CloseTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			m.logger.Debug("Error closing client", zap.Error(err))
		}
	case <-timer.C:
		m.logger.Warn("Client close timed out", zap.Duration("timeout", m.opts.CloseTimeout))
	}
}

// updateGauges refreshes the server gauges when metrics are enabled.
func (m *Manager) updateGauges() {
	if m.obs == nil || m.obs.Metrics() == nil {
		return
	}
	total, connected, tools := 0, 0, 0
	m.mu.RLock()
	for _, s := range m.servers {
		s.mu.Lock()
		total++
		if s.state.status() == StatusConnected {
			connected++
		}
		tools += len(s.tools)
		s.mu.Unlock()
	}
	m.mu.RUnlock()
	m.obs.SetServerStats(total, connected, tools)
}
