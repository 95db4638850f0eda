package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
	"github.com/smart-mcp-proxy/mcpgate/internal/oauth"
	"github.com/smart-mcp-proxy/mcpgate/internal/observability"
	"github.com/smart-mcp-proxy/mcpgate/internal/transport"
)

var errSuperseded = errors.New("connection superseded by a later disconnect or reload")

// Connect connects the named server. It returns immediately when the server
// is already connected. Concurrent callers share one in-flight attempt, which
// keeps running if an individual caller's ctx ends.
func (m *Manager) Connect(ctx context.Context, name string) error {
	s, err := m.lookup(name)
	if err != nil {
		return err
	}
	if m.isConnected(s) {
		return nil
	}

	waitStart := time.Now()
	ch := m.connects.DoChan(name, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.ConnectTimeout)
		defer cancel()
		return nil, m.connect(cctx, s)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return callerGaveUp(ctx, name, waitStart)
	}
}

// callerGaveUp reports a caller that stopped waiting on a connect that is
// still running for everyone else.
func callerGaveUp(ctx context.Context, name string, since time.Time) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Server: name, Op: "connect", Timeout: time.Since(since).Round(time.Millisecond), Err: err}
	}
	return &TransportError{Server: name, Op: "connect", Err: err}
}

func (m *Manager) isConnected(s *managedServer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.(*stateConnected)
	return ok
}

func (m *Manager) connect(ctx context.Context, s *managedServer) error {
	s.mu.Lock()
	if _, ok := s.state.(*stateConnected); ok {
		s.mu.Unlock()
		return nil
	}
	if !s.cfg.IsEnabled() {
		s.mu.Unlock()
		return &ConfigurationError{Server: s.name, Err: ErrServerDisabled}
	}
	cfg := s.cfg.Clone()
	s.gen++
	gen := s.gen
	m.setStateLocked(s, stateConnecting{})
	s.mu.Unlock()

	spec, err := cfg.Resolve()
	if err != nil {
		err = &ConfigurationError{Server: s.name, Err: err}
		m.failConnect(s, gen, err)
		return err
	}

	s.logger.Info("Connecting to server", zap.String("transport", string(spec.Kind())))
	start := m.clock.Now()

	ctx, span := m.obs.TraceServerConnection(ctx, s.name, "connect")
	c, tr, err := m.dial(ctx, s, spec, gen)
	if err != nil {
		err = m.classifyConnectError(s.name, m.usesOAuth(s.name, spec), err)
	}
	observability.EndSpan(span, err)
	m.obs.RecordConnect(s.name, resultLabel(err), m.clock.Since(start))
	if err != nil {
		m.failConnect(s, gen, err)
		s.logger.Warn("Failed to connect to server", zap.Error(err))
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		m.closeConnection(&stateConnected{client: c})
		return &TransportError{Server: s.name, Op: "connect", Err: errSuperseded}
	}
	now := m.clock.Now()
	st := &stateConnected{
		client:      c,
		transport:   tr,
		since:       now,
		idleTimeout: cfg.IdleTimeoutDuration(),
		lastUsed:    now,
	}
	st.idle = m.clock.AfterFunc(st.idleTimeout, func() {
		// The fake clock runs this under its own lock.
		go m.onIdle(s, gen)
	})
	m.setStateLocked(s, st)
	s.mu.Unlock()
	m.updateGauges()

	s.logger.Info("Connected to server",
		zap.Duration("duration", m.clock.Since(start)),
		zap.Duration("idle_timeout", st.idleTimeout))

	if _, err := m.refreshTools(ctx, s); err != nil {
		s.logger.Warn("Initial tool refresh failed", zap.Error(err))
	}
	return nil
}

// dial builds, starts and initializes a client for spec. Partial handles are
// closed on failure.
func (m *Manager) dial(ctx context.Context, s *managedServer, spec config.TransportSpec, gen uint64) (*client.Client, mcptransport.Interface, error) {
	opts := transport.Options{
		Listener: m.connectionListener(s, gen),
		Logger:   s.serverLogger,
	}
	if h, ok := spec.(config.HTTPSpec); ok && m.usesOAuth(s.name, spec) {
		oc, err := m.opts.OAuth.Config(s.name, m.redirectURI(), h.OAuth)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load OAuth config: %w", err)
		}
		opts.OAuth = &oc
	}

	tr, err := m.opts.Builder.Build(s.name, spec, opts)
	if err != nil {
		return nil, nil, err
	}

	c := client.NewClient(tr)
	c.OnNotification(func(n mcp.JSONRPCNotification) {
		if n.Method == mcp.MethodNotificationToolsListChanged {
			m.invalidateTools(s, gen)
		}
	})

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("failed to start client: %w", err)
	}
	if err := m.initialize(ctx, c); err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	return c, tr, nil
}

func (m *Manager) initialize(ctx context.Context, c *client.Client) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    oauth.ClientName,
		Version: m.opts.ClientVersion,
	}
	req.Params.Capabilities = mcp.ClientCapabilities{}

	if _, err := c.Initialize(ctx, req); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	return nil
}

func (m *Manager) redirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", m.opts.CallbackPort, oauth.DefaultRedirectPath)
}

// usesOAuth reports whether connections to an HTTP server carry the OAuth
// handler: it has an oauth block or tokens from an earlier login.
func (m *Manager) usesOAuth(name string, spec config.TransportSpec) bool {
	h, ok := spec.(config.HTTPSpec)
	return ok && m.opts.OAuth != nil && (h.OAuth != nil || m.opts.OAuth.HasTokens(name))
}

// classifyConnectError maps a failed dial onto the error taxonomy. A bare 401
// only means authorization is required for servers set up for OAuth; for
// the rest it is a rejected static credential.
func (m *Manager) classifyConnectError(name string, oauthEnabled bool, err error) error {
	var cfgErr *ConfigurationError
	switch {
	case client.IsOAuthAuthorizationRequiredError(err):
		return &AuthorizationRequiredError{Server: name, Err: err}
	case oauthEnabled && transport.IsUnauthorized(err):
		return &AuthorizationRequiredError{Server: name, Err: err}
	case errors.As(err, &cfgErr):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &TimeoutError{Server: name, Op: "connect", Timeout: m.opts.ConnectTimeout, Err: err}
	default:
		return &TransportError{Server: name, Op: "connect", Err: err}
	}
}

func (m *Manager) failConnect(s *managedServer, gen uint64, err error) {
	s.mu.Lock()
	if s.gen == gen {
		m.setStateLocked(s, stateFailed{
			message:      err.Error(),
			authRequired: IsAuthorizationRequired(err),
		})
	}
	s.mu.Unlock()
	m.updateGauges()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return observability.StatusSuccess
	case IsAuthorizationRequired(err):
		return observability.StatusAuthRequired
	case IsTimeout(err):
		return observability.StatusTimeout
	default:
		return observability.StatusError
	}
}

// Disconnect stops the idle timer, closes the client and leaves the server
// disconnected with no error. Close errors are logged, never returned.
func (m *Manager) Disconnect(name string) error {
	s, err := m.lookup(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	st := m.resetLocked(s, stateDisconnected{})
	s.mu.Unlock()

	if st != nil {
		m.closeConnection(st)
		s.logger.Info("Disconnected from server")
	}
	m.updateGauges()
	return nil
}

// EnsureConnected connects the server if needed and counts the call as
// activity for the idle timer.
func (m *Manager) EnsureConnected(ctx context.Context, name string) error {
	if err := m.Connect(ctx, name); err != nil {
		return err
	}
	s, err := m.lookup(name)
	if err != nil {
		return err
	}
	if _, _, err := m.touch(s); err != nil {
		return err
	}
	return nil
}

// touch resets the idle timer and returns the live client.
func (m *Manager) touch(s *managedServer) (*client.Client, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state.(*stateConnected)
	if !ok {
		return nil, 0, &TransportError{Server: s.name, Op: "connect", Err: ErrNotConnected}
	}
	st.lastUsed = m.clock.Now()
	st.idle.Reset(st.idleTimeout)
	return st.client, s.gen, nil
}

// onIdle disconnects the server if the connection that armed the timer is
// still current and nothing used it since.
func (m *Manager) onIdle(s *managedServer, gen uint64) {
	s.mu.Lock()
	st, ok := s.state.(*stateConnected)
	if !ok || s.gen != gen {
		s.mu.Unlock()
		return
	}
	if remaining := st.idleTimeout - m.clock.Since(st.lastUsed); remaining > 0 {
		st.idle.Reset(remaining)
		s.mu.Unlock()
		return
	}
	m.resetLocked(s, stateDisconnected{})
	s.mu.Unlock()

	s.logger.Info("Disconnecting idle server", zap.Duration("idle_timeout", st.idleTimeout))
	m.obs.RecordIdleDisconnect(s.name)
	m.closeConnection(st)
	m.updateGauges()
}

// connectionListener scopes transport events to one connection generation.
func (m *Manager) connectionListener(s *managedServer, gen uint64) transport.Listener {
	return transport.ListenerFuncs{
		Close: func() { m.onTransportClose(s, gen) },
		Error: func(err error) { m.onTransportError(s, gen, err) },
	}
}

// onTransportClose runs on the transport's own goroutine, so the client is
// closed asynchronously.
func (m *Manager) onTransportClose(s *managedServer, gen uint64) {
	s.mu.Lock()
	st, ok := s.state.(*stateConnected)
	if !ok || s.gen != gen {
		s.mu.Unlock()
		return
	}
	m.resetLocked(s, stateDisconnected{})
	s.mu.Unlock()

	s.logger.Warn("Server closed the connection")
	go m.closeConnection(st)
	m.updateGauges()
}

func (m *Manager) onTransportError(s *managedServer, gen uint64, err error) {
	s.mu.Lock()
	st, ok := s.state.(*stateConnected)
	if !ok || s.gen != gen {
		s.mu.Unlock()
		return
	}
	m.resetLocked(s, stateFailed{
		message:      err.Error(),
		authRequired: client.IsOAuthAuthorizationRequiredError(err),
	})
	s.mu.Unlock()

	s.logger.Error("Server connection failed", zap.Error(err))
	go m.closeConnection(st)
	m.updateGauges()
}
