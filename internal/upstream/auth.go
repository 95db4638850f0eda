package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
	"github.com/smart-mcp-proxy/mcpgate/internal/oauth"
	"github.com/smart-mcp-proxy/mcpgate/internal/observability"
	"github.com/smart-mcp-proxy/mcpgate/internal/storage"
	"github.com/smart-mcp-proxy/mcpgate/internal/transport"
)

var errNoProvider = errors.New("no OAuth provider configured")

// Authenticate runs the interactive OAuth flow for an http server. When the
// stored tokens are still valid it returns without opening a browser.
// Concurrent calls for the same server share one flow.
func (m *Manager) Authenticate(ctx context.Context, name string) error {
	s, err := m.lookup(name)
	if err != nil {
		return err
	}
	if m.opts.OAuth == nil {
		return &ConfigurationError{Server: name, Err: errNoProvider}
	}

	s.mu.Lock()
	cfg := s.cfg.Clone()
	s.mu.Unlock()

	spec, err := cfg.Resolve()
	if err != nil {
		return &ConfigurationError{Server: name, Err: err}
	}
	h, ok := spec.(config.HTTPSpec)
	if !ok {
		return &ConfigurationError{Server: name, Err: fmt.Errorf("%w: %w", ErrNotHTTP, oauth.ErrServerNotOAuth)}
	}

	_, err, _ = m.auths.Do(name, func() (any, error) {
		start := m.clock.Now()
		actx, span := m.obs.TraceAuthenticate(ctx, name)
		err := m.authenticate(actx, s, h)
		observability.EndSpan(span, err)
		m.obs.RecordOAuthFlow(name, resultLabel(err))
		m.recordAuthActivity(ctx, name, "login", err, m.clock.Since(start))
		return nil, err
	})
	if err != nil {
		s.logger.Warn("OAuth authentication failed", zap.Error(err))
		return err
	}

	s.mu.Lock()
	if f, ok := s.state.(stateFailed); ok && f.authRequired {
		m.resetLocked(s, stateDisconnected{})
	}
	s.mu.Unlock()

	s.logger.Info("OAuth authentication completed")
	return nil
}

func (m *Manager) authenticate(ctx context.Context, s *managedServer, spec config.HTTPSpec) error {
	listener, err := oauth.StartCallbackListener(m.opts.CallbackPort, m.logger)
	if err != nil {
		return &TransportError{Server: s.name, Op: "authenticate", Err: err}
	}
	defer listener.Close()

	oc, err := m.opts.OAuth.Config(s.name, listener.RedirectURI(), spec.OAuth)
	if err != nil {
		return &TransportError{Server: s.name, Op: "authenticate", Err: err}
	}
	tr, err := m.opts.Builder.Build(s.name, spec, transport.Options{OAuth: &oc, Logger: s.serverLogger})
	if err != nil {
		return &TransportError{Server: s.name, Op: "authenticate", Err: err}
	}

	// Throwaway client, separate from the managed connection.
	c := client.NewClient(tr)
	defer func() { _ = c.Close() }()

	err = c.Start(ctx)
	if err == nil {
		err = m.initialize(ctx, c)
	}
	if err == nil {
		s.logger.Info("Stored OAuth tokens are valid, no authorization needed")
		return nil
	}
	if !client.IsOAuthAuthorizationRequiredError(err) {
		return &TransportError{Server: s.name, Op: "authenticate", Err: err}
	}

	return m.authorize(ctx, s, client.GetOAuthHandler(err), listener)
}

// authorize drives the browser half of the flow: registration, PKCE, the
// callback and the code exchange.
func (m *Manager) authorize(ctx context.Context, s *managedServer, handler *mcptransport.OAuthHandler, listener *oauth.CallbackListener) error {
	if handler.GetClientID() == "" {
		s.logger.Info("Registering OAuth client")
		if err := handler.RegisterClient(ctx, oauth.ClientName); err != nil {
			return &TransportError{Server: s.name, Op: "register client", Err: err}
		}
	}

	verifier, err := client.GenerateCodeVerifier()
	if err != nil {
		return fmt.Errorf("failed to generate code verifier: %w", err)
	}
	if err := m.opts.OAuth.SaveCodeVerifier(s.name, verifier); err != nil {
		return fmt.Errorf("failed to persist code verifier: %w", err)
	}
	state, err := client.GenerateState()
	if err != nil {
		return fmt.Errorf("failed to generate state: %w", err)
	}

	authURL, err := handler.GetAuthorizationURL(ctx, state, client.GenerateCodeChallenge(verifier))
	if err != nil {
		return &TransportError{Server: s.name, Op: "authorization url", Err: err}
	}

	s.logger.Info("Opening browser for OAuth authorization", zap.String("url", authURL))
	if err := m.opts.Browser.OpenURL(authURL); err != nil {
		s.logger.Warn("Failed to open browser, open the URL manually",
			zap.String("url", authURL),
			zap.Error(err))
	}

	res, err := listener.Wait(ctx, m.clock, m.opts.CallbackTimeout)
	if errors.Is(err, oauth.ErrCallbackTimeout) {
		return &TimeoutError{Server: s.name, Op: "authorize", Timeout: m.opts.CallbackTimeout, Err: err}
	}
	if err != nil {
		return fmt.Errorf("authorization for %q failed: %w", s.name, err)
	}

	verifier, err = m.opts.OAuth.CodeVerifier(s.name)
	if err != nil {
		return err
	}
	if err := handler.ProcessAuthorizationResponse(ctx, res.Code, res.State, verifier); err != nil {
		return &TransportError{Server: s.name, Op: "exchange code", Err: err}
	}
	return m.opts.OAuth.SaveClientInfo(s.name, handler.GetClientID(), handler.GetClientSecret())
}

// SignOut disconnects the server and deletes its stored OAuth data.
func (m *Manager) SignOut(ctx context.Context, name string) error {
	if _, err := m.lookup(name); err != nil {
		return err
	}
	if m.opts.OAuth == nil {
		return &ConfigurationError{Server: name, Err: errNoProvider}
	}
	if err := m.Disconnect(name); err != nil {
		return err
	}
	err := m.opts.OAuth.SignOut(name)
	m.recordAuthActivity(ctx, name, "logout", err, 0)
	return err
}

func (m *Manager) recordAuthActivity(ctx context.Context, server, action string, err error, elapsed time.Duration) {
	if m.opts.Activity == nil {
		return
	}
	record := &storage.ActivityRecord{
		Type:       storage.ActivityTypeAuth,
		Source:     SourceFromContext(ctx),
		ServerName: server,
		Arguments:  map[string]any{"action": action},
		Status:     storage.StatusSuccess,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		record.Status = storage.StatusError
		record.ErrorMessage = err.Error()
	}
	m.opts.Activity.SaveActivityAsync(record)
}
