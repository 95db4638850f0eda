package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const (
	// DefaultRedirectPath is the only route the callback listener serves.
	DefaultRedirectPath = "/callback"

	callbackHost = "127.0.0.1"
)

// CallbackResult is what the authorization server redirected back with.
type CallbackResult struct {
	Code  string
	State string
}

type callbackOutcome struct {
	result *CallbackResult
	err    error
}

// CallbackListener is an ephemeral loopback HTTP server that captures a
// single authorization code. It must be closed by its owner.
type CallbackListener struct {
	server      *http.Server
	port        int
	redirectURI string
	logger      *zap.Logger

	outcome    chan callbackOutcome
	settleOnce sync.Once
	closeOnce  sync.Once
	closed     chan struct{}
	served     chan struct{}
}

// StartCallbackListener binds 127.0.0.1:port and starts serving /callback.
// Port 0 picks a free port. A bind failure wraps ErrCallbackPortBusy.
func StartCallbackListener(port int, logger *zap.Logger) (*CallbackListener, error) {
	addr := fmt.Sprintf("%s:%d", callbackHost, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCallbackPortBusy, addr, err)
	}

	bound := ln.Addr().(*net.TCPAddr).Port
	l := &CallbackListener{
		port:        bound,
		redirectURI: fmt.Sprintf("http://%s:%d%s", callbackHost, bound, DefaultRedirectPath),
		logger:      logger.Named("oauth-callback").With(zap.Int("port", bound)),
		outcome:     make(chan callbackOutcome, 1),
		closed:      make(chan struct{}),
		served:      make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Get(DefaultRedirectPath, l.handleCallback)

	l.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second, // Security: prevent Slowloris attacks
	}

	go func() {
		defer close(l.served)
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("OAuth callback server error", zap.Error(err))
		}
	}()

	l.logger.Debug("OAuth callback listener started", zap.String("redirect_uri", l.redirectURI))
	return l, nil
}

// Port returns the bound port.
func (l *CallbackListener) Port() int {
	return l.port
}

// RedirectURI returns the URI to register with the authorization server.
func (l *CallbackListener) RedirectURI() string {
	return l.redirectURI
}

// Wait blocks until a code or error arrives, ctx ends, the timeout elapses
// on clk, or the listener is closed.
func (l *CallbackListener) Wait(ctx context.Context, clk clock.Clock, timeout time.Duration) (*CallbackResult, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	timer := clk.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-l.outcome:
		return o.result, o.err
	case <-timer.C():
		return nil, fmt.Errorf("%w after %v", ErrCallbackTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, ErrListenerClosed
	}
}

// Close shuts the listener down. It is safe to call more than once.
func (l *CallbackListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = l.server.Shutdown(ctx)
		<-l.served
		l.logger.Debug("OAuth callback listener stopped")
	})
	return err
}

func (l *CallbackListener) settle(o callbackOutcome) bool {
	settled := false
	l.settleOnce.Do(func() {
		l.outcome <- o
		settled = true
	})
	return settled
}

func (l *CallbackListener) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if oauthErr := q.Get("error"); oauthErr != "" {
		msg := oauthErr
		if desc := q.Get("error_description"); desc != "" {
			msg += ": " + desc
		}
		if l.settle(callbackOutcome{err: fmt.Errorf("%w: %s", ErrAuthorizationDenied, msg)}) {
			l.logger.Warn("OAuth callback returned an error", zap.String("error", oauthErr))
		}
		writePage(w, http.StatusOK, failurePage)
		return
	}

	if code := q.Get("code"); code != "" {
		if l.settle(callbackOutcome{result: &CallbackResult{Code: code, State: q.Get("state")}}) {
			l.logger.Info("OAuth callback received authorization code")
		}
		writePage(w, http.StatusOK, successPage)
		return
	}

	writePage(w, http.StatusBadRequest, missingCodePage)
}

func writePage(w http.ResponseWriter, status int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(page))
}

const successPage = `<html>
	<body>
		<h1>Authorization Successful</h1>
		<p>You can now close this window and return to the application.</p>
		<script>setTimeout(function() { window.close(); }, 2000);</script>
	</body>
</html>`

const failurePage = `<html>
	<body>
		<h1>Authorization Failed</h1>
		<p>The authorization server reported an error. You can close this window.</p>
	</body>
</html>`

const missingCodePage = `<html>
	<body>
		<h1>Missing Authorization Code</h1>
		<p>This request did not include an authorization code.</p>
	</body>
</html>`
