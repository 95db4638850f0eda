// Package transport builds MCP client transports for configured tool servers
// and reports their lifecycle events to a Listener.
package transport

import (
	"fmt"
	"time"

	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
)

const (
	// DefaultHTTPTimeout bounds a single HTTP request or stream.
	DefaultHTTPTimeout = 180 * time.Second

	// DefaultCloseTimeout is how long a stdio server gets to exit after its
	// stdin is closed before it is killed.
	DefaultCloseTimeout = 5 * time.Second
)

// Listener receives lifecycle events from one connection's transport. At most
// one event is delivered per transport, and none after a local Close.
type Listener interface {
	// OnClose is called when the peer went away: the subprocess exited or
	// the HTTP session was terminated.
	OnClose()

	// OnError is called when a request failed below the protocol layer.
	OnError(err error)
}

// ListenerFuncs adapts a pair of functions to Listener. Nil fields are ignored.
type ListenerFuncs struct {
	Close func()
	Error func(error)
}

// OnClose implements Listener.
func (f ListenerFuncs) OnClose() {
	if f.Close != nil {
		f.Close()
	}
}

// OnError implements Listener.
func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// Options configures a single Build call.
type Options struct {
	// OAuth wires an HTTP transport to the OAuth handler. Ignored for stdio.
	OAuth *mcptransport.OAuthConfig

	// Listener is subscribed to the built transport. Optional.
	Listener Listener

	// Logger receives subprocess stderr and transport traces. Optional.
	Logger *zap.Logger
}

// Builder creates an unstarted transport for a resolved server spec.
type Builder interface {
	Build(server string, spec config.TransportSpec, opts Options) (mcptransport.Interface, error)
}

// DefaultBuilder spawns subprocesses for stdio specs and dials streamable
// HTTP for http specs.
type DefaultBuilder struct {
	HTTPTimeout  time.Duration
	CloseTimeout time.Duration

	// TraceMessages logs every JSON-RPC message at debug level.
	TraceMessages bool
	// TraceHTTP logs every HTTP round trip at debug level.
	TraceHTTP bool
}

// NewDefaultBuilder returns a builder with default timeouts.
func NewDefaultBuilder() *DefaultBuilder {
	return &DefaultBuilder{
		HTTPTimeout:  DefaultHTTPTimeout,
		CloseTimeout: DefaultCloseTimeout,
	}
}

// Build implements Builder.
func (b *DefaultBuilder) Build(server string, spec config.TransportSpec, opts Options) (mcptransport.Interface, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("server", server))

	var (
		inner mcptransport.Interface
		err   error
	)
	switch s := spec.(type) {
	case config.StdioSpec:
		inner = newStdioTransport(s, b.closeTimeout(), logger)
	case config.HTTPSpec:
		inner, err = newHTTPTransport(s, opts.OAuth, b.httpTimeout(), b.TraceHTTP, logger)
	default:
		return nil, fmt.Errorf("%w: %T", config.ErrUnknownTransport, spec)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("Built transport",
		zap.String("transport", string(spec.Kind())),
		zap.Bool("oauth", opts.OAuth != nil && spec.Kind() == config.TransportHTTP))

	return Observe(server, inner, opts.Listener, logger, b.TraceMessages), nil
}

func (b *DefaultBuilder) httpTimeout() time.Duration {
	if b.HTTPTimeout > 0 {
		return b.HTTPTimeout
	}
	return DefaultHTTPTimeout
}

func (b *DefaultBuilder) closeTimeout() time.Duration {
	if b.CloseTimeout > 0 {
		return b.CloseTimeout
	}
	return DefaultCloseTimeout
}
