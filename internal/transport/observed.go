package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// exitNotifier is implemented by transports that can tell when their peer
// went away on its own.
type exitNotifier interface {
	setExitHandler(func())
}

// Observed wraps a transport.Interface, delivers lifecycle events to a
// Listener and optionally traces JSON-RPC traffic.
type Observed struct {
	inner    mcptransport.Interface
	listener Listener
	logger   *zap.Logger
	server   string
	trace    bool

	once sync.Once
}

var (
	_ mcptransport.Interface              = (*Observed)(nil)
	_ mcptransport.BidirectionalInterface = (*Observed)(nil)
	_ mcptransport.HTTPConnection         = (*Observed)(nil)
)

// Observe wraps inner. listener may be nil.
func Observe(server string, inner mcptransport.Interface, listener Listener, logger *zap.Logger, trace bool) *Observed {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Observed{
		inner:    inner,
		listener: listener,
		logger:   logger,
		server:   server,
		trace:    trace,
	}
	if n, ok := inner.(exitNotifier); ok {
		n.setExitHandler(o.fireClose)
	}
	return o
}

// Inner returns the wrapped transport.
func (o *Observed) Inner() mcptransport.Interface {
	return o.inner
}

func (o *Observed) fireClose() {
	o.once.Do(func() {
		o.logger.Debug("Transport closed by peer")
		if o.listener != nil {
			o.listener.OnClose()
		}
	})
}

func (o *Observed) fireError(err error) {
	o.once.Do(func() {
		o.logger.Debug("Transport error", zap.Error(err))
		if o.listener != nil {
			o.listener.OnError(err)
		}
	})
}

// report classifies a failed send. Cancellation and deadlines belong to the
// caller and are not transport events.
func (o *Observed) report(ctx context.Context, err error) {
	switch {
	case err == nil:
	case ctx.Err() != nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case IsSessionTerminated(err), errors.Is(err, ErrProcessExited):
		o.fireClose()
	default:
		o.fireError(err)
	}
}

// Start implements transport.Interface
func (o *Observed) Start(ctx context.Context) error {
	start := time.Now()
	err := o.inner.Start(ctx)
	if o.trace {
		o.logger.Debug("MCP transport start",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)))
	}
	return err
}

// Close implements transport.Interface. No events are delivered afterwards.
func (o *Observed) Close() error {
	o.once.Do(func() {})
	return o.inner.Close()
}

// SendRequest implements transport.Interface
func (o *Observed) SendRequest(ctx context.Context, request mcptransport.JSONRPCRequest) (*mcptransport.JSONRPCResponse, error) {
	start := time.Now()
	response, err := o.inner.SendRequest(ctx, request)

	if o.trace {
		fields := []zap.Field{
			zap.String("method", request.Method),
			zap.Any("id", request.ID),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			o.logger.Debug("MCP request failed", append(fields, zap.Error(err))...)
		} else if response != nil && response.Error != nil {
			o.logger.Debug("MCP request returned error",
				append(fields, zap.Int("code", response.Error.Code), zap.String("message", response.Error.Message))...)
		} else {
			o.logger.Debug("MCP request", fields...)
		}
	}

	o.report(ctx, err)
	return response, err
}

// SendNotification implements transport.Interface
func (o *Observed) SendNotification(ctx context.Context, notification mcp.JSONRPCNotification) error {
	err := o.inner.SendNotification(ctx, notification)
	if o.trace {
		o.logger.Debug("MCP notification sent",
			zap.String("method", notification.Method),
			zap.Error(err))
	}
	o.report(ctx, err)
	return err
}

// SetNotificationHandler implements transport.Interface
func (o *Observed) SetNotificationHandler(handler func(notification mcp.JSONRPCNotification)) {
	if !o.trace {
		o.inner.SetNotificationHandler(handler)
		return
	}
	o.inner.SetNotificationHandler(func(notification mcp.JSONRPCNotification) {
		o.logger.Debug("MCP notification received", zap.String("method", notification.Method))
		handler(notification)
	})
}

// SetRequestHandler implements transport.BidirectionalInterface
func (o *Observed) SetRequestHandler(handler mcptransport.RequestHandler) {
	if b, ok := o.inner.(mcptransport.BidirectionalInterface); ok {
		b.SetRequestHandler(handler)
	}
}

// SetProtocolVersion implements transport.HTTPConnection
func (o *Observed) SetProtocolVersion(version string) {
	if h, ok := o.inner.(mcptransport.HTTPConnection); ok {
		h.SetProtocolVersion(version)
	}
}

// GetSessionId implements transport.Interface
func (o *Observed) GetSessionId() string {
	return o.inner.GetSessionId()
}
