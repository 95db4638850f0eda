package upstream

import (
	"context"

	"github.com/smart-mcp-proxy/mcpgate/internal/storage"
)

type contextKey int

const (
	sourceKey contextKey = iota
	callIDKey
)

// WithSource tags ctx with what triggered a tool call, for the activity log.
func WithSource(ctx context.Context, source storage.ActivitySource) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// SourceFromContext returns the tagged source, defaulting to mcp.
func SourceFromContext(ctx context.Context) storage.ActivitySource {
	if s, ok := ctx.Value(sourceKey).(storage.ActivitySource); ok {
		return s
	}
	return storage.ActivitySourceMCP
}

// WithCallID tags ctx with the meta-tool call ID.
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDKey, callID)
}

// CallIDFromContext returns the tagged call ID, or "".
func CallIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey).(string)
	return id
}
