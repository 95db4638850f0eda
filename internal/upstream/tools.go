package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smart-mcp-proxy/mcpgate/internal/observability"
)

// maxParallelListings caps concurrent connects during ListAllTools.
const maxParallelListings = 8

// RefreshTools fetches the catalog of a connected server and replaces its cache.
func (m *Manager) RefreshTools(ctx context.Context, name string) ([]ToolInfo, error) {
	s, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return m.refreshTools(ctx, s)
}

func (m *Manager) refreshTools(ctx context.Context, s *managedServer) ([]ToolInfo, error) {
	s.mu.Lock()
	st, ok := s.state.(*stateConnected)
	gen := s.gen
	s.mu.Unlock()
	if !ok {
		return nil, &TransportError{Server: s.name, Op: "list tools", Err: ErrNotConnected}
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.OperationTimeout)
	defer cancel()

	ctx, span := m.obs.TraceServerConnection(ctx, s.name, "list_tools")
	res, err := st.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		err = m.operationError(s.name, "list tools", err)
	}
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	tools := make([]ToolInfo, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, toolInfo(s.name, t))
	}

	s.mu.Lock()
	if s.gen == gen {
		s.tools = tools
		s.refreshedAt = m.clock.Now()
	}
	s.mu.Unlock()
	m.updateGauges()

	s.logger.Debug("Refreshed tool catalog", zap.Int("tools", len(tools)))
	return slices.Clone(tools), nil
}

func toolInfo(server string, t mcp.Tool) ToolInfo {
	info := ToolInfo{
		Name:        t.Name,
		Description: t.Description,
		Server:      server,
	}
	if len(t.RawInputSchema) > 0 {
		info.InputSchema = slices.Clone(t.RawInputSchema)
	} else if schema, err := json.Marshal(t.InputSchema); err == nil {
		info.InputSchema = schema
	}
	return info
}

// ListTools returns the server's catalog, connecting if needed and refreshing
// only when the cache is older than the TTL.
func (m *Manager) ListTools(ctx context.Context, name string) ([]ToolInfo, error) {
	if err := m.EnsureConnected(ctx, name); err != nil {
		return nil, err
	}
	s, err := m.lookup(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	fresh := !s.refreshedAt.IsZero() && m.clock.Since(s.refreshedAt) <= m.opts.CacheTTL
	tools := slices.Clone(s.tools)
	s.mu.Unlock()
	if fresh {
		return tools, nil
	}
	return m.refreshTools(ctx, s)
}

// ListAllTools lists every enabled server concurrently. A failing server is
// logged and skipped; the result keeps sorted server order.
func (m *Manager) ListAllTools(ctx context.Context) []ToolInfo {
	servers := m.enabledServers()
	results := make([][]ToolInfo, len(servers))

	var g errgroup.Group
	g.SetLimit(maxParallelListings)
	for i, s := range servers {
		g.Go(func() error {
			tools, err := m.ListTools(ctx, s.name)
			if err != nil {
				s.logger.Warn("Skipping server while listing tools", zap.Error(err))
				return nil
			}
			results[i] = tools
			return nil
		})
	}
	_ = g.Wait()

	return slices.Concat(results...)
}

// CachedTools returns the cached catalogs of every enabled server without
// connecting or refreshing.
func (m *Manager) CachedTools() []ToolInfo {
	var out []ToolInfo
	for _, s := range m.enabledServers() {
		s.mu.Lock()
		out = append(out, s.tools...)
		s.mu.Unlock()
	}
	return out
}

// FindCachedTool returns the first cached tool named tool. A non-empty server
// restricts the lookup to that server.
func (m *Manager) FindCachedTool(server, tool string) (ToolInfo, bool) {
	for _, t := range m.CachedTools() {
		if t.Name == tool && (server == "" || t.Server == server) {
			return t, true
		}
	}
	return ToolInfo{}, false
}

// invalidateTools marks the cache stale so the next ListTools refreshes.
func (m *Manager) invalidateTools(s *managedServer, gen uint64) {
	s.mu.Lock()
	if s.gen == gen {
		s.refreshedAt = time.Time{}
	}
	s.mu.Unlock()
	s.logger.Debug("Tool list changed, cache invalidated")
}

// operationError wraps a failed list or call in a TimeoutError when the
// operation timeout fired, and a TransportError otherwise.
func (m *Manager) operationError(server, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Server: server, Op: op, Timeout: m.opts.OperationTimeout, Err: err}
	}
	return &TransportError{Server: server, Op: op, Err: err}
}
