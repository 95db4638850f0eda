package upstream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
	"github.com/smart-mcp-proxy/mcpgate/internal/storage"
	"github.com/smart-mcp-proxy/mcpgate/internal/transport"
)

// testServer is an in-process tool server that counts handshakes and
// catalog fetches.
type testServer struct {
	*server.MCPServer
	initializes atomic.Int32
	listings    atomic.Int32
}

func newTestServer(name string, tools ...server.ServerTool) *testServer {
	ts := &testServer{}
	hooks := &server.Hooks{}
	hooks.AddBeforeInitialize(func(context.Context, any, *mcp.InitializeRequest) {
		ts.initializes.Add(1)
	})
	hooks.AddBeforeListTools(func(context.Context, any, *mcp.ListToolsRequest) {
		ts.listings.Add(1)
	})
	ts.MCPServer = server.NewMCPServer(name, "1.0.0",
		server.WithToolCapabilities(true),
		server.WithHooks(hooks))
	ts.AddTools(tools...)
	return ts
}

func textTool(name, description, reply string) server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(name, mcp.WithDescription(description)),
		Handler: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(reply), nil
		},
	}
}

// ctxTransport makes the in-process transport give up when ctx ends, the
// way network transports do.
type ctxTransport struct {
	*mcptransport.InProcessTransport
}

func (t *ctxTransport) SendRequest(ctx context.Context, req mcptransport.JSONRPCRequest) (*mcptransport.JSONRPCResponse, error) {
	type result struct {
		resp *mcptransport.JSONRPCResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := t.InProcessTransport.SendRequest(ctx, req)
		ch <- result{resp, err}
	}()
	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// testBuilder serves in-process servers by name and records every build.
type testBuilder struct {
	mu        sync.Mutex
	servers   map[string]*testServer
	failures  map[string]error
	builds    map[string]int
	listeners map[string]transport.Listener
}

func newTestBuilder() *testBuilder {
	return &testBuilder{
		servers:   make(map[string]*testServer),
		failures:  make(map[string]error),
		builds:    make(map[string]int),
		listeners: make(map[string]transport.Listener),
	}
}

func (b *testBuilder) add(name string, ts *testServer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.servers[name] = ts
}

func (b *testBuilder) fail(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[name] = err
}

func (b *testBuilder) buildCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds[name]
}

func (b *testBuilder) listener(name string) transport.Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listeners[name]
}

func (b *testBuilder) Build(name string, _ config.TransportSpec, opts transport.Options) (mcptransport.Interface, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.builds[name]++
	b.listeners[name] = opts.Listener
	if err := b.failures[name]; err != nil {
		return nil, err
	}
	ts, ok := b.servers[name]
	if !ok {
		return nil, fmt.Errorf("no test server named %s", name)
	}
	inner := &ctxTransport{mcptransport.NewInProcessTransport(ts.MCPServer)}
	return transport.Observe(name, inner, opts.Listener, zap.NewNop(), false), nil
}

// recordingActivity collects activity records.
type recordingActivity struct {
	mu      sync.Mutex
	records []*storage.ActivityRecord
}

func (r *recordingActivity) SaveActivityAsync(record *storage.ActivityRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func (r *recordingActivity) all() []*storage.ActivityRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*storage.ActivityRecord(nil), r.records...)
}

func stdioServer(idleSeconds int) *config.ServerConfig {
	return &config.ServerConfig{
		Command:     "test-server",
		Transport:   config.TransportStdio,
		IdleTimeout: idleSeconds,
	}
}

type harness struct {
	m       *Manager
	builder *testBuilder
	clock   *testingclock.FakeClock
}

func newHarness(t *testing.T, servers map[string]*config.ServerConfig, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		builder: newTestBuilder(),
		clock:   testingclock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	opts := Options{
		Builder: h.builder,
		Clock:   h.clock,
		Logger:  zap.NewNop(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	h.m = NewManager(opts)
	h.m.Reload(&config.Config{Servers: servers})
	t.Cleanup(h.m.DisconnectAll)
	return h
}

func (h *harness) status(t *testing.T, name string) ServerStatus {
	t.Helper()
	st, err := h.m.ServerStatus(name)
	require.NoError(t, err)
	return st
}
