package metatool

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-mcp-proxy/mcpgate/internal/upstream"
)

// fakeBackend serves a fixed catalog. Tools in hidden only become visible
// after a ListAllTools.
type fakeBackend struct {
	mu       sync.Mutex
	cached   []upstream.ToolInfo
	hidden   []upstream.ToolInfo
	statuses []upstream.ServerStatus
	listErr  error
	callErr  error
	callRes  *upstream.CallResult

	listAllCalls int
	calls        []string
	callCtx      context.Context
}

func (b *fakeBackend) Status() []upstream.ServerStatus { return b.statuses }

func (b *fakeBackend) ListAllTools(context.Context) []upstream.ToolInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listAllCalls++
	b.cached = append(b.cached, b.hidden...)
	b.hidden = nil
	return append([]upstream.ToolInfo(nil), b.cached...)
}

func (b *fakeBackend) SearchTools(query string) []upstream.SearchResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return upstream.SearchCatalog(b.cached, query, upstream.MaxSearchResults)
}

func (b *fakeBackend) ListTools(_ context.Context, server string) ([]upstream.ToolInfo, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []upstream.ToolInfo
	for _, t := range b.cached {
		if t.Server == server {
			out = append(out, t)
		}
	}
	return out, nil
}

func (b *fakeBackend) FindCachedTool(server, tool string) (upstream.ToolInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.cached {
		if t.Name == tool && (server == "" || t.Server == server) {
			return t, true
		}
	}
	return upstream.ToolInfo{}, false
}

func (b *fakeBackend) CallTool(ctx context.Context, server, tool string, _ map[string]any) (*upstream.CallResult, error) {
	b.mu.Lock()
	b.calls = append(b.calls, server+"/"+tool)
	b.callCtx = ctx
	b.mu.Unlock()
	if b.callErr != nil {
		return nil, b.callErr
	}
	if b.callRes != nil {
		return b.callRes, nil
	}
	return &upstream.CallResult{Content: []upstream.ContentPart{{Type: upstream.ContentText, Text: "ok"}}}, nil
}

func newBackend() *fakeBackend {
	return &fakeBackend{
		cached: []upstream.ToolInfo{
			{Name: "read_file", Description: "Read a file", Server: "fs", InputSchema: json.RawMessage(`{"type":"object"}`)},
			{Name: "create_issue", Description: "Open an issue", Server: "github"},
		},
		statuses: []upstream.ServerStatus{
			{Name: "fs", Status: upstream.StatusConnected, ToolCount: 1, AuthStatus: upstream.AuthNotApplicable},
			{Name: "github", Status: upstream.StatusError, Error: "boom", AuthRequired: true},
		},
	}
}

func decode(t *testing.T, res Result) map[string]any {
	t.Helper()
	require.False(t, res.IsError, res.Text())
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Text()), &out))
	return out
}

func TestStatusMode(t *testing.T) {
	tool := New(newBackend(), nil)

	out := decode(t, tool.Execute(context.Background(), "", Args{Mode: ModeStatus}))
	servers := out["servers"].([]any)
	require.Len(t, servers, 2)
	first := servers[0].(map[string]any)
	assert.Equal(t, "fs", first["name"])
	assert.Equal(t, "connected", first["status"])
	assert.Equal(t, "n/a", first["authStatus"])
	second := servers[1].(map[string]any)
	assert.Equal(t, "boom", second["error"])
	assert.Equal(t, true, second["authRequired"])
}

func TestSearchModeRefreshesFirst(t *testing.T) {
	b := newBackend()
	b.hidden = []upstream.ToolInfo{{Name: "search_issues", Description: "Search issues", Server: "github"}}
	tool := New(b, nil)

	out := decode(t, tool.Execute(context.Background(), "", Args{Mode: ModeSearch, Query: "issue"}))
	assert.Equal(t, 1, b.listAllCalls)
	assert.Equal(t, "issue", out["query"])
	assert.EqualValues(t, 2, out["total"])

	tools := out["tools"].([]any)
	names := []string{tools[0].(map[string]any)["name"].(string), tools[1].(map[string]any)["name"].(string)}
	assert.ElementsMatch(t, []string{"create_issue", "search_issues"}, names)
}

func TestListMode(t *testing.T) {
	tool := New(newBackend(), nil)

	out := decode(t, tool.Execute(context.Background(), "", Args{Mode: ModeList, Server: "fs"}))
	assert.Equal(t, "fs", out["server"])
	tools := out["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "read_file", tools[0].(map[string]any)["name"])

	out = decode(t, tool.Execute(context.Background(), "", Args{Mode: ModeList, Server: "empty"}))
	assert.Empty(t, out["tools"])
}

func TestListModeError(t *testing.T) {
	b := newBackend()
	b.listErr = &upstream.ConfigurationError{Server: "nope", Err: upstream.ErrUnknownServer}
	tool := New(b, nil)

	res := tool.Execute(context.Background(), "", Args{Mode: ModeList, Server: "nope"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text(), "Configuration error")
	assert.Contains(t, res.Text(), "unknown server")
}

func TestDescribeMode(t *testing.T) {
	b := newBackend()
	tool := New(b, nil)

	out := decode(t, tool.Execute(context.Background(), "", Args{Mode: ModeDescribe, Tool: "read_file"}))
	assert.Equal(t, 1, b.listAllCalls)
	assert.Equal(t, "read_file", out["name"])
	assert.Equal(t, "fs", out["server"])
	assert.Equal(t, "Read a file", out["description"])
	assert.Equal(t, map[string]any{"type": "object"}, out["inputSchema"])

	res := tool.Execute(context.Background(), "", Args{Mode: ModeDescribe, Tool: "read_file", Server: "github"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text(), "Not found")
}

func TestCallModeUsesCache(t *testing.T) {
	b := newBackend()
	tool := New(b, nil)

	res := tool.Execute(context.Background(), "call-7", Args{Mode: ModeCall, Tool: "create_issue"})
	require.False(t, res.IsError)
	assert.Equal(t, "ok", res.Text())
	assert.Equal(t, 0, b.listAllCalls)
	assert.Equal(t, []string{"github/create_issue"}, b.calls)
	assert.Equal(t, "call-7", upstream.CallIDFromContext(b.callCtx))
}

func TestCallModeRefreshesOnceBeforeNotFound(t *testing.T) {
	b := newBackend()
	tool := New(b, nil)

	res := tool.Execute(context.Background(), "", Args{Mode: ModeCall, Tool: "missing"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text(), `tool "missing" not found`)
	assert.Equal(t, 1, b.listAllCalls)
	assert.Empty(t, b.calls)
}

func TestCallModeFindsToolAfterRefresh(t *testing.T) {
	b := newBackend()
	b.hidden = []upstream.ToolInfo{{Name: "late", Server: "slow"}}
	tool := New(b, nil)

	res := tool.Execute(context.Background(), "", Args{Mode: ModeCall, Tool: "late"})
	require.False(t, res.IsError, res.Text())
	assert.Equal(t, 1, b.listAllCalls)
	assert.Equal(t, []string{"slow/late"}, b.calls)
	assert.NotEmpty(t, upstream.CallIDFromContext(b.callCtx), "a call ID is generated")
}

func TestCallModePassesToolErrorThrough(t *testing.T) {
	b := newBackend()
	b.callRes = &upstream.CallResult{
		Content: []upstream.ContentPart{{Type: upstream.ContentText, Text: "disk full"}},
		IsError: true,
	}
	tool := New(b, nil)

	res := tool.Execute(context.Background(), "", Args{Mode: ModeCall, Tool: "read_file"})
	assert.True(t, res.IsError)
	assert.Equal(t, "disk full", res.Text())
}

func TestCallModeErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "authorization",
			err:  &upstream.AuthorizationRequiredError{Server: "github", Err: errors.New("401")},
			want: "mcpgate auth login",
		},
		{
			name: "timeout",
			err:  &upstream.TimeoutError{Server: "github", Op: "call create_issue"},
			want: "Timed out",
		},
		{
			name: "transport",
			err:  &upstream.TransportError{Server: "github", Op: "connect", Err: errors.New("refused")},
			want: "Connection failed: connect \"github\": refused",
		},
		{
			name: "caller deadline during connect",
			err:  &upstream.TimeoutError{Server: "github", Op: "connect", Timeout: time.Second, Err: context.DeadlineExceeded},
			want: "Timed out: connect \"github\" timed out after 1s",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend()
			b.callErr = tt.err
			res := New(b, nil).Execute(context.Background(), "", Args{Mode: ModeCall, Tool: "create_issue"})
			assert.True(t, res.IsError)
			assert.Contains(t, res.Text(), tt.want)
		})
	}
}

func TestMissingParameters(t *testing.T) {
	tool := New(newBackend(), nil)

	for _, args := range []Args{
		{Mode: ModeSearch},
		{Mode: ModeSearch, Query: "   "},
		{Mode: ModeList},
		{Mode: ModeDescribe},
		{Mode: ModeCall},
	} {
		res := tool.Execute(context.Background(), "", args)
		assert.True(t, res.IsError, args.Mode)
		assert.Contains(t, res.Text(), "missing required parameter", args.Mode)
	}
}

func TestUnknownMode(t *testing.T) {
	res := New(newBackend(), nil).Execute(context.Background(), "", Args{Mode: "explode"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text(), "status, search, list, describe, call")
}

func TestDefinition(t *testing.T) {
	def := New(newBackend(), nil).Definition()
	assert.Equal(t, ToolName, def.Name)
	assert.Equal(t, []string{"mode"}, def.InputSchema.Required)
	for _, p := range []string{"mode", "query", "server", "tool", "arguments"} {
		assert.Contains(t, def.InputSchema.Properties, p)
	}
}
