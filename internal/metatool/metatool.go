// Package metatool implements mcp_tools, the single tool through which an
// agent inspects, searches and calls every configured tool server.
package metatool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgate/internal/upstream"
)

// ToolName is the name the meta-tool is registered under.
const ToolName = "mcp_tools"

// Mode selects what the meta-tool does.
type Mode string

const (
	ModeStatus   Mode = "status"
	ModeSearch   Mode = "search"
	ModeList     Mode = "list"
	ModeDescribe Mode = "describe"
	ModeCall     Mode = "call"
)

// Modes lists every supported mode in documentation order.
var Modes = []Mode{ModeStatus, ModeSearch, ModeList, ModeDescribe, ModeCall}

var (
	// ErrUnknownMode is returned for a mode outside Modes.
	ErrUnknownMode = errors.New("unknown mode")

	// ErrMissingParameter is returned when a mode's required parameter is empty.
	ErrMissingParameter = errors.New("missing required parameter")
)

// Backend is the part of *upstream.Manager the meta-tool needs.
type Backend interface {
	Status() []upstream.ServerStatus
	ListAllTools(ctx context.Context) []upstream.ToolInfo
	SearchTools(query string) []upstream.SearchResult
	ListTools(ctx context.Context, server string) ([]upstream.ToolInfo, error)
	FindCachedTool(server, tool string) (upstream.ToolInfo, bool)
	CallTool(ctx context.Context, server, tool string, args map[string]any) (*upstream.CallResult, error)
}

// Args are the meta-tool parameters.
type Args struct {
	Mode      Mode           `json:"mode"`
	Query     string         `json:"query,omitempty"`
	Server    string         `json:"server,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Result is what the meta-tool hands back to the runtime.
type Result struct {
	Content []upstream.ContentPart `json:"content"`
	IsError bool                   `json:"isError,omitempty"`
}

// Text joins the text parts of r.
func (r Result) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == upstream.ContentText {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Tool is the mcp_tools meta-tool.
type Tool struct {
	backend Backend
	logger  *zap.Logger
}

// New creates the meta-tool over backend.
func New(backend Backend, logger *zap.Logger) *Tool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tool{backend: backend, logger: logger.Named("metatool")}
}

// Definition returns the MCP tool definition.
func (t *Tool) Definition() mcp.Tool {
	modes := make([]string, len(Modes))
	for i, m := range Modes {
		modes[i] = string(m)
	}
	return mcp.NewTool(ToolName,
		mcp.WithDescription("Discover and call tools on the configured tool servers. "+
			"Modes: 'status' shows every server; 'search' ranks tools across all servers for a query; "+
			"'list' shows one server's tools; 'describe' shows a tool's input schema; "+
			"'call' invokes a tool with 'arguments'. Search or describe a tool before calling it."),
		mcp.WithString("mode",
			mcp.Required(),
			mcp.Enum(modes...),
			mcp.Description("What to do"),
		),
		mcp.WithString("query",
			mcp.Description("Search terms (search mode)"),
		),
		mcp.WithString("server",
			mcp.Description("Server name (required for list, optional filter for describe and call)"),
		),
		mcp.WithString("tool",
			mcp.Description("Tool name (describe and call modes)"),
		),
		mcp.WithObject("arguments",
			mcp.Description("Arguments passed to the tool (call mode)"),
		),
	)
}

// Execute runs one meta-tool invocation. Failures are reported as text with
// IsError set; Execute itself never fails. An empty callID gets a fresh one.
func (t *Tool) Execute(ctx context.Context, callID string, args Args) Result {
	if callID == "" {
		callID = uuid.NewString()
	}
	ctx = upstream.WithCallID(ctx, callID)
	logger := t.logger.With(zap.String("call_id", callID), zap.String("mode", string(args.Mode)))
	logger.Debug("Executing meta-tool")

	var (
		res Result
		err error
	)
	switch args.Mode {
	case ModeStatus:
		res, err = t.status()
	case ModeSearch:
		res, err = t.search(ctx, args)
	case ModeList:
		res, err = t.list(ctx, args)
	case ModeDescribe:
		res, err = t.describe(ctx, args)
	case ModeCall:
		res, err = t.call(ctx, args)
	default:
		err = fmt.Errorf("%w %q: expected one of %s", ErrUnknownMode, args.Mode, joinModes())
	}
	if err != nil {
		logger.Debug("Meta-tool failed", zap.Error(err))
		return errorResult(err)
	}
	return res
}

func (t *Tool) status() (Result, error) {
	return jsonResult(map[string]any{"servers": t.backend.Status()})
}

func (t *Tool) search(ctx context.Context, args Args) (Result, error) {
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return Result{}, missing("query", ModeSearch)
	}
	t.backend.ListAllTools(ctx)
	results := t.backend.SearchTools(query)

	type match struct {
		Name        string `json:"name"`
		Server      string `json:"server"`
		Description string `json:"description,omitempty"`
		Score       int    `json:"score"`
	}
	matches := make([]match, 0, len(results))
	for _, r := range results {
		matches = append(matches, match{
			Name:        r.Tool.Name,
			Server:      r.Tool.Server,
			Description: r.Tool.Description,
			Score:       r.Score,
		})
	}
	return jsonResult(map[string]any{
		"query": query,
		"tools": matches,
		"total": len(matches),
	})
}

func (t *Tool) list(ctx context.Context, args Args) (Result, error) {
	if args.Server == "" {
		return Result{}, missing("server", ModeList)
	}
	tools, err := t.backend.ListTools(ctx, args.Server)
	if err != nil {
		return Result{}, err
	}
	if tools == nil {
		tools = []upstream.ToolInfo{}
	}
	return jsonResult(map[string]any{
		"server": args.Server,
		"tools":  tools,
		"total":  len(tools),
	})
}

func (t *Tool) describe(ctx context.Context, args Args) (Result, error) {
	if args.Tool == "" {
		return Result{}, missing("tool", ModeDescribe)
	}
	t.backend.ListAllTools(ctx)
	info, ok := t.backend.FindCachedTool(args.Server, args.Tool)
	if !ok {
		return Result{}, &upstream.NotFoundError{Server: args.Server, Tool: args.Tool}
	}
	return jsonResult(info)
}

func (t *Tool) call(ctx context.Context, args Args) (Result, error) {
	if args.Tool == "" {
		return Result{}, missing("tool", ModeCall)
	}
	info, ok := t.backend.FindCachedTool(args.Server, args.Tool)
	if !ok {
		t.logger.Debug("Tool not cached, refreshing catalogs", zap.String("tool", args.Tool))
		t.backend.ListAllTools(ctx)
		info, ok = t.backend.FindCachedTool(args.Server, args.Tool)
	}
	if !ok {
		return Result{}, &upstream.NotFoundError{Server: args.Server, Tool: args.Tool}
	}

	res, err := t.backend.CallTool(ctx, info.Server, info.Name, args.Arguments)
	if err != nil {
		return Result{}, err
	}
	return Result{Content: res.Content, IsError: res.IsError}, nil
}

func missing(param string, mode Mode) error {
	return fmt.Errorf("%w '%s' for mode %s", ErrMissingParameter, param, mode)
}

func joinModes() string {
	names := make([]string, len(Modes))
	for i, m := range Modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

func jsonResult(v any) (Result, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("failed to serialize result: %w", err)
	}
	return textResult(string(data)), nil
}

func textResult(text string) Result {
	return Result{Content: []upstream.ContentPart{{Type: upstream.ContentText, Text: text}}}
}

func errorResult(err error) Result {
	r := textResult(describeError(err))
	r.IsError = true
	return r
}

// describeError prefixes err with a hint about what the caller can do.
func describeError(err error) string {
	switch {
	case upstream.IsAuthorizationRequired(err):
		return fmt.Sprintf("Authorization required: %v. Run 'mcpgate auth login' for this server.", err)
	case upstream.IsTimeout(err):
		return fmt.Sprintf("Timed out: %v", err)
	case upstream.IsNotFound(err):
		return fmt.Sprintf("Not found: %v. Use mode 'search' to find tools.", err)
	}
	var cfgErr *upstream.ConfigurationError
	if errors.As(err, &cfgErr) {
		return fmt.Sprintf("Configuration error: %v", err)
	}
	var transportErr *upstream.TransportError
	if errors.As(err, &transportErr) {
		return fmt.Sprintf("Connection failed: %v", err)
	}
	return fmt.Sprintf("Error: %v", err)
}
