// Package server exposes the mcp_tools meta-tool to an agent runtime as an
// MCP server over stdio.
package server

import (
	"context"
	"fmt"
	"io"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgate/internal/metatool"
	"github.com/smart-mcp-proxy/mcpgate/internal/storage"
	"github.com/smart-mcp-proxy/mcpgate/internal/upstream"
)

// Name is the server name reported in the initialize handshake.
const Name = "mcpgate"

// Server is the MCP server the agent runtime talks to.
type Server struct {
	mcp    *mcpserver.MCPServer
	tool   *metatool.Tool
	logger *zap.Logger
}

// New creates a server exposing tool.
func New(tool *metatool.Tool, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("server")

	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, sess mcpserver.ClientSession) {
		var clientName, clientVersion string
		if withInfo, ok := sess.(mcpserver.SessionWithClientInfo); ok {
			info := withInfo.GetClientInfo()
			clientName, clientVersion = info.Name, info.Version
		}
		logger.Info("MCP session registered",
			zap.String("session_id", sess.SessionID()),
			zap.String("client_name", clientName),
			zap.String("client_version", clientVersion))
	})

	s := &Server{
		mcp: mcpserver.NewMCPServer(Name, version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithRecovery(),
			mcpserver.WithHooks(hooks),
		),
		tool:   tool,
		logger: logger,
	}
	s.mcp.AddTool(tool.Definition(), s.handleMetaTool)
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// ServeStdio serves the MCP protocol on in/out until ctx ends or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))

	s.logger.Info("Serving MCP over stdio")
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stdio server stopped: %w", err)
	}
	return nil
}

func (s *Server) handleMetaTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := metatool.ParseArgs(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ctx = upstream.WithSource(ctx, storage.ActivitySourceMCP)
	return ToCallToolResult(s.tool.Execute(ctx, "", args)), nil
}

// ToCallToolResult converts a meta-tool result to MCP content.
func ToCallToolResult(res metatool.Result) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: res.IsError}
	for _, c := range res.Content {
		switch c.Type {
		case upstream.ContentImage:
			out.Content = append(out.Content, mcp.NewImageContent(c.Data, c.MimeType))
		default:
			out.Content = append(out.Content, mcp.NewTextContent(c.Text))
		}
	}
	if len(out.Content) == 0 {
		out.Content = []mcp.Content{mcp.NewTextContent(upstream.EmptyResultText)}
	}
	return out
}
