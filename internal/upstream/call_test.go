package upstream

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
	"github.com/smart-mcp-proxy/mcpgate/internal/storage"
)

func resultTool(name string, res *mcp.CallToolResult) server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(name),
		Handler: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return res, nil
		},
	}
}

func echoArgsTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool("echo", mcp.WithString("message", mcp.Required())),
		Handler: func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			msg, err := req.RequireString("message")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(msg), nil
		},
	}
}

func blockingTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool("block"),
		Handler: func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

func TestCallToolNormalizesContent(t *testing.T) {
	h := newHarness(t, map[string]*config.ServerConfig{"alpha": stdioServer(0)})
	h.builder.add("alpha", newTestServer("alpha",
		echoArgsTool(),
		resultTool("image", mcp.NewToolResultImage("a chart", "aGVsbG8=", "image/png")),
		resultTool("audio", &mcp.CallToolResult{Content: []mcp.Content{mcp.NewAudioContent("UklGRg==", "audio/wav")}}),
		resultTool("empty", &mcp.CallToolResult{Content: []mcp.Content{}}),
		resultTool("fails", mcp.NewToolResultError("disk full")),
	))
	ctx := context.Background()

	tests := []struct {
		name    string
		tool    string
		args    map[string]any
		want    []ContentPart
		isError bool
		check   func(t *testing.T, res *CallResult)
	}{
		{
			name: "text",
			tool: "echo",
			args: map[string]any{"message": "hello"},
			want: []ContentPart{{Type: ContentText, Text: "hello"}},
		},
		{
			name: "image keeps data and mime type",
			tool: "image",
			want: []ContentPart{
				{Type: ContentText, Text: "a chart"},
				{Type: ContentImage, Data: "aGVsbG8=", MimeType: "image/png"},
			},
		},
		{
			name: "other kinds become JSON text",
			tool: "audio",
			check: func(t *testing.T, res *CallResult) {
				require.Len(t, res.Content, 1)
				assert.Equal(t, ContentText, res.Content[0].Type)
				assert.Contains(t, res.Content[0].Text, `"type":"audio"`)
				assert.Contains(t, res.Content[0].Text, `"mimeType":"audio/wav"`)
			},
		},
		{
			name: "empty result gets placeholder",
			tool: "empty",
			want: []ContentPart{{Type: ContentText, Text: EmptyResultText}},
		},
		{
			name:    "tool error is passed through",
			tool:    "fails",
			want:    []ContentPart{{Type: ContentText, Text: "disk full"}},
			isError: true,
		},
		{
			name:    "invalid arguments are a tool error",
			tool:    "echo",
			args:    map[string]any{},
			isError: true,
			check: func(t *testing.T, res *CallResult) {
				require.Len(t, res.Content, 1)
				assert.Contains(t, res.Content[0].Text, "message")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.m.CallTool(ctx, "alpha", tt.tool, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.isError, res.IsError)
			if tt.check != nil {
				tt.check(t, res)
				return
			}
			assert.Equal(t, tt.want, res.Content)
		})
	}
}

func TestNormalizeResultNil(t *testing.T) {
	res := NormalizeResult(nil)
	assert.False(t, res.IsError)
	assert.Equal(t, []ContentPart{{Type: ContentText, Text: EmptyResultText}}, res.Content)
}

func TestNormalizeResultAcceptsPointerContent(t *testing.T) {
	res := NormalizeResult(&mcp.CallToolResult{Content: []mcp.Content{
		&mcp.TextContent{Type: mcp.ContentTypeText, Text: "hi"},
		&mcp.ImageContent{Type: mcp.ContentTypeImage, Data: "AA==", MIMEType: "image/gif"},
	}})
	assert.Equal(t, []ContentPart{
		{Type: ContentText, Text: "hi"},
		{Type: ContentImage, Data: "AA==", MimeType: "image/gif"},
	}, res.Content)
}

func TestCallToolTimeout(t *testing.T) {
	h := newHarness(t, map[string]*config.ServerConfig{"alpha": stdioServer(0)}, func(o *Options) {
		o.OperationTimeout = 50 * time.Millisecond
	})
	h.builder.add("alpha", newTestServer("alpha", blockingTool()))

	_, err := h.m.CallTool(context.Background(), "alpha", "block", nil)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Timeout)
	assert.True(t, IsTimeout(err))

	// A timed out call does not tear down the connection.
	assert.Equal(t, StatusConnected, h.status(t, "alpha").Status)
}

func TestCallToolUnknownServer(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.m.CallTool(context.Background(), "ghost", "anything", nil)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrUnknownServer)
}

func TestCallToolRecordsActivity(t *testing.T) {
	rec := &recordingActivity{}
	h := newHarness(t, map[string]*config.ServerConfig{"alpha": stdioServer(0)}, func(o *Options) {
		o.Activity = rec
	})
	h.builder.add("alpha", newTestServer("alpha",
		echoArgsTool(),
		resultTool("fails", mcp.NewToolResultError("nope")),
	))

	ctx := WithCallID(WithSource(context.Background(), storage.ActivitySourceCLI), "call-1")
	_, err := h.m.CallTool(ctx, "alpha", "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	_, err = h.m.CallTool(context.Background(), "alpha", "fails", nil)
	require.NoError(t, err)
	_, err = h.m.CallTool(context.Background(), "ghost", "x", nil)
	require.Error(t, err)

	records := rec.all()
	require.Len(t, records, 3)

	assert.Equal(t, storage.ActivityTypeToolCall, records[0].Type)
	assert.Equal(t, storage.ActivitySourceCLI, records[0].Source)
	assert.Equal(t, "call-1", records[0].CallID)
	assert.Equal(t, "alpha", records[0].ServerName)
	assert.Equal(t, "echo", records[0].ToolName)
	assert.Equal(t, storage.StatusSuccess, records[0].Status)
	assert.Equal(t, map[string]any{"message": "hi"}, records[0].Arguments)
	assert.JSONEq(t, `[{"type":"text","text":"hi"}]`, records[0].Response)

	assert.Equal(t, storage.ActivitySourceMCP, records[1].Source)
	assert.Equal(t, storage.StatusError, records[1].Status)
	assert.Empty(t, records[1].CallID)

	assert.Equal(t, storage.StatusError, records[2].Status)
	assert.Contains(t, records[2].ErrorMessage, "ghost")
}
