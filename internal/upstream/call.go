package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgate/internal/observability"
	"github.com/smart-mcp-proxy/mcpgate/internal/storage"
)

// EmptyResultText replaces an empty tool result.
const EmptyResultText = "Tool returned no content"

// CallTool invokes tool on server, connecting if needed. Transport failures
// and timeouts are returned as errors; the tool's own failure is reported
// through CallResult.IsError.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) (*CallResult, error) {
	start := m.clock.Now()

	ctx, span := m.obs.TraceToolCall(ctx, server, tool)
	result, err := m.callTool(ctx, server, tool, args)
	observability.EndSpan(span, err)

	elapsed := m.clock.Since(start)
	m.obs.RecordToolCall(server, tool, callStatus(result, err), elapsed)
	m.recordActivity(ctx, server, tool, args, result, err, elapsed)
	return result, err
}

func (m *Manager) callTool(ctx context.Context, server, tool string, args map[string]any) (*CallResult, error) {
	if err := m.EnsureConnected(ctx, server); err != nil {
		return nil, err
	}
	s, err := m.lookup(server)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	st, ok := s.state.(*stateConnected)
	s.mu.Unlock()
	if !ok {
		return nil, &TransportError{Server: server, Op: "call " + tool, Err: ErrNotConnected}
	}

	cctx, cancel := context.WithTimeout(ctx, m.opts.OperationTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	s.logger.Debug("Calling tool", zap.String("tool", tool))
	res, err := st.client.CallTool(cctx, req)
	if err != nil {
		return nil, m.operationError(server, "call "+tool, err)
	}

	// A finished call counts as activity too; a long call must not be
	// followed by an immediate idle disconnect.
	_, _, _ = m.touch(s)
	return NormalizeResult(res), nil
}

// NormalizeResult maps a tool result into text and image parts. Other part
// kinds are serialized as JSON text, and an empty result gets a placeholder.
func NormalizeResult(res *mcp.CallToolResult) *CallResult {
	out := &CallResult{}
	if res == nil {
		out.Content = []ContentPart{{Type: ContentText, Text: EmptyResultText}}
		return out
	}
	out.IsError = res.IsError

	for _, c := range res.Content {
		out.Content = append(out.Content, normalizeContent(c))
	}
	if len(out.Content) == 0 {
		out.Content = []ContentPart{{Type: ContentText, Text: EmptyResultText}}
	}
	return out
}

func normalizeContent(c mcp.Content) ContentPart {
	switch v := c.(type) {
	case mcp.TextContent:
		return ContentPart{Type: ContentText, Text: v.Text}
	case *mcp.TextContent:
		return ContentPart{Type: ContentText, Text: v.Text}
	case mcp.ImageContent:
		return ContentPart{Type: ContentImage, Data: v.Data, MimeType: v.MIMEType}
	case *mcp.ImageContent:
		return ContentPart{Type: ContentImage, Data: v.Data, MimeType: v.MIMEType}
	}

	data, err := json.Marshal(c)
	if err != nil {
		return ContentPart{Type: ContentText, Text: fmt.Sprintf("%v", c)}
	}
	return ContentPart{Type: ContentText, Text: string(data)}
}

func callStatus(res *CallResult, err error) string {
	switch {
	case err != nil:
		return resultLabel(err)
	case res != nil && res.IsError:
		return observability.StatusError
	default:
		return observability.StatusSuccess
	}
}

func (m *Manager) recordActivity(ctx context.Context, server, tool string, args map[string]any, res *CallResult, err error, elapsed time.Duration) {
	if m.opts.Activity == nil {
		return
	}
	record := &storage.ActivityRecord{
		Type:       storage.ActivityTypeToolCall,
		Source:     SourceFromContext(ctx),
		ServerName: server,
		ToolName:   tool,
		Arguments:  args,
		Status:     storage.StatusSuccess,
		DurationMs: elapsed.Milliseconds(),
		CallID:     CallIDFromContext(ctx),
	}
	switch {
	case err != nil:
		record.Status = storage.StatusError
		record.ErrorMessage = err.Error()
	case res != nil:
		if res.IsError {
			record.Status = storage.StatusError
		}
		if data, merr := json.Marshal(res.Content); merr == nil {
			record.Response = string(data)
		}
	}
	m.opts.Activity.SaveActivityAsync(record)
}
