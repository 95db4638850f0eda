package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-mcp-proxy/mcpgate/internal/cli/output"
	"github.com/smart-mcp-proxy/mcpgate/internal/config"
	"github.com/smart-mcp-proxy/mcpgate/internal/oauth"
	"github.com/smart-mcp-proxy/mcpgate/internal/storage"
	"github.com/smart-mcp-proxy/mcpgate/internal/upstream"
)

func TestStructuredErrorAndExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     string
		exit     int
		recovery string
	}{
		{
			name:     "unknown server",
			err:      &upstream.ConfigurationError{Server: "gh", Err: upstream.ErrUnknownServer},
			code:     output.ErrCodeServerNotFound,
			exit:     ExitCodeConfigError,
			recovery: "mcpgate status",
		},
		{
			name: "disabled server",
			err:  &upstream.ConfigurationError{Server: "gh", Err: upstream.ErrServerDisabled},
			code: output.ErrCodeServerDisabled,
			exit: ExitCodeConfigError,
		},
		{
			name: "missing url",
			err:  &upstream.ConfigurationError{Server: "gh", Err: config.ErrMissingURL},
			code: output.ErrCodeConfigInvalid,
			exit: ExitCodeConfigError,
		},
		{
			name:     "authorization required",
			err:      fmt.Errorf("listing: %w", &upstream.AuthorizationRequiredError{Server: "gh"}),
			code:     output.ErrCodeAuthRequired,
			exit:     ExitCodeAuthRequired,
			recovery: "mcpgate auth login gh",
		},
		{
			name: "timeout",
			err:  &upstream.TimeoutError{Server: "gh", Op: "call tool", Timeout: time.Second, Err: context.DeadlineExceeded},
			code: output.ErrCodeTimeout,
			exit: ExitCodeTimeout,
		},
		{
			name:     "tool not found",
			err:      &upstream.NotFoundError{Tool: "read"},
			code:     output.ErrCodeToolNotFound,
			exit:     ExitCodeGeneralError,
			recovery: "mcpgate search read",
		},
		{
			name:     "transport",
			err:      &upstream.TransportError{Server: "gh", Op: "connect", Err: errors.New("refused")},
			code:     output.ErrCodeConnectionFailed,
			exit:     ExitCodeGeneralError,
			recovery: "mcpgate status gh",
		},
		{
			name: "busy database",
			err:  fmt.Errorf("%w: /tmp/activity.db", storage.ErrStoreBusy),
			code: output.ErrCodeOperationFailed,
			exit: ExitCodeDBLocked,
		},
		{
			name: "busy callback port",
			err:  fmt.Errorf("%w: 127.0.0.1:19876", oauth.ErrCallbackPortBusy),
			code: output.ErrCodeOperationFailed,
			exit: ExitCodePortConflict,
		},
		{
			name: "servers file",
			err:  fmt.Errorf("%w: unexpected EOF", errConfigLoad),
			code: output.ErrCodeConfigInvalid,
			exit: ExitCodeConfigError,
		},
		{
			name:     "usage",
			err:      usagef("bad flag"),
			code:     output.ErrCodeInvalidInput,
			exit:     ExitCodeGeneralError,
			recovery: "mcpgate --help",
		},
		{
			name: "other",
			err:  errors.New("boom"),
			code: output.ErrCodeOperationFailed,
			exit: ExitCodeGeneralError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serr := structuredError(tt.err)
			assert.Equal(t, tt.code, serr.Code)
			assert.Equal(t, tt.err.Error(), serr.Message)
			assert.Equal(t, tt.recovery, serr.RecoveryCommand)
			assert.Equal(t, tt.exit, exitCode(tt.err))
		})
	}
}

func TestStructuredErrorPassesThrough(t *testing.T) {
	want := output.NewStructuredError(output.ErrCodeOperationFailed, "tool failed")
	assert.Equal(t, want, structuredError(fmt.Errorf("wrapped: %w", want)))
}

func TestExitCodeDescription(t *testing.T) {
	assert.Equal(t, "Success", exitCodeDescription(ExitCodeSuccess))
	assert.Equal(t, "Database locked by another process", exitCodeDescription(ExitCodeDBLocked))
	assert.Equal(t, "Unknown error", exitCodeDescription(42))
}

func TestActivityFilter(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

	f, err := activityOptions{server: "gh", status: "error", kind: "auth", since: time.Hour, limit: 500}.filter(now)
	require.NoError(t, err)
	assert.Equal(t, "gh", f.Server)
	assert.Equal(t, "error", f.Status)
	assert.Equal(t, "auth", f.Type)
	assert.Equal(t, now.Add(-time.Hour), f.StartTime)
	assert.Equal(t, 100, f.Limit)

	_, err = activityOptions{status: "pending"}.filter(now)
	assert.ErrorContains(t, err, "invalid --status")
	_, err = activityOptions{kind: "prompt"}.filter(now)
	assert.ErrorContains(t, err, "invalid --type")
	_, err = activityOptions{since: -time.Minute}.filter(now)
	assert.ErrorContains(t, err, "--since")
}

func TestActivityTable(t *testing.T) {
	ts := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	table := activityTable([]*storage.ActivityRecord{
		{Type: storage.ActivityTypeToolCall, Source: storage.ActivitySourceMCP, ServerName: "gh", ToolName: "search", Status: "success", DurationMs: 1500, Timestamp: ts},
		{Type: storage.ActivityTypeAuth, Source: storage.ActivitySourceCLI, ServerName: "gh", Arguments: map[string]any{"action": "logout"}, Status: "error", ErrorMessage: "disk\nfull", Timestamp: ts},
	})
	require.Len(t, table.Data, 2)
	assert.Equal(t, []string{"tool_call", "mcp", "gh", "search", "success", "1.5s", ""}, table.Data[0][1:])
	assert.Equal(t, "logout", table.Data[1][4])
	assert.Equal(t, "disk full", table.Data[1][7])
}

func TestCallOutputRows(t *testing.T) {
	rows := callOutput{&upstream.CallResult{Content: []upstream.ContentPart{
		{Type: upstream.ContentText, Text: "hello"},
		{Type: upstream.ContentImage, Data: "aGVsbG8=", MimeType: "image/png"},
	}}}.Rows()
	assert.Equal(t, [][]string{
		{"text", "hello"},
		{"image", "image/png, 8 base64 bytes"},
	}, rows)
}

func TestParseToolArgs(t *testing.T) {
	args, err := parseToolArgs(" ")
	require.NoError(t, err)
	assert.Nil(t, args)

	args, err = parseToolArgs(`{"path":"a.txt","n":2}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"path": "a.txt", "n": float64(2)}, args)

	_, err = parseToolArgs(`[1,2]`)
	var usage usageError
	assert.ErrorAs(t, err, &usage)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "one two", truncate("one\n  two", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "héllo w...", truncate("héllo wörld again", 10))
}
