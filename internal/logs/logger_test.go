package logs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"trace": zap.DebugLevel,
		"debug": zap.DebugLevel,
		"info":  zap.InfoLevel,
		"warn":  zap.WarnLevel,
		"error": zap.ErrorLevel,
		"bogus": zap.InfoLevel,
		"":      zap.InfoLevel,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestSetupLoggerRequiresOutput(t *testing.T) {
	_, err := SetupLogger(&config.LogConfig{Level: "info"})
	assert.Error(t, err)
}

func TestSetupLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.LogConfig{
		Level:      "debug",
		EnableFile: true,
		Filename:   "test.log",
		LogDir:     dir,
		MaxSize:    1,
	}

	logger, err := SetupLogger(cfg)
	require.NoError(t, err)
	logger.Info("connected", zap.String("server", "alpha"), zap.String("auth", "Bearer abcdefghijklmnop"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "alpha")
	assert.NotContains(t, out, "abcdefghijklmnop")
}

func TestCreateServerLogger(t *testing.T) {
	dir := t.TempDir()
	logger, err := CreateServerLogger(&config.LogConfig{Level: "info", LogDir: dir}, "my server")
	require.NoError(t, err)
	logger.Info("stderr line")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "server-my_server.log"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "stderr line"))
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		secret  string
		visible string
	}{
		{"bearer", "Authorization: Bearer s3cr3tT0kenValue", "s3cr3tT0kenValue", "Bearer s3c***ue"},
		{"query code", "GET /callback?code=AUTHCODE123456&state=xyz", "AUTHCODE123456", "state=xyz"},
		{"json token", `{"access_token":"tok_0123456789abcdef","token_type":"bearer"}`, "tok_0123456789abcdef", "token_type"},
		{"jwt", "token eyJhbGciOi.eyJzdWIiOiIxIn0.c2lnbmF0dXJl", "eyJzdWIiOiIxIn0", "eyJhbGciOi.***"},
		{"short value", "code=abc", "code=abc", "code=****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Sanitize(tt.in)
			assert.NotContains(t, out, tt.secret)
			assert.Contains(t, out, tt.visible)
		})
	}
}

func TestSecretSanitizerCore(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(NewSecretSanitizer(core)).With(zap.String("refresh", "refresh_token=rt-0123456789"))

	logger.Info("exchanging code=XYZ987654321", zap.String("header", "Bearer zzzzyyyyxxxxwwww"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Message, "XYZ987654321")
	ctx := entries[0].ContextMap()
	assert.NotContains(t, ctx["header"], "zzzzyyyyxxxxwwww")
	assert.NotContains(t, ctx["refresh"], "rt-0123456789")
}
