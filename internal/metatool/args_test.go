package metatool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]any
		want    Args
		wantErr string
	}{
		{
			name: "object arguments",
			raw: map[string]any{
				"mode":      "call",
				"tool":      "echo",
				"arguments": map[string]any{"message": "hi"},
			},
			want: Args{Mode: ModeCall, Tool: "echo", Arguments: map[string]any{"message": "hi"}},
		},
		{
			name: "string arguments",
			raw: map[string]any{
				"mode":      "call",
				"tool":      "echo",
				"arguments": `{"message":"hi"}`,
			},
			want: Args{Mode: ModeCall, Tool: "echo", Arguments: map[string]any{"message": "hi"}},
		},
		{
			name: "mode is case insensitive and trimmed",
			raw:  map[string]any{"mode": " Search ", "query": " files "},
			want: Args{Mode: ModeSearch, Query: "files"},
		},
		{
			name: "blank string arguments",
			raw:  map[string]any{"mode": "call", "tool": "x", "arguments": "  "},
			want: Args{Mode: ModeCall, Tool: "x"},
		},
		{
			name:    "bad JSON",
			raw:     map[string]any{"mode": "call", "arguments": "{"},
			wantErr: "invalid 'arguments' JSON",
		},
		{
			name:    "wrong type",
			raw:     map[string]any{"mode": "call", "arguments": 42.0},
			wantErr: "expected an object",
		},
		{
			name: "non-string fields are ignored",
			raw:  map[string]any{"mode": "list", "server": 3},
			want: Args{Mode: ModeList},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
