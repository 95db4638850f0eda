package metatool

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseArgs reads meta-tool parameters from a raw argument map. arguments
// may be an object or a JSON-encoded object string.
func ParseArgs(raw map[string]any) (Args, error) {
	args := Args{
		Mode:   Mode(strings.ToLower(stringArg(raw, "mode"))),
		Query:  stringArg(raw, "query"),
		Server: stringArg(raw, "server"),
		Tool:   stringArg(raw, "tool"),
	}

	switch v := raw["arguments"].(type) {
	case nil:
	case map[string]any:
		args.Arguments = v
	case string:
		if strings.TrimSpace(v) == "" {
			break
		}
		if err := json.Unmarshal([]byte(v), &args.Arguments); err != nil {
			return args, fmt.Errorf("invalid 'arguments' JSON: %w", err)
		}
	default:
		return args, fmt.Errorf("invalid 'arguments': expected an object, got %T", v)
	}
	return args, nil
}

func stringArg(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return strings.TrimSpace(s)
}
