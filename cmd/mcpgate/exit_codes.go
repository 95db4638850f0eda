package main

import (
	"errors"

	"github.com/smart-mcp-proxy/mcpgate/internal/oauth"
	"github.com/smart-mcp-proxy/mcpgate/internal/storage"
	"github.com/smart-mcp-proxy/mcpgate/internal/upstream"
)

// Exit codes for mcpgate so that wrapper scripts can react to specific failures

const (
	// ExitCodeSuccess indicates normal program termination
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates a generic error (default)
	ExitCodeGeneralError = 1

	// ExitCodePortConflict indicates the OAuth callback or metrics port is already in use
	ExitCodePortConflict = 2

	// ExitCodeDBLocked indicates the activity database is locked by another process
	ExitCodeDBLocked = 3

	// ExitCodeConfigError indicates configuration validation failed
	ExitCodeConfigError = 4

	// ExitCodeAuthRequired indicates a server needs an interactive OAuth login
	ExitCodeAuthRequired = 5

	// ExitCodeTimeout indicates an operation or OAuth callback timed out
	ExitCodeTimeout = 6
)

// exitCodeDescription returns a human-readable description of the exit code
func exitCodeDescription(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "Success"
	case ExitCodeGeneralError:
		return "General error"
	case ExitCodePortConflict:
		return "Port conflict - address already in use"
	case ExitCodeDBLocked:
		return "Database locked by another process"
	case ExitCodeConfigError:
		return "Configuration error"
	case ExitCodeAuthRequired:
		return "Authorization required"
	case ExitCodeTimeout:
		return "Timed out"
	default:
		return "Unknown error"
	}
}

// exitCode maps an error returned by a command to a process exit code.
func exitCode(err error) int {
	var cfgErr *upstream.ConfigurationError
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, storage.ErrStoreBusy):
		return ExitCodeDBLocked
	case errors.Is(err, oauth.ErrCallbackPortBusy), errors.Is(err, errListenFailed):
		return ExitCodePortConflict
	case upstream.IsAuthorizationRequired(err):
		return ExitCodeAuthRequired
	case upstream.IsTimeout(err):
		return ExitCodeTimeout
	case errors.As(err, &cfgErr), errors.Is(err, errConfigLoad):
		return ExitCodeConfigError
	default:
		return ExitCodeGeneralError
	}
}
