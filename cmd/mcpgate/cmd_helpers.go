package main

import (
	"errors"
	"fmt"

	"github.com/smart-mcp-proxy/mcpgate/internal/cli/output"
	"github.com/smart-mcp-proxy/mcpgate/internal/oauth"
	"github.com/smart-mcp-proxy/mcpgate/internal/storage"
	"github.com/smart-mcp-proxy/mcpgate/internal/upstream"
)

var (
	errConfigLoad   = errors.New("failed to load servers file")
	errListenFailed = errors.New("failed to listen")
)

// usageError marks bad command line input.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// structuredError converts a command error into the machine-readable form
// shown to the user, with guidance and a recovery command where one exists.
func structuredError(err error) output.StructuredError {
	var (
		serr     output.StructuredError
		cfgErr   *upstream.ConfigurationError
		authErr  *upstream.AuthorizationRequiredError
		timeout  *upstream.TimeoutError
		notFound *upstream.NotFoundError
		trErr    *upstream.TransportError
		usage    usageError
	)

	switch {
	case errors.As(err, &serr):
		return serr
	case errors.As(err, &usage):
		return output.NewStructuredError(output.ErrCodeInvalidInput, err.Error()).
			WithGuidance("Check the command arguments").
			WithRecoveryCommand("mcpgate --help")
	case errors.Is(err, storage.ErrStoreBusy):
		return output.NewStructuredError(output.ErrCodeOperationFailed, err.Error()).
			WithGuidance("Another mcpgate process holds the activity database. Stop it or wait for it to exit")
	case errors.Is(err, oauth.ErrCallbackPortBusy):
		return output.NewStructuredError(output.ErrCodeOperationFailed, err.Error()).
			WithGuidance("Free the port or choose another one with --callback-port")
	case errors.As(err, &authErr):
		return output.NewStructuredError(output.ErrCodeAuthRequired, err.Error()).
			WithGuidance("The server needs an OAuth authorization before it can be used").
			WithRecoveryCommand("mcpgate auth login " + authErr.Server).
			WithContext("server", authErr.Server)
	case errors.As(err, &timeout):
		return output.NewStructuredError(output.ErrCodeTimeout, err.Error()).
			WithContext("server", timeout.Server).
			WithContext("timeout", timeout.Timeout.String())
	case errors.As(err, &notFound):
		e := output.NewStructuredError(output.ErrCodeToolNotFound, err.Error()).
			WithGuidance("Search the tool catalogs to find the right name").
			WithRecoveryCommand("mcpgate search " + notFound.Tool)
		if notFound.Server != "" {
			e = e.WithContext("server", notFound.Server)
		}
		return e
	case errors.As(err, &cfgErr):
		return configurationError(cfgErr)
	case errors.As(err, &trErr):
		return output.NewStructuredError(output.ErrCodeConnectionFailed, err.Error()).
			WithGuidance("Check the server command or URL, and its log with --log-level=debug").
			WithRecoveryCommand("mcpgate status " + trErr.Server).
			WithContext("server", trErr.Server)
	case errors.Is(err, errConfigLoad):
		return output.NewStructuredError(output.ErrCodeConfigInvalid, err.Error()).
			WithGuidance("Fix the JSON in the servers file")
	default:
		return output.NewStructuredError(output.ErrCodeOperationFailed, err.Error())
	}
}

func configurationError(err *upstream.ConfigurationError) output.StructuredError {
	switch {
	case errors.Is(err, upstream.ErrUnknownServer):
		return output.NewStructuredError(output.ErrCodeServerNotFound, err.Error()).
			WithGuidance("The name is not in the servers file").
			WithRecoveryCommand("mcpgate status").
			WithContext("server", err.Server)
	case errors.Is(err, upstream.ErrServerDisabled):
		return output.NewStructuredError(output.ErrCodeServerDisabled, err.Error()).
			WithGuidance(`Set "enabled": true for the server in the servers file`).
			WithContext("server", err.Server)
	default:
		return output.NewStructuredError(output.ErrCodeConfigInvalid, err.Error()).
			WithContext("server", err.Server)
	}
}
