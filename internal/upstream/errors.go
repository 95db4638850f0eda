package upstream

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownServer is wrapped by ConfigurationError for names that are not configured.
	ErrUnknownServer = errors.New("unknown server")

	// ErrServerDisabled is wrapped by ConfigurationError for disabled servers.
	ErrServerDisabled = errors.New("server is disabled")

	// ErrNotConnected is returned by operations that require a live connection.
	ErrNotConnected = errors.New("server is not connected")

	// ErrNotHTTP is returned when authenticating a stdio server.
	ErrNotHTTP = errors.New("oauth is only supported for http servers")
)

// ConfigurationError reports an unknown server, a disabled server or a
// missing required field.
type ConfigurationError struct {
	Server string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("server %q: %v", e.Server, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// AuthorizationRequiredError means the server needs an interactive OAuth
// flow before it can be connected.
type AuthorizationRequiredError struct {
	Server string
	Err    error
}

func (e *AuthorizationRequiredError) Error() string {
	return fmt.Sprintf("server %q requires authorization; run the auth login command for it", e.Server)
}

func (e *AuthorizationRequiredError) Unwrap() error { return e.Err }

// TransportError is a connect or protocol failure.
type TransportError struct {
	Server string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Server, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError is an operation or OAuth callback that ran out of time.
type TimeoutError struct {
	Server  string
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %q timed out after %v", e.Op, e.Server, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// NotFoundError is an unknown tool.
type NotFoundError struct {
	Server string
	Tool   string
}

func (e *NotFoundError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("tool %q not found on any server", e.Tool)
	}
	return fmt.Sprintf("tool %q not found on server %q", e.Tool, e.Server)
}

// IsAuthorizationRequired reports whether err carries an AuthorizationRequiredError.
func IsAuthorizationRequired(err error) bool {
	var target *AuthorizationRequiredError
	return errors.As(err, &target)
}

// IsTimeout reports whether err carries a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
