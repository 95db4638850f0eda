// Package oauth provides OAuth authentication functionality for HTTP tool servers.
package oauth

import "errors"

// OAuth-specific sentinel errors for consistent error handling across the codebase.
var (
	// ErrServerNotOAuth indicates server doesn't use OAuth authentication.
	// Stdio servers never do.
	ErrServerNotOAuth = errors.New("server does not use OAuth")

	// ErrCallbackPortBusy indicates the loopback callback port could not be bound.
	ErrCallbackPortBusy = errors.New("OAuth callback port is busy")

	// ErrCallbackTimeout indicates no authorization code arrived in time.
	ErrCallbackTimeout = errors.New("timed out waiting for OAuth callback")

	// ErrAuthorizationDenied indicates the authorization server redirected back
	// with an error instead of a code.
	ErrAuthorizationDenied = errors.New("authorization was denied")

	// ErrListenerClosed indicates the callback listener was closed before it settled.
	ErrListenerClosed = errors.New("OAuth callback listener closed")

	// ErrNoAuthData indicates nothing is persisted for the server.
	ErrNoAuthData = errors.New("no stored OAuth data")
)
