package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
)

func newHTTPTransport(spec config.HTTPSpec, oauth *mcptransport.OAuthConfig, timeout time.Duration, traceHTTP bool, logger *zap.Logger) (mcptransport.Interface, error) {
	if spec.URL == "" {
		return nil, config.ErrMissingURL
	}

	var opts []mcptransport.StreamableHTTPCOption
	if traceHTTP {
		opts = append(opts, mcptransport.WithHTTPBasicClient(&http.Client{
			Transport: NewLoggingTransport(http.DefaultTransport, logger),
		}))
	}
	opts = append(opts,
		mcptransport.WithHTTPTimeout(timeout),
		mcptransport.WithHTTPLogger(zapPrintf{logger.Sugar()}),
	)
	if len(spec.Headers) > 0 {
		opts = append(opts, mcptransport.WithHTTPHeaders(spec.Headers))
	}
	if oauth != nil {
		logger.Debug("Wiring OAuth into HTTP transport",
			zap.String("redirect_uri", oauth.RedirectURI),
			zap.Strings("scopes", oauth.Scopes),
			zap.Bool("pkce_enabled", oauth.PKCEEnabled))
		opts = append(opts, mcptransport.WithHTTPOAuth(*oauth))
	}

	t, err := mcptransport.NewStreamableHTTP(spec.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP transport: %w", err)
	}
	return t, nil
}

// IsUnauthorized reports whether err is a plain HTTP 401 from a transport
// that had no OAuth handler attached.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "status 401") || strings.Contains(msg, "401 Unauthorized")
}

// IsSessionTerminated reports whether the HTTP server dropped the session.
func IsSessionTerminated(err error) bool {
	return errors.Is(err, mcptransport.ErrSessionTerminated)
}
