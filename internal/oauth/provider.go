package oauth

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
)

// ClientName is sent during dynamic client registration.
const ClientName = "mcpgate"

// Status is the authentication state of one server.
type Status string

const (
	// StatusNone means no tokens are stored.
	StatusNone Status = "none"

	// StatusAuthenticated means a usable (or refreshable) token is stored.
	StatusAuthenticated Status = "authenticated"

	// StatusExpired means the stored token expired and cannot be refreshed.
	StatusExpired Status = "expired"
)

// Provider wires per-server persisted OAuth state into HTTP transports.
type Provider struct {
	store  *FileStore
	logger *zap.Logger
}

// NewProvider creates a provider backed by store.
func NewProvider(store *FileStore, logger *zap.Logger) *Provider {
	return &Provider{store: store, logger: logger.Named("oauth")}
}

// Store returns the underlying file store.
func (p *Provider) Store() *FileStore {
	return p.store
}

// Config builds the transport OAuth configuration for server. A persisted
// client registration takes precedence over the configured client ID.
func (p *Provider) Config(server, redirectURI string, oc *config.OAuthConfig) (transport.OAuthConfig, error) {
	cfg := transport.OAuthConfig{
		RedirectURI: redirectURI,
		TokenStore:  p.store.TokenStore(server),
		PKCEEnabled: true,
	}
	if oc != nil {
		cfg.ClientID = oc.ClientID
		cfg.ClientSecret = oc.ClientSecret
		cfg.Scopes = oc.Scopes
		cfg.AuthServerMetadataURL = oc.AuthServerMetadataURL
	}

	ad, err := p.store.Load(server)
	switch {
	case errors.Is(err, ErrNoAuthData):
	case err != nil:
		return transport.OAuthConfig{}, err
	case ad.ClientInfo != nil && ad.ClientInfo.ClientID != "":
		cfg.ClientID = ad.ClientInfo.ClientID
		cfg.ClientSecret = ad.ClientInfo.ClientSecret
	}
	return cfg, nil
}

// HasTokens reports whether any token is stored for server.
func (p *Provider) HasTokens(server string) bool {
	ad, err := p.store.Load(server)
	return err == nil && ad.Tokens != nil
}

// SaveCodeVerifier persists the PKCE verifier for an in-progress flow.
func (p *Provider) SaveCodeVerifier(server, verifier string) error {
	return p.store.Update(server, func(ad *AuthData) error {
		ad.CodeVerifier = verifier
		return nil
	})
}

// CodeVerifier returns the persisted PKCE verifier.
func (p *Provider) CodeVerifier(server string) (string, error) {
	ad, err := p.store.Load(server)
	if err != nil {
		return "", err
	}
	if ad.CodeVerifier == "" {
		return "", fmt.Errorf("%w: no code verifier for %s", ErrNoAuthData, server)
	}
	return ad.CodeVerifier, nil
}

// SaveClientInfo persists a client registration.
func (p *Provider) SaveClientInfo(server, clientID, clientSecret string) error {
	if clientID == "" {
		return nil
	}
	return p.store.Update(server, func(ad *AuthData) error {
		ad.ClientInfo = &ClientInfo{ClientID: clientID, ClientSecret: clientSecret}
		return nil
	})
}

// Status reports the stored authentication state for server.
func (p *Provider) Status(server string) Status {
	ad, err := p.store.Load(server)
	if err != nil || ad.Tokens == nil || ad.Tokens.AccessToken == "" {
		return StatusNone
	}
	if ad.Tokens.IsExpired() && ad.Tokens.RefreshToken == "" {
		return StatusExpired
	}
	return StatusAuthenticated
}

// SignOut deletes everything stored for server.
func (p *Provider) SignOut(server string) error {
	return p.store.Delete(server)
}
