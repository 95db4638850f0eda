package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgate/internal/stringutil"
)

// AuthData is everything persisted for one OAuth server.
type AuthData struct {
	Tokens       *transport.Token `json:"tokens,omitempty"`
	ClientInfo   *ClientInfo      `json:"clientInfo,omitempty"`
	CodeVerifier string           `json:"codeVerifier,omitempty"`
}

// ClientInfo is the client registration, either dynamic or pre-configured.
type ClientInfo struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// FileStore keeps one JSON file per server under dir. Each read-modify-write
// holds an advisory file lock.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	return &FileStore{dir: dir, logger: logger.Named("oauth-store")}
}

// Path returns the auth file for server.
func (s *FileStore) Path(server string) string {
	return filepath.Join(s.dir, stringutil.SanitizeFilename(server)+".json")
}

func (s *FileStore) lockPath(server string) string {
	return s.Path(server) + ".lock"
}

// Load returns the stored data, or ErrNoAuthData.
func (s *FileStore) Load(server string) (*AuthData, error) {
	data, err := os.ReadFile(s.Path(server))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoAuthData
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read auth file: %w", err)
	}

	var ad AuthData
	if err := json.Unmarshal(data, &ad); err != nil {
		return nil, fmt.Errorf("failed to parse auth file %s: %w", s.Path(server), err)
	}
	return &ad, nil
}

// Update applies fn to the stored data (empty when absent) and writes it back.
func (s *FileStore) Update(server string, fn func(*AuthData) error) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create auth directory: %w", err)
	}

	lock := flock.New(s.lockPath(server))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock auth file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	ad, err := s.Load(server)
	if errors.Is(err, ErrNoAuthData) {
		ad = &AuthData{}
	} else if err != nil {
		return err
	}

	if err := fn(ad); err != nil {
		return err
	}
	return s.write(server, ad)
}

func (s *FileStore) write(server string, ad *AuthData) error {
	data, err := json.MarshalIndent(ad, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal auth data: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".auth-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write auth data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.Path(server))
}

// Delete removes everything stored for server. Missing data is not an error.
func (s *FileStore) Delete(server string) error {
	for _, p := range []string{s.Path(server), s.lockPath(server)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	s.logger.Info("Removed stored OAuth data", zap.String("server", server))
	return nil
}

// TokenStore returns a transport.TokenStore view of server's tokens.
func (s *FileStore) TokenStore(server string) transport.TokenStore {
	return &fileTokenStore{store: s, server: server}
}

type fileTokenStore struct {
	store  *FileStore
	server string
}

// GetToken implements transport.TokenStore.
func (t *fileTokenStore) GetToken(ctx context.Context) (*transport.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ad, err := t.store.Load(t.server)
	if errors.Is(err, ErrNoAuthData) {
		return nil, transport.ErrNoToken
	}
	if err != nil {
		return nil, err
	}
	if ad.Tokens == nil {
		return nil, transport.ErrNoToken
	}
	return ad.Tokens, nil
}

// SaveToken implements transport.TokenStore.
func (t *fileTokenStore) SaveToken(ctx context.Context, token *transport.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := t.store.Update(t.server, func(ad *AuthData) error {
		ad.Tokens = token
		return nil
	})
	if err != nil {
		return err
	}
	t.store.logger.Info("Saved OAuth token",
		zap.String("server", t.server),
		zap.Time("expires_at", token.ExpiresAt))
	return nil
}
