package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// TransportKind names the channel used to reach a tool server.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
)

// Lifecycle is an advisory hint about when a server should be connected.
type Lifecycle string

const (
	LifecycleLazy  Lifecycle = "lazy"
	LifecycleEager Lifecycle = "eager"
)

// DefaultIdleTimeout is used when a server does not set idleTimeout.
const DefaultIdleTimeout = 600 * time.Second

var (
	// ErrMissingCommand is returned for a stdio server without a command.
	ErrMissingCommand = errors.New("stdio server requires a command")

	// ErrMissingURL is returned for an http server without a url.
	ErrMissingURL = errors.New("http server requires a url")

	// ErrUnknownTransport is returned when transport is neither stdio nor http.
	ErrUnknownTransport = errors.New("unknown transport")
)

// Config is the servers document: server name -> server configuration.
type Config struct {
	Servers map[string]*ServerConfig `json:"servers" mapstructure:"servers"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"` // Custom log directory
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`         // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"`   // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`           // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// ServerConfig represents a single tool server entry.
type ServerConfig struct {
	Command   string            `json:"command,omitempty" mapstructure:"command"`
	Args      []string          `json:"args,omitempty" mapstructure:"args"`
	Env       map[string]string `json:"env,omitempty" mapstructure:"env"`
	Transport TransportKind     `json:"transport,omitempty" mapstructure:"transport"`
	URL       string            `json:"url,omitempty" mapstructure:"url"`
	Headers   map[string]string `json:"headers,omitempty" mapstructure:"headers"` // For HTTP servers
	Lifecycle Lifecycle         `json:"lifecycle,omitempty" mapstructure:"lifecycle"`

	// IdleTimeout is in seconds. Zero means DefaultIdleTimeout.
	IdleTimeout int   `json:"idleTimeout,omitempty" mapstructure:"idle-timeout"`
	Enabled     *bool `json:"enabled,omitempty" mapstructure:"enabled"`

	OAuth *OAuthConfig `json:"oauth,omitempty" mapstructure:"oauth"`
}

// OAuthConfig holds optional pre-registered client details for http servers.
type OAuthConfig struct {
	ClientID              string   `json:"clientId,omitempty" mapstructure:"client-id"`
	ClientSecret          string   `json:"clientSecret,omitempty" mapstructure:"client-secret"`
	Scopes                []string `json:"scopes,omitempty" mapstructure:"scopes"`
	AuthServerMetadataURL string   `json:"authServerMetadataUrl,omitempty" mapstructure:"auth-server-metadata-url"`
}

// BoolPtr is a helper for building configs in code.
func BoolPtr(b bool) *bool {
	return &b
}

// IsEnabled reports whether the server is enabled. Absent means enabled.
func (s *ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Kind returns the effective transport kind. An unset transport is http when
// only a url is given, stdio otherwise.
func (s *ServerConfig) Kind() TransportKind {
	if s.Transport != "" {
		return s.Transport
	}
	if s.URL != "" && s.Command == "" {
		return TransportHTTP
	}
	return TransportStdio
}

// IdleTimeoutDuration returns the configured idle timeout.
func (s *ServerConfig) IdleTimeoutDuration() time.Duration {
	if s.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return time.Duration(s.IdleTimeout) * time.Second
}

// IsEager reports whether the server asked to be connected at startup.
func (s *ServerConfig) IsEager() bool {
	return s.Lifecycle == LifecycleEager
}

// Clone returns a deep copy.
func (s *ServerConfig) Clone() *ServerConfig {
	if s == nil {
		return nil
	}
	c := *s
	c.Args = slices.Clone(s.Args)
	c.Env = maps.Clone(s.Env)
	c.Headers = maps.Clone(s.Headers)
	if s.Enabled != nil {
		c.Enabled = BoolPtr(*s.Enabled)
	}
	if s.OAuth != nil {
		o := *s.OAuth
		o.Scopes = slices.Clone(s.OAuth.Scopes)
		c.OAuth = &o
	}
	return &c
}

// TransportSpec is the resolved transport variant: StdioSpec or HTTPSpec.
type TransportSpec interface {
	Kind() TransportKind
}

// StdioSpec describes a subprocess server.
type StdioSpec struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Kind implements TransportSpec.
func (StdioSpec) Kind() TransportKind { return TransportStdio }

// HTTPSpec describes a streamable HTTP server.
type HTTPSpec struct {
	URL     string
	Headers map[string]string
	OAuth   *OAuthConfig
}

// Kind implements TransportSpec.
func (HTTPSpec) Kind() TransportKind { return TransportHTTP }

// Resolve turns the optional-field config into exactly one transport variant.
func (s *ServerConfig) Resolve() (TransportSpec, error) {
	switch s.Kind() {
	case TransportStdio:
		if s.Command == "" {
			return nil, ErrMissingCommand
		}
		return StdioSpec{
			Command: s.Command,
			Args:    slices.Clone(s.Args),
			Env:     maps.Clone(s.Env),
		}, nil
	case TransportHTTP:
		if s.URL == "" {
			return nil, ErrMissingURL
		}
		return HTTPSpec{
			URL:     s.URL,
			Headers: maps.Clone(s.Headers),
			OAuth:   s.OAuth,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, s.Transport)
	}
}

// Names returns the configured server names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig returns the document seeded into a missing servers file.
// Every example is disabled.
func DefaultConfig() *Config {
	return &Config{
		Servers: map[string]*ServerConfig{
			"filesystem": {
				Command:   "npx",
				Args:      []string{"-y", "@modelcontextprotocol/server-filesystem", "."},
				Transport: TransportStdio,
				Lifecycle: LifecycleLazy,
				Enabled:   BoolPtr(false),
			},
			"remote-example": {
				Transport: TransportHTTP,
				URL:       "https://example.com/mcp",
				Lifecycle: LifecycleLazy,
				Enabled:   BoolPtr(false),
			},
		},
	}
}
