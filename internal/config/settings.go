package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultCallbackPort    = 19876
	DefaultCallbackTimeout = 2 * time.Minute
)

// Settings are process-level options. They come from flags, MCPGATE_*
// environment variables and defaults, in that order of precedence.
type Settings struct {
	DataDir         string        `mapstructure:"data-dir"`
	ConfigPath      string        `mapstructure:"config"`
	CallbackPort    int           `mapstructure:"oauth-callback-port"`
	CallbackTimeout time.Duration `mapstructure:"oauth-callback-timeout"`
	MetricsListen   string        `mapstructure:"metrics-listen"`
	OTLPEndpoint    string        `mapstructure:"otlp-endpoint"`
	WatchConfig     bool          `mapstructure:"watch-config"`

	Logging *LogConfig `mapstructure:"logging"`
}

// SetupViper installs env binding and defaults on v.
func SetupViper(v *viper.Viper) {
	v.SetEnvPrefix("MCPGATE")
	v.AutomaticEnv()

	// Replace - with _ for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault("data-dir", "")
	v.SetDefault("config", "")
	v.SetDefault("oauth-callback-port", DefaultCallbackPort)
	v.SetDefault("oauth-callback-timeout", DefaultCallbackTimeout)
	v.SetDefault("metrics-listen", "")
	v.SetDefault("otlp-endpoint", "")
	v.SetDefault("watch-config", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.enable-console", true)
	v.SetDefault("logging.enable-file", false)
	v.SetDefault("logging.filename", "main.log")
	v.SetDefault("logging.max-size", 10)
	v.SetDefault("logging.max-backups", 5)
	v.SetDefault("logging.max-age", 30)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.json-format", false)
}

// LoadSettings unmarshals v into Settings and fills in derived paths.
func LoadSettings(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	dataDir, err := ResolveDataDir(s.DataDir)
	if err != nil {
		return nil, err
	}
	s.DataDir = dataDir

	if s.ConfigPath == "" {
		s.ConfigPath = filepath.Join(dataDir, ServersFileName)
	}
	if s.CallbackTimeout <= 0 {
		s.CallbackTimeout = DefaultCallbackTimeout
	}
	if s.Logging == nil {
		s.Logging = &LogConfig{Level: "info", EnableConsole: true, Filename: "main.log"}
	}
	return s, nil
}

// OAuthDir is where per-server authorization files live.
func (s *Settings) OAuthDir() string {
	return filepath.Join(s.DataDir, "oauth")
}

// ActivityDBPath is the bbolt file for the tool call log.
func (s *Settings) ActivityDBPath() string {
	return filepath.Join(s.DataDir, "activity.db")
}
