package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
	"github.com/smart-mcp-proxy/mcpgate/internal/logs"
	"github.com/smart-mcp-proxy/mcpgate/internal/oauth"
	"github.com/smart-mcp-proxy/mcpgate/internal/observability"
	"github.com/smart-mcp-proxy/mcpgate/internal/storage"
	"github.com/smart-mcp-proxy/mcpgate/internal/upstream"
)

const shutdownTimeout = 10 * time.Second

// app is the set of components a command works with.
type app struct {
	settings *config.Settings
	config   *config.Config
	logger   *zap.Logger

	activity *storage.ActivityStore // nil when another process holds it
	obs      *observability.Manager
	oauth    *oauth.Provider
	manager  *upstream.Manager
}

type appOptions struct {
	// longRunning selects info-level logging and a mandatory activity store.
	longRunning bool

	// observability enables metrics and tracing.
	observability bool
}

// newApp loads settings and the servers file and builds the manager.
func newApp(cmd *cobra.Command, root *rootOptions, opts appOptions) (*app, error) {
	settings, err := config.LoadSettings(root.v)
	if err != nil {
		return nil, usageError{err}
	}

	logCfg := *settings.Logging
	if !opts.longRunning && !cmd.Flags().Changed("log-level") {
		logCfg.Level = ""
	}
	logger, err := logs.SetupCommandLogger(opts.longRunning, &logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	cfg, err := config.Load(settings.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfigLoad, err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn("Servers file has invalid entries", zap.Error(err))
	}

	a := &app{settings: settings, config: cfg, logger: logger}

	a.activity, err = storage.OpenActivityStore(settings.ActivityDBPath(), logger.Sugar())
	switch {
	case errors.Is(err, storage.ErrStoreBusy) && !opts.longRunning:
		logger.Debug("Activity database busy, tool calls will not be recorded", zap.Error(err))
	case err != nil:
		return nil, err
	}

	if opts.observability {
		obsCfg := observability.DefaultConfig("mcpgate", version)
		obsCfg.Metrics = settings.MetricsListen != ""
		if settings.OTLPEndpoint != "" {
			obsCfg.Tracing.Enabled = true
			obsCfg.Tracing.OTLPEndpoint = settings.OTLPEndpoint
		}
		a.obs, err = observability.NewManager(logger.Sugar(), obsCfg)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	a.oauth = oauth.NewProvider(oauth.NewFileStore(settings.OAuthDir(), logger), logger)

	notifications := upstream.NewNotificationManager()
	notifications.AddHandler(upstream.LogNotificationHandler{Logger: logger.Named("notifications")})

	mopts := upstream.Options{
		OAuth:           a.oauth,
		Logger:          logger,
		LogConfig:       &logCfg,
		Observability:   a.obs,
		Notifications:   notifications,
		ClientVersion:   version,
		CallbackPort:    settings.CallbackPort,
		CallbackTimeout: settings.CallbackTimeout,
	}
	if a.activity != nil {
		mopts.Activity = a.activity
	}
	a.manager = upstream.NewManager(mopts)
	a.manager.Reload(cfg)
	return a, nil
}

// close disconnects every server and releases the stores.
func (a *app) close() {
	if a.manager != nil {
		a.manager.DisconnectAll()
	}
	if a.activity != nil {
		if err := a.activity.Close(); err != nil {
			a.logger.Warn("Failed to close activity database", zap.Error(err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.obs.Close(ctx); err != nil {
		a.logger.Warn("Failed to close observability", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// commandContext tags ctx so tool calls and OAuth flows are recorded as CLI activity.
func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return upstream.WithSource(ctx, storage.ActivitySourceCLI)
}
