package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
	"github.com/smart-mcp-proxy/mcpgate/internal/logs"
	"github.com/smart-mcp-proxy/mcpgate/internal/metatool"
	"github.com/smart-mcp-proxy/mcpgate/internal/observability"
	"github.com/smart-mcp-proxy/mcpgate/internal/server"
)

const metricsInterval = 15 * time.Second

func newServeCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the mcp_tools meta-tool over stdio",
		Long: `Start the MCP server on stdin/stdout. Tool servers are connected lazily on
first use (or at startup when their lifecycle is "eager") and disconnected
after their idle timeout. The servers file is watched and reloaded on change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, root, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.String("metrics-listen", "", "Serve /metrics, /healthz and /readyz on this address (e.g. 127.0.0.1:9464)")
	flags.String("otlp-endpoint", "", "Export traces to this OTLP/HTTP endpoint")
	flags.Bool("watch-config", true, "Reload the servers file when it changes")
	flags.Int("callback-port", config.DefaultCallbackPort, "Loopback port for OAuth redirects")
	bindLocalFlags(root, cmd, map[string]string{
		"metrics-listen": "metrics-listen",
		"otlp-endpoint":  "otlp-endpoint",
		"watch-config":   "watch-config",
		"callback-port":  "oauth-callback-port",
	})
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, in io.Reader, out io.Writer) error {
	a, err := newApp(cmd, root, appOptions{longRunning: true, observability: true})
	if err != nil {
		return err
	}
	defer a.close()

	logger := a.logger
	logger.Info("Starting mcpgate",
		zap.String("version", version),
		zap.String("data_dir", a.settings.DataDir),
		zap.String("servers_file", a.settings.ConfigPath),
		zap.Int("servers", len(a.config.Servers)),
		zap.String("log_level", a.settings.Logging.Level))
	if a.settings.Logging.EnableFile {
		if path, err := logs.GetLogFilePathWithDir(a.settings.Logging.LogDir, a.settings.Logging.Filename); err == nil {
			logger.Info("Writing log file", zap.String("path", path))
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	var serving atomic.Bool
	if a.settings.MetricsListen != "" {
		stop, err := startMetricsServer(ctx, a, serving.Load)
		if err != nil {
			return err
		}
		defer stop()
	}

	if a.settings.WatchConfig {
		watcher := config.NewWatcher(a.settings.ConfigPath, a.manager.Reload, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("Servers file watcher unavailable", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	go a.manager.ConnectEager(ctx)

	srv := server.New(metatool.New(a.manager, logger), version, logger)
	serving.Store(true)
	err = srv.ServeStdio(ctx, in, out)
	serving.Store(false)

	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		logger.Info("mcpgate stopped")
		return nil
	default:
		logger.Error("Stdio server failed",
			zap.Error(err),
			zap.String("reason", exitCodeDescription(exitCode(err))))
		return err
	}
}

// startMetricsServer serves the observability router until stop is called.
func startMetricsServer(ctx context.Context, a *app, ready func() bool) (stop func(), err error) {
	if a.activity != nil {
		a.obs.RegisterHealthChecker(observability.NewDatabaseHealthChecker("activity", a.activity.DB()))
		a.obs.RegisterReadinessChecker(observability.NewDatabaseHealthChecker("activity", a.activity.DB()))
	}
	a.obs.RegisterReadinessChecker(observability.NewComponentHealthChecker("mcp", nil, ready))

	ln, err := net.Listen("tcp", a.settings.MetricsListen)
	if err != nil {
		return nil, fmt.Errorf("%w on %s: %w", errListenFailed, a.settings.MetricsListen, err)
	}

	httpSrv := &http.Server{
		Handler:           a.obs.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	a.logger.Info("Serving metrics and health checks", zap.String("address", ln.Addr().String()))

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(metricsInterval)
		defer ticker.Stop()
		a.obs.UpdateMetrics()
		for {
			select {
			case <-ticker.C:
				a.obs.UpdateMetrics()
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}, nil
}
