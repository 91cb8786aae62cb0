package cmd

import (
	"context"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fetchguard/fetchguard/internal/config"
	errwrap "github.com/fetchguard/fetchguard/internal/errors"
	"github.com/fetchguard/fetchguard/internal/metrics"
	"github.com/fetchguard/fetchguard/internal/observability"
	"github.com/fetchguard/fetchguard/internal/reqstream"
	"github.com/fetchguard/fetchguard/internal/server"
	"github.com/fetchguard/fetchguard/internal/server/handlers"
	"github.com/fetchguard/fetchguard/internal/supervisor"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the supervisor and request-stream HTTP surface.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload config and re-apply supervisor and stream settings`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := GetAppIdentity()
		cfg := appConfig
		namespace := identity.TelemetryNamespace

		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, cfg.Logging.Environment, namespace)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}
		metrics.SetServerStartTime(time.Now().Unix())

		sup := supervisor.New(cfg.SupervisorOptions())
		buffer := reqstream.NewBuffer(cfg.StreamOptions())
		stream := reqstream.NewStream(buffer)

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
			zap.Int("rate_per_second", cfg.Supervisor.RatePerSecond),
			zap.Bool("cache_enabled", cfg.Supervisor.CacheEnabled))

		srv := server.New(server.Options{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			Version:      versionInfo.Version,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
			AdminToken:   os.Getenv(identity.EnvKey("ADMIN_TOKEN")),
			Pprof:        cfg.Debug.Enabled && cfg.Debug.PprofEnabled,
			Supervisor:   sup,
			Buffer:       buffer,
			Stream:       stream,
		})
		srv.Health().RegisterChecker("signal_handlers", handlers.CheckFunc(func(context.Context) error {
			return nil
		}))
		if cfg.Metrics.Enabled {
			srv.Health().RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: the server stops first, then logs flush.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			shutdownErr := srv.Shutdown(shutdownCtx)
			if cfg.Metrics.Enabled {
				if err := observability.StopMetrics(); err != nil {
					logger.Warn("Failed to stop metrics exporter", zap.Error(err))
				}
			}
			if shutdownErr != nil {
				return errwrap.WrapInternal(ctx, shutdownErr, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: reloading configuration")

			next, err := reloadConfig()
			if err != nil {
				logger.Error("Failed to reload config", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			applyReload(next, sup, buffer)

			logger.Info("Configuration reloaded",
				zap.String("file", appViper.ConfigFileUsed()),
				zap.Int("rate_per_second", next.Supervisor.RatePerSecond),
				zap.Bool("cache_enabled", next.Supervisor.CacheEnabled))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		if err := srv.Listen(); err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "failed to bind server address")
		}

		// Start returns nil after a graceful shutdown, so a single result
		// ends the command either way.
		errChan := make(chan error, 2)
		go func() {
			errChan <- srv.Start()
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}
		return nil
	},
}

// reloadConfig re-reads the config file and environment into a fresh Config.
func reloadConfig() (*config.Config, error) {
	v, err := newViper(cfgFile)
	if err != nil {
		return nil, err
	}
	next, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	appViper = v
	appConfig = next
	return next, nil
}

// applyReload pushes reloadable settings into the running components.
// Cache contents and stream clients survive; new batch sizes and intervals
// reach new subscribers.
func applyReload(cfg *config.Config, sup *supervisor.Supervisor, buffer *reqstream.Buffer) {
	sup.SetRate(cfg.Supervisor.RatePerSecond)
	sup.SetCacheEnabled(cfg.Supervisor.CacheEnabled)

	stream := cfg.StreamOptions()
	buffer.Configure(reqstream.ConfigUpdate{
		IntervalMs: &stream.IntervalMs,
		BatchSize:  &stream.BatchSize,
		MaxBuffer:  &stream.MaxBuffer,
	})
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	bindFlag("server.host", serveCmd, "host")
	bindFlag("server.port", serveCmd, "port")
}
