package cmd

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/studyforge/studyforge/internal/admission"
	"github.com/studyforge/studyforge/internal/config"
	errwrap "github.com/studyforge/studyforge/internal/errors"
	"github.com/studyforge/studyforge/internal/metrics"
	"github.com/studyforge/studyforge/internal/observability"
	"github.com/studyforge/studyforge/internal/server"
	"github.com/studyforge/studyforge/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// uptimeInterval is how often the uptime gauge is refreshed.
const uptimeInterval = 15 * time.Second

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// redisHealthChecker pings the shared admission store.
type redisHealthChecker struct {
	client *redis.Client
}

func (r redisHealthChecker) CheckHealth(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errwrap.WrapExternalService(ctx, err, "admission store unreachable")
	}
	return nil
}

// upstreamHealthChecker reports whether the model credentials are configured.
type upstreamHealthChecker struct {
	apiKey string
}

func (u upstreamHealthChecker) CheckHealth(ctx context.Context) error {
	if strings.TrimSpace(u.apiKey) == "" {
		return errwrap.NewConfigInvalidError("upstream API key not configured")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (logging level and admission limits need a restart)

The server will cleanly shut down the HTTP server and flush logs on shutdown.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "0.0.0.0", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 3000, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return errwrap.WrapConfigInvalid(ctx, err, "invalid configuration")
	}

	if err := observability.InitServerLogger(observability.ServerLoggerOptions{
		Service: config.AppName,
		Level:   cfg.Logging.Level,
		StaticFields: map[string]any{
			"version": versionInfo.Version,
		},
	}); err != nil {
		return errwrap.WrapInternal(ctx, err, "logger initialization failed")
	}
	logger := observability.ServerLogger

	hm := handlers.NewHealthManager(versionInfo.Version)

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		startUptimeGauge(ctx, time.Now())
	}

	limiter, rdb, err := buildLimiter(ctx, cfg.Admission)
	if err != nil {
		logger.Error("Failed to initialize admission", zap.Error(err))
		return errwrap.WrapConfigInvalid(ctx, err, "admission initialization failed")
	}
	if rdb != nil {
		hm.RegisterChecker("admission_store", redisHealthChecker{client: rdb})
	}
	if sweeper, ok := limiter.(admission.Sweeper); ok && cfg.Admission.SweepInterval > 0 {
		admission.StartJanitor(ctx, sweeper, cfg.Admission.SweepInterval, metrics.RecordAdmissionSweep)
	}

	forwarder, err := buildForwarder(cfg)
	if err != nil {
		return errwrap.WrapInternal(ctx, err, "plan forwarder initialization failed")
	}
	hm.RegisterChecker("upstream_config", upstreamHealthChecker{apiKey: cfg.AILink.APIKey})
	if cfg.AILink.APIKey == "" {
		logger.Warn("Upstream API key not configured; plan requests will fail",
			zap.String("env", config.EnvPrefix+"_AILINK_API_KEY"))
	}

	logger.Info("Initializing server",
		zap.String("service", config.AppName),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
		zap.Int("metrics_port", cfg.Metrics.Port),
		zap.String("admission_backend", cfg.Admission.Backend),
		zap.String("admission_strategy", cfg.Admission.Strategy),
		zap.Int("admission_limit", cfg.Admission.Limit),
		zap.Duration("admission_window", cfg.Admission.Window),
		zap.String("model", forwarder.Model()))

	srv := server.New(server.Options{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		Limiter:      limiter,
		Generator:    forwarder,
		Backend:      cfg.Admission.Backend,
		Health:       hm,
		AdminToken:   cfg.Server.AdminToken,
	})

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	// stopped closes once shutdown begins; reloaded receives on every SIGHUP.
	stopped := make(chan struct{})
	var stopOnce sync.Once
	reloaded := make(chan struct{}, 1)

	// Shutdown handlers run LIFO: server first, then the store, then the logger.
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Flushing logger...")
		if err := logger.Sync(); err != nil {
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		cancel()
		if rdb == nil {
			return nil
		}
		if err := rdb.Close(); err != nil {
			return errwrap.WrapExternalService(ctx, err, "admission store close failed")
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		stopOnce.Do(func() { close(stopped) })
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancelShutdown := context.WithTimeout(ctx, shutdownTimeout)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}

		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		select {
		case reloaded <- struct{}{}:
		default:
		}
		logger.Info("Received SIGHUP: attempting config reload")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				logger.Info("No config file found - using defaults and environment variables")
				return nil
			}
			logger.Error("Failed to reload config file",
				zap.String("file", viper.ConfigFileUsed()),
				zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}

		if _, err := loadConfig(); err != nil {
			logger.Error("Reloaded configuration is invalid", zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}

		logger.Info("Configuration reloaded successfully",
			zap.String("file", viper.ConfigFileUsed()))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	errChan := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		errChan <- listenSignals(ctx, func(ctx context.Context) error { return signals.Listen(ctx) }, logger, stopped, reloaded)
	}()

	if err := <-errChan; err != nil {
		return errwrap.WrapInternal(ctx, err, "server error")
	}
	return nil
}

// listenSignals calls listen until a shutdown signal has been handled. listen
// returns after each signal, so a reload goes round again. A failed reload is
// logged and does not stop the server.
func listenSignals(ctx context.Context, listen func(context.Context) error, logger *logging.Logger, stopped, reloaded <-chan struct{}) error {
	for {
		err := listen(ctx)

		select {
		case <-stopped:
			return nil
		default:
		}

		select {
		case <-reloaded:
			if err != nil {
				logger.Warn("Config reload failed; keeping current configuration", zap.Error(err))
			}
			continue
		default:
		}

		if err != nil && ctx.Err() == nil {
			logger.Error("Signal handler error", zap.Error(err))
			return err
		}
		return nil
	}
}

// startUptimeGauge publishes the start time once and refreshes uptime until ctx ends.
func startUptimeGauge(ctx context.Context, start time.Time) {
	metrics.SetServerStartTime(start.Unix())
	go func() {
		ticker := time.NewTicker(uptimeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				metrics.SetServerUptime(int64(now.Sub(start).Seconds()))
			}
		}
	}()
}
