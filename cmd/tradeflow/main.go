// tradeflow is the session orchestration daemon: it runs the lifecycle
// controller, the health monitor, the checkpoint scheduler, and a
// Prometheus metrics endpoint.
//
// Usage:
//
//	tradeflow serve                       # start the daemon
//	tradeflow serve --config config.yaml  # with a config file
//	tradeflow version                     # show version information
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/tradeflow-io/tradeflow/config"
	"github.com/tradeflow-io/tradeflow/internal/database"
	"github.com/tradeflow-io/tradeflow/internal/metrics"
	"github.com/tradeflow-io/tradeflow/session"
	"github.com/tradeflow-io/tradeflow/store"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting tradeflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	pool, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer pool.Close()

	collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)

	st, err := store.New(cfg.Store, pool.DB(), logger)
	if err != nil {
		logger.Fatal("failed to assemble checkpoint store", zap.Error(err))
	}
	defer st.Close()
	st.OnDegradedWrite(func(cp *store.Checkpoint, cause error) {
		collector.RecordDegradedWrite()
	})

	notifier, notifierClose, err := buildNotifier(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build notifier", zap.Error(err))
	}
	defer notifierClose()

	templates := session.NewTemplateRegistry(logger)
	env := session.NewStaticEnvironmentProvider()
	controller := session.NewController(cfg.Controller, st, templates, env, notifier, collector, logger)

	monitor := session.NewHealthMonitor(controller, cfg.Health, collector, logger)
	scheduler := session.NewCheckpointScheduler(controller, cfg.Scheduler, collector, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := monitor.Start(ctx); err != nil {
		logger.Fatal("failed to start health monitor", zap.Error(err))
	}
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("failed to start checkpoint scheduler", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	var metricsServer *http.Server
	if cfg.Metrics.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		g.Go(func() error {
			logger.Info("metrics endpoint listening", zap.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	<-gctx.Done()
	logger.Info("shutdown signal received")

	scheduler.Stop()
	monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, s := range controller.ListActiveSessions() {
		if err := controller.StopSession(shutdownCtx, s.ID, "shutdown"); err != nil {
			logger.Error("failed to stop session on shutdown",
				zap.String("session_id", s.ID), zap.Error(err))
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}

	if err := g.Wait(); err != nil {
		logger.Error("background task failed", zap.Error(err))
	}

	logger.Info("tradeflow stopped")
}

// buildNotifier selects the configured notification backend. The redis
// backend gets its own client so notifier traffic never contends with
// the fast tier's pool.
func buildNotifier(cfg *config.Config, logger *zap.Logger) (session.Notifier, func(), error) {
	switch cfg.Notifier.Backend {
	case "channel":
		n := session.NewChannelNotifier(cfg.Notifier.Buffer, logger)
		return n, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("notifier redis ping: %w", err)
		}
		n := session.NewRedisNotifier(client, cfg.Store.Redis.Prefix, cfg.Notifier.PublishRate, logger)
		return n, func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown notifier backend %q", cfg.Notifier.Backend)
	}
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Development {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func printVersion() {
	fmt.Printf("tradeflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`tradeflow - trading session orchestration daemon

Usage:
  tradeflow <command> [options]

Commands:
  serve     Start the orchestration daemon
  version   Show version information
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  tradeflow serve
  tradeflow serve --config /etc/tradeflow/config.yaml
  tradeflow version`)
}
