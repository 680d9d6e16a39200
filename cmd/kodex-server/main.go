// Package main is a demonstration host embedding the authentication
// core behind an HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kodex-auth/go-core/internal/db"
	"github.com/kodex-auth/go-core/internal/metrics"
	"github.com/kodex-auth/go-core/internal/server"
	"github.com/kodex-auth/go-core/pkg/kodex"
)

// Version information, set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath      = flag.String("config", "kodex.yaml", "Path to the yaml config file")
		logLevel        = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat       = flag.String("log-format", "json", "Log format (json, console)")
		migrate         = flag.Bool("migrate", false, "Run schema migrations before serving")
		shutdownTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
		showVersion     = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("kodex-server %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	logger, err := initLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := kodex.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", *configPath), zap.Error(err))
	}

	opts := kodex.Options{
		Logger:  logger,
		Metrics: metrics.NewPrometheusMetrics("kodex"),
	}

	if cfg.Database.DSN != "" {
		conn, err := db.Open(cfg.Database.DSN)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer conn.Close()
		opts.DB = conn
	} else {
		logger.Warn("no database configured, running on in-memory stores")
	}

	if cfg.Redis.Addr != "" {
		opts.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	core, err := kodex.New(*cfg, opts)
	if err != nil {
		logger.Fatal("failed to assemble core", zap.Error(err))
	}

	if *migrate {
		if err := core.Migrate(); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
	}

	prom, _ := opts.Metrics.(*metrics.PrometheusMetrics)
	srv, err := server.New(core.Authenticator(), core.Tokens(), core.Resets(),
		prom.Handler(), server.Config{
			Addr:         cfg.Server.Addr,
			DefaultRealm: cfg.Server.DefaultRealm,
			Logger:       logger.Named("http"),
		})
	if err != nil {
		logger.Fatal("failed to create http server", zap.Error(err))
	}

	logger.Info("starting kodex server",
		zap.String("version", Version),
		zap.String("addr", cfg.Server.Addr))

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := core.Close(ctx); err != nil {
		logger.Error("core shutdown failed", zap.Error(err))
	}

	logger.Info("server stopped")
}

// initLogger builds the zap logger for the chosen level and format.
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	return config.Build()
}
