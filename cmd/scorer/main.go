// Package main is the entry point for the sleepwatch scoring daemon.
//
// The daemon polls the document store for active sleep sessions, scores
// unprocessed sensor readings with the hybrid rule+residual scorer, and
// summarizes recently ended sessions. An admin HTTP server exposes health,
// model introspection, and model reload.
//
// This file handles dependency wiring; all business logic lives in the
// internal packages. Graceful shutdown is handled via OS signal
// interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"sleepwatch/internal/admin"
	"sleepwatch/internal/alerts"
	"sleepwatch/internal/config"
	"sleepwatch/internal/engine"
	"sleepwatch/internal/metrics"
	"sleepwatch/internal/scheduler"
	"sleepwatch/internal/scoring"
	"sleepwatch/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	// The SSM provider region comes straight from the environment because
	// the config (which also carries a region) is not loaded yet. SSM
	// resolution is bypassed entirely when APP_ENV=local.
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadConfig(config.NewSSMProvider(region))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("sleepwatch scorer starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Document store.
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()

	docs := store.NewPostgres(pool)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = docs.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	// Residual model. A failed initial load is degraded mode, not fatal.
	model := scoring.NewResidualModel(cfg.Model.ArtifactPath, logger)
	if cfg.Model.ArtifactPath == "" {
		logger.Warn("no model artifact configured, scoring is rule-only")
	} else if err := model.Load(); err != nil {
		logger.Warn("model artifact load failed, starting in rule-only mode",
			"path", cfg.Model.ArtifactPath,
			"error", err,
		)
	}
	scorer := scoring.NewHybridScorer(model)

	// AWS clients for the actuator queue and metrics.
	notifier, engineMetrics, err := buildAWSClients(ctx, cfg, logger)
	if err != nil {
		return err
	}

	processor := engine.NewIntervalProcessor(engine.IntervalProcessorConfig{
		Store:          docs,
		Scorer:         scorer,
		Notifier:       notifier,
		Logger:         logger,
		BatchLimit:     cfg.Engine.BatchLimit,
		AlertThreshold: cfg.Engine.AlertThreshold,
	})
	aggregator := engine.NewSessionAggregator(engine.SessionAggregatorConfig{
		Store:   docs,
		Drainer: processor,
		Logger:  logger,
		Window:  cfg.Engine.RecencyWindow,
	})
	driver := scheduler.NewPollingDriver(scheduler.PollingDriverConfig{
		Processor:  processor,
		Aggregator: aggregator,
		Metrics:    engineMetrics,
		Logger:     logger,
		Interval:   cfg.Engine.PollInterval,
		Backoff:    cfg.Engine.ErrorBackoff,
	})

	adminSrv := admin.NewServer(admin.ServerConfig{
		Store:    docs,
		Model:    model,
		Logger:   logger,
		AdminKey: cfg.Admin.APIKey,
		Build: admin.BuildInfo{
			Version: cfg.Build.Version,
			Commit:  cfg.Build.Commit,
		},
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Admin.Port,
		Handler:           adminSrv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("admin server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	driverDone := make(chan struct{})
	go func() {
		driver.Run(ctx)
		close(driverDone)
	}()

	// Wait for a shutdown signal or an admin server failure.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			stop()
			<-driverDone
			return fmt.Errorf("admin server error: %w", err)
		}
	}

	// Graceful shutdown: the driver finishes its current batch, then the
	// admin server drains with a 10-second deadline.
	<-driverDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", "error", err)
	}

	logger.Info("scorer stopped cleanly")
	return nil
}

// buildAWSClients wires the optional actuator notifier and metric publisher
// from the AWS config. Both degrade to disabled when unconfigured.
func buildAWSClients(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.AlertNotifier, scheduler.CycleMetrics, error) {
	if cfg.AWS.ActuatorQueueURL == "" && cfg.AWS.MetricNamespace == "" {
		logger.Info("actuator queue and metrics disabled")
		return alerts.Nop{}, nil, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWS.Region)}
	if cfg.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var notifier engine.AlertNotifier = alerts.Nop{}
	if cfg.AWS.ActuatorQueueURL != "" {
		notifier = alerts.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.ActuatorQueueURL)
	} else {
		logger.Info("no actuator queue configured, alerts disabled")
	}

	var cycleMetrics scheduler.CycleMetrics
	if cfg.AWS.MetricNamespace != "" {
		cycleMetrics = metrics.NewEngineMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.AWS.MetricNamespace, logger)
	}

	return notifier, cycleMetrics, nil
}

// newLogger creates a structured JSON slog.Logger for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
