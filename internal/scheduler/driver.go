// Package scheduler drives the scoring engine on a fixed cadence. One
// PollingDriver goroutine alternates interval processing and session
// aggregation; there is no parallelism between cycles, which is what keeps
// the engine's lock-free idempotence assumptions valid.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"sleepwatch/internal/types"
)

// DefaultPollInterval is the pause between successful engine cycles.
const DefaultPollInterval = 30 * time.Second

// DefaultErrorBackoff is the shorter pause applied after a cycle that
// returned an error, so a transient store outage is retried promptly
// without spinning.
const DefaultErrorBackoff = 5 * time.Second

// IntervalProcessor is the scoring half of an engine cycle.
type IntervalProcessor interface {
	ProcessActiveSessions(ctx context.Context) (types.ProcessingReport, error)
}

// SessionAggregator is the summarizing half of an engine cycle.
type SessionAggregator interface {
	AggregateEndedSessions(ctx context.Context) (types.AggregationReport, error)
}

// CycleMetrics receives per-cycle outcome counters. Implementations must
// not fail the cycle; publishing errors are their own to log.
type CycleMetrics interface {
	RecordProcessing(ctx context.Context, report types.ProcessingReport)
	RecordAggregation(ctx context.Context, report types.AggregationReport)
	RecordPollError(ctx context.Context)
}

// PollingDriver runs the engine loop: process active sessions, aggregate
// ended ones, sleep, repeat. A failing or panicking cycle is contained at
// the loop boundary and never takes the daemon down.
type PollingDriver struct {
	processor  IntervalProcessor
	aggregator SessionAggregator
	metrics    CycleMetrics
	logger     *slog.Logger

	interval time.Duration
	backoff  time.Duration
}

// PollingDriverConfig holds the dependencies for a PollingDriver.
type PollingDriverConfig struct {
	Processor  IntervalProcessor
	Aggregator SessionAggregator
	Metrics    CycleMetrics // nil disables metrics
	Logger     *slog.Logger
	Interval   time.Duration
	Backoff    time.Duration
}

// NewPollingDriver creates a PollingDriver with the given configuration,
// applying defaults for unset tunables.
func NewPollingDriver(cfg PollingDriverConfig) *PollingDriver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = DefaultErrorBackoff
	}
	return &PollingDriver{
		processor:  cfg.Processor,
		aggregator: cfg.Aggregator,
		metrics:    cfg.Metrics,
		logger:     logger,
		interval:   interval,
		backoff:    backoff,
	}
}

// Run blocks until ctx is cancelled. Cancellation is observed between
// cycles and during sleeps; an in-flight cycle finishes its current batch
// before the loop exits.
func (d *PollingDriver) Run(ctx context.Context) {
	d.logger.InfoContext(ctx, "polling driver started",
		"interval", d.interval.String(),
		"error_backoff", d.backoff.String(),
	)

	for {
		pause := d.interval
		if err := d.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			pause = d.backoff
			if d.metrics != nil {
				d.metrics.RecordPollError(ctx)
			}
			d.logger.ErrorContext(ctx, "engine cycle failed",
				"error", err,
				"retry_in", pause.String(),
			)
		}

		if !sleepCtx(ctx, pause) {
			break
		}
	}

	d.logger.Info("polling driver stopped")
}

// RunOnce executes a single engine cycle. Used by the driver loop and by
// maintenance tooling that wants one pass without the daemon.
func (d *PollingDriver) RunOnce(ctx context.Context) error {
	return d.runCycle(ctx)
}

func (d *PollingDriver) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewAppError(types.ErrCodeInternalUnexpected,
				"engine cycle panicked", nil)
			d.logger.ErrorContext(ctx, "recovered from engine cycle panic",
				"panic", r,
			)
		}
	}()

	started := time.Now()

	procReport, err := d.processor.ProcessActiveSessions(ctx)
	if d.metrics != nil {
		d.metrics.RecordProcessing(ctx, procReport)
	}
	if err != nil {
		return err
	}

	aggReport, err := d.aggregator.AggregateEndedSessions(ctx)
	if d.metrics != nil {
		d.metrics.RecordAggregation(ctx, aggReport)
	}
	if err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "engine cycle complete",
		"duration_ms", time.Since(started).Milliseconds(),
		"sessions_visited", procReport.SessionsVisited,
		"readings_processed", procReport.ReadingsProcessed,
		"batches_failed", procReport.BatchesFailed,
		"alerts_emitted", procReport.AlertsEmitted,
		"summaries_written", aggReport.SummariesWritten,
		"deferred", aggReport.Deferred,
	)
	return nil
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
