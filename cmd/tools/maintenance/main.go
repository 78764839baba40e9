// Package main implements the maintenance CLI for the sleepwatch scoring
// engine. It is intended for local development and operational repair:
// re-opening a session for rescoring, clearing bad scores, or dropping a
// summary so the aggregator regenerates it.
//
// Usage:
//
//	go run ./cmd/tools/maintenance --task=init_schema
//	go run ./cmd/tools/maintenance --task=reset_readings --session=<id>
//	go run ./cmd/tools/maintenance --task=clear_scores --session=<id>
//	go run ./cmd/tools/maintenance --task=drop_summary --session=<id>
//	go run ./cmd/tools/maintenance --task=run_once
//	go run ./cmd/tools/maintenance --list
//
// The tool reads DATABASE_URL from the environment (or a .env file via
// godotenv).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"sleepwatch/internal/alerts"
	"sleepwatch/internal/engine"
	"sleepwatch/internal/scoring"
	"sleepwatch/internal/store"
	"sleepwatch/internal/types"
)

// taskTimeout bounds a single maintenance task.
const taskTimeout = 5 * time.Minute

type task struct {
	description  string
	needsSession bool
	run          func(ctx context.Context, docs *store.Postgres, pool *pgxpool.Pool, sessionID string, logger *slog.Logger) error
}

var tasks = map[string]task{
	"init_schema": {
		description: "Create the documents table and indexes (idempotent)",
		run: func(ctx context.Context, _ *store.Postgres, pool *pgxpool.Pool, _ string, logger *slog.Logger) error {
			if _, err := pool.Exec(ctx, store.Schema); err != nil {
				return fmt.Errorf("applying schema: %w", err)
			}
			logger.Info("schema applied")
			return nil
		},
	},
	"reset_readings": {
		description:  "Clear the processed flag on every reading of a session so it is rescored",
		needsSession: true,
		run:          resetReadings,
	},
	"clear_scores": {
		description:  "Delete all interval scores for a session",
		needsSession: true,
		run:          clearScores,
	},
	"drop_summary": {
		description:  "Delete a session's summary so the aggregator regenerates it",
		needsSession: true,
		run:          dropSummary,
	},
	"run_once": {
		description: "Run a single engine cycle (process + aggregate) without the daemon",
		run:         runOnce,
	},
}

func main() {
	taskFlag := flag.String("task", "", "Task to execute (e.g., reset_readings)")
	sessionFlag := flag.String("session", "", "Session id for per-session tasks")
	listFlag := flag.Bool("list", false, "List all available tasks and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: maintenance [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Run sleepwatch engine maintenance tasks directly.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available tasks.\n")
	}
	flag.Parse()

	if *listFlag {
		printAvailableTasks()
		return
	}
	if *taskFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --task is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	t, ok := tasks[*taskFlag]
	if !ok {
		fmt.Fprintf(os.Stderr, "error: unknown task %q (use --list)\n", *taskFlag)
		os.Exit(1)
	}
	if t.needsSession && *sessionFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --session is required for task %q\n", *taskFlag)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := execute(t, *sessionFlag, logger); err != nil {
		logger.Error("task failed", "task", *taskFlag, "error", err)
		os.Exit(1)
	}
}

func execute(t task, sessionID string, logger *slog.Logger) error {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()

	docs := store.NewPostgres(pool)
	if err := docs.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	return t.run(ctx, docs, pool, sessionID, logger)
}

func printAvailableTasks() {
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available tasks:")
	for _, name := range names {
		fmt.Printf("  %-16s %s\n", name, tasks[name].description)
	}
}

// resetReadings flips processed back to false on every reading of the
// session. Combine with clear_scores and drop_summary for a full rescore.
func resetReadings(ctx context.Context, docs *store.Postgres, _ *pgxpool.Pool, sessionID string, logger *slog.Logger) error {
	readings, err := docs.Query(ctx, types.CollectionReadings,
		[]store.Filter{store.Eq("session_id", sessionID)},
		store.QueryOptions{})
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		logger.Info("no readings found", "session_id", sessionID)
		return nil
	}

	writes := make([]store.Write, 0, len(readings))
	for _, doc := range readings {
		writes = append(writes, store.Write{
			Collection: types.CollectionReadings,
			ID:         doc.ID,
			Op:         store.OpUpdate,
			Fields:     map[string]any{"processed": false},
		})
	}
	if err := docs.BatchWrite(ctx, writes); err != nil {
		return err
	}
	logger.Info("readings reset", "session_id", sessionID, "count", len(writes))
	return nil
}

// clearScores deletes every interval score for the session.
func clearScores(ctx context.Context, docs *store.Postgres, _ *pgxpool.Pool, sessionID string, logger *slog.Logger) error {
	scores, err := docs.Query(ctx, types.CollectionScores,
		[]store.Filter{store.Eq("session_id", sessionID)},
		store.QueryOptions{})
	if err != nil {
		return err
	}
	if len(scores) == 0 {
		logger.Info("no scores found", "session_id", sessionID)
		return nil
	}

	writes := make([]store.Write, 0, len(scores))
	for _, doc := range scores {
		writes = append(writes, store.Write{
			Collection: types.CollectionScores,
			ID:         doc.ID,
			Op:         store.OpDelete,
		})
	}
	if err := docs.BatchWrite(ctx, writes); err != nil {
		return err
	}
	logger.Info("scores cleared", "session_id", sessionID, "count", len(writes))
	return nil
}

// dropSummary deletes the session's summary record, if any.
func dropSummary(ctx context.Context, docs *store.Postgres, _ *pgxpool.Pool, sessionID string, logger *slog.Logger) error {
	existing, err := docs.Get(ctx, types.CollectionSummaries, sessionID)
	if err != nil {
		return err
	}
	if existing == nil {
		logger.Info("no summary found", "session_id", sessionID)
		return nil
	}

	err = docs.BatchWrite(ctx, []store.Write{{
		Collection: types.CollectionSummaries,
		ID:         sessionID,
		Op:         store.OpDelete,
	}})
	if err != nil {
		return err
	}
	logger.Info("summary dropped", "session_id", sessionID)
	return nil
}

// runOnce executes one engine cycle with alerts disabled. The model
// artifact, if configured, is loaded the same way the daemon loads it.
func runOnce(ctx context.Context, docs *store.Postgres, _ *pgxpool.Pool, _ string, logger *slog.Logger) error {
	model := scoring.NewResidualModel(os.Getenv("MODEL_ARTIFACT_PATH"), logger)
	if path := os.Getenv("MODEL_ARTIFACT_PATH"); path != "" {
		if err := model.Load(); err != nil {
			logger.Warn("model artifact load failed, running rule-only", "error", err)
		}
	}

	processor := engine.NewIntervalProcessor(engine.IntervalProcessorConfig{
		Store:    docs,
		Scorer:   scoring.NewHybridScorer(model),
		Notifier: alerts.Nop{},
		Logger:   logger,
	})
	aggregator := engine.NewSessionAggregator(engine.SessionAggregatorConfig{
		Store:   docs,
		Drainer: processor,
		Logger:  logger,
	})

	procReport, err := processor.ProcessActiveSessions(ctx)
	if err != nil {
		return err
	}
	aggReport, err := aggregator.AggregateEndedSessions(ctx)
	if err != nil {
		return err
	}

	logger.Info("cycle complete",
		"sessions_visited", procReport.SessionsVisited,
		"readings_processed", procReport.ReadingsProcessed,
		"summaries_written", aggReport.SummariesWritten,
		"deferred", aggReport.Deferred,
	)
	return nil
}
