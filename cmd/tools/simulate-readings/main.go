// Package main implements a development tool that seeds the document store
// with a synthetic sleep session and sensor readings, so the scoring engine
// can be exercised without a live ingestion backend.
//
// Usage:
//
//	go run ./cmd/tools/simulate-readings --readings=60
//	go run ./cmd/tools/simulate-readings --readings=120 --interval=30s --end
//
// The tool reads DATABASE_URL from the environment (or a .env file via
// godotenv).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"sleepwatch/internal/store"
	"sleepwatch/internal/types"
)

func main() {
	readingsFlag := flag.Int("readings", 60, "Number of readings to generate")
	intervalFlag := flag.Duration("interval", time.Minute, "Spacing between reading timestamps")
	endFlag := flag.Bool("end", false, "Mark the session ended after the last reading")
	dropoutFlag := flag.Float64("dropout", 0.05, "Probability that any one sensor value is missing")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(*readingsFlag, *intervalFlag, *endFlag, *dropoutFlag, logger); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(readings int, interval time.Duration, end bool, dropout float64, logger *slog.Logger) error {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()
	docs := store.NewPostgres(pool)

	sessionID := uuid.New().String()
	startedAt := time.Now().UTC().Add(-time.Duration(readings) * interval)

	session := types.Session{
		State:     types.SessionActive,
		StartedAt: startedAt,
	}
	if end {
		endedAt := startedAt.Add(time.Duration(readings) * interval)
		session.State = types.SessionEnded
		session.EndedAt = &endedAt
	}
	fields, err := store.NewDocumentData(&session)
	if err != nil {
		return err
	}
	err = docs.BatchWrite(ctx, []store.Write{{
		Collection: types.CollectionSessions,
		ID:         sessionID,
		Op:         store.OpCreate,
		Fields:     fields,
	}})
	if err != nil {
		return err
	}

	writes := make([]store.Write, 0, readings)
	for i := 0; i < readings; i++ {
		r := syntheticReading(sessionID, startedAt.Add(time.Duration(i)*interval), dropout)
		fields, err := store.NewDocumentData(&r)
		if err != nil {
			return err
		}
		writes = append(writes, store.Write{
			Collection: types.CollectionReadings,
			ID:         uuid.New().String(),
			Op:         store.OpCreate,
			Fields:     fields,
		})
	}
	if err := docs.BatchWrite(ctx, writes); err != nil {
		return err
	}

	logger.Info("session seeded",
		"session_id", sessionID,
		"readings", readings,
		"state", string(session.State),
	)
	return nil
}

// syntheticReading generates one plausible bedroom sample: temperature
// drifting around 20C, humidity around 50%, near-dark light, quiet noise
// with occasional spikes. Each sensor independently drops out with the
// given probability.
func syntheticReading(sessionID string, ts time.Time, dropout float64) types.Reading {
	r := types.Reading{
		SessionID: sessionID,
		Timestamp: ts,
	}
	if rand.Float64() >= dropout {
		r.Temperature = ptr(20.0 + rand.NormFloat64()*1.5)
	}
	if rand.Float64() >= dropout {
		r.Humidity = ptr(clamp(50.0+rand.NormFloat64()*8, 20, 100))
	}
	if rand.Float64() >= dropout {
		light := 0.0
		if rand.Float64() < 0.1 {
			light = rand.Float64() * 15
		}
		r.Light = ptr(light)
	}
	if rand.Float64() >= dropout {
		noise := 25.0 + rand.Float64()*8
		if rand.Float64() < 0.05 {
			noise += 20 + rand.Float64()*20
		}
		r.Noise = ptr(noise)
	}
	return r
}

func ptr(v float64) *float64 {
	return &v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
