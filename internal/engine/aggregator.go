package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sleepwatch/internal/scoring"
	"sleepwatch/internal/store"
	"sleepwatch/internal/types"
)

// DefaultRecencyWindow bounds how far back the aggregator looks for ended
// sessions. Older sessions without a summary are left alone; backfilling
// them is a maintenance task, not a polling concern.
const DefaultRecencyWindow = 48 * time.Hour

// DefaultScanLimit caps how many recently ended sessions one pass examines.
const DefaultScanLimit = 100

// SessionDrainer flushes any late-arriving unprocessed readings for a
// session before it is summarized. Satisfied by IntervalProcessor.
type SessionDrainer interface {
	ProcessSession(ctx context.Context, sessionID string) (BatchResult, error)
}

// SessionAggregator writes one immutable summary per ended session. The
// existence of the summary document is the sole gate: a session with a
// summary is never re-aggregated, and the summary is written with a
// create-if-absent so concurrent aggregators cannot double-write.
type SessionAggregator struct {
	store   store.Store
	drainer SessionDrainer
	logger  *slog.Logger

	window    time.Duration
	scanLimit int
	now       func() time.Time
}

// SessionAggregatorConfig holds the dependencies for a SessionAggregator.
type SessionAggregatorConfig struct {
	Store     store.Store
	Drainer   SessionDrainer
	Logger    *slog.Logger
	Window    time.Duration
	ScanLimit int
	Now       func() time.Time
}

// NewSessionAggregator creates a SessionAggregator with the given
// configuration, applying defaults for unset tunables.
func NewSessionAggregator(cfg SessionAggregatorConfig) *SessionAggregator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	scanLimit := cfg.ScanLimit
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SessionAggregator{
		store:     cfg.Store,
		drainer:   cfg.Drainer,
		logger:    logger,
		window:    window,
		scanLimit: scanLimit,
		now:       now,
	}
}

// AggregateEndedSessions runs one aggregation pass over recently ended
// sessions. A failure on one session defers it to the next pass and moves
// on; nothing in this pass blocks another session's summary.
func (a *SessionAggregator) AggregateEndedSessions(ctx context.Context) (types.AggregationReport, error) {
	var report types.AggregationReport

	docs, err := a.store.Query(ctx, types.CollectionSessions,
		[]store.Filter{store.Eq("state", string(types.SessionEnded))},
		store.QueryOptions{OrderBy: "ended_at", Descending: true, Limit: a.scanLimit})
	if err != nil {
		return report, err
	}

	cutoff := a.now().Add(-a.window)
	for _, doc := range docs {
		var session types.Session
		if err := doc.DataTo(&session); err != nil {
			a.logger.ErrorContext(ctx, "skipping malformed session",
				"session_id", doc.ID,
				"error", err,
			)
			continue
		}
		session.ID = doc.ID
		if session.EndedAt == nil || session.EndedAt.Before(cutoff) {
			continue
		}

		report.SessionsScanned++
		switch outcome, err := a.aggregateSession(ctx, &session); {
		case err != nil:
			report.Deferred++
			a.logger.ErrorContext(ctx, "session aggregation deferred",
				"session_id", session.ID,
				"error", err,
			)
		case outcome == outcomeWritten:
			report.SummariesWritten++
		case outcome == outcomeAlreadySummarized:
			report.AlreadySummarized++
		case outcome == outcomeDeferred:
			report.Deferred++
		case outcome == outcomeEmpty:
			report.EmptySessions++
		}
	}

	return report, nil
}

type aggregateOutcome int

const (
	outcomeWritten aggregateOutcome = iota
	outcomeAlreadySummarized
	outcomeDeferred
	outcomeEmpty
)

// aggregateSession summarizes one ended session: gate on summary
// existence, drain late readings, then compute and create the summary.
func (a *SessionAggregator) aggregateSession(ctx context.Context, session *types.Session) (aggregateOutcome, error) {
	existing, err := a.store.Get(ctx, types.CollectionSummaries, session.ID)
	if err != nil {
		return outcomeDeferred, err
	}
	if existing != nil {
		return outcomeAlreadySummarized, nil
	}

	// Drain late arrivals so the summary covers every reading the session
	// will ever have.
	for {
		res, err := a.drainer.ProcessSession(ctx, session.ID)
		if err != nil {
			return outcomeDeferred, err
		}
		if res.Skipped > 0 {
			// Malformed readings stay unprocessed; summarizing now would
			// bake in an undercount. Try again next pass.
			return outcomeDeferred, nil
		}
		if res.Processed == 0 {
			break
		}
	}

	// Re-check: another writer may have landed a reading between the drain
	// and here.
	pending, err := a.store.Query(ctx, types.CollectionReadings,
		[]store.Filter{
			store.Eq("session_id", session.ID),
			store.Eq("processed", false),
		},
		store.QueryOptions{Limit: 1})
	if err != nil {
		return outcomeDeferred, err
	}
	if len(pending) > 0 {
		return outcomeDeferred, nil
	}

	summary, ok, err := a.buildSummary(ctx, session)
	if err != nil {
		return outcomeDeferred, err
	}
	if !ok {
		return outcomeEmpty, nil
	}

	fields, err := store.NewDocumentData(summary)
	if err != nil {
		return outcomeDeferred, err
	}
	err = a.store.BatchWrite(ctx, []store.Write{{
		Collection: types.CollectionSummaries,
		ID:         session.ID,
		Op:         store.OpCreate,
		Fields:     fields,
	}})
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictExists {
			// Lost a race with another aggregator. The summary exists, which
			// is all the gate requires.
			return outcomeAlreadySummarized, nil
		}
		return outcomeDeferred, err
	}

	a.logger.InfoContext(ctx, "session summarized",
		"session_id", session.ID,
		"samples", summary.SampleCount,
		"quality", summary.SleepQualityScore,
	)
	return outcomeWritten, nil
}

// buildSummary computes the aggregate record from a session's readings and
// interval scores. ok=false means the session has no readings and gets no
// summary.
func (a *SessionAggregator) buildSummary(ctx context.Context, session *types.Session) (*types.SessionSummary, bool, error) {
	readingDocs, err := a.store.Query(ctx, types.CollectionReadings,
		[]store.Filter{store.Eq("session_id", session.ID)},
		store.QueryOptions{OrderBy: "timestamp"})
	if err != nil {
		return nil, false, err
	}
	if len(readingDocs) == 0 {
		return nil, false, nil
	}

	var temp, hum, light, noise meanAcc
	for _, doc := range readingDocs {
		var r types.Reading
		if err := doc.DataTo(&r); err != nil {
			return nil, false, err
		}
		temp.add(r.Temperature)
		hum.add(r.Humidity)
		light.add(r.Light)
		noise.add(r.Noise)
	}

	scoreDocs, err := a.store.Query(ctx, types.CollectionScores,
		[]store.Filter{store.Eq("session_id", session.ID)},
		store.QueryOptions{})
	if err != nil {
		return nil, false, err
	}
	var quality meanAcc
	for _, doc := range scoreDocs {
		var s types.IntervalScore
		if err := doc.DataTo(&s); err != nil {
			return nil, false, err
		}
		quality.add(&s.Score)
	}

	duration := int64(0)
	if session.EndedAt != nil {
		duration = int64(session.EndedAt.Sub(session.StartedAt).Seconds())
	}

	return &types.SessionSummary{
		SessionID:            session.ID,
		AverageTemperature:   temp.mean(),
		AverageHumidity:      hum.mean(),
		AverageLight:         light.mean(),
		AverageNoise:         noise.mean(),
		SleepQualityScore:    scoring.Clamp(quality.mean(), 0, 100),
		TotalDurationSeconds: duration,
		SampleCount:          len(readingDocs),
		GeneratedAt:          a.now(),
	}, true, nil
}

// meanAcc accumulates a mean over present (non-nil) values only, so a
// sensor that never reported does not drag the average toward zero.
type meanAcc struct {
	sum float64
	n   int
}

func (m *meanAcc) add(v *float64) {
	if v == nil {
		return
	}
	m.sum += *v
	m.n++
}

func (m *meanAcc) mean() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}
