// Package engine implements the incremental scoring pipeline: the interval
// processor that scores unprocessed readings for active sessions, and the
// session aggregator that writes one summary per finished session.
//
// Both services are idempotent under at-least-once invocation. The
// processed flag on a reading is the sole de-duplication key for scoring;
// the existence of a summary document is the sole gate for aggregation.
// Neither uses locks: a single poller is assumed (see DESIGN.md for the
// multi-poller caveat).
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sleepwatch/internal/scoring"
	"sleepwatch/internal/store"
	"sleepwatch/internal/types"
)

// DefaultBatchLimit bounds how many unprocessed readings are pulled per
// session per pass, capping memory use and the size of the atomic batch
// write.
const DefaultBatchLimit = 50

// DefaultAlertThreshold is the final score below which a low-comfort alert
// is emitted.
const DefaultAlertThreshold = 40.0

// BatchResult reports the outcome of draining one session batch.
type BatchResult struct {
	Processed int
	Skipped   int
	Alerts    int
}

// AlertNotifier is the actuator signal sink for low-comfort intervals.
// Delivery is fire-and-forget: a notifier error never rolls back the batch
// that triggered it.
type AlertNotifier interface {
	NotifyLowComfort(ctx context.Context, alert types.ComfortAlert) error
}

// IntervalProcessor drains unprocessed readings for active sessions,
// scores them in per-session batches, and persists interval scores
// together with the processed-flag flips in one atomic write.
type IntervalProcessor struct {
	store    store.Store
	scorer   *scoring.HybridScorer
	notifier AlertNotifier
	logger   *slog.Logger

	batchLimit     int
	alertThreshold float64
	now            func() time.Time
}

// IntervalProcessorConfig holds the dependencies for an IntervalProcessor.
type IntervalProcessorConfig struct {
	Store          store.Store
	Scorer         *scoring.HybridScorer
	Notifier       AlertNotifier // nil disables alerts
	Logger         *slog.Logger
	BatchLimit     int
	AlertThreshold float64
	Now            func() time.Time // nil means time.Now
}

// NewIntervalProcessor creates an IntervalProcessor with the given
// configuration, applying defaults for unset tunables.
func NewIntervalProcessor(cfg IntervalProcessorConfig) *IntervalProcessor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchLimit := cfg.BatchLimit
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	threshold := cfg.AlertThreshold
	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &IntervalProcessor{
		store:          cfg.Store,
		scorer:         cfg.Scorer,
		notifier:       cfg.Notifier,
		logger:         logger,
		batchLimit:     batchLimit,
		alertThreshold: threshold,
		now:            now,
	}
}

// ProcessActiveSessions runs one scoring pass over every session currently
// in the ACTIVE state. A failure in one session's batch abandons that
// session for this pass and moves on; the readings stay unprocessed and
// are retried on the next cycle.
func (p *IntervalProcessor) ProcessActiveSessions(ctx context.Context) (types.ProcessingReport, error) {
	var report types.ProcessingReport

	sessions, err := p.store.Query(ctx, types.CollectionSessions,
		[]store.Filter{store.Eq("state", string(types.SessionActive))},
		store.QueryOptions{})
	if err != nil {
		return report, err
	}

	for _, doc := range sessions {
		report.SessionsVisited++
		res, err := p.ProcessSession(ctx, doc.ID)
		report.ReadingsProcessed += res.Processed
		report.ReadingsSkipped += res.Skipped
		report.AlertsEmitted += res.Alerts
		if err != nil {
			report.BatchesFailed++
			p.logger.ErrorContext(ctx, "session batch failed, will retry next cycle",
				"session_id", doc.ID,
				"error", err,
			)
			continue
		}
	}

	return report, nil
}

// ProcessSession drains one batch of unprocessed readings for a single
// session. Returns the number of readings scored and the number skipped as
// malformed. Safe to call for any session, active or ended; the aggregator
// uses it to flush late arrivals before summarizing.
//
// Reprocessing is a structural no-op: the query matches processed=false
// only, and a reading that somehow arrives already processed is dropped
// before scoring.
func (p *IntervalProcessor) ProcessSession(ctx context.Context, sessionID string) (BatchResult, error) {
	var res BatchResult

	docs, err := p.store.Query(ctx, types.CollectionReadings,
		[]store.Filter{
			store.Eq("session_id", sessionID),
			store.Eq("processed", false),
		},
		store.QueryOptions{Limit: p.batchLimit, OrderBy: "timestamp"})
	if err != nil {
		return res, err
	}
	if len(docs) == 0 {
		return res, nil
	}

	readings := make([]types.Reading, 0, len(docs))
	for _, doc := range docs {
		var r types.Reading
		if err := doc.DataTo(&r); err != nil {
			// Malformed record: skip it, leave it unprocessed, keep the batch.
			res.Skipped++
			p.logger.ErrorContext(ctx, "skipping malformed reading",
				"session_id", sessionID,
				"reading_id", doc.ID,
				"error", err,
			)
			continue
		}
		if r.Processed {
			// The processed flag is the de-duplication key; never score twice.
			continue
		}
		r.ID = doc.ID
		if bad := types.CheckReadingRanges(&r); len(bad) > 0 {
			p.logger.WarnContext(ctx, "reading outside expected sensor ranges",
				"session_id", sessionID,
				"reading_id", doc.ID,
				"fields", bad,
			)
		}
		readings = append(readings, r)
	}
	if len(readings) == 0 {
		return res, nil
	}

	samples := make([]scoring.Sample, len(readings))
	for i := range readings {
		samples[i] = scoring.SampleFromReading(&readings[i])
	}
	// One residual-model call for the whole session batch.
	results := p.scorer.ScoreBatch(samples)

	createdAt := p.now()
	writes := make([]store.Write, 0, 2*len(readings))
	scores := make([]types.IntervalScore, len(readings))
	for i, r := range readings {
		score := types.IntervalScore{
			ID:                uuid.New().String(),
			SessionID:         r.SessionID,
			ReadingID:         r.ID,
			Score:             results[i].FinalScore,
			RuleComponent:     results[i].RuleScore,
			ResidualComponent: results[i].Residual,
			Confidence:        results[i].Confidence,
			ModelVersion:      results[i].ModelVersion,
			CreatedAt:         createdAt,
		}
		scores[i] = score

		fields, err := store.NewDocumentData(&score)
		if err != nil {
			return res, err
		}
		writes = append(writes,
			store.Write{
				Collection: types.CollectionScores,
				ID:         score.ID,
				Op:         store.OpCreate,
				Fields:     fields,
			},
			store.Write{
				Collection: types.CollectionReadings,
				ID:         r.ID,
				Op:         store.OpUpdate,
				Fields:     map[string]any{"processed": true},
			},
		)
	}

	// All-or-nothing: scores and processed flags land together or not at all.
	if err := p.store.BatchWrite(ctx, writes); err != nil {
		return res, err
	}

	p.logger.InfoContext(ctx, "session batch scored",
		"session_id", sessionID,
		"readings", len(readings),
		"skipped", res.Skipped,
	)

	res.Processed = len(readings)
	res.Alerts = p.emitAlerts(ctx, scores)

	return res, nil
}

// emitAlerts fires a low-comfort alert for each committed score below the
// threshold. Failures are logged and dropped; the batch is already
// committed and alerting is best-effort by contract.
func (p *IntervalProcessor) emitAlerts(ctx context.Context, scores []types.IntervalScore) int {
	if p.notifier == nil {
		return 0
	}
	emitted := 0
	for _, s := range scores {
		if s.Score >= p.alertThreshold {
			continue
		}
		alert := types.ComfortAlert{
			ID:        uuid.New().String(),
			Kind:      types.AlertLowComfort,
			SessionID: s.SessionID,
			ReadingID: s.ReadingID,
			Score:     s.Score,
			Threshold: p.alertThreshold,
			EmittedAt: p.now(),
		}
		if err := p.notifier.NotifyLowComfort(ctx, alert); err != nil {
			p.logger.WarnContext(ctx, "low-comfort alert dropped",
				"session_id", s.SessionID,
				"reading_id", s.ReadingID,
				"error", err,
			)
			continue
		}
		emitted++
	}
	return emitted
}
