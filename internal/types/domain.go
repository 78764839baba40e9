package types

import "time"

// Collection names in the document store. These match the schema written by
// the ingestion backend; the engine does not own sleep_sessions or
// sensor_readings beyond the processed flag.
const (
	CollectionSessions  = "sleep_sessions"
	CollectionReadings  = "sensor_readings"
	CollectionScores    = "interval_scores"
	CollectionSummaries = "session_records"
)

// Reading is one timestamped environmental sample belonging to a session.
// Sensor fields are pointers because any subset of sensors may be absent
// from a sample; a nil field is "not measured", not zero.
//
// The engine mutates only Processed, and only false -> true.
type Reading struct {
	ID          string    `json:"-"`
	SessionID   string    `json:"session_id"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Light       *float64  `json:"light,omitempty"`
	Noise       *float64  `json:"noise,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Processed   bool      `json:"processed"`
}

// IntervalScore is the scored counterpart of a single Reading. Created
// exactly once per processed reading and immutable thereafter.
type IntervalScore struct {
	ID                string     `json:"-"`
	SessionID         string     `json:"session_id"`
	ReadingID         string     `json:"reading_id"`
	Score             float64    `json:"score"`
	RuleComponent     float64    `json:"rule_component"`
	ResidualComponent float64    `json:"residual_component"`
	Confidence        Confidence `json:"confidence"`
	ModelVersion      string     `json:"model_version,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Session is one continuous monitored sleep period. State transitions are
// owned by the ingestion backend.
type Session struct {
	ID        string       `json:"-"`
	State     SessionState `json:"state"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
}

// SessionSummary is the aggregate record for one finished session,
// written at most once per session id.
type SessionSummary struct {
	SessionID            string    `json:"session_id"`
	AverageTemperature   float64   `json:"average_temperature"`
	AverageHumidity      float64   `json:"average_humidity"`
	AverageLight         float64   `json:"average_light"`
	AverageNoise         float64   `json:"average_noise"`
	SleepQualityScore    float64   `json:"sleep_quality_score"`
	TotalDurationSeconds int64     `json:"total_duration_seconds"`
	SampleCount          int       `json:"sample_count"`
	GeneratedAt          time.Time `json:"generated_at"`
}

// ScoreResult is the output of the hybrid scorer, the single source of
// truth for both single-record and batch scoring paths.
type ScoreResult struct {
	FinalScore     float64    `json:"final_score"`
	RuleScore      float64    `json:"rule_score"`
	Residual       float64    `json:"residual"`
	Confidence     Confidence `json:"confidence"`
	ModelAvailable bool       `json:"model_available"`
	ModelVersion   string     `json:"model_version,omitempty"`
}

// ProcessingReport summarizes one interval-processing pass.
type ProcessingReport struct {
	SessionsVisited   int `json:"sessions_visited"`
	ReadingsProcessed int `json:"readings_processed"`
	ReadingsSkipped   int `json:"readings_skipped"`
	BatchesFailed     int `json:"batches_failed"`
	AlertsEmitted     int `json:"alerts_emitted"`
}

// AggregationReport summarizes one session-aggregation pass.
type AggregationReport struct {
	SessionsScanned   int `json:"sessions_scanned"`
	SummariesWritten  int `json:"summaries_written"`
	AlreadySummarized int `json:"already_summarized"`
	Deferred          int `json:"deferred"`
	EmptySessions     int `json:"empty_sessions"`
}

// ComfortAlert is the fire-and-forget actuator payload emitted when an
// interval score falls below the configured comfort threshold.
type ComfortAlert struct {
	ID        string    `json:"id"`
	Kind      AlertKind `json:"kind"`
	SessionID string    `json:"session_id"`
	ReadingID string    `json:"reading_id"`
	Score     float64   `json:"score"`
	Threshold float64   `json:"threshold"`
	EmittedAt time.Time `json:"emitted_at"`
}
