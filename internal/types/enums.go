package types

// SessionState represents the lifecycle state of a sleep session.
// The ACTIVE -> ENDED transition is written by the ingestion backend;
// the scoring engine only ever reads it.
type SessionState string

const (
	SessionActive SessionState = "active"
	SessionEnded  SessionState = "ended"
)

// Confidence is the coarse confidence signal attached to a hybrid score.
// It is a fixed heuristic, not a calibrated probability: scores produced
// with the residual model loaded carry ConfidenceModel, rule-only
// fallback scores carry ConfidenceRuleOnly.
type Confidence float64

const (
	ConfidenceModel    Confidence = 0.7
	ConfidenceRuleOnly Confidence = 0.4
)

// AlertKind identifies the kind of actuator alert emitted by the engine.
type AlertKind string

const (
	AlertLowComfort AlertKind = "low_comfort"
)
