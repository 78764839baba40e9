// Package config defines the global configuration structure for the
// sleepwatch scoring daemon. Configuration is loaded once at process start
// and is immutable thereafter, separating code from configuration in the
// 12-Factor style.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or invalid format fails startup immediately.
package config

import (
	"time"

	"sleepwatch/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the scoring daemon.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"sleepwatch-scorer"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Database DatabaseConfig
	AWS      AWSConfig
	Model    ModelConfig
	Engine   EngineConfig
	Admin    AdminConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
// The actuator queue and metric namespace are optional: an empty queue URL
// disables alert publication, an empty namespace disables metrics.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	ActuatorQueueURL string `envconfig:"SQS_ACTUATOR_QUEUE" validate:"omitempty,url"`
	MetricNamespace  string `envconfig:"METRIC_NAMESPACE" default:"Sleepwatch"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ModelConfig holds the residual model artifact location.
type ModelConfig struct {
	// ArtifactPath points at the serialized regression artifact, plain JSON
	// or gzip (.gz). Empty means permanent rule-only scoring.
	ArtifactPath string `envconfig:"MODEL_ARTIFACT_PATH"`
}

// EngineConfig holds the scoring engine's polling and batching tunables.
type EngineConfig struct {
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"30s"`
	ErrorBackoff   time.Duration `envconfig:"ERROR_BACKOFF" default:"5s"`
	BatchLimit     int           `envconfig:"BATCH_LIMIT" default:"50" validate:"gt=0"`
	AlertThreshold float64       `envconfig:"ALERT_THRESHOLD" default:"40"`
	RecencyWindow  time.Duration `envconfig:"RECENCY_WINDOW" default:"48h"`
}

// AdminConfig holds the admin HTTP surface settings. The admin key gates
// the mutating endpoints; an empty key disables them.
type AdminConfig struct {
	Port   string       `envconfig:"ADMIN_PORT" default:"8080"`
	APIKey SecretString `envconfig:"ADMIN_API_KEY"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
