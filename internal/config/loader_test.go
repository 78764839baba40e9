package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeEnv is an in-memory environment for exercising the SSM resolution
// step without touching process state.
type fakeEnv struct {
	vars map[string]string
}

func newFakeEnv(vars map[string]string) *fakeEnv {
	if vars == nil {
		vars = make(map[string]string)
	}
	return &fakeEnv{vars: vars}
}

func (f *fakeEnv) deps() loaderDeps {
	return loaderDeps{
		lookupEnv: func(key string) (string, bool) {
			v, ok := f.vars[key]
			return v, ok
		},
		setEnv: func(key, value string) error {
			f.vars[key] = value
			return nil
		},
		environ: func() []string {
			out := make([]string, 0, len(f.vars))
			for k, v := range f.vars {
				out = append(out, k+"="+v)
			}
			return out
		},
	}
}

func TestLoadConfigLocalDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/sleepwatch")

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Environment != "local" {
		t.Errorf("Environment = %q, want local", cfg.Environment)
	}
	if cfg.Service != "sleepwatch-scorer" {
		t.Errorf("Service = %q, want default", cfg.Service)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Database.MaxConns != 10 {
		t.Errorf("Database.MaxConns = %d, want 10", cfg.Database.MaxConns)
	}
	if cfg.Engine.PollInterval != 30*time.Second {
		t.Errorf("Engine.PollInterval = %v, want 30s", cfg.Engine.PollInterval)
	}
	if cfg.Engine.ErrorBackoff != 5*time.Second {
		t.Errorf("Engine.ErrorBackoff = %v, want 5s", cfg.Engine.ErrorBackoff)
	}
	if cfg.Engine.BatchLimit != 50 {
		t.Errorf("Engine.BatchLimit = %d, want 50", cfg.Engine.BatchLimit)
	}
	if cfg.Engine.AlertThreshold != 40 {
		t.Errorf("Engine.AlertThreshold = %v, want 40", cfg.Engine.AlertThreshold)
	}
	if cfg.Engine.RecencyWindow != 48*time.Hour {
		t.Errorf("Engine.RecencyWindow = %v, want 48h", cfg.Engine.RecencyWindow)
	}
	if cfg.AWS.Region != "us-east-1" {
		t.Errorf("AWS.Region = %q, want us-east-1", cfg.AWS.Region)
	}
	if cfg.AWS.MetricNamespace != "Sleepwatch" {
		t.Errorf("AWS.MetricNamespace = %q, want Sleepwatch", cfg.AWS.MetricNamespace)
	}
	if cfg.Admin.Port != "8080" {
		t.Errorf("Admin.Port = %q, want 8080", cfg.Admin.Port)
	}
	if cfg.Build.Version == "" {
		t.Error("Build.Version should be populated")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/sleepwatch")
	t.Setenv("POLL_INTERVAL", "10s")
	t.Setenv("BATCH_LIMIT", "25")
	t.Setenv("ALERT_THRESHOLD", "35.5")
	t.Setenv("MODEL_ARTIFACT_PATH", "/var/lib/sleepwatch/model.json.gz")

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Engine.PollInterval != 10*time.Second {
		t.Errorf("Engine.PollInterval = %v, want 10s", cfg.Engine.PollInterval)
	}
	if cfg.Engine.BatchLimit != 25 {
		t.Errorf("Engine.BatchLimit = %d, want 25", cfg.Engine.BatchLimit)
	}
	if cfg.Engine.AlertThreshold != 35.5 {
		t.Errorf("Engine.AlertThreshold = %v, want 35.5", cfg.Engine.AlertThreshold)
	}
	if cfg.Model.ArtifactPath != "/var/lib/sleepwatch/model.json.gz" {
		t.Errorf("Model.ArtifactPath = %q", cfg.Model.ArtifactPath)
	}
}

func TestLoadConfigMissingDatabaseURL(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "")

	_, err := LoadConfig(nil)
	if err == nil {
		t.Fatal("expected validation error for empty DATABASE_URL")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error type = %T, want *ConfigError", err)
	}
	if cfgErr.Type != ErrValidation {
		t.Errorf("error type = %v, want %v", cfgErr.Type, ErrValidation)
	}
}

func TestLoadConfigRejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "qa")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/sleepwatch")

	_, err := LoadConfig(nil)
	if err == nil {
		t.Fatal("expected validation error for APP_ENV=qa")
	}
}

func TestLoadConfigEnforcesUTC(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/sleepwatch")

	if _, err := LoadConfig(nil); err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if time.Local != time.UTC {
		t.Error("LoadConfig should pin time.Local to UTC")
	}
}

func TestResolveSecretsLocalIsNoop(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL_SSM_PARAM", "/dev/sleepwatch/database/url")

	// Nil provider would fail if resolution were attempted.
	if err := ResolveSecrets(nil); err != nil {
		t.Fatalf("ResolveSecrets in local env should be a no-op, got: %v", err)
	}
}

func TestResolveSSMParamsInjectsResolvedValues(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"DATABASE_URL_SSM_PARAM":  "/prod/sleepwatch/database/url",
		"ADMIN_API_KEY_SSM_PARAM": "/prod/sleepwatch/admin/key",
	})
	provider := &mockSecretProvider{values: map[string]string{
		"/prod/sleepwatch/database/url": "postgres://db.internal/sleepwatch",
		"/prod/sleepwatch/admin/key":    "resolved-admin-key",
	}}

	if err := resolveSSMParams(provider, env.deps()); err != nil {
		t.Fatalf("resolveSSMParams returned error: %v", err)
	}
	if env.vars["DATABASE_URL"] != "postgres://db.internal/sleepwatch" {
		t.Errorf("DATABASE_URL = %q, want resolved value", env.vars["DATABASE_URL"])
	}
	if env.vars["ADMIN_API_KEY"] != "resolved-admin-key" {
		t.Errorf("ADMIN_API_KEY = %q, want resolved value", env.vars["ADMIN_API_KEY"])
	}
}

func TestResolveSSMParamsRespectsExistingEnv(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"DATABASE_URL":           "postgres://local-override/sleepwatch",
		"DATABASE_URL_SSM_PARAM": "/prod/sleepwatch/database/url",
	})
	// Provider would error if called; an already-set target must skip SSM.
	provider := &mockSecretProvider{err: errors.New("should not be called")}

	if err := resolveSSMParams(provider, env.deps()); err != nil {
		t.Fatalf("resolveSSMParams returned error: %v", err)
	}
	if env.vars["DATABASE_URL"] != "postgres://local-override/sleepwatch" {
		t.Errorf("DATABASE_URL = %q, existing env value must win", env.vars["DATABASE_URL"])
	}
}

func TestResolveSSMParamsNilProviderFails(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"DATABASE_URL_SSM_PARAM": "/prod/sleepwatch/database/url",
	})

	err := resolveSSMParams(nil, env.deps())
	if err == nil {
		t.Fatal("expected error with nil provider and pending SSM bindings")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrSSMResolution {
		t.Errorf("error = %v, want ConfigError/%v", err, ErrSSMResolution)
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error %q should name the unresolved variable", err.Error())
	}
}

func TestResolveSSMParamsReportsMissingParameters(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"DATABASE_URL_SSM_PARAM": "/prod/sleepwatch/database/url",
	})
	provider := &mockSecretProvider{values: map[string]string{}}

	err := resolveSSMParams(provider, env.deps())
	if err == nil {
		t.Fatal("expected error when SSM cannot resolve a bound parameter")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error %q should name the missing variable", err.Error())
	}
}

func TestResolveSSMParamsNoBindingsIsNoop(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"APP_ENV": "prod",
	})

	if err := resolveSSMParams(nil, env.deps()); err != nil {
		t.Fatalf("resolveSSMParams with no bindings should be a no-op, got: %v", err)
	}
}

func TestResolveSSMParamsProviderFailure(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"DATABASE_URL_SSM_PARAM": "/prod/sleepwatch/database/url",
	})
	provider := &mockSecretProvider{err: errors.New("ssm throttled")}

	err := resolveSSMParams(provider, env.deps())
	if err == nil {
		t.Fatal("expected provider failure to propagate")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrSSMResolution {
		t.Errorf("error = %v, want ConfigError/%v", err, ErrSSMResolution)
	}
}
