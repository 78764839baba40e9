// Package admin exposes the scoring daemon's operational HTTP surface:
// health, model introspection, and model reload. It is not a public API;
// the mutating endpoints are gated by a static admin key.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sleepwatch/internal/scoring"
	"sleepwatch/internal/types"
)

// healthCheckTimeout bounds the store probe during a health check.
const healthCheckTimeout = 2 * time.Second

// adminKeyHeader carries the admin key on mutating requests.
const adminKeyHeader = "X-Admin-Key"

// Pinger is the store liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelManager is the residual model surface the admin API needs:
// introspection and reload.
type ModelManager interface {
	Available() bool
	Version() string
	Reload() (string, error)
}

// Server is the admin HTTP server.
type Server struct {
	store    Pinger
	model    ModelManager
	logger   *slog.Logger
	adminKey types.SecretString
	build    BuildInfo

	router chi.Router
}

// BuildInfo is the build metadata reported by the health endpoint.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ServerConfig holds the dependencies for an admin Server.
type ServerConfig struct {
	Store    Pinger
	Model    ModelManager
	Logger   *slog.Logger
	AdminKey types.SecretString // empty disables mutating endpoints
	Build    BuildInfo
}

// NewServer creates the admin server and mounts its routes.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:    cfg.Store,
		model:    cfg.Model,
		logger:   logger,
		adminKey: cfg.AdminKey,
		build:    cfg.Build,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/model/info", s.handleModelInfo)
		r.With(s.requireAdminKey).Post("/model/reload", s.handleModelReload)
	})
	s.router = r

	return s
}

// Handler returns the mounted router.
func (s *Server) Handler() http.Handler {
	return s.router
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Build      BuildInfo                  `json:"build"`
	Components map[string]componentStatus `json:"components"`
}

// handleHealth probes the store and reports model state. A degraded model
// (rule-only scoring) is still healthy; only a failing store returns 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := make(map[string]componentStatus, 2)
	healthy := true

	if err := s.store.Ping(ctx); err != nil {
		healthy = false
		components["store"] = componentStatus{Status: "unhealthy", Message: err.Error()}
	} else {
		components["store"] = componentStatus{Status: "healthy"}
	}

	if s.model.Available() {
		components["model"] = componentStatus{Status: "healthy"}
	} else {
		components["model"] = componentStatus{Status: "degraded", Message: "rule-only scoring"}
	}

	resp := healthResponse{Build: s.build, Components: components}
	if healthy {
		resp.Status = "healthy"
		s.writeJSON(w, http.StatusOK, resp)
	} else {
		resp.Status = "unhealthy"
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
	}
}

type modelInfoResponse struct {
	Available      bool                         `json:"available"`
	Version        string                       `json:"version,omitempty"`
	Features       []string                     `json:"features"`
	ExpectedRanges map[string]types.SensorRange `json:"expected_ranges"`
}

// handleModelInfo reports the loaded model version, the feature vector
// layout, and the sensor plausibility ranges.
func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, modelInfoResponse{
		Available:      s.model.Available(),
		Version:        s.model.Version(),
		Features:       scoring.FeatureNames,
		ExpectedRanges: types.ExpectedRanges,
	})
}

type modelReloadResponse struct {
	Version string `json:"version"`
}

// handleModelReload re-reads the artifact from disk. On failure the
// previously loaded model stays installed.
func (s *Server) handleModelReload(w http.ResponseWriter, r *http.Request) {
	version, err := s.model.Reload()
	if err != nil {
		s.logger.ErrorContext(r.Context(), "model reload failed", "error", err)
		s.writeError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "model reloaded", "version", version)
	s.writeJSON(w, http.StatusOK, modelReloadResponse{Version: version})
}

// requireAdminKey gates mutating endpoints behind a constant-time key
// comparison. An empty configured key disables the endpoints entirely.
func (s *Server) requireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey.Unmask() == "" {
			s.writeError(w, types.NewAppError(types.ErrCodeAuthKeyInvalid,
				"admin endpoints are disabled", nil))
			return
		}
		presented := r.Header.Get(adminKeyHeader)
		if presented == "" {
			s.writeError(w, types.NewAppError(types.ErrCodeAuthKeyMissing,
				"missing "+adminKeyHeader+" header", nil))
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.adminKey.Unmask())) != 1 {
			s.writeError(w, types.NewAppError(types.ErrCodeAuthKeyInvalid,
				"invalid admin key", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps an error chain onto the structured error envelope.
// Wrapped internal details are never exposed to the client.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		s.writeJSON(w, appErr.HTTPStatus(), errorResponse{
			Error: errorDetail{Code: string(appErr.Code), Message: appErr.Message},
		})
		return
	}
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error: errorDetail{
			Code:    string(types.ErrCodeInternalUnexpected),
			Message: "an unexpected error occurred",
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(errorResponse{
			Error: errorDetail{
				Code:    string(types.ErrCodeInternalUnexpected),
				Message: "failed to marshal response",
			},
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
