package scoring

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/singleflight"

	"sleepwatch/internal/types"
)

// FeatureNames is the residual model's input vector layout. The order is
// fixed by the training pipeline and must not change.
var FeatureNames = []string{"temperature", "humidity", "light", "noise"}

// Neutral feature defaults substituted for missing sensor values before a
// model prediction. These match the fallback vector the model was trained
// against, so a partially-missing sample stays inside the training
// distribution.
const (
	NeutralTemp     = 20.0
	NeutralHumidity = 50.0
	NeutralLight    = 0.0
	NeutralNoise    = 25.0
)

// Artifact is a loaded residual-regression artifact: a linear model over
// the four environmental features, produced by the offline training
// pipeline and serialized as JSON (optionally gzip-compressed).
type Artifact struct {
	Version      string    `json:"version"`
	Features     []string  `json:"features"`
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
	TrainedAt    string    `json:"trained_at,omitempty"`
}

// validate checks the artifact's feature layout against FeatureNames.
func (a *Artifact) validate() error {
	if a.Version == "" {
		return types.NewAppError(types.ErrCodeModelLoad, "artifact missing version", nil)
	}
	if len(a.Features) != len(FeatureNames) {
		return types.NewAppError(types.ErrCodeModelLoad,
			fmt.Sprintf("artifact has %d features, want %d", len(a.Features), len(FeatureNames)), nil)
	}
	for i, name := range a.Features {
		if name != FeatureNames[i] {
			return types.NewAppError(types.ErrCodeModelLoad,
				fmt.Sprintf("artifact feature %d is %q, want %q", i, name, FeatureNames[i]), nil)
		}
	}
	if len(a.Coefficients) != len(FeatureNames) {
		return types.NewAppError(types.ErrCodeModelLoad,
			fmt.Sprintf("artifact has %d coefficients, want %d", len(a.Coefficients), len(FeatureNames)), nil)
	}
	return nil
}

// predict evaluates the linear model for a single feature vector.
func (a *Artifact) predict(x []float64) float64 {
	y := a.Intercept
	for i, c := range a.Coefficients {
		y += c * x[i]
	}
	return y
}

// ResidualModel holds the currently loaded artifact behind an atomic
// pointer. Predictions read the pointer once and use that artifact for the
// whole batch; Reload swaps the pointer so an in-flight prediction never
// observes a half-updated model. A nil pointer means degraded (rule-only)
// mode and is not an error.
type ResidualModel struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Artifact]
	reloads singleflight.Group
}

// NewResidualModel creates a ResidualModel that loads artifacts from path.
// No artifact is loaded yet; call Load.
func NewResidualModel(path string, logger *slog.Logger) *ResidualModel {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResidualModel{path: path, logger: logger}
}

// Load reads and installs the artifact from disk. On any failure the
// previously installed artifact (or nil) stays in place and the error is
// returned; callers treat a failed initial load as degraded mode, not a
// startup failure.
func (m *ResidualModel) Load() error {
	artifact, err := readArtifact(m.path)
	if err != nil {
		return err
	}
	m.current.Store(artifact)
	m.logger.Info("residual model loaded",
		"path", m.path,
		"version", artifact.Version,
	)
	return nil
}

// Reload re-reads the artifact from disk, deduplicating concurrent reload
// requests. Returns the installed version.
func (m *ResidualModel) Reload() (string, error) {
	v, err, _ := m.reloads.Do("reload", func() (any, error) {
		if err := m.Load(); err != nil {
			return "", err
		}
		return m.Version(), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Available reports whether an artifact is currently loaded.
func (m *ResidualModel) Available() bool {
	return m.current.Load() != nil
}

// Version returns the loaded artifact's version, or "" in degraded mode.
func (m *ResidualModel) Version() string {
	if a := m.current.Load(); a != nil {
		return a.Version
	}
	return ""
}

// PredictBatch returns one residual per feature vector. In degraded mode
// (no artifact) it returns all-zero residuals and used=false; it never
// fails. The artifact pointer is read once, so a concurrent Reload cannot
// corrupt a batch in flight.
func (m *ResidualModel) PredictBatch(features [][]float64) (residuals []float64, used bool) {
	residuals = make([]float64, len(features))
	artifact := m.current.Load()
	if artifact == nil {
		return residuals, false
	}
	for i, x := range features {
		residuals[i] = artifact.predict(x)
	}
	return residuals, true
}

// readArtifact reads, optionally decompresses, parses, and validates an
// artifact file. Artifacts with a .gz suffix are gzip-compressed.
func readArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeModelLoad, "cannot open model artifact "+path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeModelLoad, "cannot decompress model artifact "+path, err)
		}
		defer gz.Close()
		r = gz
	}

	var artifact Artifact
	if err := json.NewDecoder(r).Decode(&artifact); err != nil {
		return nil, types.NewAppError(types.ErrCodeModelLoad, "cannot parse model artifact "+path, err)
	}
	if err := artifact.validate(); err != nil {
		return nil, err
	}
	return &artifact, nil
}
