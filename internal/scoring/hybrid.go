package scoring

import (
	"math"

	"sleepwatch/internal/types"
)

// Sample is one environmental observation presented to the scorer.
// Unmeasured dimensions are NaN (see Missing).
type Sample struct {
	Temperature float64
	Humidity    float64
	Noise       float64
	Light       float64
}

// SampleFromReading converts a stored reading's optional sensor fields
// into a Sample, mapping nil to Missing.
func SampleFromReading(r *types.Reading) Sample {
	return Sample{
		Temperature: orMissing(r.Temperature),
		Humidity:    orMissing(r.Humidity),
		Noise:       orMissing(r.Noise),
		Light:       orMissing(r.Light),
	}
}

func orMissing(v *float64) float64 {
	if v == nil {
		return Missing
	}
	return *v
}

// Features builds the model input vector for a sample in FeatureNames
// order, substituting neutral defaults for missing dimensions.
func Features(s Sample) []float64 {
	return []float64{
		orNeutral(s.Temperature, NeutralTemp),
		orNeutral(s.Humidity, NeutralHumidity),
		orNeutral(s.Light, NeutralLight),
		orNeutral(s.Noise, NeutralNoise),
	}
}

func orNeutral(v, neutral float64) float64 {
	if math.IsNaN(v) {
		return neutral
	}
	return v
}

// ResidualPredictor is the narrow capability the hybrid scorer needs from
// a residual model: batched prediction and the loaded version string.
type ResidualPredictor interface {
	PredictBatch(features [][]float64) (residuals []float64, used bool)
	Version() string
}

// HybridScorer composes the rule scorer with a residual model into the
// finalized, clamped comfort score. It is the single scoring path; both
// single-sample and batch callers go through ScoreBatch.
type HybridScorer struct {
	model ResidualPredictor
}

// NewHybridScorer creates a HybridScorer over the given residual
// predictor. A nil predictor means permanent rule-only scoring.
func NewHybridScorer(model ResidualPredictor) *HybridScorer {
	return &HybridScorer{model: model}
}

// Score scores a single sample.
func (h *HybridScorer) Score(s Sample) types.ScoreResult {
	return h.ScoreBatch([]Sample{s})[0]
}

// ScoreBatch scores a batch of samples with exactly one residual-model
// invocation. In degraded mode every result carries a zero residual,
// final == rule, and the low-confidence flag.
func (h *HybridScorer) ScoreBatch(samples []Sample) []types.ScoreResult {
	features := make([][]float64, len(samples))
	for i, s := range samples {
		features[i] = Features(s)
	}

	var residuals []float64
	used := false
	version := ""
	if h.model != nil {
		residuals, used = h.model.PredictBatch(features)
		if used {
			version = h.model.Version()
		}
	} else {
		residuals = make([]float64, len(samples))
	}

	results := make([]types.ScoreResult, len(samples))
	for i, s := range samples {
		rule := RuleScore(s.Temperature, s.Humidity, s.Noise, s.Light)
		residual := residuals[i]
		if !used {
			residual = 0
		}
		confidence := types.ConfidenceRuleOnly
		if used {
			confidence = types.ConfidenceModel
		}
		results[i] = types.ScoreResult{
			FinalScore:     Clamp(rule+residual, 0, 100),
			RuleScore:      rule,
			Residual:       residual,
			Confidence:     confidence,
			ModelAvailable: used,
			ModelVersion:   version,
		}
	}
	return results
}
