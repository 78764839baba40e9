package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// SensorRange is the plausible physical range for one sensor dimension.
// Values outside the range are not rejected by the engine (a cold bedroom
// is still a bedroom), but they are flagged so operators can spot a
// miscalibrated or failing sensor.
type SensorRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ExpectedRanges are the plausible ranges per sensor dimension, matching
// the ranges the residual model was trained on.
var ExpectedRanges = map[string]SensorRange{
	"temperature": {Min: 15.0, Max: 40.0},
	"humidity":    {Min: 20.0, Max: 100.0},
	"light":       {Min: 0.0, Max: 2000.0},
	"noise":       {Min: 15.0, Max: 120.0},
}

var validate = validator.New()

// CheckReadingRanges reports the sensor dimensions of r whose values fall
// outside ExpectedRanges. Nil (unmeasured) fields are not reported. The
// returned slice is empty for a fully plausible reading.
func CheckReadingRanges(r *Reading) []string {
	fields := []struct {
		name  string
		value *float64
	}{
		{"temperature", r.Temperature},
		{"humidity", r.Humidity},
		{"light", r.Light},
		{"noise", r.Noise},
	}

	var out []string
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		rng := ExpectedRanges[f.name]
		tag := fmt.Sprintf("gte=%g,lte=%g", rng.Min, rng.Max)
		if err := validate.Var(*f.value, tag); err != nil {
			out = append(out, f.name)
		}
	}
	return out
}

// ValidateAlert checks that a ComfortAlert carries the fields the actuator
// contract requires before it is published.
func ValidateAlert(a *ComfortAlert) error {
	if a.SessionID == "" {
		return NewAppError(ErrCodeValidationMissingField, "alert missing session_id", nil)
	}
	if a.ReadingID == "" {
		return NewAppError(ErrCodeValidationMissingField, "alert missing reading_id", nil)
	}
	if a.Kind == "" {
		return NewAppError(ErrCodeValidationMissingField, "alert missing kind", nil)
	}
	return nil
}
