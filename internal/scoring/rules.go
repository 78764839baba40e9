// Package scoring implements the hybrid sleep-comfort scorer: a
// deterministic rule-based comfort function plus a learned residual
// correction from a versioned regression artifact.
//
// The rule function here is the same one used to label the residual model's
// training data. The constants below are part of that contract; changing
// them without retraining invalidates every loaded artifact.
package scoring

import "math"

// Ideal-point constants for the rule scorer. Deviations from these are
// penalized linearly (temperature, humidity), above-threshold (noise), or
// piecewise-linearly (light).
const (
	TempIdealC       = 20.0
	HumidityIdealPct = 50.0
	NoiseThresholdDB = 30.0

	tempWeight     = 3.5
	humidityWeight = 0.4
	noiseWeight    = 2.0
	lightWeight    = 1.5

	// Light penalty breakpoints: free below the floor, gentle slope up to
	// the knee, steeper beyond it.
	lightFloorLux   = 1.0
	lightKneeLux    = 10.0
	lightFloorSlope = 1.0
	lightKneeSlope  = 0.6

	// SensorLowerLimitLux is substituted when a light sensor reports
	// exactly 0, which in practice means "below my detection floor"
	// rather than total darkness.
	SensorLowerLimitLux = 0.5
)

// Missing is the sentinel for an unmeasured sensor dimension. A missing
// input contributes no penalty; the scorer is total over partial samples.
var Missing = math.NaN()

// LightPenalty converts a lux level into an unweighted penalty using the
// two-breakpoint piecewise-linear curve. NaN (missing) yields zero.
func LightPenalty(lux float64) float64 {
	if math.IsNaN(lux) {
		return 0
	}
	if lux == 0 {
		lux = SensorLowerLimitLux
	}
	if lux <= lightFloorLux {
		return 0
	}
	if lux <= lightKneeLux {
		return lightFloorSlope * (lux - lightFloorLux)
	}
	base := lightFloorSlope * (lightKneeLux - lightFloorLux)
	return base + lightKneeSlope*(lux-lightKneeLux)
}

// RuleScore maps four environmental readings to a deterministic comfort
// score in [0,100]. Any input may be Missing (NaN) and is then treated as
// neutral. Pure and total: no input combination fails.
func RuleScore(temp, humidity, noise, light float64) float64 {
	score := 100.0
	if !math.IsNaN(temp) {
		score -= tempWeight * math.Abs(temp-TempIdealC)
	}
	if !math.IsNaN(humidity) {
		score -= humidityWeight * math.Abs(humidity-HumidityIdealPct)
	}
	if !math.IsNaN(noise) {
		score -= noiseWeight * math.Max(0, noise-NoiseThresholdDB)
	}
	score -= lightWeight * LightPenalty(light)
	return Clamp(score, 0, 100)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
