// Package level converts raw frequency-domain samples into a single smoothed
// loudness scalar, one value per analysis tick.
//
// The package has two pieces: [Spectrum] maintains a sliding window of
// captured PCM and produces unsigned magnitude bins from it, and [Analyzer]
// reduces a bin snapshot to an exponentially smoothed level in [0, 1].
package level

import "math"

// Default smoothing weights. Calibrated empirically: the previous level keeps
// 70% of its weight each tick, so a silent input decays to under 3% of its
// starting value within ten ticks.
const (
	DefaultDecayWeight  = 0.7
	DefaultAttackWeight = 0.3
)

// Analyzer computes a smoothed loudness scalar from frequency bin snapshots.
// It is a pure reduction plus one piece of mutable state (the smoothed
// level); it is not safe for concurrent use and is intended to be driven
// from the single analysis tick loop.
type Analyzer struct {
	decayWeight  float64
	attackWeight float64
	level        float64
}

// NewAnalyzer creates an analyzer with the given smoothing weights.
// Non-positive weights fall back to the defaults.
func NewAnalyzer(decayWeight, attackWeight float64) *Analyzer {
	if decayWeight <= 0 || attackWeight <= 0 {
		decayWeight = DefaultDecayWeight
		attackWeight = DefaultAttackWeight
	}
	return &Analyzer{decayWeight: decayWeight, attackWeight: attackWeight}
}

// Process folds one frequency-bin snapshot into the smoothed level and
// returns the new value. Bins are unsigned magnitudes in [0, 255]. An empty
// snapshot contributes zero energy, so the level decays toward zero through
// the smoothing term alone.
func (a *Analyzer) Process(bins []byte) float64 {
	var rms float64
	if len(bins) > 0 {
		var sum float64
		for _, b := range bins {
			n := float64(b) / 255
			sum += n * n
		}
		rms = math.Sqrt(sum / float64(len(bins)))
	}
	a.level = a.level*a.decayWeight + rms*a.attackWeight
	return a.level
}

// Level returns the current smoothed level in [0, 1].
func (a *Analyzer) Level() float64 {
	return a.level
}

// Reset clears the smoothed level.
func (a *Analyzer) Reset() {
	a.level = 0
}
