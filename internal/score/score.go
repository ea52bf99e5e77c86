// Package score computes per-event metric deltas and the derived activity
// score.
package score

import (
	"math"

	"chatpulse/internal/model"
)

// Weights maps metric names to their score contribution per unit.
type Weights map[string]float64

// DefaultWeights is the fixed weight table for the activity score.
// char_count is deliberately small to keep flooding unprofitable, and a pin
// is the strongest signal of a high-value contribution.
func DefaultWeights() Weights {
	return Weights{
		model.MetricMessageCount:     1.0,
		model.MetricCharCount:        0.01,
		model.MetricReplyReceived:    1.5,
		model.MetricMentionReceived:  1.5,
		model.MetricTopicInitiated:   1.0,
		model.MetricReactionGiven:    1.0,
		model.MetricReactionReceived: 1.0,
		model.MetricPinReceived:      5.0,
	}
}

// Compute derives the activity score from raw counters, rounded to two
// decimal places. The score is a pure function of the counters; callers
// must never increment a stored score directly.
func (w Weights) Compute(c model.Counters) float64 {
	s := 0.0
	for name, n := range c.ByName() {
		s += float64(n) * w[name]
	}
	return math.Round(s*100) / 100
}
