package score

import (
	"testing"

	"chatpulse/internal/model"
)

func TestComputeWeightedSum(t *testing.T) {
	w := DefaultWeights()
	c := model.Counters{
		MessageCount:     10,
		CharCount:        250,
		ReplyReceived:    2,
		MentionReceived:  1,
		TopicInitiated:   1,
		ReactionGiven:    3,
		ReactionReceived: 2,
		PinReceived:      1,
	}
	// 10 + 2.5 + 3 + 1.5 + 1 + 3 + 2 + 5
	if got := w.Compute(c); got != 28.0 {
		t.Fatalf("got %v", got)
	}
}

func TestComputeRoundsToTwoDecimals(t *testing.T) {
	w := DefaultWeights()
	c := model.Counters{CharCount: 333}
	if got := w.Compute(c); got != 3.33 {
		t.Fatalf("got %v", got)
	}
}

func TestComputeIgnoresUnknownWeightKeys(t *testing.T) {
	w := Weights{"message_count": 2.0, "bogus_metric": 100.0}
	c := model.Counters{MessageCount: 3}
	if got := w.Compute(c); got != 6.0 {
		t.Fatalf("got %v", got)
	}
}

func TestComputeZeroCounters(t *testing.T) {
	if got := DefaultWeights().Compute(model.Counters{}); got != 0 {
		t.Fatalf("got %v", got)
	}
}
