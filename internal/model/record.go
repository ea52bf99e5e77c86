package model

import "time"

// Metric names, matching the columns of the external activity table.
const (
	MetricMessageCount     = "message_count"
	MetricCharCount        = "char_count"
	MetricReplyReceived    = "reply_received"
	MetricMentionReceived  = "mention_received"
	MetricTopicInitiated   = "topic_initiated"
	MetricReactionGiven    = "reaction_given"
	MetricReactionReceived = "reaction_received"
	MetricPinReceived      = "pin_received"
)

// Counters holds the eight raw activity counters for one user. It doubles
// as the per-event delta type: deltas add field-wise, which is what makes
// batching and out-of-order flushing safe.
type Counters struct {
	MessageCount     int
	CharCount        int
	ReplyReceived    int
	MentionReceived  int
	TopicInitiated   int
	ReactionGiven    int
	ReactionReceived int
	PinReceived      int
}

// Add accumulates d into c.
func (c *Counters) Add(d Counters) {
	c.MessageCount += d.MessageCount
	c.CharCount += d.CharCount
	c.ReplyReceived += d.ReplyReceived
	c.MentionReceived += d.MentionReceived
	c.TopicInitiated += d.TopicInitiated
	c.ReactionGiven += d.ReactionGiven
	c.ReactionReceived += d.ReactionReceived
	c.PinReceived += d.PinReceived
}

// Clamp floors every counter at zero. Pin removals carry a negative
// pin_received delta and must not drive the stored counter below zero.
func (c *Counters) Clamp() {
	if c.MessageCount < 0 {
		c.MessageCount = 0
	}
	if c.CharCount < 0 {
		c.CharCount = 0
	}
	if c.ReplyReceived < 0 {
		c.ReplyReceived = 0
	}
	if c.MentionReceived < 0 {
		c.MentionReceived = 0
	}
	if c.TopicInitiated < 0 {
		c.TopicInitiated = 0
	}
	if c.ReactionGiven < 0 {
		c.ReactionGiven = 0
	}
	if c.ReactionReceived < 0 {
		c.ReactionReceived = 0
	}
	if c.PinReceived < 0 {
		c.PinReceived = 0
	}
}

// IsZero reports whether every counter is zero.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// ByName returns the counters keyed by metric name.
func (c Counters) ByName() map[string]int {
	return map[string]int{
		MetricMessageCount:     c.MessageCount,
		MetricCharCount:        c.CharCount,
		MetricReplyReceived:    c.ReplyReceived,
		MetricMentionReceived:  c.MentionReceived,
		MetricTopicInitiated:   c.TopicInitiated,
		MetricReactionGiven:    c.ReactionGiven,
		MetricReactionReceived: c.ReactionReceived,
		MetricPinReceived:      c.PinReceived,
	}
}

// Record is one row of the external activity table, keyed by
// (UserID, Period). Score is always the weighted sum of Counters and is
// recomputed on every write, never incremented in place.
type Record struct {
	RecordID  string // store-assigned row id, empty before first insert
	UserID    string
	UserName  string
	Period    string // calendar month, "2006-01"
	Counters  Counters
	Score     float64
	UpdatedAt time.Time
}

// PeriodOf returns the scoring period bucket for t (UTC calendar month).
func PeriodOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}
