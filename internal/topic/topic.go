// Package topic tracks per-thread aggregate state and derives a
// three-state lifecycle from the time of the last reply.
package topic

import (
	"sort"
	"sync"
	"time"

	"chatpulse/internal/model"
)

// Status is the derived topic lifecycle state.
type Status string

const (
	StatusActive Status = "active"
	StatusSilent Status = "silent"
	StatusCold   Status = "cold"
)

// Thresholds configures the lifecycle boundaries, in days since the last
// reply.
type Thresholds struct {
	ActiveDays int
	SilentDays int
}

// DefaultThresholds matches the production configuration: replies within a
// week keep a topic active, within a month merely silent.
func DefaultThresholds() Thresholds {
	return Thresholds{ActiveDays: 7, SilentDays: 30}
}

type state struct {
	rootID        string
	initiatorID   string
	initiatorName string
	created       time.Time
	lastReply     time.Time
	replyCount    int
	participants  map[string]struct{} // display names, deduplicated
}

// Snapshot is a read-only view of one topic.
type Snapshot struct {
	RootID           string
	InitiatorID      string
	InitiatorName    string
	Created          time.Time
	LastReply        time.Time
	ReplyCount       int
	Participants     []string
	ParticipantCount int
	Status           Status
}

// Tracker maintains topic state for the lifetime of the process. Topics are
// created at thread roots and never deleted.
type Tracker struct {
	mu     sync.Mutex
	th     Thresholds
	topics map[string]*state
	now    func() time.Time
}

func NewTracker(th Thresholds) *Tracker {
	if th.ActiveDays <= 0 {
		th = DefaultThresholds()
	}
	return &Tracker{th: th, topics: make(map[string]*state), now: time.Now}
}

// Observe folds one message into topic state. A message without a root id
// is itself a root and creates the topic; a message carrying a root id
// updates that topic's reply count, last-reply time, and participant set.
// Participants are display names to match the store's display-oriented
// schema.
func (t *Tracker) Observe(msg model.Message, displayName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()

	if msg.RootID == "" || msg.RootID == msg.MessageID {
		s, ok := t.topics[msg.MessageID]
		if !ok {
			s = &state{rootID: msg.MessageID, created: now, participants: make(map[string]struct{})}
			t.topics[msg.MessageID] = s
		}
		s.initiatorID = msg.SenderID
		s.initiatorName = displayName
		s.lastReply = now
		if displayName != "" {
			s.participants[displayName] = struct{}{}
		}
		return
	}

	s, ok := t.topics[msg.RootID]
	if !ok {
		// Root predates this process; track what we can from here on.
		s = &state{rootID: msg.RootID, created: now, participants: make(map[string]struct{})}
		t.topics[msg.RootID] = s
	}
	s.lastReply = now
	s.replyCount++
	if displayName != "" {
		s.participants[displayName] = struct{}{}
	}
}

// Get returns a snapshot of the topic rooted at rootID, with its status
// derived from the current time.
func (t *Tracker) Get(rootID string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.topics[rootID]
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshot(s), true
}

// All returns snapshots of every tracked topic, ordered by root id.
func (t *Tracker) All() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, 0, len(t.topics))
	for _, s := range t.topics {
		out = append(out, t.snapshot(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RootID < out[j].RootID })
	return out
}

// Len returns the number of tracked topics.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.topics)
}

func (t *Tracker) snapshot(s *state) Snapshot {
	names := make([]string, 0, len(s.participants))
	for n := range s.participants {
		names = append(names, n)
	}
	sort.Strings(names)
	return Snapshot{
		RootID:           s.rootID,
		InitiatorID:      s.initiatorID,
		InitiatorName:    s.initiatorName,
		Created:          s.created,
		LastReply:        s.lastReply,
		ReplyCount:       s.replyCount,
		Participants:     names,
		ParticipantCount: len(names),
		Status:           t.status(s.lastReply),
	}
}

func (t *Tracker) status(lastReply time.Time) Status {
	idle := t.now().Sub(lastReply)
	switch {
	case idle <= time.Duration(t.th.ActiveDays)*24*time.Hour:
		return StatusActive
	case idle <= time.Duration(t.th.SilentDays)*24*time.Hour:
		return StatusSilent
	default:
		return StatusCold
	}
}
