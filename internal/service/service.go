// Package service wires the event pipeline: dedup, aggregation, topic
// tracking, batched persistence, and the pin monitor.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatpulse/internal/archive"
	"chatpulse/internal/cache"
	"chatpulse/internal/feishu"
	"chatpulse/internal/metrics"
	"chatpulse/internal/model"
	"chatpulse/internal/persist"
	"chatpulse/internal/pinwatch"
	"chatpulse/internal/score"
	"chatpulse/internal/topic"
)

// Service processes events end to end. Events may arrive from the listener
// and the pin monitor concurrently; processing is serialized so per-run
// state (credited roots, reply attribution) stays coherent.
type Service struct {
	api     feishu.Client
	chatID  string
	log     zerolog.Logger
	agg     *score.Aggregator
	topics  *topic.Tracker
	batcher *persist.Batcher

	dedup   *cache.SyncLRU[string, struct{}]
	names   *cache.SyncLRU[string, string]
	senders *cache.SyncLRU[string, string]

	mu         sync.Mutex
	rosterOnce sync.Once

	monitor     *pinwatch.Monitor
	monitorStop context.CancelFunc
	monitorDone chan struct{}
}

func New(api feishu.Client, batcher *persist.Batcher, topics *topic.Tracker, chatID string, dedupSize, nameSize int, log zerolog.Logger) *Service {
	if dedupSize <= 0 {
		dedupSize = 1000
	}
	if nameSize <= 0 {
		nameSize = 500
	}
	if topics == nil {
		topics = topic.NewTracker(topic.DefaultThresholds())
	}
	return &Service{
		api:     api,
		chatID:  chatID,
		log:     log.With().Str("component", "service").Logger(),
		agg:     score.NewAggregator(),
		topics:  topics,
		batcher: batcher,
		dedup:   cache.NewSyncLRU[string, struct{}](dedupSize),
		names:   cache.NewSyncLRU[string, string](nameSize),
		senders: cache.NewSyncLRU[string, string](2000),
	}
}

// ProcessEvent runs one event through the pipeline. Replays of an event id
// still in the dedup window are dropped. The flush that a processed message
// may trigger runs after the service lock is released, so a slow
// rate-limited flush never stalls the other event-producing loop.
func (s *Service) ProcessEvent(ctx context.Context, ev model.Event) {
	if !s.ingest(ctx, ev) {
		return
	}
	if ev.Kind == model.KindMessage {
		s.batcher.MessageProcessed(ctx)
	}
}

// ingest applies the event to per-run state under the service lock and
// reports whether it was accepted.
func (s *Service) ingest(ctx context.Context, ev model.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID != "" {
		if s.dedup.Contains(ev.ID) {
			metrics.DedupHits.Inc()
			s.log.Debug().Str("event_id", ev.ID).Msg("duplicate event dropped")
			return false
		}
		s.dedup.Set(ev.ID, struct{}{})
	}
	metrics.EventsProcessed.WithLabelValues(string(ev.Kind)).Inc()

	if ev.Kind == model.KindMessage && ev.Message != nil {
		msg := ev.Message
		if msg.MessageID != "" && msg.SenderID != "" {
			s.senders.Set(msg.MessageID, msg.SenderID)
		}
		for _, m := range msg.Mentions {
			if m.UserID != "" && m.Name != "" {
				s.names.Set(m.UserID, m.Name)
			}
		}
		s.topics.Observe(*msg, s.NameOf(ctx, msg.SenderID))
	}
	if ev.Kind == model.KindPinAdded && ev.Pin != nil && ev.Pin.SenderName != "" {
		s.names.Set(ev.Pin.SenderID, ev.Pin.SenderName)
	}

	deltas := s.agg.Apply(ctx, ev, s)
	for userID, d := range deltas {
		s.batcher.Accumulate(userID, s.NameOf(ctx, userID), d)
	}
	return true
}

// SenderOf resolves a message id to its sender, preferring messages seen
// in this run over a platform lookup.
func (s *Service) SenderOf(ctx context.Context, messageID string) (string, bool) {
	if messageID == "" {
		return "", false
	}
	if sender, ok := s.senders.Get(messageID); ok {
		return sender, true
	}
	sender, err := s.api.GetMessageSender(ctx, messageID)
	if err != nil || sender == "" {
		return "", false
	}
	s.senders.Set(messageID, sender)
	return sender, true
}

// NameOf returns the display name for a user, falling back to the id. The
// member roster is fetched once on the first cache miss. Safe to call from
// any goroutine; it does not take the service lock.
func (s *Service) NameOf(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	if name, ok := s.names.Get(userID); ok {
		return name
	}
	s.rosterOnce.Do(func() {
		members, err := s.api.GetChatMembers(ctx, s.chatID)
		if err != nil {
			s.log.Warn().Err(err).Msg("member roster fetch failed")
			return
		}
		for id, name := range members {
			s.names.Set(id, name)
		}
	})
	if name, ok := s.names.Get(userID); ok {
		return name
	}
	return userID
}

// Flush pushes all pending deltas to the store now.
func (s *Service) Flush(ctx context.Context) {
	s.batcher.Flush(ctx)
}

// Topics exposes the topic tracker for reporting.
func (s *Service) Topics() *topic.Tracker { return s.topics }

// StartPinMonitor launches pin polling in the background. Pin events feed
// back into ProcessEvent like any other event.
func (s *Service) StartPinMonitor(db *archive.DB, interval time.Duration, driveFolder string, notify bool) {
	if s.monitor != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := pinwatch.NewMonitor(s.api, db, s.chatID, interval,
		func(ev model.Event) { s.ProcessEvent(context.Background(), ev) },
		s.NameOf, s.log)
	m.SetDriveFolder(driveFolder)
	m.SetNotify(notify)
	s.monitor = m
	s.monitorStop = cancel
	s.monitorDone = make(chan struct{})
	go func() {
		defer close(s.monitorDone)
		m.Run(ctx)
	}()
}

// StopPinMonitor stops polling and waits for the loop to exit.
func (s *Service) StopPinMonitor() {
	if s.monitor == nil {
		return
	}
	s.monitorStop()
	<-s.monitorDone
	s.monitor = nil
}

// Close stops background work and flushes pending deltas.
func (s *Service) Close(ctx context.Context) {
	s.StopPinMonitor()
	s.Flush(ctx)
}
