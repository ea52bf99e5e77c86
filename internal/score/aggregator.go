package score

import (
	"context"

	"chatpulse/internal/extract"
	"chatpulse/internal/model"
)

// SenderResolver resolves a message id to its sender. Implementations
// consult messages seen earlier in the same run before falling back to a
// platform lookup; a miss (deleted message, lookup failure) returns ok=false
// and the affected credit is skipped silently.
type SenderResolver interface {
	SenderOf(ctx context.Context, messageID string) (string, bool)
}

// Aggregator turns events into per-user counter deltas. It remembers which
// thread roots have already earned topic credit, so a root is credited
// exactly once: when its first reply is observed.
type Aggregator struct {
	creditedRoots map[string]struct{}
}

func NewAggregator() *Aggregator {
	return &Aggregator{creditedRoots: make(map[string]struct{})}
}

// Apply computes the deltas caused by a single live event. The returned map
// may credit several users (sender, reply target, mentioned users) and is
// empty for events that resolve to nothing.
func (a *Aggregator) Apply(ctx context.Context, ev model.Event, resolver SenderResolver) map[string]model.Counters {
	deltas := make(map[string]model.Counters)
	switch ev.Kind {
	case model.KindMessage:
		if ev.Message != nil {
			a.applyMessage(ctx, *ev.Message, resolver, deltas)
		}
	case model.KindReaction:
		if ev.Reaction != nil {
			applyReaction(ctx, *ev.Reaction, resolver, deltas)
		}
	case model.KindPinAdded:
		if ev.Pin != nil && ev.Pin.SenderID != "" {
			add(deltas, ev.Pin.SenderID, model.Counters{PinReceived: 1})
		}
	case model.KindPinRemoved:
		if ev.Pin != nil && ev.Pin.SenderID != "" {
			add(deltas, ev.Pin.SenderID, model.Counters{PinReceived: -1})
		}
	}
	return deltas
}

func (a *Aggregator) applyMessage(ctx context.Context, msg model.Message, resolver SenderResolver, deltas map[string]model.Counters) {
	if msg.SenderID == "" {
		return
	}
	content := extract.Extract(msg.Content)
	add(deltas, msg.SenderID, model.Counters{
		MessageCount: 1,
		CharCount:    extract.CharCount(content.Text),
	})

	// First observed reply into a thread proves the root actually started
	// a topic; credit its sender once.
	if msg.RootID != "" && msg.RootID != msg.MessageID {
		if _, done := a.creditedRoots[msg.RootID]; !done {
			if rootSender, ok := resolver.SenderOf(ctx, msg.RootID); ok && rootSender != "" {
				add(deltas, rootSender, model.Counters{TopicInitiated: 1})
				a.creditedRoots[msg.RootID] = struct{}{}
			}
		}
	}

	alreadyCredited := make(map[string]struct{})
	if msg.ParentID != "" {
		target := resolveReplyTarget(ctx, msg, resolver)
		if target != "" {
			add(deltas, target, model.Counters{ReplyReceived: 1})
			alreadyCredited[target] = struct{}{}
		}
	}

	for _, m := range msg.Mentions {
		if m.UserID == "" {
			continue
		}
		// A user already credited as the reply target is not credited a
		// second time for the textual mention in the same message.
		if _, dup := alreadyCredited[m.UserID]; dup {
			continue
		}
		add(deltas, m.UserID, model.Counters{MentionReceived: 1})
		alreadyCredited[m.UserID] = struct{}{}
	}
}

// resolveReplyTarget picks who gets "reply received" credit. Threaded-view
// clients set parent equal to root regardless of the literal reply target;
// when that happens and the message carries mentions, the first mention is
// the best available guess. Otherwise the parent message's sender is looked
// up, and a miss skips the credit entirely.
func resolveReplyTarget(ctx context.Context, msg model.Message, resolver SenderResolver) string {
	if msg.ParentID == msg.RootID && len(msg.Mentions) > 0 {
		return msg.Mentions[0].UserID
	}
	if sender, ok := resolver.SenderOf(ctx, msg.ParentID); ok {
		return sender
	}
	return ""
}

func applyReaction(ctx context.Context, r model.Reaction, resolver SenderResolver, deltas map[string]model.Counters) {
	if r.ReactorID == "" || r.MessageID == "" {
		return
	}
	sender, ok := resolver.SenderOf(ctx, r.MessageID)
	if !ok || sender == "" {
		return
	}
	add(deltas, r.ReactorID, model.Counters{ReactionGiven: 1})
	if sender != r.ReactorID {
		add(deltas, sender, model.Counters{ReactionReceived: 1})
	}
}

func add(deltas map[string]model.Counters, userID string, d model.Counters) {
	cur := deltas[userID]
	cur.Add(d)
	deltas[userID] = cur
}
