// Package listen maintains the long-lived websocket subscription that
// delivers chat events, converting raw frames into model events.
package listen

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatpulse/internal/model"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 90 * time.Second
	maxBackoff   = time.Minute
)

// Handler receives each decoded event, in frame arrival order.
type Handler func(model.Event)

// Listener dials the event endpoint and reconnects with capped backoff
// whenever the connection drops.
type Listener struct {
	endpoint func(ctx context.Context) (string, error)
	handler  Handler
	log      zerolog.Logger
}

func NewListener(endpoint func(ctx context.Context) (string, error), handler Handler, log zerolog.Logger) *Listener {
	return &Listener{
		endpoint: endpoint,
		handler:  handler,
		log:      log.With().Str("component", "listen").Logger(),
	}
}

// Run blocks until ctx is cancelled, redialing between sessions.
func (l *Listener) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		started := time.Now()
		err := l.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > time.Minute {
			backoff = time.Second
		}
		l.log.Warn().Err(err).Dur("backoff", backoff).Msg("connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (l *Listener) runOnce(ctx context.Context) error {
	url, err := l.endpoint(ctx)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	l.log.Info().Msg("event connection established")

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	// Close the connection when ctx cancels so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		ev, ok := ParseFrame(data)
		if !ok {
			continue
		}
		l.handler(ev)
	}
}

// eventFrame is the v2 event envelope.
type eventFrame struct {
	Schema string `json:"schema"`
	Header struct {
		EventID    string `json:"event_id"`
		EventType  string `json:"event_type"`
		CreateTime string `json:"create_time"`
	} `json:"header"`
	Event json.RawMessage `json:"event"`
}

// ParseFrame decodes one raw frame into a model event. Frames of types the
// pipeline does not score return ok=false.
func ParseFrame(data []byte) (model.Event, bool) {
	var f eventFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return model.Event{}, false
	}
	ev := model.Event{ID: f.Header.EventID, Time: frameTime(f.Header.CreateTime)}
	switch f.Header.EventType {
	case "im.message.receive_v1":
		var body struct {
			Sender struct {
				SenderID struct {
					OpenID string `json:"open_id"`
				} `json:"sender_id"`
			} `json:"sender"`
			Message struct {
				MessageID   string `json:"message_id"`
				ChatID      string `json:"chat_id"`
				ParentID    string `json:"parent_id"`
				RootID      string `json:"root_id"`
				MessageType string `json:"message_type"`
				Content     string `json:"content"`
				Mentions    []struct {
					Key string `json:"key"`
					ID  struct {
						OpenID string `json:"open_id"`
					} `json:"id"`
					Name string `json:"name"`
				} `json:"mentions"`
			} `json:"message"`
		}
		if err := json.Unmarshal(f.Event, &body); err != nil {
			return ev, false
		}
		msg := &model.Message{
			MessageID: body.Message.MessageID,
			ChatID:    body.Message.ChatID,
			SenderID:  body.Sender.SenderID.OpenID,
			ParentID:  body.Message.ParentID,
			RootID:    body.Message.RootID,
			MsgType:   body.Message.MessageType,
			Content:   body.Message.Content,
		}
		for _, m := range body.Message.Mentions {
			msg.Mentions = append(msg.Mentions, model.Mention{UserID: m.ID.OpenID, Name: m.Name})
		}
		ev.Kind = model.KindMessage
		ev.Message = msg
		return ev, true
	case "im.message.reaction.created_v1":
		var body struct {
			MessageID string `json:"message_id"`
			UserID    struct {
				OpenID string `json:"open_id"`
			} `json:"user_id"`
			ReactionType struct {
				EmojiType string `json:"emoji_type"`
			} `json:"reaction_type"`
		}
		if err := json.Unmarshal(f.Event, &body); err != nil {
			return ev, false
		}
		ev.Kind = model.KindReaction
		ev.Reaction = &model.Reaction{
			MessageID: body.MessageID,
			ReactorID: body.UserID.OpenID,
			EmojiType: body.ReactionType.EmojiType,
		}
		return ev, true
	default:
		return ev, false
	}
}

func frameTime(ms string) time.Time {
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n == 0 {
		return time.Now()
	}
	return time.UnixMilli(n)
}
