// Package pinwatch detects pin and unpin actions by polling the chat's pin
// list and diffing it against the previously seen set. The platform emits
// no push event for pins, so polling is the only signal.
package pinwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chatpulse/internal/archive"
	"chatpulse/internal/cache"
	"chatpulse/internal/extract"
	"chatpulse/internal/feishu"
	"chatpulse/internal/metrics"
	"chatpulse/internal/model"
)

// NameResolver maps a user id to a display name, falling back to the id.
type NameResolver func(ctx context.Context, userID string) string

// Sink receives the pin events the monitor derives.
type Sink func(model.Event)

// Monitor polls the pin list. The first poll only seeds the known set; no
// events are emitted for pins that predate startup. Later polls emit one
// event per set difference.
type Monitor struct {
	api         feishu.Client
	db          *archive.DB
	chatID      string
	driveFolder string
	interval    time.Duration
	sink        Sink
	nameOf      NameResolver
	log         zerolog.Logger
	notify      bool

	details *cache.SyncLRU[string, feishu.MessageDetail]
	known   map[string]feishu.PinItem
	warm    bool

	now func() time.Time
}

func NewMonitor(api feishu.Client, db *archive.DB, chatID string, interval time.Duration, sink Sink, nameOf NameResolver, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if nameOf == nil {
		nameOf = func(_ context.Context, id string) string { return id }
	}
	if sink == nil {
		sink = func(model.Event) {}
	}
	return &Monitor{
		api:      api,
		db:       db,
		chatID:   chatID,
		interval: interval,
		sink:     sink,
		nameOf:   nameOf,
		log:      log.With().Str("component", "pinwatch").Logger(),
		notify:   true,
		details:  cache.NewSyncLRU[string, feishu.MessageDetail](200),
		known:    make(map[string]feishu.PinItem),
		now:      time.Now,
	}
}

// SetDriveFolder enables attachment archiving into the given drive folder.
func (m *Monitor) SetDriveFolder(token string) { m.driveFolder = token }

// SetNotify controls whether a card is posted to the chat on new pins.
func (m *Monitor) SetNotify(v bool) { m.notify = v }

// Run polls until ctx is cancelled. Sleeps are sliced so shutdown is
// observed within a second.
func (m *Monitor) Run(ctx context.Context) {
	for {
		m.Poll(ctx)
		deadline := m.now().Add(m.interval)
		for {
			remain := deadline.Sub(m.now())
			if remain <= 0 {
				break
			}
			if remain > time.Second {
				remain = time.Second
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(remain):
			}
		}
	}
}

// Poll runs one poll cycle. A listing failure leaves the known set
// untouched so the next successful poll diffs against pre-failure state.
func (m *Monitor) Poll(ctx context.Context) {
	metrics.PinPolls.Inc()
	items, err := m.api.ListPins(ctx, m.chatID)
	if err != nil {
		m.log.Warn().Err(err).Msg("pin list failed")
		return
	}
	current := make(map[string]feishu.PinItem, len(items))
	for _, it := range items {
		current[it.MessageID] = it
	}

	if !m.warm {
		m.warm = true
		m.known = current
		for id := range current {
			m.cacheDetail(ctx, id)
		}
		m.log.Info().Int("pins", len(current)).Msg("pin set seeded")
		return
	}

	for id, it := range current {
		if _, ok := m.known[id]; !ok {
			m.handleAdded(ctx, it)
		}
	}
	for id, it := range m.known {
		if _, ok := current[id]; !ok {
			m.handleRemoved(ctx, it)
		}
	}
	m.known = current
}

func (m *Monitor) cacheDetail(ctx context.Context, messageID string) (feishu.MessageDetail, bool) {
	if d, ok := m.details.Get(messageID); ok {
		return d, true
	}
	d, err := m.api.GetMessageDetail(ctx, messageID)
	if err != nil {
		m.log.Warn().Err(err).Str("message_id", messageID).Msg("pin detail fetch failed")
		return feishu.MessageDetail{}, false
	}
	m.details.Set(messageID, d)
	return d, true
}

func (m *Monitor) handleAdded(ctx context.Context, it feishu.PinItem) {
	metrics.PinEvents.WithLabelValues("added").Inc()
	detail, ok := m.cacheDetail(ctx, it.MessageID)
	if !ok {
		// Without the sender there is nobody to credit.
		return
	}
	content := extract.Extract(detail.Content)
	senderName := m.nameOf(ctx, detail.SenderID)
	operatorName := m.nameOf(ctx, it.OperatorID)
	tokens := m.archiveAttachments(ctx, it.MessageID, content.ImageKeys)

	if m.db != nil {
		err := m.db.SavePin(ctx, archive.Pin{
			MessageID:    it.MessageID,
			SenderID:     detail.SenderID,
			SenderName:   senderName,
			OperatorID:   it.OperatorID,
			OperatorName: operatorName,
			Content:      content.Text,
			MsgType:      detail.MsgType,
			FileTokens:   tokens,
			CreateTime:   detail.CreateTime,
			PinTime:      it.CreateTime,
			ArchiveTime:  m.now(),
		})
		if err != nil {
			m.log.Warn().Err(err).Str("message_id", it.MessageID).Msg("pin archive failed")
		}
	}
	if m.notify {
		m.sendPinCard(ctx, senderName, operatorName, content.Text)
	}
	m.sink(model.Event{
		ID:   fmt.Sprintf("pin.add:%s:%d", it.MessageID, m.now().Unix()),
		Kind: model.KindPinAdded,
		Time: m.now(),
		Pin: &model.Pin{
			MessageID:    it.MessageID,
			SenderID:     detail.SenderID,
			SenderName:   senderName,
			OperatorID:   it.OperatorID,
			OperatorName: operatorName,
		},
	})
	m.log.Info().Str("message_id", it.MessageID).Str("sender", senderName).Msg("pin added")
}

func (m *Monitor) handleRemoved(ctx context.Context, it feishu.PinItem) {
	metrics.PinEvents.WithLabelValues("removed").Inc()
	if m.db != nil {
		if err := m.db.DeletePin(ctx, it.MessageID); err != nil {
			m.log.Warn().Err(err).Str("message_id", it.MessageID).Msg("pin archive delete failed")
		}
	}
	// Only cached details can attribute the unpin; the message may be gone
	// from the platform by now.
	detail, ok := m.details.Get(it.MessageID)
	if !ok {
		m.log.Info().Str("message_id", it.MessageID).Msg("pin removed, sender unknown")
		return
	}
	m.sink(model.Event{
		ID:   fmt.Sprintf("pin.remove:%s:%d", it.MessageID, m.now().Unix()),
		Kind: model.KindPinRemoved,
		Time: m.now(),
		Pin: &model.Pin{
			MessageID:  it.MessageID,
			SenderID:   detail.SenderID,
			SenderName: m.nameOf(ctx, detail.SenderID),
		},
	})
	m.log.Info().Str("message_id", it.MessageID).Msg("pin removed")
}

// archiveAttachments mirrors message attachments into the drive folder and
// returns the resulting file tokens. Failures are logged and skipped.
func (m *Monitor) archiveAttachments(ctx context.Context, messageID string, imageKeys []string) []string {
	if m.driveFolder == "" || len(imageKeys) == 0 {
		return nil
	}
	var tokens []string
	for _, key := range imageKeys {
		data, err := m.api.DownloadResource(ctx, messageID, key, "image")
		if err != nil {
			m.log.Warn().Err(err).Str("file_key", key).Msg("attachment download failed")
			continue
		}
		name := fmt.Sprintf("pin_%s_%s.png", messageID, key)
		token, err := m.api.UploadToDrive(ctx, m.driveFolder, name, data)
		if err != nil {
			m.log.Warn().Err(err).Str("file_key", key).Msg("attachment upload failed")
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

func (m *Monitor) sendPinCard(ctx context.Context, senderName, operatorName, text string) {
	preview := []rune(text)
	if len(preview) > 100 {
		preview = append(preview[:100], '…')
	}
	card, _ := json.Marshal(map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"title":    map[string]any{"tag": "plain_text", "content": "📌 新的置顶消息"},
			"template": "blue",
		},
		"elements": []any{
			map[string]any{
				"tag": "div",
				"text": map[string]any{
					"tag":     "lark_md",
					"content": fmt.Sprintf("**发送者**: %s\n**操作者**: %s\n**内容**: %s", senderName, operatorName, string(preview)),
				},
			},
		},
	})
	if err := m.api.SendCard(ctx, m.chatID, card); err != nil {
		m.log.Warn().Err(err).Msg("pin notification failed")
	}
}
