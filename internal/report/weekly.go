// Package report produces the weekly pin digest from the local archive.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"chatpulse/internal/archive"
)

// CardSender posts an interactive card to a chat.
type CardSender interface {
	SendCard(ctx context.Context, chatID string, card json.RawMessage) error
}

// Weekly builds and posts a digest of the pins archived over the last
// seven days. It reads only the local archive, so producing the report
// costs no platform calls beyond the one send.
type Weekly struct {
	sender CardSender
	db     *archive.DB
	chatID string
	log    zerolog.Logger
	now    func() time.Time
}

func NewWeekly(sender CardSender, db *archive.DB, chatID string, log zerolog.Logger) *Weekly {
	return &Weekly{
		sender: sender,
		db:     db,
		chatID: chatID,
		log:    log.With().Str("component", "report").Logger(),
		now:    time.Now,
	}
}

// Schedule registers the digest on c under the given cron spec.
func (w *Weekly) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := w.Send(ctx); err != nil {
			w.log.Error().Err(err).Msg("weekly digest failed")
		}
	})
}

// cursorName keys the archive cursor holding the end of the last reported
// window.
const cursorName = "weekly_report"

// Send posts the digest covering the pins archived since the last report.
// The first report falls back to a seven-day window. The cursor advances
// only after a successful send, so each pin is reported exactly once and a
// missed fire is caught up by the next one. A window with no pins still
// sends, stating that.
func (w *Weekly) Send(ctx context.Context) error {
	now := w.now()
	since := now.AddDate(0, 0, -7)
	if v, err := w.db.LoadCursor(ctx, cursorName); err != nil {
		w.log.Warn().Err(err).Msg("report cursor load failed, using default window")
	} else if v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			since = ts
		}
	}
	pins, err := w.db.ListPinsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list pins: %w", err)
	}
	card := BuildCard(pins, since, now)
	if err := w.sender.SendCard(ctx, w.chatID, card); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	if err := w.db.SaveCursor(ctx, cursorName, now.UTC().Format(time.RFC3339)); err != nil {
		w.log.Warn().Err(err).Msg("report cursor save failed")
	}
	w.log.Info().Int("pins", len(pins)).Time("since", since).Msg("weekly digest sent")
	return nil
}

// BuildCard renders the digest card. Pins are grouped by sender, senders
// ordered by pin count descending then name.
func BuildCard(pins []archive.Pin, since, until time.Time) json.RawMessage {
	type group struct {
		name string
		pins []archive.Pin
	}
	bySender := make(map[string]*group)
	for _, p := range pins {
		key := p.SenderID
		g, ok := bySender[key]
		if !ok {
			name := p.SenderName
			if name == "" {
				name = p.SenderID
			}
			g = &group{name: name}
			bySender[key] = g
		}
		g.pins = append(g.pins, p)
	}
	groups := make([]*group, 0, len(bySender))
	for _, g := range bySender {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i].pins) != len(groups[j].pins) {
			return len(groups[i].pins) > len(groups[j].pins)
		}
		return groups[i].name < groups[j].name
	})

	body := ""
	if len(pins) == 0 {
		body = "本周没有新的置顶消息。"
	} else {
		for _, g := range groups {
			body += fmt.Sprintf("**%s** (%d)\n", g.name, len(g.pins))
			for _, p := range g.pins {
				preview := []rune(p.Content)
				if len(preview) > 60 {
					preview = append(preview[:60], '…')
				}
				body += fmt.Sprintf("- %s %s\n", p.PinTime.Format("01-02"), string(preview))
			}
		}
	}

	card, _ := json.Marshal(map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"title": map[string]any{
				"tag":     "plain_text",
				"content": fmt.Sprintf("📌 本周置顶回顾 %s ~ %s", since.Format("01-02"), until.Format("01-02")),
			},
			"template": "purple",
		},
		"elements": []any{
			map[string]any{
				"tag":  "div",
				"text": map[string]any{"tag": "lark_md", "content": body},
			},
		},
	})
	return card
}
