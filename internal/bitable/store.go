// Package bitable persists activity records in a Feishu bitable table,
// one row per (user, period).
package bitable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"chatpulse/internal/feishu"
	"chatpulse/internal/model"
	"chatpulse/internal/persist"
)

// recordIDNotFound is the application code the API returns when updating a
// record id that no longer exists.
const recordIDNotFound = 1254043

// apiDoer is the slice of the platform client the store needs.
type apiDoer interface {
	Do(ctx context.Context, method, path string, body []byte, endpoint string) (*http.Response, error)
}

// Store reads and writes activity rows. It implements persist.Store; each
// method is one remote round trip.
type Store struct {
	api      apiDoer
	appToken string
	tableID  string
}

func NewStore(api apiDoer, appToken, tableID string) *Store {
	return &Store{api: api, appToken: appToken, tableID: tableID}
}

func (s *Store) recordsPath(suffix string) string {
	return fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/records%s",
		url.PathEscape(s.appToken), url.PathEscape(s.tableID), suffix)
}

// Find looks up the row for (userID, period). Absence is not an error.
func (s *Store) Find(ctx context.Context, userID, period string) (model.Record, bool, error) {
	var zero model.Record
	if userID == "" || period == "" {
		return zero, false, errors.New("bitable: empty user id or period")
	}
	body, _ := json.Marshal(map[string]any{
		"filter": map[string]any{
			"conjunction": "and",
			"conditions": []map[string]any{
				{"field_name": "user_id", "operator": "is", "value": []string{userID}},
				{"field_name": "period", "operator": "is", "value": []string{period}},
			},
		},
		"page_size": 1,
	})
	resp, err := s.api.Do(ctx, http.MethodPost, s.recordsPath("/search"), body, "bitable.search")
	if err != nil {
		return zero, false, err
	}
	var data struct {
		Items []struct {
			RecordID string                     `json:"record_id"`
			Fields   map[string]json.RawMessage `json:"fields"`
		} `json:"items"`
	}
	if err := feishu.DecodeEnvelope(resp, &data); err != nil {
		return zero, false, err
	}
	if len(data.Items) == 0 {
		return zero, false, nil
	}
	it := data.Items[0]
	rec := model.Record{
		RecordID: it.RecordID,
		UserID:   userID,
		Period:   period,
		UserName: fieldString(it.Fields["user_name"]),
		Score:    fieldFloat(it.Fields["score"]),
		Counters: model.Counters{
			MessageCount:     fieldInt(it.Fields[model.MetricMessageCount]),
			CharCount:        fieldInt(it.Fields[model.MetricCharCount]),
			ReplyReceived:    fieldInt(it.Fields[model.MetricReplyReceived]),
			MentionReceived:  fieldInt(it.Fields[model.MetricMentionReceived]),
			TopicInitiated:   fieldInt(it.Fields[model.MetricTopicInitiated]),
			ReactionGiven:    fieldInt(it.Fields[model.MetricReactionGiven]),
			ReactionReceived: fieldInt(it.Fields[model.MetricReactionReceived]),
			PinReceived:      fieldInt(it.Fields[model.MetricPinReceived]),
		},
	}
	return rec, true, nil
}

// Insert creates a new row from rec.
func (s *Store) Insert(ctx context.Context, rec model.Record) error {
	body, _ := json.Marshal(map[string]any{"fields": s.fields(rec)})
	resp, err := s.api.Do(ctx, http.MethodPost, s.recordsPath(""), body, "bitable.create")
	if err != nil {
		return err
	}
	return feishu.DecodeEnvelope(resp, nil)
}

// Update overwrites the row recordID with rec's full field set. A missing
// record id maps to persist.ErrNotFound.
func (s *Store) Update(ctx context.Context, recordID string, rec model.Record) error {
	if recordID == "" {
		return errors.New("bitable: empty record id")
	}
	body, _ := json.Marshal(map[string]any{"fields": s.fields(rec)})
	resp, err := s.api.Do(ctx, http.MethodPut, s.recordsPath("/"+url.PathEscape(recordID)), body, "bitable.update")
	if err != nil {
		return err
	}
	if err := feishu.DecodeEnvelope(resp, nil); err != nil {
		var apiErr *feishu.APIError
		if errors.As(err, &apiErr) && apiErr.Code == recordIDNotFound {
			return fmt.Errorf("record %s: %w", recordID, persist.ErrNotFound)
		}
		return err
	}
	return nil
}

func (s *Store) fields(rec model.Record) map[string]any {
	f := map[string]any{
		"user_id":   rec.UserID,
		"user_name": rec.UserName,
		"period":    rec.Period,
		"score":     rec.Score,
	}
	for name, v := range rec.Counters.ByName() {
		f[name] = v
	}
	if !rec.UpdatedAt.IsZero() {
		f["last_updated"] = rec.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return f
}

// Bitable number cells come back as JSON numbers but text-formula columns
// may yield strings; accept both.
func fieldInt(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var v int
		_, _ = fmt.Sscanf(s, "%d", &v)
		return v
	}
	return 0
}

func fieldFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func fieldString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// Text cells may arrive as a segment list.
	var segs []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segs); err == nil {
		out := ""
		for _, sg := range segs {
			out += sg.Text
		}
		return out
	}
	return ""
}
