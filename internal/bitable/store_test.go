package bitable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"chatpulse/internal/model"
	"chatpulse/internal/persist"
)

type fakeDoer struct {
	lastMethod string
	lastPath   string
	lastBody   []byte
	respond    func(method, path string) string
}

func (f *fakeDoer) Do(_ context.Context, method, path string, body []byte, _ string) (*http.Response, error) {
	f.lastMethod = method
	f.lastPath = path
	f.lastBody = body
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString(f.respond(method, path))),
	}, nil
}

func newTestStore(respond func(method, path string) string) (*Store, *fakeDoer) {
	d := &fakeDoer{respond: respond}
	return NewStore(d, "appTok", "tblX"), d
}

func TestFindReturnsRow(t *testing.T) {
	s, d := newTestStore(func(string, string) string {
		return `{"code":0,"msg":"ok","data":{"items":[{
			"record_id":"rec1",
			"fields":{
				"user_name":"Alice","score":12.5,
				"message_count":3,"char_count":150,"reply_received":1,
				"mention_received":"2","topic_initiated":0,
				"reaction_given":1,"reaction_received":0,"pin_received":1
			}}]}}`
	})
	rec, found, err := s.Find(context.Background(), "alice", "2026-08")
	if err != nil || !found {
		t.Fatalf("find: %v found=%v", err, found)
	}
	if rec.RecordID != "rec1" || rec.UserName != "Alice" || rec.Score != 12.5 {
		t.Fatalf("rec %+v", rec)
	}
	if rec.Counters.MessageCount != 3 || rec.Counters.MentionReceived != 2 {
		t.Fatalf("counters %+v", rec.Counters)
	}
	if !strings.Contains(d.lastPath, "/bitable/v1/apps/appTok/tables/tblX/records/search") {
		t.Fatalf("path %s", d.lastPath)
	}
	var filter struct {
		Filter struct {
			Conditions []struct {
				FieldName string   `json:"field_name"`
				Value     []string `json:"value"`
			} `json:"conditions"`
		} `json:"filter"`
	}
	if err := json.Unmarshal(d.lastBody, &filter); err != nil {
		t.Fatal(err)
	}
	if len(filter.Filter.Conditions) != 2 {
		t.Fatalf("conditions %+v", filter.Filter)
	}
}

func TestFindAbsentIsNotError(t *testing.T) {
	s, _ := newTestStore(func(string, string) string {
		return `{"code":0,"msg":"ok","data":{"items":[]}}`
	})
	_, found, err := s.Find(context.Background(), "nobody", "2026-08")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected not found")
	}
}

func TestInsertWritesAllFields(t *testing.T) {
	s, d := newTestStore(func(string, string) string {
		return `{"code":0,"msg":"ok","data":{}}`
	})
	rec := model.Record{
		UserID: "alice", UserName: "Alice", Period: "2026-08",
		Counters: model.Counters{MessageCount: 2, PinReceived: 1},
		Score:    7.0,
	}
	if err := s.Insert(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if d.lastMethod != http.MethodPost {
		t.Fatalf("method %s", d.lastMethod)
	}
	var payload struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(d.lastBody, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Fields["user_id"] != "alice" || payload.Fields["score"] != 7.0 {
		t.Fatalf("fields %+v", payload.Fields)
	}
	if payload.Fields["message_count"] != 2.0 || payload.Fields["pin_received"] != 1.0 {
		t.Fatalf("fields %+v", payload.Fields)
	}
}

func TestUpdateMissingRecordMapsToNotFound(t *testing.T) {
	s, _ := newTestStore(func(method, path string) string {
		return `{"code":1254043,"msg":"RecordIdNotFound"}`
	})
	err := s.Update(context.Background(), "rec-gone", model.Record{UserID: "alice", Period: "2026-08"})
	if !errors.Is(err, persist.ErrNotFound) {
		t.Fatalf("expected persist.ErrNotFound, got %v", err)
	}
}

func TestUpdateTargetsRecordID(t *testing.T) {
	s, d := newTestStore(func(string, string) string {
		return `{"code":0,"msg":"ok","data":{}}`
	})
	err := s.Update(context.Background(), "rec9", model.Record{UserID: "alice", Period: "2026-08"})
	if err != nil {
		t.Fatal(err)
	}
	if d.lastMethod != http.MethodPut || !strings.HasSuffix(d.lastPath, "/records/rec9") {
		t.Fatalf("%s %s", d.lastMethod, d.lastPath)
	}
}
