package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.RateLimit.MaxCalls != 20 || cfg.RateLimit.PeriodS != 60 {
		t.Fatalf("rate limit %+v", cfg.RateLimit)
	}
	if cfg.Cache.EventSize != 1000 || cfg.Cache.NameSize != 500 {
		t.Fatalf("cache %+v", cfg.Cache)
	}
	if cfg.Batch.FlushThreshold != 3 {
		t.Fatalf("batch %+v", cfg.Batch)
	}
	if cfg.Topics.ActiveDays != 7 || cfg.Topics.SilentDays != 30 {
		t.Fatalf("topics %+v", cfg.Topics)
	}
	if cfg.Scoring.Weights["pin_received"] != 5.0 {
		t.Fatalf("weights %+v", cfg.Scoring.Weights)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "cfg.yaml")
	cfg := Default()
	cfg.Chat.ChatID = "oc_test"
	cfg.Pins.IntervalS = 45
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Chat.ChatID != "oc_test" || got.Pins.IntervalS != 45 {
		t.Fatalf("got %+v", got)
	}
	if got.Scoring.Weights["char_count"] != 0.01 {
		t.Fatalf("weights %+v", got.Scoring.Weights)
	}
}

func TestResolveEnvFillsBlanksOnly(t *testing.T) {
	t.Setenv("FEISHU_APP_ID", "env-app")
	t.Setenv("CHAT_ID", "env-chat")
	cfg := Default()
	cfg.Chat.ChatID = "explicit-chat"
	cfg.ResolveEnv()
	if cfg.Credentials.AppID != "env-app" {
		t.Fatalf("app id %q", cfg.Credentials.AppID)
	}
	if cfg.Chat.ChatID != "explicit-chat" {
		t.Fatalf("chat id %q", cfg.Chat.ChatID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}
