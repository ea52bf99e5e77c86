package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model. It captures platform
// credentials, the monitored chat, scoring weights, and the tunables of the
// pipeline (caches, rate limit, batching, pin polling).
type Config struct {
	Chat        ChatConfig        `yaml:"chat"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Bitable     BitableConfig     `yaml:"bitable"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	Cache       CacheConfig       `yaml:"cache"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Topics      TopicsConfig      `yaml:"topics"`
	Batch       BatchConfig       `yaml:"batch"`
	Pins        PinsConfig        `yaml:"pins"`
	Report      ReportConfig      `yaml:"report"`
	Storage     StorageConfig     `yaml:"storage"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type ChatConfig struct {
	// ChatID is the single monitored group conversation. If empty, read
	// from env CHAT_ID.
	ChatID string `yaml:"chatId"`
}

type CredentialsConfig struct {
	// Feishu app credentials. If empty, read from env FEISHU_APP_ID /
	// FEISHU_APP_SECRET.
	AppID     string `yaml:"appId"`
	AppSecret string `yaml:"appSecret"`
}

type BitableConfig struct {
	// App token and table id of the activity table. If empty, read from
	// env BITABLE_APP_TOKEN / BITABLE_TABLE_ID.
	AppToken string `yaml:"appToken"`
	TableID  string `yaml:"tableId"`
}

type RateLimitConfig struct {
	// Sliding window shared by all outbound platform calls. The platform
	// throttles around 50/min; 20/min leaves headroom.
	MaxCalls int `yaml:"maxCalls"`
	PeriodS  int `yaml:"periodSeconds"`
}

type CacheConfig struct {
	// Capacities of the event-dedup and display-name caches.
	EventSize int `yaml:"eventSize"`
	NameSize  int `yaml:"nameSize"`
}

type ScoringConfig struct {
	// Per-metric score weights; missing metrics contribute zero.
	Weights map[string]float64 `yaml:"weights"`
}

type TopicsConfig struct {
	// Days since last reply bounding the active and silent states.
	ActiveDays int `yaml:"activeDays"`
	SilentDays int `yaml:"silentDays"`
}

type BatchConfig struct {
	// Processed messages between automatic flushes.
	FlushThreshold int `yaml:"flushThreshold"`
}

type PinsConfig struct {
	// Poll interval of the pin set-diff detector.
	IntervalS int `yaml:"intervalSeconds"`
	// Drive folder token for archived attachments; empty skips uploads.
	DriveFolder string `yaml:"driveFolder"`
}

type ReportConfig struct {
	// Cron spec for the weekly pin digest.
	Cron string `yaml:"cron"`
}

type StorageConfig struct {
	// Path of the local pin archive database.
	DBPath string `yaml:"dbPath"`
}

type MetricsConfig struct {
	// Listen address of the /metrics endpoint; empty disables it. If
	// empty, read from env METRICS_ADDR.
	Addr string `yaml:"addr"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		RateLimit: RateLimitConfig{MaxCalls: 20, PeriodS: 60},
		Cache:     CacheConfig{EventSize: 1000, NameSize: 500},
		Scoring: ScoringConfig{Weights: map[string]float64{
			"message_count":     1.0,
			"char_count":        0.01,
			"reply_received":    1.5,
			"mention_received":  1.5,
			"topic_initiated":   1.0,
			"reaction_given":    1.0,
			"reaction_received": 1.0,
			"pin_received":      5.0,
		}},
		Topics:  TopicsConfig{ActiveDays: 7, SilentDays: 30},
		Batch:   BatchConfig{FlushThreshold: 3},
		Pins:    PinsConfig{IntervalS: 30},
		Report:  ReportConfig{Cron: "0 9 * * 1"},
		Storage: StorageConfig{DBPath: "./chatpulse.db"},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if c.Chat.ChatID == "" {
		c.Chat.ChatID = os.Getenv("CHAT_ID")
	}
	if c.Credentials.AppID == "" {
		c.Credentials.AppID = os.Getenv("FEISHU_APP_ID")
	}
	if c.Credentials.AppSecret == "" {
		c.Credentials.AppSecret = os.Getenv("FEISHU_APP_SECRET")
	}
	if c.Bitable.AppToken == "" {
		c.Bitable.AppToken = os.Getenv("BITABLE_APP_TOKEN")
	}
	if c.Bitable.TableID == "" {
		c.Bitable.TableID = os.Getenv("BITABLE_TABLE_ID")
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = os.Getenv("METRICS_ADDR")
	}
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
