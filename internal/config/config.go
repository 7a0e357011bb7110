package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the root runtime configuration for Omnibot.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Channels  ChannelsConfig            `json:"channels"`
	Storage   StorageConfig             `json:"storage"`
	Retrieval RetrievalConfig           `json:"retrieval"`
	Realtime  RealtimeConfig            `json:"realtime"`
}

type GeneralConfig struct {
	LogLevel      string  `json:"logLevel"`
	AgentsDir     string  `json:"agentsDir"`     // directory of agent YAML files
	DefaultAgent  string  `json:"defaultAgent"`  // agent id used when a channel doesn't name one
	DefaultVendor string  `json:"defaultVendor"` // fallback vendor for unknown model names
	MaxIterations int     `json:"maxIterations"` // tool-call loop ceiling
	HistoryLimit  int     `json:"historyLimit"`  // most-recent-N messages loaded per thread
	AgentCacheTTL int     `json:"agentCacheTTLSeconds"`
	RatePerMinute float64 `json:"ratePerMinute"` // provider call throttle
	RateBurst     int     `json:"rateBurst"`
}

// ProviderConfig holds per-vendor credentials. Provider instances are
// cached per (vendor, credential).
type ProviderConfig struct {
	APIKey       string `json:"apiKey,omitempty"`
	APIBase      string `json:"apiBase,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

type ChannelsConfig struct {
	Web      WebConfig      `json:"web"`
	SMS      SMSConfig      `json:"sms"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
}

type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Path    string `json:"path,omitempty"` // websocket endpoint path (default: /ws)
}

type SMSConfig struct {
	Enabled     bool   `json:"enabled"`
	AccountSID  string `json:"accountSid,omitempty"`
	AuthToken   string `json:"authToken,omitempty"`
	FromNumber  string `json:"fromNumber,omitempty"`
	WebhookPath string `json:"webhookPath,omitempty"`
}

type WhatsAppConfig struct {
	Enabled     bool   `json:"enabled"`
	AccountSID  string `json:"accountSid,omitempty"`
	AuthToken   string `json:"authToken,omitempty"`
	FromNumber  string `json:"fromNumber,omitempty"`
	WebhookPath string `json:"webhookPath,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}

type StorageConfig struct {
	DBPath string `json:"dbPath"`
}

type RetrievalConfig struct {
	MatchThreshold    float64 `json:"matchThreshold"`
	FallbackThreshold float64 `json:"fallbackThreshold"`
	MatchCount        int     `json:"matchCount"`
}

// RealtimeConfig tunes the voice bridge.
type RealtimeConfig struct {
	Enabled        bool   `json:"enabled"`
	UpstreamURL    string `json:"upstreamUrl,omitempty"`
	Voice          string `json:"voice,omitempty"`
	MaxCallSeconds int    `json:"maxCallSeconds,omitempty"`
	StreamPath     string `json:"streamPath,omitempty"`
}

// DefaultPath returns the default config location (~/.omnibot/config.json).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".omnibot", "config.json")
}

// Load reads and validates a config file, applying defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	if c.General.AgentsDir == "" {
		c.General.AgentsDir = "agents"
	}
	if c.General.DefaultVendor == "" {
		c.General.DefaultVendor = "openai"
	}
	if c.General.MaxIterations <= 0 {
		c.General.MaxIterations = 5
	}
	if c.General.HistoryLimit <= 0 {
		c.General.HistoryLimit = 20
	}
	if c.General.AgentCacheTTL <= 0 {
		c.General.AgentCacheTTL = 300
	}
	if c.General.RatePerMinute <= 0 {
		c.General.RatePerMinute = 60
	}
	if c.General.RateBurst <= 0 {
		c.General.RateBurst = 5
	}
	if c.Storage.DBPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.Storage.DBPath = filepath.Join(home, ".omnibot", "omnibot.db")
		} else {
			c.Storage.DBPath = "omnibot.db"
		}
	}
	if c.Retrieval.MatchThreshold <= 0 {
		c.Retrieval.MatchThreshold = 0.7
	}
	if c.Retrieval.FallbackThreshold <= 0 {
		c.Retrieval.FallbackThreshold = 0.5
	}
	if c.Retrieval.MatchCount <= 0 {
		c.Retrieval.MatchCount = 5
	}
	if c.Channels.Web.Port == 0 {
		c.Channels.Web.Port = 8080
	}
	if c.Channels.Web.Path == "" {
		c.Channels.Web.Path = "/ws"
	}
	if c.Channels.SMS.WebhookPath == "" {
		c.Channels.SMS.WebhookPath = "/webhook/sms"
	}
	if c.Channels.WhatsApp.WebhookPath == "" {
		c.Channels.WhatsApp.WebhookPath = "/webhook/whatsapp"
	}
	if c.Realtime.Voice == "" {
		c.Realtime.Voice = "alloy"
	}
	if c.Realtime.MaxCallSeconds <= 0 {
		c.Realtime.MaxCallSeconds = 600
	}
	if c.Realtime.StreamPath == "" {
		c.Realtime.StreamPath = "/stream/voice"
	}
}
