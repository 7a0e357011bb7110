package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"providers":{"openai":{"apiKey":"sk-test"}}}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.General.LogLevel != "info" {
		t.Errorf("logLevel = %s", cfg.General.LogLevel)
	}
	if cfg.General.DefaultVendor != "openai" {
		t.Errorf("defaultVendor = %s", cfg.General.DefaultVendor)
	}
	if cfg.General.MaxIterations != 5 || cfg.General.HistoryLimit != 20 {
		t.Errorf("loop defaults = %d / %d", cfg.General.MaxIterations, cfg.General.HistoryLimit)
	}
	if cfg.Retrieval.MatchThreshold != 0.7 || cfg.Retrieval.FallbackThreshold != 0.5 || cfg.Retrieval.MatchCount != 5 {
		t.Errorf("retrieval defaults = %+v", cfg.Retrieval)
	}
	if cfg.Channels.Web.Port != 8080 || cfg.Channels.Web.Path != "/ws" {
		t.Errorf("web defaults = %+v", cfg.Channels.Web)
	}
	if cfg.Channels.SMS.WebhookPath != "/webhook/sms" || cfg.Channels.WhatsApp.WebhookPath != "/webhook/whatsapp" {
		t.Errorf("webhook defaults = %s / %s", cfg.Channels.SMS.WebhookPath, cfg.Channels.WhatsApp.WebhookPath)
	}
	if cfg.Realtime.Voice != "alloy" || cfg.Realtime.MaxCallSeconds != 600 || cfg.Realtime.StreamPath != "/stream/voice" {
		t.Errorf("realtime defaults = %+v", cfg.Realtime)
	}
	if cfg.Storage.DBPath == "" {
		t.Error("dbPath default not set")
	}
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"general": {"logLevel": "debug", "maxIterations": 8},
		"channels": {"web": {"enabled": true, "port": 9000}},
		"realtime": {"voice": "marin"}
	}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.LogLevel != "debug" || cfg.General.MaxIterations != 8 {
		t.Errorf("general = %+v", cfg.General)
	}
	if cfg.Channels.Web.Port != 9000 {
		t.Errorf("port = %d", cfg.Channels.Web.Port)
	}
	if cfg.Realtime.Voice != "marin" {
		t.Errorf("voice = %s", cfg.Realtime.Voice)
	}
}

func TestLoadFailures(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
	if _, err := Load(writeConfig(t, "{not json")); err == nil {
		t.Error("malformed JSON should fail")
	}
}
