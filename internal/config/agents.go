package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig is an immutable per-request snapshot of an agent's settings,
// loaded from a YAML file in the agents directory. Every message in flight
// uses the snapshot current at dispatch time; channel overrides produce a
// new merged copy, never a patch of the original.
type AgentConfig struct {
	ID                string                   `yaml:"id"`
	Name              string                   `yaml:"name"`
	Model             string                   `yaml:"model"`
	Temperature       float64                  `yaml:"temperature"`
	MaxTokens         int                      `yaml:"maxTokens"`
	Prompt            string                   `yaml:"prompt"`
	ErrorMessage      string                   `yaml:"errorMessage"`
	PrimaryLanguage   string                   `yaml:"primaryLanguage"`
	SecondaryLanguage string                   `yaml:"secondaryLanguage"`
	EnabledChannels   []string                 `yaml:"enabledChannels"`
	Tools             []string                 `yaml:"tools"`
	KnowledgeSources  []string                 `yaml:"knowledgeSources"`
	WebSearchEnabled  bool                     `yaml:"webSearchEnabled"`
	Calendar          *CalendarConfig          `yaml:"calendar,omitempty"`
	ChannelOverrides  map[string]AgentOverride `yaml:"channelOverrides,omitempty"`
}

// AgentOverride is a per-channel partial override. Zero values mean
// "inherit from the base snapshot".
type AgentOverride struct {
	Model       string   `yaml:"model,omitempty"`
	Prompt      string   `yaml:"prompt,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"maxTokens,omitempty"`
}

// CalendarConfig parameterizes the calendar tool-set.
type CalendarConfig struct {
	Timezone    string `yaml:"timezone"`
	OpenHour    int    `yaml:"openHour"`
	CloseHour   int    `yaml:"closeHour"`
	SlotMinutes int    `yaml:"slotMinutes"`
}

// ErrorReply returns the configured user-visible fallback message.
func (a *AgentConfig) ErrorReply() string {
	if a.ErrorMessage != "" {
		return a.ErrorMessage
	}
	return "I'm sorry, something went wrong on my end. Please try again in a moment."
}

// ChannelEnabled reports whether the agent serves the named channel.
// An empty list means all channels.
func (a *AgentConfig) ChannelEnabled(channel string) bool {
	if len(a.EnabledChannels) == 0 {
		return true
	}
	for _, c := range a.EnabledChannels {
		if c == channel {
			return true
		}
	}
	return false
}

// MergeForChannel returns a new snapshot with the channel's overrides
// applied. The receiver is never mutated.
func (a *AgentConfig) MergeForChannel(channel string) *AgentConfig {
	merged := *a
	ov, ok := a.ChannelOverrides[channel]
	if !ok {
		return &merged
	}
	if ov.Model != "" {
		merged.Model = ov.Model
	}
	if ov.Prompt != "" {
		merged.Prompt = ov.Prompt
	}
	if ov.Temperature != nil {
		merged.Temperature = *ov.Temperature
	}
	if ov.MaxTokens > 0 {
		merged.MaxTokens = ov.MaxTokens
	}
	return &merged
}

type cachedAgent struct {
	cfg       *AgentConfig
	expiresAt time.Time
}

// AgentCache loads agent snapshots from disk and caches them with a TTL.
// The clock is injectable for deterministic tests.
type AgentCache struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cachedAgent
}

type AgentCacheConfig struct {
	Dir    string
	TTL    time.Duration
	Clock  func() time.Time // defaults to time.Now
	Logger *slog.Logger
}

func NewAgentCache(cfg AgentCacheConfig) *AgentCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &AgentCache{
		dir:    cfg.Dir,
		ttl:    cfg.TTL,
		now:    cfg.Clock,
		logger: cfg.Logger,
		cache:  make(map[string]cachedAgent),
	}
}

// Get returns the agent snapshot, serving from cache while fresh.
func (c *AgentCache) Get(id string) (*AgentConfig, error) {
	c.mu.RLock()
	entry, ok := c.cache[id]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.cfg, nil
	}

	cfg, err := c.load(id)
	if err != nil {
		// Serve a stale snapshot over failing the turn.
		if ok {
			c.logger.Warn("agent reload failed, serving stale snapshot", "agent", id, "err", err)
			return entry.cfg, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.cache[id] = cachedAgent{cfg: cfg, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return cfg, nil
}

// List returns the ids of all agents found in the directory.
func (c *AgentCache) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read agents dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml"))
	}
	return ids, nil
}

// Invalidate drops a cached snapshot so the next Get reloads from disk.
func (c *AgentCache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.cache, id)
	c.mu.Unlock()
}

func (c *AgentCache) load(id string) (*AgentConfig, error) {
	path := filepath.Join(c.dir, id+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		alt := filepath.Join(c.dir, id+".yml")
		if altData, altErr := os.ReadFile(alt); altErr == nil {
			data = altData
		} else {
			return nil, fmt.Errorf("read agent %s: %w", id, err)
		}
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse agent %s: %w", id, err)
	}
	if cfg.ID == "" {
		cfg.ID = id
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("agent %s: model is required", id)
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &cfg, nil
}
