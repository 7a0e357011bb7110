package provider

import (
	"log/slog"
	"strings"
	"sync"

	"omnibot/internal/config"
	"omnibot/internal/domain"
)

// Constructor builds a provider from a vendor's config entry.
type Constructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// Factory resolves model names to provider instances. Instances are cached
// per (vendor, credential) so repeated requests for the same agent reuse a
// client. Unknown model names resolve to the configured fallback vendor
// rather than failing: every agent must produce some response.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]Constructor

	mu    sync.RWMutex
	cache map[string]domain.Provider
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a vendor constructor by name.
func (f *Factory) RegisterConstructor(vendor string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[vendor] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger})
	}
	f.constructors["anthropic"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewAnthropic(AnthropicConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger})
	}
}

// VendorFor maps a model name to a vendor by substring rules.
func (f *Factory) VendorFor(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"):
		return "anthropic"
	case strings.Contains(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "openai"
	default:
		fallback := f.cfg.General.DefaultVendor
		f.logger.Warn("unknown model name, using fallback vendor", "model", model, "vendor", fallback)
		return fallback
	}
}

// ForModel returns the cached provider serving the given model name.
func (f *Factory) ForModel(model string) domain.Provider {
	vendor := f.VendorFor(model)
	pc := f.cfg.Providers[vendor]
	cacheKey := vendor + "|" + pc.APIKey

	// Fast path: read lock.
	f.mu.RLock()
	if cached, ok := f.cache[cacheKey]; ok {
		f.mu.RUnlock()
		return cached
	}
	f.mu.RUnlock()

	// Slow path: write lock with double-check.
	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.cache[cacheKey]; ok {
		return cached
	}

	ctor, ok := f.constructors[vendor]
	if !ok {
		// Last resort: treat the vendor as OpenAI-compatible.
		f.logger.Warn("no constructor for vendor, assuming OpenAI-compatible", "vendor", vendor)
		ctor = f.constructors["openai"]
	}
	p := ctor(pc, f.logger)
	f.cache[cacheKey] = p
	return p
}

// InterruptAll asks every cached provider to cancel the session's active
// stream. Providers with no stream for the session ignore the call.
func (f *Factory) InterruptAll(sessionID string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.cache {
		p.Interrupt(sessionID)
	}
}
