// Package retrieval grounds replies in the agent's knowledge sources.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"omnibot/internal/domain"
)

// Engine wraps a knowledge store with the runtime's query policy: a
// primary-threshold search with exactly one retry at a fallback threshold
// when the first pass returns zero hits.
type Engine struct {
	store             domain.KnowledgeStore
	matchThreshold    float64
	fallbackThreshold float64
	matchCount        int
	logger            *slog.Logger
}

type EngineConfig struct {
	Store             domain.KnowledgeStore
	MatchThreshold    float64
	FallbackThreshold float64
	MatchCount        int
	Logger            *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = 0.7
	}
	if cfg.FallbackThreshold <= 0 {
		cfg.FallbackThreshold = 0.5
	}
	if cfg.MatchCount <= 0 {
		cfg.MatchCount = 5
	}
	return &Engine{
		store:             cfg.Store,
		matchThreshold:    cfg.MatchThreshold,
		fallbackThreshold: cfg.FallbackThreshold,
		matchCount:        cfg.MatchCount,
		logger:            cfg.Logger,
	}
}

// Search queries the agent's knowledge sources. Zero hits at the primary
// threshold trigger one retry at the fallback threshold, never more.
func (e *Engine) Search(ctx context.Context, sourceIDs []string, query string) ([]domain.Snippet, error) {
	if len(sourceIDs) == 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	opts := domain.SearchOptions{MatchThreshold: e.matchThreshold, MatchCount: e.matchCount}
	snippets, err := e.store.Search(ctx, sourceIDs, query, opts)
	if err != nil {
		return nil, &domain.RetrievalError{Err: err}
	}
	if len(snippets) > 0 {
		return snippets, nil
	}

	opts.MatchThreshold = e.fallbackThreshold
	e.logger.Debug("no hits at primary threshold, retrying", "fallback", e.fallbackThreshold)
	snippets, err = e.store.Search(ctx, sourceIDs, query, opts)
	if err != nil {
		return nil, &domain.RetrievalError{Err: err}
	}
	return snippets, nil
}

// BuildContext renders snippets into the prompt block injected above the
// agent's configured prompt.
func BuildContext(snippets []domain.Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Relevant Knowledge\n\n")
	for i, s := range snippets {
		sb.WriteString(fmt.Sprintf("[%d] %s", i+1, s.Content))
		if i < len(snippets)-1 {
			sb.WriteString("\n\n---\n\n")
		}
	}
	return sb.String()
}
