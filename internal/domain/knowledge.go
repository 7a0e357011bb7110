package domain

import "context"

// Snippet is one ranked retrieval hit injected into the prompt.
type Snippet struct {
	Content     string  `json:"content"`
	Similarity  float64 `json:"similarity"`
	ContentType string  `json:"content_type"`
}

// SearchOptions tunes a retrieval query.
type SearchOptions struct {
	MatchThreshold float64
	MatchCount     int
	ContentTypes   []string
}

// KnowledgeStore is the retrieval contract the runtime depends on. The
// index implementation behind it is not specified; the default store ranks
// by keyword overlap.
type KnowledgeStore interface {
	Search(ctx context.Context, sourceIDs []string, query string, opts SearchOptions) ([]Snippet, error)
}
