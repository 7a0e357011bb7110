package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"omnibot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubKnowledgeStore struct {
	calls   []domain.SearchOptions
	perCall [][]domain.Snippet
	err     error
}

func (s *stubKnowledgeStore) Search(ctx context.Context, sourceIDs []string, query string, opts domain.SearchOptions) ([]domain.Snippet, error) {
	s.calls = append(s.calls, opts)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.perCall) == 0 {
		return nil, nil
	}
	out := s.perCall[0]
	s.perCall = s.perCall[1:]
	return out, nil
}

func TestSearchSkipsEmptyInputs(t *testing.T) {
	store := &stubKnowledgeStore{}
	engine := NewEngine(EngineConfig{Store: store, Logger: testLogger()})
	ctx := context.Background()

	if snips, err := engine.Search(ctx, nil, "question"); snips != nil || err != nil {
		t.Errorf("no sources: got %v, %v", snips, err)
	}
	if snips, err := engine.Search(ctx, []string{"kb1"}, "   "); snips != nil || err != nil {
		t.Errorf("blank query: got %v, %v", snips, err)
	}
	if len(store.calls) != 0 {
		t.Errorf("store queried %d times, want 0", len(store.calls))
	}
}

func TestSearchPrimaryHitSkipsFallback(t *testing.T) {
	store := &stubKnowledgeStore{perCall: [][]domain.Snippet{
		{{Content: "refund policy", Similarity: 0.9}},
	}}
	engine := NewEngine(EngineConfig{Store: store, Logger: testLogger()})

	snips, err := engine.Search(context.Background(), []string{"kb1"}, "refunds")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(snips) != 1 || len(store.calls) != 1 {
		t.Errorf("got %d snippets over %d calls, want 1 over 1", len(snips), len(store.calls))
	}
	if store.calls[0].MatchThreshold != 0.7 {
		t.Errorf("primary threshold = %v, want 0.7", store.calls[0].MatchThreshold)
	}
}

func TestSearchRetriesExactlyOnceAtFallbackThreshold(t *testing.T) {
	store := &stubKnowledgeStore{perCall: [][]domain.Snippet{
		nil, // primary pass comes up empty
		nil, // fallback pass too
	}}
	engine := NewEngine(EngineConfig{Store: store, Logger: testLogger()})

	snips, err := engine.Search(context.Background(), []string{"kb1"}, "obscure topic")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if snips != nil {
		t.Errorf("got %v, want no snippets", snips)
	}
	if len(store.calls) != 2 {
		t.Fatalf("store queried %d times, want exactly 2", len(store.calls))
	}
	if store.calls[1].MatchThreshold != 0.5 {
		t.Errorf("fallback threshold = %v, want 0.5", store.calls[1].MatchThreshold)
	}
}

func TestSearchWrapsStoreErrors(t *testing.T) {
	store := &stubKnowledgeStore{err: errors.New("index offline")}
	engine := NewEngine(EngineConfig{Store: store, Logger: testLogger()})

	_, err := engine.Search(context.Background(), []string{"kb1"}, "anything")
	var retErr *domain.RetrievalError
	if !errors.As(err, &retErr) {
		t.Fatalf("error = %v, want *domain.RetrievalError", err)
	}
}

func TestBuildContext(t *testing.T) {
	if got := BuildContext(nil); got != "" {
		t.Errorf("empty snippets produced %q", got)
	}

	block := BuildContext([]domain.Snippet{
		{Content: "first fact"},
		{Content: "second fact"},
	})
	if !strings.HasPrefix(block, "## Relevant Knowledge") {
		t.Errorf("missing heading: %q", block)
	}
	if !strings.Contains(block, "[1] first fact") || !strings.Contains(block, "[2] second fact") {
		t.Errorf("missing numbered snippets: %q", block)
	}
	if !strings.Contains(block, "---") {
		t.Errorf("missing separator: %q", block)
	}
}
