package retrieval

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"omnibot/internal/domain"

	_ "modernc.org/sqlite"
)

func newTestKnowledgeStore(t *testing.T, chunkSize, overlap int) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "kb.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := NewSQLiteStore(StoreConfig{DB: db, ChunkSize: chunkSize, Overlap: overlap, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return store
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("The Refund-Policy: 30 days, no questions asked! A")
	for _, want := range []string{"the", "refund", "policy", "30", "days", "no", "questions", "asked"} {
		if !tokens[want] {
			t.Errorf("missing token %q", want)
		}
	}
	// One-character tokens are dropped.
	if tokens["a"] {
		t.Error("single-character token should be dropped")
	}
}

func TestOverlapScore(t *testing.T) {
	query := tokenize("refund policy days")
	full := tokenize("our refund policy allows returns within 30 days")
	if got := overlapScore(query, full); got != 1.0 {
		t.Errorf("full overlap = %v, want 1.0", got)
	}

	partial := tokenize("shipping takes five days")
	got := overlapScore(query, partial)
	if got <= 0 || got >= 1 {
		t.Errorf("partial overlap = %v, want between 0 and 1", got)
	}

	if got := overlapScore(query, tokenize("unrelated text entirely")); got != 0 {
		t.Errorf("no overlap = %v, want 0", got)
	}
	if got := overlapScore(nil, full); got != 0 {
		t.Errorf("empty query = %v, want 0", got)
	}
}

func TestChunkTextWindows(t *testing.T) {
	store := newTestKnowledgeStore(t, 10, 2)

	words := make([]string, 25)
	for i := range words {
		words[i] = "w" + string(rune('a'+i%26))
	}
	chunks := store.chunkText(strings.Join(words, " "))

	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want at least 3", len(chunks))
	}
	for i, c := range chunks {
		if n := len(strings.Fields(c)); n > 10 {
			t.Errorf("chunk %d has %d words, want at most 10", i, n)
		}
	}
	// Consecutive chunks share the configured overlap.
	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	if first[8] != second[0] || first[9] != second[1] {
		t.Errorf("chunks do not overlap: %v then %v", first, second)
	}

	if got := store.chunkText("   "); got != nil {
		t.Errorf("blank input produced chunks: %v", got)
	}
}

func TestAddDocumentAndSearch(t *testing.T) {
	store := newTestKnowledgeStore(t, 50, 5)
	ctx := context.Background()

	n, err := store.AddDocument(ctx, "kb-support", "faq", "text",
		"Refunds are available within thirty days of purchase. Contact support with your order number to start a refund.")
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d chunks, want 1", n)
	}
	if _, err := store.AddDocument(ctx, "kb-other", "shipping", "text",
		"Standard shipping takes five business days."); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	opts := domain.SearchOptions{MatchThreshold: 0.5, MatchCount: 5}
	snips, err := store.Search(ctx, []string{"kb-support"}, "refund days", opts)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(snips) != 1 {
		t.Fatalf("got %d snippets, want 1", len(snips))
	}
	if !strings.Contains(snips[0].Content, "Refunds") {
		t.Errorf("wrong snippet: %q", snips[0].Content)
	}

	// Other sources never leak into results.
	snips, err = store.Search(ctx, []string{"kb-support"}, "shipping business days", opts)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, s := range snips {
		if strings.Contains(s.Content, "shipping") {
			t.Errorf("snippet from wrong source: %q", s.Content)
		}
	}
}

func TestSearchThresholdAndRanking(t *testing.T) {
	store := newTestKnowledgeStore(t, 50, 5)
	ctx := context.Background()

	store.AddDocument(ctx, "kb", "close", "text", "refund policy details for every refund case")
	store.AddDocument(ctx, "kb", "far", "text", "holiday opening hours for the main office")

	snips, err := store.Search(ctx, []string{"kb"}, "refund policy",
		domain.SearchOptions{MatchThreshold: 0.9, MatchCount: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(snips) != 1 {
		t.Fatalf("got %d snippets above threshold, want 1", len(snips))
	}
	if snips[0].Similarity < 0.9 {
		t.Errorf("similarity = %v, want >= 0.9", snips[0].Similarity)
	}
}

func TestAddDocumentIsIdempotent(t *testing.T) {
	store := newTestKnowledgeStore(t, 50, 5)
	ctx := context.Background()
	content := "Refunds are available within thirty days of purchase."

	store.AddDocument(ctx, "kb", "faq", "text", content)
	store.AddDocument(ctx, "kb", "faq", "text", content)

	snips, err := store.Search(ctx, []string{"kb"}, "refunds available purchase",
		domain.SearchOptions{MatchThreshold: 0.1, MatchCount: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(snips) != 1 {
		t.Errorf("got %d snippets after re-adding, want 1 (same content replaces)", len(snips))
	}
}
