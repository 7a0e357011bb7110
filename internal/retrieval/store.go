package retrieval

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"omnibot/internal/domain"
)

// SQLiteStore is the default knowledge store: chunked documents in SQLite,
// ranked by keyword overlap. The runtime only depends on the search
// contract; a vector index can replace this store without touching the
// engine.
type SQLiteStore struct {
	db        *sql.DB
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

type StoreConfig struct {
	DB        *sql.DB
	ChunkSize int // words per chunk (default 200)
	Overlap   int // overlapping words between chunks (default 20)
	Logger    *slog.Logger
}

func NewSQLiteStore(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 200
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 20
	}
	s := &SQLiteStore{db: cfg.DB, chunkSize: cfg.ChunkSize, overlap: cfg.Overlap, logger: cfg.Logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("knowledge migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS knowledge_chunks (
		id           TEXT PRIMARY KEY,
		source_id    TEXT NOT NULL,
		doc_name     TEXT NOT NULL DEFAULT '',
		content      TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'text',
		chunk_index  INTEGER NOT NULL DEFAULT 0,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON knowledge_chunks(source_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AddDocument chunks a document and stores it under a knowledge source id.
func (s *SQLiteStore) AddDocument(ctx context.Context, sourceID, name, contentType, content string) (int, error) {
	hash := sha256.Sum256([]byte(content))
	docID := fmt.Sprintf("%x", hash[:8])

	chunks := s.chunkText(content)
	for i, chunk := range chunks {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO knowledge_chunks (id, source_id, doc_name, content, content_type, chunk_index, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			fmt.Sprintf("%s_%d", docID, i), sourceID, name, chunk, contentType, i, time.Now(),
		)
		if err != nil {
			return 0, fmt.Errorf("store chunk %d: %w", i, err)
		}
	}
	s.logger.Info("document added to knowledge source",
		"source", sourceID, "name", name, "chunks", len(chunks))
	return len(chunks), nil
}

// Search implements domain.KnowledgeStore: score every chunk of the given
// sources by keyword overlap with the query, filter by threshold, return
// the top matches.
func (s *SQLiteStore) Search(ctx context.Context, sourceIDs []string, query string, opts domain.SearchOptions) ([]domain.Snippet, error) {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(sourceIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		args = append(args, id)
	}

	q := `SELECT content, content_type FROM knowledge_chunks WHERE source_id IN (` + placeholders + `)`
	if len(opts.ContentTypes) > 0 {
		ctPlaceholders := strings.Repeat("?,", len(opts.ContentTypes))
		q += ` AND content_type IN (` + ctPlaceholders[:len(ctPlaceholders)-1] + `)`
		for _, ct := range opts.ContentTypes {
			args = append(args, ct)
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snippets []domain.Snippet
	for rows.Next() {
		var content, contentType string
		if err := rows.Scan(&content, &contentType); err != nil {
			return nil, err
		}
		score := overlapScore(queryTokens, tokenize(content))
		if score >= opts.MatchThreshold {
			snippets = append(snippets, domain.Snippet{Content: content, Similarity: score, ContentType: contentType})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(snippets, func(i, j int) bool { return snippets[i].Similarity > snippets[j].Similarity })
	if opts.MatchCount > 0 && len(snippets) > opts.MatchCount {
		snippets = snippets[:opts.MatchCount]
	}
	return snippets, nil
}

func (s *SQLiteStore) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := s.chunkSize - s.overlap
	if step <= 0 {
		step = s.chunkSize
	}

	var chunks []string
	for i := 0; i < len(words); i += step {
		end := i + s.chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end >= len(words) {
			break
		}
	}
	return chunks
}

// tokenize lowercases and splits on non-letter/digit runes, dropping
// one-character tokens.
func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r >= 0x80)
	}) {
		if len(w) > 1 {
			tokens[w] = true
		}
	}
	return tokens
}

// overlapScore is the fraction of query tokens present in the chunk.
func overlapScore(query, chunk map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for t := range query {
		if chunk[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
