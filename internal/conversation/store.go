package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"omnibot/internal/domain"

	_ "modernc.org/sqlite"
)

const (
	recordKindTurn      = "turn"
	recordKindAnalytics = "analytics"
)

// SQLiteStore persists conversation turns. A turn record pairs a user
// message with its eventual assistant reply: a user message inserts a row
// with an empty reply slot; an assistant message fills the earliest
// reply-less row for the thread, or inserts a standalone row when none
// exists (system-initiated messages). Per-thread mutexes serialize writers
// so near-simultaneous inbound events cannot race the pairing lookup.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.Mutex
	threads map[string]*sync.Mutex
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger, threads: make(map[string]*sync.Mutex)}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id          TEXT PRIMARY KEY,
		thread_id   TEXT NOT NULL,
		kind        TEXT NOT NULL DEFAULT 'turn',
		message     TEXT NOT NULL DEFAULT '',
		response    TEXT NOT NULL DEFAULT '',
		from_id     TEXT NOT NULL DEFAULT '',
		user_id     TEXT NOT NULL DEFAULT '',
		agent_id    TEXT NOT NULL DEFAULT '',
		channel     TEXT NOT NULL DEFAULT '',
		message_at  DATETIME,
		response_at DATETIME,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_turns_thread ON turns(thread_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// threadLock returns the mutex serializing writes for one thread.
func (s *SQLiteStore) threadLock(threadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.threads[threadID]
	if !ok {
		lock = &sync.Mutex{}
		s.threads[threadID] = lock
	}
	return lock
}

// SaveUserMessage inserts a new turn record with an empty reply slot.
func (s *SQLiteStore) SaveUserMessage(ctx context.Context, msg *domain.AgentMessage, chctx *domain.ChannelContext) error {
	lock := s.threadLock(chctx.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, thread_id, kind, message, from_id, user_id, agent_id, channel, message_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), chctx.ThreadID, recordKindTurn, msg.Content,
		chctx.UserID, chctx.UserID, chctx.AgentID, string(chctx.Channel), ts, ts,
	)
	if err != nil {
		return &domain.PersistenceError{Op: "save user message", Err: err}
	}
	return nil
}

// SaveAssistantMessage fills the earliest reply-less record for the
// thread, or inserts a standalone record when none exists.
func (s *SQLiteStore) SaveAssistantMessage(ctx context.Context, msg *domain.AgentMessage, chctx *domain.ChannelContext) error {
	lock := s.threadLock(chctx.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM turns
		 WHERE thread_id = ? AND kind = ? AND response = '' AND message != ''
		 ORDER BY message_at ASC LIMIT 1`,
		chctx.ThreadID, recordKindTurn,
	).Scan(&id)

	switch {
	case err == sql.ErrNoRows:
		// Standalone assistant record (system-initiated message).
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO turns (id, thread_id, kind, response, agent_id, channel, response_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), chctx.ThreadID, recordKindTurn, msg.Content,
			chctx.AgentID, string(chctx.Channel), ts, ts,
		)
	case err == nil:
		_, err = s.db.ExecContext(ctx,
			`UPDATE turns SET response = ?, response_at = ? WHERE id = ?`,
			msg.Content, ts, id,
		)
	}
	if err != nil {
		return &domain.PersistenceError{Op: "save assistant message", Err: err}
	}
	return nil
}

// RecentMessages loads the most recent N turn records for a thread and
// expands them back into chronologically ordered messages.
func (s *SQLiteStore) RecentMessages(ctx context.Context, threadID string, limit int) ([]domain.AgentMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message, response, message_at, response_at FROM (
			SELECT message, response, message_at, response_at, created_at
			FROM turns WHERE thread_id = ? AND kind = ?
			ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`,
		threadID, recordKindTurn, limit,
	)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load messages", Err: err}
	}
	defer rows.Close()

	var msgs []domain.AgentMessage
	for rows.Next() {
		var message, response string
		var messageAt, responseAt sql.NullTime
		if err := rows.Scan(&message, &response, &messageAt, &responseAt); err != nil {
			return nil, &domain.PersistenceError{Op: "scan turn", Err: err}
		}
		if message != "" {
			m := domain.AgentMessage{
				ID: uuid.NewString(), Role: domain.RoleUser, Type: domain.TypeText, Content: message,
			}
			if messageAt.Valid {
				m.Timestamp = messageAt.Time
			}
			msgs = append(msgs, m)
		}
		if response != "" {
			m := domain.AgentMessage{
				ID: uuid.NewString(), Role: domain.RoleAssistant, Type: domain.TypeText, Content: response,
			}
			if responseAt.Valid {
				m.Timestamp = responseAt.Time
			}
			msgs = append(msgs, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "iterate turns", Err: err}
	}
	domain.SortMessages(msgs)
	return msgs, nil
}

// UnfilledCount reports how many turn records for a thread still await a
// reply. Used by tests and diagnostics.
func (s *SQLiteStore) UnfilledCount(ctx context.Context, threadID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE thread_id = ? AND kind = ? AND response = '' AND message != ''`,
		threadID, recordKindTurn,
	).Scan(&n)
	return n, err
}

// SaveAnalytics stores a finalized metrics blob as a tagged entry in the
// turn store.
func (s *SQLiteStore) SaveAnalytics(ctx context.Context, threadID string, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, thread_id, kind, response, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), threadID, recordKindAnalytics, string(blob), time.Now(),
	)
	if err != nil {
		return &domain.PersistenceError{Op: "save analytics", Err: err}
	}
	return nil
}

// DB exposes the underlying handle so other stores can share the file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
