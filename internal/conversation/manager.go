package conversation

import (
	"context"
	"log/slog"
	"sync"

	"omnibot/internal/domain"
)

// Store is the durable side of the conversation manager.
type Store interface {
	SaveUserMessage(ctx context.Context, msg *domain.AgentMessage, chctx *domain.ChannelContext) error
	SaveAssistantMessage(ctx context.Context, msg *domain.AgentMessage, chctx *domain.ChannelContext) error
	RecentMessages(ctx context.Context, threadID string, limit int) ([]domain.AgentMessage, error)
	SaveAnalytics(ctx context.Context, threadID string, blob []byte) error
}

// Manager owns per-session message history: load-on-demand from the store,
// in-memory cache, append-and-persist on new turns. A sessionID maps to
// exactly one live ConversationState at a time.
type Manager struct {
	store        Store
	historyLimit int
	logger       *slog.Logger

	mu    sync.RWMutex
	cache map[string]*domain.ConversationState

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type ManagerConfig struct {
	Store        Store
	HistoryLimit int
	Logger       *slog.Logger
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Manager{
		store:        cfg.Store,
		historyLimit: cfg.HistoryLimit,
		logger:       cfg.Logger,
		cache:        make(map[string]*domain.ConversationState),
		locks:        make(map[string]*sync.Mutex),
	}
}

// SessionLock returns the mutex serializing turns for one session, so the
// runtime processes a turn to completion before the next begins.
func (m *Manager) SessionLock(sessionKey string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[sessionKey]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionKey] = lock
	}
	return lock
}

// GetOrCreate returns the live state for a session, loading the
// most-recent-N messages from the store on a cache miss.
func (m *Manager) GetOrCreate(ctx context.Context, chctx *domain.ChannelContext) (*domain.ConversationState, error) {
	key := chctx.SessionKey()

	m.mu.RLock()
	state, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return state, nil
	}

	history, err := m.store.RecentMessages(ctx, chctx.ThreadID, m.historyLimit)
	if err != nil {
		// History is a convenience: start fresh rather than fail the turn.
		m.logger.Warn("failed to load history, starting fresh", "thread", chctx.ThreadID, "err", err)
		history = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another goroutine may have seeded the cache while we loaded.
	if state, ok := m.cache[key]; ok {
		return state, nil
	}
	state = &domain.ConversationState{
		SessionID: chctx.SessionID,
		ThreadID:  chctx.ThreadID,
		Messages:  history,
		Metadata:  make(map[string]any),
	}
	m.cache[key] = state
	m.logger.Info("conversation loaded", "session", key, "history", len(history))
	return state, nil
}

// RecentWindow returns a copy of the most-recent-N messages of the live
// state. The full transcript stays in memory and in the store; only the
// window handed to the provider is bounded.
func (m *Manager) RecentWindow(state *domain.ConversationState) []domain.AgentMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := state.Messages
	if len(msgs) > m.historyLimit {
		msgs = msgs[len(msgs)-m.historyLimit:]
	}
	return append([]domain.AgentMessage(nil), msgs...)
}

// Append adds a message to the live state and persists it. Persistence
// failures are logged and swallowed: a failed save never blocks the reply.
func (m *Manager) Append(ctx context.Context, state *domain.ConversationState, msg *domain.AgentMessage, chctx *domain.ChannelContext) {
	m.mu.Lock()
	state.Messages = append(state.Messages, *msg)
	m.mu.Unlock()

	var err error
	switch msg.Role {
	case domain.RoleUser:
		err = m.store.SaveUserMessage(ctx, msg, chctx)
	case domain.RoleAssistant:
		err = m.store.SaveAssistantMessage(ctx, msg, chctx)
	default:
		// System and function messages live only in the in-memory state;
		// the durable record pairs user/assistant turns.
		return
	}
	if err != nil {
		m.logger.Warn("failed to persist message", "session", chctx.SessionKey(), "role", msg.Role, "err", err)
	}
}

// Clear evicts a session from the in-memory cache only; durable history is
// untouched.
func (m *Manager) Clear(sessionKey string) {
	m.mu.Lock()
	delete(m.cache, sessionKey)
	m.mu.Unlock()
	m.logger.Info("conversation cleared from cache", "session", sessionKey)
}

// SaveAnalytics forwards a finalized metrics blob to the turn store.
func (m *Manager) SaveAnalytics(ctx context.Context, threadID string, blob []byte) error {
	return m.store.SaveAnalytics(ctx, threadID, blob)
}
