// Package analytics aggregates per-conversation usage metrics and persists
// them as tagged records alongside the conversation turns.
package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Sink receives finalized conversation metrics.
type Sink interface {
	SaveAnalytics(ctx context.Context, threadID string, blob []byte) error
}

// ConversationStats is the running aggregate for one live conversation.
// Duration and the resolved flag are computed when the conversation ends.
type ConversationStats struct {
	SessionID             string         `json:"sessionId"`
	ThreadID              string         `json:"threadId"`
	AgentID               string         `json:"agentId"`
	Channel               string         `json:"channelType"`
	StartedAt             time.Time      `json:"startTime"`
	EndedAt               time.Time      `json:"endTime,omitempty"`
	DurationMs            int64          `json:"duration"`
	MessageCount          int            `json:"messageCount"`
	UserMessageCount      int            `json:"userMessageCount"`
	AssistantMessageCount int            `json:"assistantMessageCount"`
	ToolUse               map[string]int `json:"toolsUsed,omitempty"`
	Resolved              bool           `json:"resolved"`
	ErrorCount            int            `json:"errorCount"`
	AvgResponseMs         float64        `json:"averageResponseTime"`
	responseCount         int
}

// Service tracks live conversations in memory and writes one JSON record
// per conversation when it ends. Constructed once and passed by reference.
type Service struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	stats map[string]*ConversationStats
}

type ServiceConfig struct {
	Sink   Sink
	Logger *slog.Logger
	Now    func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		sink:   cfg.Sink,
		logger: cfg.Logger,
		now:    cfg.Now,
		stats:  make(map[string]*ConversationStats),
	}
}

// StartConversation begins tracking a session. Calling it again for a live
// session is a no-op.
func (s *Service) StartConversation(sessionKey, threadID, agentID, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stats[sessionKey]; ok {
		return
	}
	s.stats[sessionKey] = &ConversationStats{
		SessionID: sessionKey,
		ThreadID:  threadID,
		AgentID:   agentID,
		Channel:   channel,
		StartedAt: s.now(),
		ToolUse:   make(map[string]int),
	}
}

func (s *Service) TrackUserMessage(sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[sessionKey]; ok {
		st.MessageCount++
		st.UserMessageCount++
	}
}

func (s *Service) TrackAssistantMessage(sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[sessionKey]; ok {
		st.MessageCount++
		st.AssistantMessageCount++
	}
}

func (s *Service) TrackToolUse(sessionKey, toolName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[sessionKey]; ok {
		st.ToolUse[toolName]++
	}
}

func (s *Service) TrackError(sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[sessionKey]; ok {
		st.ErrorCount++
	}
}

// TrackResponseTime folds a turn latency into the running average.
func (s *Service) TrackResponseTime(sessionKey string, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[sessionKey]
	if !ok {
		return
	}
	st.responseCount++
	ms := float64(elapsed.Milliseconds())
	st.AvgResponseMs += (ms - st.AvgResponseMs) / float64(st.responseCount)
}

// Snapshot returns a copy of the live stats for a session, for diagnostics.
func (s *Service) Snapshot(sessionKey string) (ConversationStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[sessionKey]
	if !ok {
		return ConversationStats{}, false
	}
	cp := *st
	cp.ToolUse = make(map[string]int, len(st.ToolUse))
	for k, v := range st.ToolUse {
		cp.ToolUse[k] = v
	}
	return cp, true
}

// EndConversation finalizes the aggregate, persists it through the sink and
// evicts it from memory. Unknown sessions are a no-op.
func (s *Service) EndConversation(ctx context.Context, sessionKey string) {
	s.mu.Lock()
	st, ok := s.stats[sessionKey]
	if ok {
		delete(s.stats, sessionKey)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	st.EndedAt = s.now()
	st.DurationMs = st.EndedAt.Sub(st.StartedAt).Milliseconds()
	// Resolved means the conversation ended cleanly: at least one reply
	// went out and no turn errored.
	st.Resolved = st.AssistantMessageCount > 0 && st.ErrorCount == 0
	blob, err := json.Marshal(st)
	if err != nil {
		s.logger.Warn("failed to encode conversation stats", "session", sessionKey, "err", err)
		return
	}
	if err := s.sink.SaveAnalytics(ctx, st.ThreadID, blob); err != nil {
		s.logger.Warn("failed to persist conversation stats", "session", sessionKey, "err", err)
		return
	}
	s.logger.Info("conversation stats persisted",
		"session", sessionKey, "messages", st.MessageCount, "errors", st.ErrorCount)
}
