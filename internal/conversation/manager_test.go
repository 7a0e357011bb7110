package conversation

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"omnibot/internal/domain"
)

type stubStore struct {
	history    []domain.AgentMessage
	historyErr error

	userSaves      int
	assistantSaves int
	analytics      map[string][]byte
	loadCalls      int
}

func (s *stubStore) SaveUserMessage(ctx context.Context, msg *domain.AgentMessage, chctx *domain.ChannelContext) error {
	s.userSaves++
	return nil
}

func (s *stubStore) SaveAssistantMessage(ctx context.Context, msg *domain.AgentMessage, chctx *domain.ChannelContext) error {
	s.assistantSaves++
	return nil
}

func (s *stubStore) RecentMessages(ctx context.Context, threadID string, limit int) ([]domain.AgentMessage, error) {
	s.loadCalls++
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return s.history, nil
}

func (s *stubStore) SaveAnalytics(ctx context.Context, threadID string, blob []byte) error {
	if s.analytics == nil {
		s.analytics = make(map[string][]byte)
	}
	s.analytics[threadID] = blob
	return nil
}

func newTestManager(store Store) *Manager {
	return NewManager(ManagerConfig{Store: store, HistoryLimit: 10, Logger: testLogger()})
}

func TestGetOrCreateLoadsOnceThenCaches(t *testing.T) {
	store := &stubStore{history: []domain.AgentMessage{
		{Role: domain.RoleUser, Content: "earlier question"},
		{Role: domain.RoleAssistant, Content: "earlier answer"},
	}}
	mgr := newTestManager(store)
	chctx := testChctx("web:t1")

	state, err := mgr.GetOrCreate(context.Background(), chctx)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(state.Messages) != 2 {
		t.Fatalf("loaded %d messages, want 2", len(state.Messages))
	}

	again, err := mgr.GetOrCreate(context.Background(), chctx)
	if err != nil {
		t.Fatalf("GetOrCreate (cached): %v", err)
	}
	if again != state {
		t.Error("second call should return the cached state")
	}
	if store.loadCalls != 1 {
		t.Errorf("store loaded %d times, want 1", store.loadCalls)
	}
}

func TestGetOrCreateStartsFreshOnLoadFailure(t *testing.T) {
	store := &stubStore{historyErr: errors.New("disk gone")}
	mgr := newTestManager(store)

	state, err := mgr.GetOrCreate(context.Background(), testChctx("web:t1"))
	if err != nil {
		t.Fatalf("GetOrCreate should not fail on history load error, got %v", err)
	}
	if len(state.Messages) != 0 {
		t.Errorf("state has %d messages, want empty history", len(state.Messages))
	}
}

func TestAppendPersistsByRole(t *testing.T) {
	store := &stubStore{}
	mgr := newTestManager(store)
	chctx := testChctx("web:t1")
	ctx := context.Background()

	state, _ := mgr.GetOrCreate(ctx, chctx)
	mgr.Append(ctx, state, userMsg("hello", time.Now()), chctx)
	mgr.Append(ctx, state, assistantMsg("hi", time.Now()), chctx)
	mgr.Append(ctx, state, &domain.AgentMessage{Role: domain.RoleSystem, Content: "prompt"}, chctx)
	mgr.Append(ctx, state, &domain.AgentMessage{Role: domain.RoleFunction, Content: "{}"}, chctx)

	if len(state.Messages) != 4 {
		t.Errorf("state has %d messages, want 4", len(state.Messages))
	}
	if store.userSaves != 1 || store.assistantSaves != 1 {
		t.Errorf("saves = %d user / %d assistant, want 1 / 1: system and function messages stay in memory",
			store.userSaves, store.assistantSaves)
	}
}

func TestRecentWindowBoundsLiveHistory(t *testing.T) {
	store := &stubStore{}
	mgr := NewManager(ManagerConfig{Store: store, HistoryLimit: 2, Logger: testLogger()})
	chctx := testChctx("web:t1")
	ctx := context.Background()

	state, _ := mgr.GetOrCreate(ctx, chctx)
	for i := 0; i < 5; i++ {
		mgr.Append(ctx, state, userMsg("q"+strconv.Itoa(i), time.Now()), chctx)
		mgr.Append(ctx, state, assistantMsg("a"+strconv.Itoa(i), time.Now()), chctx)
	}

	window := mgr.RecentWindow(state)
	if len(window) != 2 {
		t.Fatalf("window has %d messages, want the 2-message limit", len(window))
	}
	if window[0].Content != "q4" || window[1].Content != "a4" {
		t.Errorf("window = %v / %v, want the newest turn", window[0].Content, window[1].Content)
	}
	// The live state keeps the full transcript.
	if len(state.Messages) != 10 {
		t.Errorf("state has %d messages, want 10", len(state.Messages))
	}
}

func TestClearEvictsCacheOnly(t *testing.T) {
	store := &stubStore{}
	mgr := newTestManager(store)
	chctx := testChctx("web:t1")
	ctx := context.Background()

	state, _ := mgr.GetOrCreate(ctx, chctx)
	mgr.Append(ctx, state, userMsg("hello", time.Now()), chctx)

	mgr.Clear(chctx.SessionKey())

	fresh, _ := mgr.GetOrCreate(ctx, chctx)
	if fresh == state {
		t.Error("Clear should evict the cached state")
	}
	if store.loadCalls != 2 {
		t.Errorf("store loaded %d times, want reload after Clear", store.loadCalls)
	}
}

func TestSaveAnalyticsForwardsToStore(t *testing.T) {
	store := &stubStore{}
	mgr := newTestManager(store)

	if err := mgr.SaveAnalytics(context.Background(), "web:t1", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("SaveAnalytics: %v", err)
	}
	if string(store.analytics["web:t1"]) != `{"n":1}` {
		t.Errorf("stored blob = %s", store.analytics["web:t1"])
	}
}
