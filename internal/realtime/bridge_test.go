package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"omnibot/internal/config"
	"omnibot/internal/conversation"
	"omnibot/internal/domain"
	"omnibot/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptSocket is an in-memory Socket fed from a channel. Closing the
// socket unblocks pending reads.
type scriptSocket struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newScriptSocket() *scriptSocket {
	return &scriptSocket{in: make(chan []byte, 32), closed: make(chan struct{})}
}

func (s *scriptSocket) ReadMessage() ([]byte, error) {
	// Drain buffered frames before reporting the close.
	select {
	case data := <-s.in:
		return data, nil
	default:
	}
	select {
	case data := <-s.in:
		return data, nil
	case <-s.closed:
		return nil, io.EOF
	}
}

// WriteMessage records the frame. Writes stay accepted after Close so a
// test can close the event feed without racing the bridge's own writes.
func (s *scriptSocket) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *scriptSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptSocket) feed(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	s.in <- data
}

// written returns decoded JSON objects written to the socket so far.
func (s *scriptSocket) written(t *testing.T) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.writes))
	for _, w := range s.writes {
		var m map[string]any
		if err := json.Unmarshal(w, &m); err != nil {
			t.Fatalf("written frame is not JSON: %s", w)
		}
		out = append(out, m)
	}
	return out
}

type voiceStore struct {
	mu    sync.Mutex
	saved []domain.AgentMessage
}

func (s *voiceStore) SaveUserMessage(ctx context.Context, msg *domain.AgentMessage, chctx *domain.ChannelContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, *msg)
	return nil
}

func (s *voiceStore) SaveAssistantMessage(ctx context.Context, msg *domain.AgentMessage, chctx *domain.ChannelContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, *msg)
	return nil
}

func (s *voiceStore) RecentMessages(ctx context.Context, threadID string, limit int) ([]domain.AgentMessage, error) {
	return nil, nil
}

func (s *voiceStore) SaveAnalytics(ctx context.Context, threadID string, blob []byte) error {
	return nil
}

func (s *voiceStore) byRole(role domain.Role) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.saved {
		if m.Role == role {
			out = append(out, m.Content)
		}
	}
	return out
}

type lookupTool struct {
	calls int
}

func (l *lookupTool) Name() string        { return "order_lookup" }
func (l *lookupTool) Description() string { return "Looks up an order by id." }
func (l *lookupTool) Parameters() map[string]any {
	return tool.Parameters(map[string]tool.Param{
		"order_id": {Type: "string", Description: "order id"},
	}, nil)
}
func (l *lookupTool) SystemPrompt() string { return "" }
func (l *lookupTool) Execute(ctx context.Context, args map[string]any, chctx *domain.ChannelContext) (any, error) {
	l.calls++
	return map[string]any{"status": "shipped", "order": tool.ArgString(args, "order_id")}, nil
}

type voiceFixture struct {
	svc       *Service
	telephony *scriptSocket
	upstream  *scriptSocket
	store     *voiceStore
	tool      *lookupTool
}

func newVoiceFixture(t *testing.T) *voiceFixture {
	t.Helper()
	dir := t.TempDir()
	agentYAML := `
id: helper
model: stub-model
prompt: Answer support calls.
tools: [order_lookup]
`
	if err := os.WriteFile(filepath.Join(dir, "helper.yaml"), []byte(agentYAML), 0o644); err != nil {
		t.Fatalf("write agent file: %v", err)
	}

	lookup := &lookupTool{}
	registry := tool.NewRegistry(tool.RegistryConfig{Logger: testLogger()})
	registry.Register(lookup)

	store := &voiceStore{}
	upstream := newScriptSocket()

	svc := NewService(ServiceConfig{
		Realtime:      config.RealtimeConfig{UpstreamURL: "ws://upstream", Voice: "marin", MaxCallSeconds: 10},
		Agents:        config.NewAgentCache(config.AgentCacheConfig{Dir: dir, Logger: testLogger()}),
		DefaultAgent:  "helper",
		Tools:         registry,
		Conversations: conversation.NewManager(conversation.ManagerConfig{Store: store, Logger: testLogger()}),
		Logger:        testLogger(),
		Dial: func(ctx context.Context, url string) (Socket, error) {
			return upstream, nil
		},
	})
	return &voiceFixture{
		svc:       svc,
		telephony: newScriptSocket(),
		upstream:  upstream,
		store:     store,
		tool:      lookup,
	}
}

func startFrame() telephonyFrame {
	return telephonyFrame{
		Event: "start",
		Start: &streamStart{StreamSid: "MS1", CallSid: "CA1"},
	}
}

func runBridge(f *voiceFixture) (*Bridge, chan error) {
	bridge := f.svc.NewBridge()
	done := make(chan error, 1)
	go func() { done <- bridge.Run(context.Background(), f.telephony) }()
	return bridge, done
}

func waitDone(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not finish")
		return nil
	}
}

func TestBridgeConfiguresSessionOnStart(t *testing.T) {
	f := newVoiceFixture(t)
	bridge, done := runBridge(f)

	f.telephony.in <- []byte("not json at all")
	f.telephony.feed(t, telephonyFrame{Event: "connected"})
	f.telephony.feed(t, startFrame())
	f.telephony.feed(t, telephonyFrame{Event: "stop"})

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	writes := f.upstream.written(t)
	if len(writes) == 0 || writes[0]["type"] != "session.update" {
		t.Fatalf("first upstream write = %v, want session.update", writes)
	}
	session := writes[0]["session"].(map[string]any)
	if session["voice"] != "marin" || session["instructions"] != "Answer support calls." {
		t.Errorf("session = %v", session)
	}
	if session["input_audio_format"] != "g711_ulaw" || session["output_audio_format"] != "g711_ulaw" {
		t.Errorf("audio formats = %v / %v", session["input_audio_format"], session["output_audio_format"])
	}
	tools := session["tools"].([]any)
	if len(tools) != 1 || tools[0].(map[string]any)["name"] != "order_lookup" {
		t.Errorf("tools = %v", tools)
	}

	if bridge.State() != StateStopped {
		t.Errorf("state = %s, want stopped", bridge.State())
	}
	select {
	case <-bridge.Disconnect:
	default:
		t.Error("Disconnect not closed after teardown")
	}
}

func TestBridgeStopBeforeStartFails(t *testing.T) {
	f := newVoiceFixture(t)
	bridge, done := runBridge(f)

	f.telephony.feed(t, telephonyFrame{Event: "stop"})

	if err := waitDone(t, done); err == nil {
		t.Error("expected an error when the stream stops before starting")
	}
	if bridge.State() != StateStopped {
		t.Errorf("state = %s, want stopped", bridge.State())
	}
}

func TestBridgeRelaysCallerAudioUpstream(t *testing.T) {
	f := newVoiceFixture(t)
	_, done := runBridge(f)

	f.telephony.feed(t, startFrame())
	f.telephony.feed(t, telephonyFrame{Event: "media", Media: &streamMedia{Payload: "BASE64AUDIO"}})
	f.telephony.feed(t, telephonyFrame{Event: "stop"})

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var appended bool
	for _, w := range f.upstream.written(t) {
		if w["type"] == "input_audio_buffer.append" && w["audio"] == "BASE64AUDIO" {
			appended = true
		}
	}
	if !appended {
		t.Error("caller audio never appended upstream")
	}
}

func TestBridgeRelaysModelAudioAndClearsOnBargeIn(t *testing.T) {
	f := newVoiceFixture(t)
	_, done := runBridge(f)

	f.telephony.feed(t, startFrame())
	f.upstream.feed(t, upstreamEvent{Type: evAudioDelta, Delta: "MODELAUDIO"})
	f.upstream.feed(t, upstreamEvent{Type: evSpeechStarted})
	f.upstream.Close()

	// The upstream EOF ends the call after the buffered events drain.
	if err := waitDone(t, done); !errors.Is(err, io.EOF) {
		t.Fatalf("Run = %v, want the upstream EOF", err)
	}

	var sawMedia, sawClear bool
	for _, w := range f.telephony.written(t) {
		switch w["event"] {
		case "media":
			if w["streamSid"] == "MS1" && w["media"].(map[string]any)["payload"] == "MODELAUDIO" {
				sawMedia = true
			}
		case "clear":
			if w["streamSid"] == "MS1" {
				sawClear = true
			}
		}
	}
	if !sawMedia {
		t.Error("model audio never reached the caller")
	}
	if !sawClear {
		t.Error("barge-in did not clear buffered audio")
	}
}

func TestBridgePersistsTranscripts(t *testing.T) {
	f := newVoiceFixture(t)
	_, done := runBridge(f)

	f.telephony.feed(t, startFrame())
	f.upstream.feed(t, upstreamEvent{Type: evInputTranscriptDone, Transcript: "where is my order"})
	f.upstream.feed(t, upstreamEvent{Type: evReplyTranscriptDone, Transcript: "let me check that"})
	f.upstream.feed(t, upstreamEvent{Type: evInputTranscriptDone, Transcript: ""})
	f.upstream.Close()

	if err := waitDone(t, done); !errors.Is(err, io.EOF) {
		t.Fatalf("Run = %v, want the upstream EOF", err)
	}

	if got := f.store.byRole(domain.RoleUser); len(got) != 1 || got[0] != "where is my order" {
		t.Errorf("user transcripts = %v", got)
	}
	if got := f.store.byRole(domain.RoleAssistant); len(got) != 1 || got[0] != "let me check that" {
		t.Errorf("assistant transcripts = %v", got)
	}
}

func TestBridgeExecutesFunctionCalls(t *testing.T) {
	f := newVoiceFixture(t)
	_, done := runBridge(f)

	f.telephony.feed(t, startFrame())
	f.upstream.feed(t, upstreamEvent{
		Type:      evFunctionCallDone,
		Name:      "order_lookup",
		CallID:    "call-7",
		Arguments: `{"order_id":"ORD-42"}`,
	})
	f.upstream.Close()

	if err := waitDone(t, done); !errors.Is(err, io.EOF) {
		t.Fatalf("Run = %v, want the upstream EOF", err)
	}

	if f.tool.calls != 1 {
		t.Fatalf("tool executed %d times, want 1", f.tool.calls)
	}

	writes := f.upstream.written(t)
	var item, create map[string]any
	for i, w := range writes {
		if w["type"] == "conversation.item.create" {
			item = w
			if i+1 < len(writes) {
				create = writes[i+1]
			}
		}
	}
	if item == nil {
		t.Fatal("no conversation.item.create sent upstream")
	}
	body := item["item"].(map[string]any)
	if body["type"] != "function_call_output" || body["call_id"] != "call-7" {
		t.Errorf("item = %v", body)
	}
	if !strings.Contains(body["output"].(string), "ORD-42") {
		t.Errorf("output = %v", body["output"])
	}
	if create == nil || create["type"] != "response.create" {
		t.Errorf("function result not followed by response.create: %v", create)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:                "idle",
		StateAwaitingStreamStart: "awaiting_stream_start",
		StateStreaming:           "streaming",
		StateInterrupted:         "interrupted",
		StateStopped:             "stopped",
	}
	for st, want := range cases {
		if st.String() != want {
			t.Errorf("State(%d).String() = %s, want %s", st, st.String(), want)
		}
	}
}
