// Package realtime bridges telephony media streams to a realtime voice
// model, relaying audio both ways while keeping transcripts and tool calls
// inside the regular agent plumbing.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"omnibot/internal/config"
	"omnibot/internal/conversation"
	"omnibot/internal/domain"
	"omnibot/internal/tool"
)

// State tracks the bridge lifecycle for one call.
type State int32

const (
	StateIdle State = iota
	StateAwaitingStreamStart
	StateSessionConfiguring
	StateStreaming
	StateInterrupted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingStreamStart:
		return "awaiting_stream_start"
	case StateSessionConfiguring:
		return "session_configuring"
	case StateStreaming:
		return "streaming"
	case StateInterrupted:
		return "interrupted"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Socket is the minimal duplex surface the bridge needs from either side.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens the upstream realtime socket.
type Dialer func(ctx context.Context, url string) (Socket, error)

// wsSocket wraps a gorilla connection with write serialization.
type wsSocket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *wsSocket) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Close() error { return s.conn.Close() }

func defaultDialer(ctx context.Context, url string) (Socket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsSocket{conn: conn}, nil
}

// Service accepts telephony stream connections and runs one Bridge per
// call.
type Service struct {
	cfg           config.RealtimeConfig
	agents        *config.AgentCache
	agentID       string
	tools         *tool.Registry
	conversations *conversation.Manager
	logger        *slog.Logger
	dial          Dialer
	upgrader      websocket.Upgrader
}

type ServiceConfig struct {
	Realtime      config.RealtimeConfig
	Agents        *config.AgentCache
	DefaultAgent  string
	Tools         *tool.Registry
	Conversations *conversation.Manager
	Logger        *slog.Logger
	Dial          Dialer // defaults to a websocket dialer
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Dial == nil {
		cfg.Dial = defaultDialer
	}
	return &Service{
		cfg:           cfg.Realtime,
		agents:        cfg.Agents,
		agentID:       cfg.DefaultAgent,
		tools:         cfg.Tools,
		conversations: cfg.Conversations,
		logger:        cfg.Logger,
		dial:          cfg.Dial,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler upgrades the telephony connection and runs the call to
// completion.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error("voice stream upgrade failed", "err", err)
			return
		}
		bridge := s.NewBridge()
		if err := bridge.Run(r.Context(), &wsSocket{conn: conn}); err != nil {
			s.logger.Warn("voice call ended with error", "err", err)
		}
	})
}

// Bridge relays one call between the telephony socket and the upstream
// model socket.
type Bridge struct {
	svc   *Service
	state atomic.Int32

	mu        sync.Mutex
	streamSid string

	// Disconnect is closed when the call tears down, whichever side ends
	// it first.
	Disconnect chan struct{}
}

func (s *Service) NewBridge() *Bridge {
	return &Bridge{svc: s, Disconnect: make(chan struct{})}
}

func (b *Bridge) State() State { return State(b.state.Load()) }

func (b *Bridge) setState(st State) {
	b.state.Store(int32(st))
	b.svc.logger.Debug("bridge state", "state", st.String())
}

// Run drives the call: wait for the stream start frame, configure the
// upstream session, then pump audio both ways until either side stops or
// the call duration cap fires.
func (b *Bridge) Run(ctx context.Context, telephony Socket) error {
	maxCall := time.Duration(b.svc.cfg.MaxCallSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, maxCall)
	defer cancel()
	defer b.teardown(telephony)

	b.setState(StateAwaitingStreamStart)
	start, err := b.awaitStart(telephony)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.streamSid = start.StreamSid
	b.mu.Unlock()

	agentID := b.svc.agentID
	if id := start.CustomParameters["agent"]; id != "" {
		agentID = id
	}
	agent, err := b.svc.agents.Get(agentID)
	if err != nil {
		return fmt.Errorf("agent snapshot for call: %w", err)
	}
	agent = agent.MergeForChannel(string(domain.ChannelVoice))

	chctx := &domain.ChannelContext{
		Channel:      domain.ChannelVoice,
		SessionID:    start.CallSid,
		UserID:       start.CallSid,
		AgentID:      agent.ID,
		ThreadID:     string(domain.ChannelVoice) + ":" + start.CallSid,
		Capabilities: domain.CapabilitiesFor(domain.ChannelVoice),
		Metadata:     map[string]any{"streamSid": start.StreamSid},
	}

	upstream, err := b.svc.dial(ctx, b.svc.cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}
	defer upstream.Close()

	b.setState(StateSessionConfiguring)
	if err := b.configureSession(upstream, agent); err != nil {
		return fmt.Errorf("configure session: %w", err)
	}
	b.setState(StateStreaming)
	b.svc.logger.Info("voice call streaming", "call", start.CallSid, "agent", agent.ID)

	errCh := make(chan error, 2)
	go func() { errCh <- b.telephonyLoop(telephony, upstream) }()
	go func() { errCh <- b.upstreamLoop(ctx, upstream, telephony, chctx) }()

	select {
	case <-ctx.Done():
		b.svc.logger.Info("voice call reached duration cap or was cancelled", "call", start.CallSid)
		return nil
	case err := <-errCh:
		return err
	}
}

// awaitStart reads telephony frames until the start frame arrives.
func (b *Bridge) awaitStart(telephony Socket) (*streamStart, error) {
	for {
		data, err := telephony.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read before stream start: %w", err)
		}
		var frame telephonyFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Event {
		case "start":
			if frame.Start == nil {
				return nil, fmt.Errorf("start frame missing payload")
			}
			return frame.Start, nil
		case "stop":
			return nil, fmt.Errorf("stream stopped before start")
		}
	}
}

// configureSession pushes voice, instructions and tool definitions to the
// upstream model.
func (b *Bridge) configureSession(upstream Socket, agent *config.AgentConfig) error {
	var tools []map[string]any
	if b.svc.tools != nil {
		for _, def := range b.svc.tools.Definitions() {
			allowed := false
			for _, name := range agent.Tools {
				if name == def.Name {
					allowed = true
					break
				}
			}
			if !allowed {
				continue
			}
			tools = append(tools, map[string]any{
				"type":        "function",
				"name":        def.Name,
				"description": def.Description,
				"parameters":  def.Parameters,
			})
		}
	}

	update := sessionUpdate{
		Type: "session.update",
		Session: sessionPayload{
			Voice:             b.svc.cfg.Voice,
			Instructions:      agent.Prompt,
			InputAudioFormat:  "g711_ulaw",
			OutputAudioFormat: "g711_ulaw",
			Modalities:        []string{"text", "audio"},
			Tools:             tools,
			TurnDetection:     map[string]any{"type": "server_vad"},
		},
	}
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return upstream.WriteMessage(data)
}

// telephonyLoop forwards caller audio upstream frame by frame and ends the
// call on the stop frame.
func (b *Bridge) telephonyLoop(telephony, upstream Socket) error {
	for {
		data, err := telephony.ReadMessage()
		if err != nil {
			return fmt.Errorf("telephony read: %w", err)
		}
		var frame telephonyFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Event {
		case "media":
			if frame.Media == nil {
				continue
			}
			appendMsg, err := json.Marshal(audioAppend{Type: "input_audio_buffer.append", Audio: frame.Media.Payload})
			if err != nil {
				continue
			}
			if err := upstream.WriteMessage(appendMsg); err != nil {
				return fmt.Errorf("upstream write: %w", err)
			}
		case "stop":
			b.svc.logger.Info("caller hung up")
			return nil
		}
	}
}

// upstreamLoop relays model audio back to the caller and handles
// transcripts, interruptions and tool calls.
func (b *Bridge) upstreamLoop(ctx context.Context, upstream, telephony Socket, chctx *domain.ChannelContext) error {
	state, err := b.svc.conversations.GetOrCreate(ctx, chctx)
	if err != nil {
		return err
	}

	for {
		data, err := upstream.ReadMessage()
		if err != nil {
			return fmt.Errorf("upstream read: %w", err)
		}
		var ev upstreamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case evAudioDelta:
			b.mu.Lock()
			sid := b.streamSid
			b.mu.Unlock()
			frame, err := json.Marshal(telephonyFrame{
				Event:     "media",
				StreamSid: sid,
				Media:     &streamMedia{Payload: ev.Delta},
			})
			if err != nil {
				continue
			}
			if err := telephony.WriteMessage(frame); err != nil {
				return fmt.Errorf("telephony write: %w", err)
			}
			if b.State() == StateInterrupted {
				b.setState(StateStreaming)
			}

		case evSpeechStarted:
			// Caller barged in: drop buffered model audio.
			b.setState(StateInterrupted)
			b.mu.Lock()
			sid := b.streamSid
			b.mu.Unlock()
			clearFrame, _ := json.Marshal(map[string]string{"event": "clear", "streamSid": sid})
			if err := telephony.WriteMessage(clearFrame); err != nil {
				return fmt.Errorf("telephony write: %w", err)
			}

		case evInputTranscriptDone:
			if ev.Transcript == "" {
				continue
			}
			b.persistTranscript(ctx, state, chctx, domain.RoleUser, ev.Transcript)

		case evReplyTranscriptDone:
			if ev.Transcript == "" {
				continue
			}
			b.persistTranscript(ctx, state, chctx, domain.RoleAssistant, ev.Transcript)

		case evFunctionCallDone:
			b.handleFunctionCall(ctx, upstream, chctx, ev)

		case evError:
			if ev.Error != nil {
				b.svc.logger.Warn("upstream error event", "message", ev.Error.Message)
			}
		}
	}
}

func (b *Bridge) persistTranscript(ctx context.Context, state *domain.ConversationState, chctx *domain.ChannelContext, role domain.Role, transcript string) {
	msg := &domain.AgentMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Type:      domain.TypeAudio,
		Content:   transcript,
		Timestamp: time.Now(),
	}
	b.svc.conversations.Append(ctx, state, msg, chctx)
}

// handleFunctionCall executes the requested tool and feeds the result back
// upstream so the model can speak it.
func (b *Bridge) handleFunctionCall(ctx context.Context, upstream Socket, chctx *domain.ChannelContext, ev upstreamEvent) {
	var args map[string]any
	if err := json.Unmarshal([]byte(ev.Arguments), &args); err != nil {
		args = map[string]any{}
	}

	var output string
	result, toolErr := b.svc.tools.Execute(ctx, ev.Name, args, chctx)
	if toolErr != nil {
		b.svc.logger.Warn("voice tool call failed", "tool", ev.Name, "err", toolErr)
		output = fmt.Sprintf(`{"success":false,"error":%q}`, toolErr.Error())
	} else {
		data, err := json.Marshal(result)
		if err != nil {
			data = []byte(`{"success":false,"error":"unencodable tool result"}`)
		}
		output = string(data)
	}

	item, err := json.Marshal(functionOutputItem{
		Type: "conversation.item.create",
		Item: functionOutputBody{Type: "function_call_output", CallID: ev.CallID, Output: output},
	})
	if err != nil {
		return
	}
	if err := upstream.WriteMessage(item); err != nil {
		b.svc.logger.Warn("failed to send tool result upstream", "err", err)
		return
	}
	create, _ := json.Marshal(responseCreate{Type: "response.create"})
	if err := upstream.WriteMessage(create); err != nil {
		b.svc.logger.Warn("failed to request follow-up response", "err", err)
	}
}

// teardown closes the telephony side and signals disconnection exactly
// once.
func (b *Bridge) teardown(telephony Socket) {
	if b.State() == StateStopped {
		return
	}
	b.setState(StateStopped)
	telephony.Close()
	close(b.Disconnect)
}
