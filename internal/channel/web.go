package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"omnibot/internal/domain"
)

// DispatchFunc hands a raw inbound payload to the server's pipeline.
type DispatchFunc func(ctx context.Context, adapter domain.ChannelAdapter, raw []byte, chctx *domain.ChannelContext)

// webFrame is the JSON protocol spoken over the chat websocket.
type webFrame struct {
	Type      string `json:"type"` // "message" | "token" | "done" | "error" | "status"
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
}

// WebAdapter serves browser chat over a websocket, streaming reply tokens
// as they arrive.
type WebAdapter struct {
	path     string
	agentID  string
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*webConn // sessionID -> connection
}

type webConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *webConn) write(frame webFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type WebAdapterConfig struct {
	Path   string
	Logger *slog.Logger
}

func NewWebAdapter(cfg WebAdapterConfig) *WebAdapter {
	if cfg.Path == "" {
		cfg.Path = "/ws/chat"
	}
	return &WebAdapter{
		path:   cfg.Path,
		logger: cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*webConn),
	}
}

func (w *WebAdapter) Name() domain.ChannelType { return domain.ChannelWeb }

func (w *WebAdapter) Initialize(agentID string) error {
	w.agentID = agentID
	return nil
}

// Handler upgrades connections and runs the per-connection read loop.
func (w *WebAdapter) Handler(dispatch DispatchFunc) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := w.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			w.logger.Error("websocket upgrade failed", "err", err)
			return
		}

		sessionID := r.URL.Query().Get("session")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		client := &webConn{conn: conn}
		w.mu.Lock()
		w.conns[sessionID] = client
		w.mu.Unlock()
		w.logger.Info("web client connected", "session", sessionID)

		client.write(webFrame{Type: "status", Content: "connected", SessionID: sessionID})

		defer func() {
			w.mu.Lock()
			delete(w.conns, sessionID)
			w.mu.Unlock()
			conn.Close()
			w.logger.Info("web client disconnected", "session", sessionID)
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					w.logger.Warn("websocket read error", "session", sessionID, "err", err)
				}
				return
			}

			chctx := &domain.ChannelContext{
				Channel:      domain.ChannelWeb,
				SessionID:    sessionID,
				AgentID:      w.agentID,
				Capabilities: domain.CapabilitiesFor(domain.ChannelWeb),
				Metadata:     make(map[string]any),
				OnToken: func(token string) {
					client.write(webFrame{Type: "token", Content: token, SessionID: sessionID})
				},
			}
			dispatch(r.Context(), w, raw, chctx)
		}
	})
}

// HandleIncoming parses a chat frame and fills the channel context.
func (w *WebAdapter) HandleIncoming(raw []byte, chctx *domain.ChannelContext) (*domain.AgentMessage, error) {
	var frame webFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, &domain.ValidationError{Channel: string(w.Name()), Reason: "malformed frame"}
	}
	if frame.Type != "message" {
		return nil, nil
	}
	content := strings.TrimSpace(frame.Content)
	if content == "" {
		return nil, &domain.ValidationError{Channel: string(w.Name()), Reason: "empty message"}
	}
	caps := domain.CapabilitiesFor(domain.ChannelWeb)
	if len(content) > caps.MaxMessageLength {
		return nil, &domain.ValidationError{
			Channel: string(w.Name()),
			Reason:  fmt.Sprintf("message exceeds %d characters", caps.MaxMessageLength),
		}
	}

	if frame.UserID != "" {
		chctx.UserID = frame.UserID
	} else {
		chctx.UserID = chctx.SessionID
	}
	if frame.AgentID != "" {
		chctx.AgentID = frame.AgentID
	}
	chctx.ThreadID = string(w.Name()) + ":" + chctx.SessionID

	return &domain.AgentMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Type:      domain.TypeText,
		Content:   content,
		Timestamp: time.Now(),
	}, nil
}

// SendOutgoing delivers the final reply as a "done" frame. Token frames
// have already streamed through OnToken.
func (w *WebAdapter) SendOutgoing(ctx context.Context, msg *domain.AgentMessage, chctx *domain.ChannelContext) error {
	w.mu.RLock()
	client, ok := w.conns[chctx.SessionID]
	w.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no live connection for session %s", chctx.SessionID)
	}
	return client.write(webFrame{Type: "done", Content: msg.Content, SessionID: chctx.SessionID})
}

func (w *WebAdapter) Cleanup() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, client := range w.conns {
		client.conn.Close()
		delete(w.conns, id)
	}
	return nil
}
