// Package channel adapts delivery mediums (web chat, SMS, WhatsApp,
// Telegram, voice) to the agent runtime.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"omnibot/internal/config"
	"omnibot/internal/domain"
)

// Dispatcher is the runtime surface the channel layer depends on.
type Dispatcher interface {
	ProcessMessage(ctx context.Context, msg *domain.AgentMessage, chctx *domain.ChannelContext) (string, error)
	EndConversation(ctx context.Context, sessionKey string)
}

// Server hosts the HTTP endpoints for webhook-driven channels and the
// websocket endpoint for web chat, fanning inbound payloads through the
// registered adapters into the runtime.
type Server struct {
	cfg     config.ChannelsConfig
	runtime Dispatcher
	agentID string
	logger  *slog.Logger

	mux      *http.ServeMux
	httpSrv  *http.Server
	adapters []domain.ChannelAdapter
}

type ServerConfig struct {
	Channels     config.ChannelsConfig
	Runtime      Dispatcher
	DefaultAgent string
	Logger       *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		cfg:     cfg.Channels,
		runtime: cfg.Runtime,
		agentID: cfg.DefaultAgent,
		logger:  cfg.Logger,
		mux:     http.NewServeMux(),
	}
}

// Handle mounts an extra handler on the server mux (used by the realtime
// voice bridge).
func (s *Server) Handle(path string, h http.Handler) {
	s.mux.Handle(path, h)
}

// Register wires an adapter into the server. Webhook-driven adapters get
// their paths mounted; polling adapters are started from Start.
func (s *Server) Register(adapter domain.ChannelAdapter) error {
	if err := adapter.Initialize(s.agentID); err != nil {
		return fmt.Errorf("initialize %s adapter: %w", adapter.Name(), err)
	}
	s.adapters = append(s.adapters, adapter)

	switch a := adapter.(type) {
	case *WebAdapter:
		s.mux.Handle(a.path, a.Handler(s.dispatch))
	case *SMSAdapter:
		s.mux.HandleFunc("POST "+a.webhookPath, s.webhookHandler(a))
	case *WhatsAppAdapter:
		s.mux.HandleFunc("POST "+a.webhookPath, s.webhookHandler(a))
	}
	s.logger.Info("channel registered", "channel", adapter.Name())
	return nil
}

// Start runs the HTTP server and any polling adapters until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	for _, a := range s.adapters {
		if tg, ok := a.(*TelegramAdapter); ok {
			go tg.Poll(ctx, s.dispatch)
		}
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("channel server starting", "addr", addr)
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, a := range s.adapters {
			if err := a.Cleanup(); err != nil {
				s.logger.Warn("adapter cleanup failed", "channel", a.Name(), "err", err)
			}
		}
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// dispatch runs one inbound payload through its adapter and the runtime,
// then delivers the reply. Validation failures stop before the runtime.
func (s *Server) dispatch(ctx context.Context, adapter domain.ChannelAdapter, raw []byte, chctx *domain.ChannelContext) {
	msg, err := adapter.HandleIncoming(raw, chctx)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			s.logger.Warn("inbound message rejected", "channel", adapter.Name(), "reason", vErr.Reason)
		} else {
			s.logger.Error("inbound message unparseable", "channel", adapter.Name(), "err", err)
		}
		return
	}
	if msg == nil {
		// Non-message event (typing, delivery receipt), nothing to run.
		return
	}

	reply, err := s.runtime.ProcessMessage(ctx, msg, chctx)
	if err != nil {
		s.logger.Error("turn ended with error", "channel", adapter.Name(), "session", chctx.SessionKey(), "err", err)
	}
	if reply == "" {
		return
	}

	out := &domain.AgentMessage{
		Role:      domain.RoleAssistant,
		Type:      domain.TypeText,
		Content:   reply,
		Timestamp: time.Now(),
	}
	if err := adapter.SendOutgoing(ctx, out, chctx); err != nil {
		s.logger.Error("outbound delivery failed", "channel", adapter.Name(), "session", chctx.SessionKey(), "err", err)
	}
}

// webhookHandler adapts a webhook POST body into a dispatch call.
func (s *Server) webhookHandler(adapter domain.ChannelAdapter) http.HandlerFunc {
	channelType := adapter.Name()
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		chctx := &domain.ChannelContext{
			Channel:      channelType,
			AgentID:      s.agentID,
			Capabilities: domain.CapabilitiesFor(channelType),
			Metadata:     make(map[string]any),
		}
		// Webhook callers expect a fast ack; the turn runs out of band.
		go s.dispatch(context.Background(), adapter, body, chctx)
		w.WriteHeader(http.StatusNoContent)
	}
}
