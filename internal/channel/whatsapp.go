package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"omnibot/internal/config"
	"omnibot/internal/domain"
)

// WhatsAppAdapter handles WhatsApp traffic delivered through Twilio's
// messaging webhooks: the same form-encoded shape as SMS plus media
// attachments carried as NumMedia/MediaUrlN fields.
type WhatsAppAdapter struct {
	cfg         config.WhatsAppConfig
	agentID     string
	webhookPath string
	twilio      *twilioClient
	logger      *slog.Logger
}

type WhatsAppAdapterConfig struct {
	Config config.WhatsAppConfig
	Logger *slog.Logger
}

func NewWhatsAppAdapter(cfg WhatsAppAdapterConfig) *WhatsAppAdapter {
	path := cfg.Config.WebhookPath
	if path == "" {
		path = "/webhook/whatsapp"
	}
	return &WhatsAppAdapter{
		cfg:         cfg.Config,
		webhookPath: path,
		twilio:      newTwilioClient(cfg.Config.AccountSID, cfg.Config.AuthToken),
		logger:      cfg.Logger,
	}
}

func (w *WhatsAppAdapter) Name() domain.ChannelType { return domain.ChannelWhatsApp }

func (w *WhatsAppAdapter) Initialize(agentID string) error {
	w.agentID = agentID
	return nil
}

// HandleIncoming parses the webhook payload, hoisting media URLs into the
// channel metadata. A media-only message still produces a turn so the
// agent can acknowledge the attachment.
func (w *WhatsAppAdapter) HandleIncoming(raw []byte, chctx *domain.ChannelContext) (*domain.AgentMessage, error) {
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, &domain.ValidationError{Channel: string(w.Name()), Reason: "malformed webhook payload"}
	}

	from := strings.TrimPrefix(form.Get("From"), "whatsapp:")
	if from == "" {
		return nil, &domain.ValidationError{Channel: string(w.Name()), Reason: "missing From number"}
	}
	body := strings.TrimSpace(form.Get("Body"))

	var media []string
	if n, err := strconv.Atoi(form.Get("NumMedia")); err == nil && n > 0 {
		for i := 0; i < n; i++ {
			if u := form.Get(fmt.Sprintf("MediaUrl%d", i)); u != "" {
				media = append(media, u)
			}
		}
	}
	if body == "" && len(media) == 0 {
		return nil, &domain.ValidationError{Channel: string(w.Name()), Reason: "empty message"}
	}
	if len(body) > chctx.Capabilities.MaxMessageLength {
		return nil, &domain.ValidationError{
			Channel: string(w.Name()),
			Reason:  fmt.Sprintf("message exceeds %d characters", chctx.Capabilities.MaxMessageLength),
		}
	}

	chctx.SessionID = from
	chctx.UserID = from
	chctx.ThreadID = string(w.Name()) + ":" + from
	chctx.Metadata["messageSid"] = form.Get("MessageSid")
	if len(media) > 0 {
		chctx.Metadata["media"] = media
	}

	msgType := domain.TypeText
	if body == "" {
		body = fmt.Sprintf("[user sent %d media attachment(s)]", len(media))
		msgType = domain.TypeImage
	}

	w.logger.Info("whatsapp message received", "from", from, "len", len(body), "media", len(media))
	return &domain.AgentMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Type:      msgType,
		Content:   body,
		Timestamp: time.Now(),
	}, nil
}

func (w *WhatsAppAdapter) SendOutgoing(ctx context.Context, msg *domain.AgentMessage, chctx *domain.ChannelContext) error {
	from := "whatsapp:" + w.cfg.FromNumber
	to := "whatsapp:" + chctx.UserID

	segments := SplitSegments(msg.Content, chctx.Capabilities.MaxMessageLength)
	for _, seg := range segments {
		if err := w.twilio.send(ctx, from, to, seg); err != nil {
			return err
		}
	}
	return nil
}

func (w *WhatsAppAdapter) Cleanup() error { return nil }
