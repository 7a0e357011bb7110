package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"omnibot/internal/config"
	"omnibot/internal/domain"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// twilioClient posts messages through the Twilio REST API. Shared by the
// SMS and WhatsApp adapters.
type twilioClient struct {
	accountSID string
	authToken  string
	apiBase    string
	client     *http.Client
}

func newTwilioClient(accountSID, authToken string) *twilioClient {
	return &twilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		apiBase:    twilioAPIBase,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *twilioClient) send(ctx context.Context, from, to, body string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.apiBase, t.accountSID)
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("twilio API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// SMSAdapter handles Twilio-shaped SMS webhooks: form-encoded payloads
// with Body, From, To and MessageSid fields.
type SMSAdapter struct {
	cfg         config.SMSConfig
	agentID     string
	webhookPath string
	twilio      *twilioClient
	logger      *slog.Logger
}

type SMSAdapterConfig struct {
	Config config.SMSConfig
	Logger *slog.Logger
}

func NewSMSAdapter(cfg SMSAdapterConfig) *SMSAdapter {
	path := cfg.Config.WebhookPath
	if path == "" {
		path = "/webhook/sms"
	}
	return &SMSAdapter{
		cfg:         cfg.Config,
		webhookPath: path,
		twilio:      newTwilioClient(cfg.Config.AccountSID, cfg.Config.AuthToken),
		logger:      cfg.Logger,
	}
}

func (s *SMSAdapter) Name() domain.ChannelType { return domain.ChannelSMS }

func (s *SMSAdapter) Initialize(agentID string) error {
	s.agentID = agentID
	return nil
}

// HandleIncoming validates the webhook payload before the runtime runs.
// Oversized bodies are rejected, not truncated.
func (s *SMSAdapter) HandleIncoming(raw []byte, chctx *domain.ChannelContext) (*domain.AgentMessage, error) {
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, &domain.ValidationError{Channel: string(s.Name()), Reason: "malformed webhook payload"}
	}

	body := strings.TrimSpace(form.Get("Body"))
	from := form.Get("From")
	if from == "" {
		return nil, &domain.ValidationError{Channel: string(s.Name()), Reason: "missing From number"}
	}
	if body == "" {
		return nil, &domain.ValidationError{Channel: string(s.Name()), Reason: "empty message body"}
	}
	// The limit counts characters, not bytes: accented text and emoji must
	// not trip it early.
	if n := utf8.RuneCountInString(body); n > chctx.Capabilities.MaxMessageLength {
		return nil, &domain.ValidationError{
			Channel: string(s.Name()),
			Reason:  fmt.Sprintf("message of %d characters exceeds the %d limit", n, chctx.Capabilities.MaxMessageLength),
		}
	}

	chctx.SessionID = from
	chctx.UserID = from
	chctx.ThreadID = string(s.Name()) + ":" + from
	chctx.Metadata["to"] = form.Get("To")
	chctx.Metadata["messageSid"] = form.Get("MessageSid")

	s.logger.Info("sms received", "from", from, "len", len(body))
	return &domain.AgentMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Type:      domain.TypeText,
		Content:   body,
		Timestamp: time.Now(),
	}, nil
}

// SendOutgoing splits the reply into segment-sized parts with position
// indicators and sends each in order.
func (s *SMSAdapter) SendOutgoing(ctx context.Context, msg *domain.AgentMessage, chctx *domain.ChannelContext) error {
	segments := SplitSegments(msg.Content, chctx.Capabilities.SegmentLength)
	for _, seg := range segments {
		if err := s.twilio.send(ctx, s.cfg.FromNumber, chctx.UserID, seg); err != nil {
			return err
		}
	}
	s.logger.Info("sms sent", "to", chctx.UserID, "segments", len(segments))
	return nil
}

func (s *SMSAdapter) Cleanup() error { return nil }

// SplitSegments breaks a reply into delivery-sized segments, appending
// " (i/n)" position indicators when more than one is needed. Cuts prefer
// word boundaries in the back half of a segment.
func SplitSegments(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	// Room for the " (i/n)" suffix.
	body := limit - 8
	if body < 1 {
		body = limit
	}

	var parts []string
	remaining := strings.TrimSpace(text)
	for len(remaining) > 0 {
		if len(remaining) <= body {
			parts = append(parts, remaining)
			break
		}
		cut := body
		if idx := strings.LastIndex(remaining[:body], " "); idx > body/2 {
			cut = idx
		}
		parts = append(parts, strings.TrimSpace(remaining[:cut]))
		remaining = strings.TrimSpace(remaining[cut:])
	}

	if len(parts) == 1 {
		return parts
	}
	for i := range parts {
		parts[i] = fmt.Sprintf("%s (%d/%d)", parts[i], i+1, len(parts))
	}
	return parts
}
