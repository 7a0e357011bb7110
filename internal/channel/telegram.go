package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"omnibot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// TelegramAdapter serves Telegram chats via long polling.
type TelegramAdapter struct {
	token   string
	agentID string
	bot     *tgbotapi.BotAPI
	logger  *slog.Logger
}

type TelegramAdapterConfig struct {
	Token  string
	Logger *slog.Logger
}

func NewTelegramAdapter(cfg TelegramAdapterConfig) *TelegramAdapter {
	return &TelegramAdapter{token: cfg.Token, logger: cfg.Logger}
}

func (t *TelegramAdapter) Name() domain.ChannelType { return domain.ChannelTelegram }

func (t *TelegramAdapter) Initialize(agentID string) error {
	t.agentID = agentID
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	return nil
}

// telegramInbound is the normalized update payload passed to HandleIncoming.
type telegramInbound struct {
	ChatID int64  `json:"chatId"`
	UserID int64  `json:"userId"`
	Text   string `json:"text"`
	Date   int64  `json:"date"`
}

// Poll consumes updates until ctx is done, dispatching each text message.
func (t *TelegramAdapter) Poll(ctx context.Context, dispatch DispatchFunc) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram polling stopping")
			t.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
				continue
			}
			text := strings.TrimSpace(update.Message.Text)
			if text == "" {
				continue
			}

			typing := tgbotapi.NewChatAction(update.Message.Chat.ID, tgbotapi.ChatTyping)
			_, _ = t.bot.Send(typing)

			raw, _ := json.Marshal(telegramInbound{
				ChatID: update.Message.Chat.ID,
				UserID: update.Message.From.ID,
				Text:   text,
				Date:   int64(update.Message.Date),
			})
			chctx := &domain.ChannelContext{
				Channel:      domain.ChannelTelegram,
				AgentID:      t.agentID,
				Capabilities: domain.CapabilitiesFor(domain.ChannelTelegram),
				Metadata:     make(map[string]any),
			}
			go dispatch(ctx, t, raw, chctx)
		}
	}
}

func (t *TelegramAdapter) HandleIncoming(raw []byte, chctx *domain.ChannelContext) (*domain.AgentMessage, error) {
	var in telegramInbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, &domain.ValidationError{Channel: string(t.Name()), Reason: "malformed update"}
	}
	if in.Text == "" {
		return nil, &domain.ValidationError{Channel: string(t.Name()), Reason: "empty message"}
	}

	chatID := strconv.FormatInt(in.ChatID, 10)
	chctx.SessionID = chatID
	chctx.UserID = strconv.FormatInt(in.UserID, 10)
	chctx.ThreadID = string(t.Name()) + ":" + chatID

	ts := time.Now()
	if in.Date > 0 {
		ts = time.Unix(in.Date, 0)
	}
	return &domain.AgentMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Type:      domain.TypeText,
		Content:   in.Text,
		Timestamp: ts,
	}, nil
}

func (t *TelegramAdapter) SendOutgoing(ctx context.Context, msg *domain.AgentMessage, chctx *domain.ChannelContext) error {
	chatID, err := strconv.ParseInt(chctx.SessionID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chctx.SessionID, err)
	}
	t.sendMessage(chatID, msg.Content)
	return nil
}

func (t *TelegramAdapter) Cleanup() error { return nil }

// sendMessage splits long replies at the Telegram message limit, cutting
// at newlines where possible.
func (t *TelegramAdapter) sendMessage(chatID int64, text string) {
	for len(text) > 0 {
		chunk := text
		if len(chunk) > telegramMaxMsgLen {
			cutAt := strings.LastIndex(chunk[:telegramMaxMsgLen], "\n")
			if cutAt < telegramMaxMsgLen/2 {
				cutAt = telegramMaxMsgLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends one message with retry: Markdown first, plain text on
// parse errors, backoff on rate limits.
func (t *TelegramAdapter) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 {
			msg.ParseMode = "Markdown"
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && strings.Contains(errStr, "can't parse entities") {
			plain := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plain); err2 == nil {
				return
			}
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
		t.logger.Error("telegram send failed after retries", "err", err)
	}
}
