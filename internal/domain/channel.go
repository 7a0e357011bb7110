package domain

import "context"

// ChannelType identifies a transport/medium. The set is closed; adding a
// channel means extending CapabilitiesFor and wiring a new adapter.
type ChannelType string

const (
	ChannelWeb      ChannelType = "web"
	ChannelSMS      ChannelType = "sms"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelTelegram ChannelType = "telegram"
	ChannelVoice    ChannelType = "voice"
)

// Capabilities is a static feature-flag record set once per channel type.
// It is read-only input to adapters and the runtime, never mutated.
type Capabilities struct {
	SupportsAudio     bool
	SupportsMedia     bool
	SupportsStreaming bool
	MaxMessageLength  int // 0 = unbounded
	SegmentLength     int // 0 = no segmentation on outbound
}

// CapabilitiesFor returns the fixed capability record for a channel type.
func CapabilitiesFor(ch ChannelType) Capabilities {
	switch ch {
	case ChannelWeb:
		return Capabilities{SupportsMedia: true, SupportsStreaming: true, MaxMessageLength: 16000}
	case ChannelSMS:
		return Capabilities{MaxMessageLength: 160, SegmentLength: 160}
	case ChannelWhatsApp:
		return Capabilities{SupportsMedia: true, MaxMessageLength: 4096}
	case ChannelTelegram:
		return Capabilities{SupportsMedia: true, MaxMessageLength: 4096, SegmentLength: 4096}
	case ChannelVoice:
		return Capabilities{SupportsAudio: true}
	default:
		return Capabilities{}
	}
}

// ChannelContext carries per-message routing and identity information
// from an adapter into the runtime.
type ChannelContext struct {
	Channel      ChannelType
	SessionID    string
	UserID       string
	AgentID      string
	ThreadID     string
	Capabilities Capabilities
	Metadata     map[string]any

	// OnToken, when set, receives incremental response chunks so streaming
	// channels can deliver tokens as they arrive.
	OnToken func(token string)
}

// SessionKey returns the process-wide cache key for this context's session.
func (c *ChannelContext) SessionKey() string {
	return string(c.Channel) + ":" + c.SessionID
}

// ChannelAdapter translates between channel-native payloads and
// AgentMessages. HandleIncoming must reject malformed or oversized input
// with a *ValidationError before the runtime is invoked.
type ChannelAdapter interface {
	Name() ChannelType
	Initialize(agentID string) error
	HandleIncoming(raw []byte, chctx *ChannelContext) (*AgentMessage, error)
	SendOutgoing(ctx context.Context, msg *AgentMessage, chctx *ChannelContext) error
	Cleanup() error
}

// EventHandler is an optional adapter extension for delivery/read receipts.
type EventHandler interface {
	HandleEvent(ctx context.Context, event []byte, chctx *ChannelContext) error
}
