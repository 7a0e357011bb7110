package agent

import (
	"fmt"
	"strings"
	"time"

	"omnibot/internal/config"
	"omnibot/internal/domain"
)

// PromptBuilder assembles the layered system prompt for one turn:
// identity, language directive, knowledge context, the agent's configured
// prompt, channel directives, and the enabled tools' prompt fragments.
type PromptBuilder struct {
	now func() time.Time
}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{now: time.Now}
}

// PromptInput carries the per-turn pieces the builder layers together.
type PromptInput struct {
	Agent            *config.AgentConfig
	Language         string
	KnowledgeContext string
	ToolFragments    []string
	Channel          domain.ChannelType
	Capabilities     domain.Capabilities
}

func (p *PromptBuilder) BuildSystemPrompt(in PromptInput) string {
	var sb strings.Builder

	name := in.Agent.Name
	if name == "" {
		name = in.Agent.ID
	}
	fmt.Fprintf(&sb, "You are %s.\n\n", name)
	fmt.Fprintf(&sb, "## Current Time\n%s\n", p.now().Format("2006-01-02 15:04 (Monday)"))

	if in.Language != "" {
		fmt.Fprintf(&sb, "\n## Language\nRespond in %s. Match the user's language when they clearly switch.\n", in.Language)
	}

	if in.KnowledgeContext != "" {
		sb.WriteString("\n")
		sb.WriteString(in.KnowledgeContext)
		sb.WriteString("\nGround your answers in the knowledge above when it is relevant. Do not invent facts it contradicts.\n")
	}

	if in.Agent.Prompt != "" {
		sb.WriteString("\n## Instructions\n")
		sb.WriteString(in.Agent.Prompt)
		sb.WriteString("\n")
	}

	if directive := channelDirective(in.Channel, in.Capabilities); directive != "" {
		sb.WriteString("\n## Channel\n")
		sb.WriteString(directive)
		sb.WriteString("\n")
	}

	for _, frag := range in.ToolFragments {
		if frag == "" {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(frag)
		sb.WriteString("\n")
	}

	return sb.String()
}

// channelDirective tells the model how to shape replies for the delivery
// medium.
func channelDirective(ch domain.ChannelType, caps domain.Capabilities) string {
	switch ch {
	case domain.ChannelSMS:
		return fmt.Sprintf("You are replying over SMS. Keep replies short, plain text only, ideally under %d characters. No markdown, no links unless asked.", caps.SegmentLength)
	case domain.ChannelWhatsApp:
		return "You are replying over WhatsApp. Plain conversational text, no markdown tables. Emoji are fine in moderation."
	case domain.ChannelVoice:
		return "You are speaking on a phone call. Reply in short spoken sentences. Never use markdown, lists, or URLs."
	case domain.ChannelWeb:
		return ""
	default:
		return ""
	}
}

// BuildMessages constructs the provider request: system prompt, history,
// then the current user message.
func (p *PromptBuilder) BuildMessages(systemPrompt string, history []domain.AgentMessage, current *domain.AgentMessage) []domain.AgentMessage {
	messages := make([]domain.AgentMessage, 0, len(history)+2)
	messages = append(messages, domain.AgentMessage{
		Role:    domain.RoleSystem,
		Type:    domain.TypeText,
		Content: systemPrompt,
	})
	messages = append(messages, history...)
	messages = append(messages, *current)
	return messages
}
