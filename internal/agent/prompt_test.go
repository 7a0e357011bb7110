package agent

import (
	"strings"
	"testing"
	"time"

	"omnibot/internal/config"
	"omnibot/internal/domain"
)

func fixedBuilder() *PromptBuilder {
	at := time.Date(2026, 9, 7, 14, 30, 0, 0, time.UTC)
	return &PromptBuilder{now: func() time.Time { return at }}
}

func TestBuildSystemPromptLayers(t *testing.T) {
	prompt := fixedBuilder().BuildSystemPrompt(PromptInput{
		Agent:            &config.AgentConfig{ID: "helper", Name: "Ava", Prompt: "Answer billing questions."},
		Language:         "spanish",
		KnowledgeContext: "## Relevant Knowledge\n\n[1] refunds take 5 days",
		ToolFragments:    []string{"Use web_search only for current events."},
		Channel:          domain.ChannelWeb,
	})

	for _, want := range []string{
		"You are Ava.",
		"## Current Time\n2026-09-07 14:30 (Monday)",
		"Respond in spanish",
		"[1] refunds take 5 days",
		"Ground your answers in the knowledge above",
		"## Instructions\nAnswer billing questions.",
		"Use web_search only for current events.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "## Channel") {
		t.Error("web channel should add no directive")
	}
}

func TestBuildSystemPromptFallsBackToAgentID(t *testing.T) {
	prompt := fixedBuilder().BuildSystemPrompt(PromptInput{
		Agent: &config.AgentConfig{ID: "support-bot"},
	})
	if !strings.Contains(prompt, "You are support-bot.") {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestChannelDirectives(t *testing.T) {
	smsCaps := domain.CapabilitiesFor(domain.ChannelSMS)

	cases := []struct {
		channel domain.ChannelType
		want    string
	}{
		{domain.ChannelSMS, "under 160 characters"},
		{domain.ChannelWhatsApp, "no markdown tables"},
		{domain.ChannelVoice, "phone call"},
	}
	for _, tc := range cases {
		got := channelDirective(tc.channel, smsCaps)
		if !strings.Contains(got, tc.want) {
			t.Errorf("%s directive = %q, want mention of %q", tc.channel, got, tc.want)
		}
	}
}

func TestBuildMessagesOrder(t *testing.T) {
	history := []domain.AgentMessage{
		{Role: domain.RoleUser, Content: "earlier"},
		{Role: domain.RoleAssistant, Content: "noted"},
	}
	current := &domain.AgentMessage{Role: domain.RoleUser, Content: "now"}

	msgs := fixedBuilder().BuildMessages("sys", history, current)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].Role != domain.RoleSystem || msgs[0].Content != "sys" {
		t.Errorf("first message = %+v, want the system prompt", msgs[0])
	}
	if msgs[3].Content != "now" {
		t.Errorf("last message = %q, want the current message", msgs[3].Content)
	}
}
