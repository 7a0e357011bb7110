package agent

import (
	"testing"

	"omnibot/internal/config"
	"omnibot/internal/domain"
)

func TestToolFilterAllowsOnlyConfiguredTools(t *testing.T) {
	tf := NewToolFilter(&config.AgentConfig{Tools: []string{"calculator", "weather"}})

	if !tf.IsAllowed("calculator") || !tf.IsAllowed("weather") {
		t.Error("configured tools should be allowed")
	}
	if tf.IsAllowed("flight_lookup") {
		t.Error("unlisted tool should be blocked")
	}
	if tf.IsAllowed("web_search") {
		t.Error("web_search should be blocked unless the agent opts in")
	}
}

func TestToolFilterWebSearchGate(t *testing.T) {
	tf := NewToolFilter(&config.AgentConfig{WebSearchEnabled: true})
	if !tf.IsAllowed("web_search") {
		t.Error("web_search should be allowed when enabled")
	}

	// The gate wins over an explicit list entry.
	tf = NewToolFilter(&config.AgentConfig{Tools: []string{"web_search"}, WebSearchEnabled: false})
	if tf.IsAllowed("web_search") {
		t.Error("web_search listed but disabled should be blocked")
	}
}

func TestToolFilterCalendarEnablesAllCalendarTools(t *testing.T) {
	tf := NewToolFilter(&config.AgentConfig{Calendar: &config.CalendarConfig{}})
	for _, name := range []string{"check_availability", "book_appointment", "view_appointments", "modify_appointment", "cancel_appointment"} {
		if !tf.IsAllowed(name) {
			t.Errorf("%s should be allowed when the agent has a calendar", name)
		}
	}
	if tf.IsEmpty() {
		t.Error("calendar agent filter should not be empty")
	}
}

func TestToolFilterEmpty(t *testing.T) {
	tf := NewToolFilter(&config.AgentConfig{})
	if !tf.IsEmpty() {
		t.Error("agent with no tools should yield an empty filter")
	}

	defs := []domain.ToolDefinition{{Name: "calculator"}, {Name: "weather"}}
	if got := tf.FilterDefinitions(defs); len(got) != 0 {
		t.Errorf("empty filter kept %d definitions", len(got))
	}
}

func TestFilterDefinitionsKeepsAllowedSubset(t *testing.T) {
	tf := NewToolFilter(&config.AgentConfig{Tools: []string{"weather"}})
	defs := []domain.ToolDefinition{{Name: "calculator"}, {Name: "weather"}, {Name: "datetime"}}

	got := tf.FilterDefinitions(defs)
	if len(got) != 1 || got[0].Name != "weather" {
		t.Errorf("filtered = %v, want only weather", got)
	}
}

func TestNilFilterAllowsEverything(t *testing.T) {
	var tf *ToolFilter
	if !tf.IsAllowed("anything") {
		t.Error("nil filter should allow all tools")
	}
	defs := []domain.ToolDefinition{{Name: "calculator"}}
	if got := tf.FilterDefinitions(defs); len(got) != 1 {
		t.Errorf("nil filter dropped definitions: %v", got)
	}
}
