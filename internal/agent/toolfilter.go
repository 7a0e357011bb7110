package agent

import (
	"omnibot/internal/config"
	"omnibot/internal/domain"
)

// ToolFilter restricts the shared registry to the tools an agent snapshot
// enables. An empty tool list enables nothing except web_search when the
// agent opts in.
type ToolFilter struct {
	allowed map[string]bool
}

func NewToolFilter(agent *config.AgentConfig) *ToolFilter {
	tf := &ToolFilter{allowed: make(map[string]bool)}
	for _, t := range agent.Tools {
		tf.allowed[t] = true
	}
	if agent.WebSearchEnabled {
		tf.allowed["web_search"] = true
	} else {
		delete(tf.allowed, "web_search")
	}
	if agent.Calendar != nil {
		for _, t := range []string{"check_availability", "book_appointment", "view_appointments", "modify_appointment", "cancel_appointment"} {
			tf.allowed[t] = true
		}
	}
	return tf
}

func (tf *ToolFilter) IsAllowed(name string) bool {
	if tf == nil {
		return true
	}
	return tf.allowed[name]
}

// FilterDefinitions keeps only the definitions the agent may call.
func (tf *ToolFilter) FilterDefinitions(defs []domain.ToolDefinition) []domain.ToolDefinition {
	if tf == nil {
		return defs
	}
	filtered := make([]domain.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		if tf.IsAllowed(d.Name) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

func (tf *ToolFilter) IsEmpty() bool {
	return tf == nil || len(tf.allowed) == 0
}
