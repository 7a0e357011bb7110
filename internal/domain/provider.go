package domain

import "context"

// FinishReason reports why a provider stopped generating.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
)

// Provider is the uniform interface to a remote language model. Concrete
// adapters exist per vendor; the factory resolves model names to instances.
type Provider interface {
	// Generate performs a non-streaming completion. The response exposes
	// tool-call directives so the runtime can drive the tool loop.
	Generate(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// GenerateStream invokes onToken for each incremental chunk and returns
	// the concatenated text. The stream is registered under req.SessionID
	// so Interrupt can cancel it.
	GenerateStream(ctx context.Context, req ChatRequest, onToken func(string)) (string, error)

	// Interrupt is a best-effort cancellation of any in-flight stream for
	// the session. It is a no-op when no stream is active.
	Interrupt(sessionID string)

	Name() string
	Models() []string
}

// ChatRequest is a single provider invocation.
type ChatRequest struct {
	SessionID   string
	Messages    []AgentMessage
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the provider's reply, with enough structure to inspect
// a possible tool-call directive.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
	LatencyMs    int64
}

// HasToolCalls reports whether the model requested tool execution.
func (r *ChatResponse) HasToolCalls() bool {
	return r.FinishReason == FinishToolCalls || len(r.ToolCalls) > 0
}

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition is the wire-format description of a callable tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
