package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"omnibot/internal/domain"
)

const (
	anthropicAPIURL       = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion   = "2023-06-01"
	anthropicDefaultModel = "claude-3-5-haiku-20241022"
	anthropicMaxTokens    = 4096
)

// Anthropic implements domain.Provider for the Anthropic Messages API.
type Anthropic struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	streams *streamTable
	logger  *slog.Logger
}

type AnthropicConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Logger  *slog.Logger
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.APIBase == "" {
		cfg.APIBase = anthropicAPIURL
	}
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
	}
	return &Anthropic{
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		client:  sharedHTTPClient(defaultHTTPTimeout),
		streams: newStreamTable(),
		logger:  cfg.Logger,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }
func (a *Anthropic) Models() []string {
	return []string{"claude-sonnet-4-5-20250514", "claude-3-5-haiku-20241022"}
}

func (a *Anthropic) Interrupt(sessionID string) {
	a.streams.interrupt(sessionID)
}

type anthMsg struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthContent
}

type anthContent struct {
	Type      string `json:"type"` // "text" | "tool_use" | "tool_result"
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthRequest struct {
	Model     string     `json:"model"`
	MaxTokens int        `json:"max_tokens"`
	System    string     `json:"system,omitempty"`
	Messages  []anthMsg  `json:"messages"`
	Tools     []anthTool `json:"tools,omitempty"`
	Stream    bool       `json:"stream,omitempty"`
}

type anthResponse struct {
	Content    []anthContent `json:"content"`
	StopReason string        `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// buildRequest splits the system message out and converts function-role
// messages into tool_result content blocks, per the Messages API shape.
func (a *Anthropic) buildRequest(req domain.ChatRequest, stream bool) anthRequest {
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}

	var systemPrompt string
	var msgs []anthMsg
	for _, m := range req.Messages {
		switch {
		case m.Role == domain.RoleSystem:
			systemPrompt = m.Content
		case m.Role == domain.RoleFunction:
			msgs = append(msgs, anthMsg{
				Role: "user",
				Content: []anthContent{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case m.Role == domain.RoleAssistant && len(m.ToolCalls) > 0:
			var blocks []anthContent
			if m.Content != "" {
				blocks = append(blocks, anthContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
			}
			msgs = append(msgs, anthMsg{Role: "assistant", Content: blocks})
		default:
			msgs = append(msgs, anthMsg{Role: string(m.Role), Content: m.Content})
		}
	}

	body := anthRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages:  msgs,
		Stream:    stream,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, anthTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return body
}

func (a *Anthropic) post(ctx context.Context, body anthRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.apiBase, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "anthropic", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &domain.ProviderError{
			Provider: "anthropic",
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)),
		}
	}
	return resp, nil
}

func (a *Anthropic) Generate(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	resp, err := a.post(ctx, a.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var anthResp anthResponse
	if err := json.NewDecoder(resp.Body).Decode(&anthResp); err != nil {
		return nil, &domain.ProviderError{Provider: "anthropic", Err: fmt.Errorf("decode: %w", err)}
	}

	out := &domain.ChatResponse{
		FinishReason: anthropicFinish(anthResp.StopReason),
		Usage: domain.Usage{
			PromptTokens:     anthResp.Usage.InputTokens,
			CompletionTokens: anthResp.Usage.OutputTokens,
			TotalTokens:      anthResp.Usage.InputTokens + anthResp.Usage.OutputTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}

	var textParts []string
	for _, block := range anthResp.Content {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			args, _ := block.Input.(map[string]any)
			if args == nil {
				args = make(map[string]any)
			}
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	out.Content = strings.Join(textParts, "")
	return out, nil
}

// GenerateStream consumes the Messages SSE stream, forwarding text deltas.
func (a *Anthropic) GenerateStream(ctx context.Context, req domain.ChatRequest, onToken func(string)) (string, error) {
	streamCtx, release := a.streams.register(ctx, req.SessionID)
	defer release()

	resp, err := a.post(streamCtx, a.buildRequest(req, true))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}
		if event.Type == "message_stop" {
			break
		}
		if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
			full.WriteString(event.Delta.Text)
			if onToken != nil {
				onToken(event.Delta.Text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if streamCtx.Err() != nil {
			return full.String(), nil
		}
		return full.String(), &domain.ProviderError{Provider: "anthropic", Err: err}
	}
	return full.String(), nil
}

func anthropicFinish(stop string) domain.FinishReason {
	switch stop {
	case "tool_use":
		return domain.FinishToolCalls
	case "max_tokens":
		return domain.FinishLength
	default:
		return domain.FinishStop
	}
}
