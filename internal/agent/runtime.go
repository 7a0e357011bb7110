// Package agent orchestrates a message turn: conversation load, retrieval,
// prompt assembly, provider calls, tool execution and persistence.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"omnibot/internal/analytics"
	"omnibot/internal/config"
	"omnibot/internal/conversation"
	"omnibot/internal/domain"
	"omnibot/internal/provider"
	"omnibot/internal/retrieval"
	"omnibot/internal/tool"
)

const streamChunkSize = 48

// Runtime is the orchestrator every channel adapter hands messages to.
type Runtime struct {
	agents        *config.AgentCache
	providers     *provider.Factory
	conversations *conversation.Manager
	tools         *tool.Registry
	retrieval     *retrieval.Engine
	analytics     *analytics.Service
	rateLimiter   *RateLimiter
	logger        *slog.Logger
	maxIterations int
}

type RuntimeConfig struct {
	Agents        *config.AgentCache
	Providers     *provider.Factory
	Conversations *conversation.Manager
	Tools         *tool.Registry
	Retrieval     *retrieval.Engine // optional
	Analytics     *analytics.Service
	Logger        *slog.Logger
	MaxIterations int
	RateBurst     int
	RatePerMinute float64
}

func NewRuntime(cfg RuntimeConfig) *Runtime {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}
	return &Runtime{
		agents:        cfg.Agents,
		providers:     cfg.Providers,
		conversations: cfg.Conversations,
		tools:         cfg.Tools,
		retrieval:     cfg.Retrieval,
		analytics:     cfg.Analytics,
		rateLimiter:   NewRateLimiter(RateLimiterConfig{Burst: cfg.RateBurst, PerMinute: cfg.RatePerMinute}),
		logger:        cfg.Logger,
		maxIterations: cfg.MaxIterations,
	}
}

// ProcessMessage runs one full turn for an inbound message and returns the
// reply to deliver. Failures inside the pipeline never surface raw to the
// user: they convert to the agent's configured error message, which is
// itself persisted as the turn's reply. The returned error reports the
// underlying cause to the caller for logging.
func (r *Runtime) ProcessMessage(ctx context.Context, msg *domain.AgentMessage, chctx *domain.ChannelContext) (string, error) {
	sessionKey := chctx.SessionKey()

	// One turn at a time per session.
	lock := r.conversations.SessionLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()

	agent, err := r.agents.Get(chctx.AgentID)
	if err != nil {
		r.logger.Error("agent snapshot unavailable", "agent", chctx.AgentID, "err", err)
		return "I'm sorry, this assistant is not available right now.", err
	}
	agent = agent.MergeForChannel(string(chctx.Channel))
	if !agent.ChannelEnabled(string(chctx.Channel)) {
		return "", &domain.ValidationError{Channel: string(chctx.Channel), Reason: "agent does not serve this channel"}
	}

	r.analytics.StartConversation(sessionKey, chctx.ThreadID, agent.ID, string(chctx.Channel))
	r.analytics.TrackUserMessage(sessionKey)

	state, err := r.conversations.GetOrCreate(ctx, chctx)
	if err != nil {
		r.analytics.TrackError(sessionKey)
		return agent.ErrorReply(), err
	}
	history := r.conversations.RecentWindow(state)
	r.conversations.Append(ctx, state, msg, chctx)

	reply, err := r.generateReply(ctx, agent, history, msg, chctx)
	if err != nil {
		r.logger.Error("turn failed", "session", sessionKey, "err", err)
		r.analytics.TrackError(sessionKey)
		reply = agent.ErrorReply()
	}

	assistant := &domain.AgentMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Type:      domain.TypeText,
		Content:   reply,
		Timestamp: time.Now(),
	}
	r.conversations.Append(ctx, state, assistant, chctx)
	r.analytics.TrackAssistantMessage(sessionKey)
	r.analytics.TrackResponseTime(sessionKey, time.Since(started))

	return reply, err
}

// generateReply runs retrieval, prompt assembly and the bounded tool loop.
func (r *Runtime) generateReply(ctx context.Context, agent *config.AgentConfig, history []domain.AgentMessage, msg *domain.AgentMessage, chctx *domain.ChannelContext) (string, error) {
	filter := NewToolFilter(agent)
	var toolDefs []domain.ToolDefinition
	var toolFragments []string
	if r.tools != nil && !filter.IsEmpty() {
		toolDefs = filter.FilterDefinitions(r.tools.Definitions())
		toolFragments = r.tools.SystemPrompts(filter.IsAllowed)
	}

	// Retrieval runs while the rest of the prompt is assembled.
	var (
		wg               sync.WaitGroup
		knowledgeContext string
	)
	if r.retrieval != nil && len(agent.KnowledgeSources) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snippets, err := r.retrieval.Search(ctx, agent.KnowledgeSources, msg.Content)
			if err != nil {
				// Retrieval is never fatal to a turn.
				r.logger.Warn("knowledge search failed", "agent", agent.ID, "err", err)
				return
			}
			knowledgeContext = retrieval.BuildContext(snippets)
		}()
	}

	language := detectLanguage(msg.Content, agent.PrimaryLanguage, agent.SecondaryLanguage)
	builder := NewPromptBuilder()
	wg.Wait()

	systemPrompt := builder.BuildSystemPrompt(PromptInput{
		Agent:            agent,
		Language:         language,
		KnowledgeContext: knowledgeContext,
		ToolFragments:    toolFragments,
		Channel:          chctx.Channel,
		Capabilities:     chctx.Capabilities,
	})
	messages := builder.BuildMessages(systemPrompt, history, msg)

	prov := r.providers.ForModel(agent.Model)
	req := domain.ChatRequest{
		SessionID:   chctx.SessionKey(),
		Messages:    messages,
		Tools:       toolDefs,
		Model:       agent.Model,
		MaxTokens:   agent.MaxTokens,
		Temperature: agent.Temperature,
	}

	streaming := chctx.Capabilities.SupportsStreaming && chctx.OnToken != nil

	// No tools in play: a single call, natively streamed when possible.
	if len(toolDefs) == 0 {
		if err := r.rateLimiter.Wait(ctx); err != nil {
			return "", err
		}
		if streaming {
			return prov.GenerateStream(ctx, req, chctx.OnToken)
		}
		resp, err := prov.Generate(ctx, req)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	// Tool loop: non-streaming calls so tool requests can be inspected;
	// the final text is replayed through the token callback afterwards.
	final, err := r.toolLoop(ctx, prov, req, chctx)
	if err != nil {
		return "", err
	}
	if streaming {
		replayChunks(final, chctx.OnToken)
	}
	return final, nil
}

// toolLoop calls the provider until it stops requesting tools or the
// iteration ceiling is hit. Failed tools feed error payloads back to the
// model rather than aborting the turn.
func (r *Runtime) toolLoop(ctx context.Context, prov domain.Provider, req domain.ChatRequest, chctx *domain.ChannelContext) (string, error) {
	sessionKey := chctx.SessionKey()

	for iteration := 0; iteration < r.maxIterations; iteration++ {
		if err := r.rateLimiter.Wait(ctx); err != nil {
			return "", err
		}

		resp, err := prov.Generate(ctx, req)
		if err != nil {
			return "", err
		}
		if !resp.HasToolCalls() {
			return resp.Content, nil
		}

		r.logger.Debug("tool round", "iteration", iteration+1, "calls", len(resp.ToolCalls))
		req.Messages = append(req.Messages, domain.AgentMessage{
			Role:      domain.RoleAssistant,
			Type:      domain.TypeFunctionCall,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results := r.tools.ExecuteBatch(ctx, resp.ToolCalls, chctx)
		for _, res := range results {
			r.analytics.TrackToolUse(sessionKey, res.Name)
			if res.Err != nil {
				r.logger.Warn("tool failed", "tool", res.Name, "kind", res.Err.Kind, "err", res.Err)
				r.analytics.TrackError(sessionKey)
			}
			req.Messages = append(req.Messages, domain.AgentMessage{
				Role:       domain.RoleFunction,
				Type:       domain.TypeFunctionResult,
				Content:    encodePayload(res.Payload()),
				ToolCallID: res.ID,
				ToolName:   res.Name,
			})
		}
	}

	// Ceiling reached with the model still requesting tools.
	r.logger.Warn("tool iteration ceiling reached", "session", sessionKey, "max", r.maxIterations)
	return "I'm sorry, I couldn't complete that request. Could you try rephrasing it?", nil
}

// Interrupt cancels any in-flight stream for the session. Idle sessions
// are a no-op.
func (r *Runtime) Interrupt(sessionKey string) {
	r.providers.InterruptAll(sessionKey)
}

// EndConversation finalizes analytics and evicts the cached conversation.
func (r *Runtime) EndConversation(ctx context.Context, sessionKey string) {
	r.analytics.EndConversation(ctx, sessionKey)
	r.conversations.Clear(sessionKey)
}

func encodePayload(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"success":false,"error":"unencodable tool result"}`
	}
	return string(data)
}

// replayChunks feeds an already-complete reply through the token callback
// in fixed-size rune chunks, so channel adapters see one code path for
// streamed and non-streamed turns.
func replayChunks(text string, onToken func(string)) {
	runes := []rune(text)
	for i := 0; i < len(runes); i += streamChunkSize {
		end := i + streamChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		onToken(string(runes[i:end]))
	}
}
