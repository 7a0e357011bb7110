package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"omnibot/internal/domain"
)

const (
	searchTimeout   = 15 * time.Second
	userAgentString = "Omnibot/0.1"
)

// WebSearchTool searches the web using the DuckDuckGo Instant Answer API.
// It is gated per agent: the runtime only registers it for agents with
// webSearchEnabled, and its usage policy lives in the SystemPrompt
// fragment rather than in code.
type WebSearchTool struct {
	client *http.Client
}

func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{client: &http.Client{Timeout: searchTimeout}}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web for information. Returns a summary of search results."
}

func (t *WebSearchTool) SystemPrompt() string {
	return "You have a web_search tool, but use it sparingly: only when the user explicitly asks you to search, or when the question is about current events you cannot answer from the conversation or your knowledge. Never use it for general questions you can answer directly."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"query": {Type: "string", Description: "Search query to look up on the web"},
		},
		[]string{"query"},
	)
}

type ddgResponse struct {
	Heading       string `json:"Heading"`
	Abstract      string `json:"Abstract"`
	AbstractURL   string `json:"AbstractURL"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any, chctx *domain.ChannelContext) (any, error) {
	query := ArgString(args, "query")
	if query == "" {
		return nil, ErrMissing("query")
	}

	endpoint := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1&skip_disambig=1",
		url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var ddg ddgResponse
	if err := json.Unmarshal(body, &ddg); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	var results []string
	if ddg.Abstract != "" {
		results = append(results, fmt.Sprintf("## %s\n%s\nSource: %s", ddg.Heading, ddg.Abstract, ddg.AbstractURL))
	}
	if ddg.Answer != "" {
		results = append(results, "Answer: "+ddg.Answer)
	}
	for i, topic := range ddg.RelatedTopics {
		if i >= 5 {
			break
		}
		if topic.Text != "" {
			results = append(results, "- "+topic.Text)
		}
	}

	if len(results) == 0 {
		return map[string]any{"results": "No instant results found for: " + query}, nil
	}
	return map[string]any{"results": strings.Join(results, "\n\n")}, nil
}
