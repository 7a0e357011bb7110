package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"omnibot/internal/domain"
)

const (
	defaultToolTimeout = 30 * time.Second
	defaultMaxParallel = 5
)

type entry struct {
	tool   domain.Tool
	schema *jsonschema.Schema
}

// Registry holds the runtime's tools and executes them. Argument payloads
// are validated against each tool's compiled JSON schema before dispatch,
// and failures come back as explicit *domain.ToolError values.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]entry
	logger      *slog.Logger
	maxParallel int
	timeout     time.Duration
}

type RegistryConfig struct {
	Logger      *slog.Logger
	MaxParallel int           // bound for ExecuteBatch (default 5)
	Timeout     time.Duration // per-call ceiling unless the tool manages its own
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultToolTimeout
	}
	return &Registry{
		tools:       make(map[string]entry),
		logger:      cfg.Logger,
		maxParallel: cfg.MaxParallel,
		timeout:     cfg.Timeout,
	}
}

// Register adds a tool. Name is the lookup key; a duplicate registration
// replaces the previous tool (last writer wins, logged).
func (r *Registry) Register(t domain.Tool) {
	sch, err := compileSchema(t.Name(), t.Parameters())
	if err != nil {
		r.logger.Error("tool schema does not compile, registering without validation",
			"tool", t.Name(), "err", err)
	}

	r.mu.Lock()
	if _, exists := r.tools[t.Name()]; exists {
		r.logger.Warn("replacing already-registered tool", "name", t.Name())
	}
	r.tools[t.Name()] = entry{tool: t, schema: sch}
	r.mu.Unlock()

	r.logger.Debug("registered tool", "name", t.Name())
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := "omnibot://tools/" + name + ".json"
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Definitions projects the registry into the wire format providers expect,
// sorted by name for stable output.
func (r *Registry) Definitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, domain.ToolDefinition{
			Name:        e.tool.Name(),
			Description: e.tool.Description(),
			Parameters:  e.tool.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// SystemPrompts collects the prompt fragments of tools whose names pass the
// filter (nil filter = all tools).
func (r *Registry) SystemPrompts(allowed func(name string) bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)

	var fragments []string
	for _, n := range names {
		if allowed != nil && !allowed(n) {
			continue
		}
		if p := r.tools[n].tool.SystemPrompt(); p != "" {
			fragments = append(fragments, p)
		}
	}
	return fragments
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute runs one tool call: lookup, schema validation, dispatch. The
// handler runs under the registry's default timeout.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, chctx *domain.ChannelContext) (any, *domain.ToolError) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &domain.ToolError{Kind: domain.ToolNotFound, Tool: name, Msg: "no such tool"}
	}

	if args == nil {
		args = make(map[string]any)
	}
	if e.schema != nil {
		if err := e.schema.Validate(normalizeArgs(args)); err != nil {
			return nil, &domain.ToolError{Kind: domain.ToolBadArguments, Tool: name, Msg: err.Error(), Err: err}
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := e.tool.Execute(execCtx, args, chctx)
	if err != nil {
		return nil, &domain.ToolError{Kind: domain.ToolExecFailed, Tool: name, Msg: err.Error(), Err: err}
	}
	return result, nil
}

// ExecuteBatch runs a batch of calls concurrently with settle-all
// semantics: one failure never aborts the batch, and results come back in
// call order.
func (r *Registry) ExecuteBatch(ctx context.Context, calls []domain.ToolCall, chctx *domain.ChannelContext) []domain.ToolResult {
	results := make([]domain.ToolResult, len(calls))
	sem := make(chan struct{}, r.maxParallel)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc domain.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, terr := r.Execute(ctx, tc.Name, tc.Arguments, chctx)
			results[idx] = domain.ToolResult{ID: tc.ID, Name: tc.Name, Result: res, Err: terr}
			if terr != nil {
				r.logger.Warn("tool call failed", "tool", tc.Name, "kind", terr.Kind, "err", terr.Msg)
			}
		}(i, call)
	}
	wg.Wait()
	return results
}

// normalizeArgs re-decodes args through JSON so validation sees the same
// value shapes a decoded payload would have (json.Number handling aside,
// map[string]any from providers already fits).
func normalizeArgs(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return args
	}
	return v
}

// Param describes a single tool parameter for schema construction.
type Param struct {
	Type        string
	Description string
	Enum        []string
}

// Parameters builds a JSON Schema "parameters" object from a property map.
func Parameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any)
	for name, p := range properties {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			vals := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				vals[i] = v
			}
			prop["enum"] = vals
		}
		props[name] = prop
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ArgString extracts a string argument, rendering non-strings via JSON.
func ArgString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// ArgInt extracts an integer argument (JSON numbers decode as float64).
func ArgInt(args map[string]any, key string, def int) int {
	if args == nil {
		return def
	}
	switch n := args[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

// ErrMissing is the conventional error for an absent required argument
// that schema validation could not catch (e.g. empty string).
func ErrMissing(key string) error {
	return fmt.Errorf("missing argument: %s", key)
}
