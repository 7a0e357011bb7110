package domain

import "context"

// Tool is a named, schema-described capability the model may invoke
// mid-generation. Execution happens out-of-band; results are fed back into
// the same generation turn.
type Tool interface {
	Name() string
	Description() string

	// Parameters returns a JSON Schema object describing the arguments.
	Parameters() map[string]any

	// SystemPrompt returns an optional prompt fragment layered into the
	// system prompt when the tool is registered (empty = none). Usage
	// policy for restricted tools lives here, not in code.
	SystemPrompt() string

	Execute(ctx context.Context, args map[string]any, chctx *ChannelContext) (any, error)
}

// ToolErrorKind discriminates executor failures.
type ToolErrorKind string

const (
	ToolNotFound     ToolErrorKind = "tool_not_found"
	ToolBadArguments ToolErrorKind = "bad_arguments"
	ToolExecFailed   ToolErrorKind = "execution_failed"
)

// ToolError is the explicit failure type returned by the executor, so
// callers must handle failure without relying on panics or sentinel
// comparisons.
type ToolError struct {
	Kind ToolErrorKind
	Tool string
	Msg  string
	Err  error
}

func (e *ToolError) Error() string {
	if e.Msg != "" {
		return string(e.Kind) + ": " + e.Tool + ": " + e.Msg
	}
	return string(e.Kind) + ": " + e.Tool
}

func (e *ToolError) Unwrap() error { return e.Err }

// ToolResult is the settled outcome of one call in a batch: result or
// error, never both.
type ToolResult struct {
	ID     string
	Name   string
	Result any
	Err    *ToolError
}

// Payload renders the result (or error) as the value fed back to the model.
// Failures become structured error payloads rather than aborting the turn.
func (r ToolResult) Payload() any {
	if r.Err != nil {
		return map[string]any{"success": false, "error": r.Err.Error()}
	}
	return r.Result
}
