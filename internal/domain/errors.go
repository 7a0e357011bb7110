package domain

import "fmt"

// ValidationError is raised by channel adapters for malformed or oversized
// input. It is the only failure that surfaces synchronously to the caller
// before any side effects occur.
type ValidationError struct {
	Channel string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation failed: %s", e.Channel, e.Reason)
}

// ProviderError wraps network/auth/quota failures from a model call. It is
// caught at the runtime boundary and converted into the agent's configured
// error message.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RetrievalError is never fatal: the runtime treats it as "no context
// found" and continues the turn.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string { return fmt.Sprintf("retrieval: %v", e.Err) }
func (e *RetrievalError) Unwrap() error { return e.Err }

// PersistenceError is logged and swallowed: a failed save must never block
// returning a reply to the user.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persist %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }
