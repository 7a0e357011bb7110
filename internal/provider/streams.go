package provider

import (
	"context"
	"sync"
)

// streamTable tracks in-flight streams per session so Interrupt can abort
// the network stream without touching conversation state. At most one
// active stream exists per session; registering a new one cancels the old.
type streamTable struct {
	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func newStreamTable() *streamTable {
	return &streamTable{active: make(map[string]context.CancelFunc)}
}

// register derives a cancellable context for the session's stream and
// records its cancel func. The returned release must be called when the
// stream ends.
func (t *streamTable) register(ctx context.Context, sessionID string) (context.Context, func()) {
	if sessionID == "" {
		return ctx, func() {}
	}
	streamCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	if old, ok := t.active[sessionID]; ok {
		old()
	}
	t.active[sessionID] = cancel
	t.mu.Unlock()

	release := func() {
		t.mu.Lock()
		delete(t.active, sessionID)
		t.mu.Unlock()
		cancel()
	}
	return streamCtx, release
}

// interrupt cancels the session's stream if one is active. No-op otherwise.
func (t *streamTable) interrupt(sessionID string) {
	t.mu.Lock()
	cancel, ok := t.active[sessionID]
	if ok {
		delete(t.active, sessionID)
	}
	t.mu.Unlock()
	if ok {
		cancel()
	}
}
