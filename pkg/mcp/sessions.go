package mcp

import (
	"slices"
	"sync"
)

// ClientRegistry tracks the MCP client sessions that have called a tool.
// They are the recipients of canvas change notifications.
type ClientRegistry struct {
	mu       sync.RWMutex
	sessions map[string]struct{}
}

// NewClientRegistry creates a new empty ClientRegistry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{sessions: make(map[string]struct{})}
}

// Register records a client session. Registering twice is a no-op.
func (r *ClientRegistry) Register(sessionID string) {
	if sessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = struct{}{}
}

// Remove forgets a client session, typically after it disconnected.
func (r *ClientRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Sessions returns the registered session IDs in sorted order.
func (r *ClientRegistry) Sessions() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Len returns the number of registered sessions.
func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
