package agent

import (
	"strings"
	"sync"
)

// Role tags a conversation turn. The model protocol only knows two roles;
// capability results travel in user turns.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Call is a capability invocation requested by the model.
type Call struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Response pairs a Call (by ID and name) with its result payload.
type Response struct {
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name"`
	Result map[string]any `json:"result"`
}

// Part is one element of a turn: free text, a call or a response.
// ThoughtSignature is opaque model state that must be replayed with the
// part it arrived on.
type Part struct {
	Text             string    `json:"text,omitempty"`
	Call             *Call     `json:"call,omitempty"`
	Response         *Response `json:"response,omitempty"`
	ThoughtSignature []byte    `json:"thoughtSignature,omitempty"`
}

// Turn is a single history entry.
type Turn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// UserText builds the turn that opens a user message.
func UserText(text string) Turn {
	return Turn{Role: RoleUser, Parts: []Part{{Text: text}}}
}

// Calls returns the invocations in the turn, in order.
func (t Turn) Calls() []Call {
	var out []Call
	for _, p := range t.Parts {
		if p.Call != nil {
			out = append(out, *p.Call)
		}
	}
	return out
}

// Text joins every text part of the turn.
func (t Turn) Text() string {
	var texts []string
	for _, p := range t.Parts {
		if s := strings.TrimSpace(p.Text); s != "" {
			texts = append(texts, s)
		}
	}
	return strings.Join(texts, "\n\n")
}

// opensUserMessage reports whether the turn is a user text turn, the only
// place history can be cut without splitting a call from its results.
func (t Turn) opensUserMessage() bool {
	if t.Role != RoleUser || len(t.Parts) == 0 {
		return false
	}
	for _, p := range t.Parts {
		if p.Response != nil || p.Call != nil {
			return false
		}
	}
	return true
}

// History is the append-only conversation log replayed to the model on every
// round. MaxTurns > 0 bounds its length; trimming drops the oldest turns and
// always restarts at a user text turn.
type History struct {
	mu       sync.RWMutex
	turns    []Turn
	maxTurns int
}

// NewHistory creates a history seeded with turns.
func NewHistory(maxTurns int, turns ...Turn) *History {
	h := &History{maxTurns: maxTurns}
	h.turns = append(h.turns, turns...)
	return h
}

// Append adds turns at the end.
func (h *History) Append(turns ...Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turns...)
}

// Turns returns a copy of the log.
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Reset replaces the log, e.g. when restoring a saved session.
func (h *History) Reset(turns []Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append([]Turn(nil), turns...)
}

// Trim enforces MaxTurns and returns how many turns were dropped. When no
// user text turn lies inside the retained window the log is left as is.
func (h *History) Trim() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxTurns <= 0 || len(h.turns) <= h.maxTurns {
		return 0
	}
	for i := len(h.turns) - h.maxTurns; i < len(h.turns); i++ {
		if h.turns[i].opensUserMessage() {
			h.turns = append([]Turn(nil), h.turns[i:]...)
			return i
		}
	}
	return 0
}
