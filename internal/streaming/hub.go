package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time update pushed to presentation shells.
type StreamEvent struct {
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	SessionID  string   `json:"session_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for session events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
