// Package store persists sessions, canvas snapshots, transcripts and model
// histories in libSQL.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/flowarch/pkg/schema"
)

// Session is a persisted chat-driven canvas.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	Limit int
}

// SnapshotRecord is one saved version of a session's graph.
type SnapshotRecord struct {
	SessionID string          `json:"session_id"`
	Version   int64           `json:"version"`
	Snapshot  schema.Snapshot `json:"snapshot"`
	CreatedAt time.Time       `json:"created_at"`
}

// MessageRecord is one persisted transcript entry.
type MessageRecord struct {
	SessionID string    `json:"session_id"`
	Sequence  int64     `json:"sequence"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Planning  bool      `json:"planning,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Snapshots (versioned, append-only)
	SaveSnapshot(ctx context.Context, sessionID string, snap schema.Snapshot) (int64, error)
	LatestSnapshot(ctx context.Context, sessionID string) (*SnapshotRecord, error)
	PruneSnapshots(ctx context.Context, sessionID string, keep int) (int64, error)

	// Transcript (append-only)
	AppendMessages(ctx context.Context, sessionID string, msgs []MessageRecord) error
	ListMessages(ctx context.Context, sessionID string) ([]MessageRecord, error)

	// Conversation history (one document per session)
	SaveHistory(ctx context.Context, sessionID string, turns json.RawMessage) error
	GetHistory(ctx context.Context, sessionID string) (json.RawMessage, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
