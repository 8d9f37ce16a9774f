package session

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/flowarch/internal/agent"
	"github.com/rendis/flowarch/internal/store"
	"github.com/rendis/flowarch/pkg/schema"
)

// saveMarks records what the store already holds.
type saveMarks struct {
	created  bool
	version  uint64
	messages int
	turns    uint64
}

// Dirty reports whether the canvas, transcript or history changed since the
// last Save or Restore. Without a store nothing is ever dirty.
func (s *Session) Dirty() bool {
	if s.store == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.saved.created ||
		s.saved.version != s.graph.Version() ||
		s.saved.messages != len(s.messages) ||
		s.saved.turns != s.turns
}

// Save persists whatever changed: a new snapshot version when the graph
// moved, the transcript entries not yet stored, and the history document.
func (s *Session) Save(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	marks := s.saved
	turns := s.turns
	pending := append([]agent.Message(nil), s.messages[min(marks.messages, len(s.messages)):]...)
	total := len(s.messages)
	s.mu.RUnlock()

	first := !marks.created
	if first {
		if err := s.store.CreateSession(ctx, &store.Session{ID: s.id, Title: s.title}); err != nil {
			return storeError("create session", err)
		}
		marks.created = true
	}

	version := s.graph.Version()
	if first || version != marks.version {
		saved, err := s.store.SaveSnapshot(ctx, s.id, s.graph.Snapshot())
		if err != nil {
			return storeError("save snapshot", err)
		}
		if s.retention > 0 {
			if _, err := s.store.PruneSnapshots(ctx, s.id, s.retention); err != nil {
				s.logger.WarnContext(ctx, "prune snapshots failed", slog.String("error", err.Error()))
			}
		}
		s.logger.DebugContext(ctx, "snapshot saved", slog.Int64("snapshot_version", saved))
		marks.version = version
	}

	if len(pending) > 0 {
		records := make([]store.MessageRecord, 0, len(pending))
		for _, m := range pending {
			records = append(records, store.MessageRecord{
				Role:      string(m.Role),
				Content:   m.Content,
				Planning:  m.Planning,
				CreatedAt: m.At,
			})
		}
		if err := s.store.AppendMessages(ctx, s.id, records); err != nil {
			return storeError("append messages", err)
		}
		marks.messages = total
	}

	if turns != marks.turns {
		raw, err := json.Marshal(s.history.Turns())
		if err != nil {
			return schema.NewError(schema.ErrCodeExecution, "encode history").WithCause(err)
		}
		if err := s.store.SaveHistory(ctx, s.id, raw); err != nil {
			return storeError("save history", err)
		}
		marks.turns = turns
	}

	s.mu.Lock()
	s.saved = marks
	s.mu.Unlock()
	return nil
}

// Restore loads the session from the store. An unknown session id is not an
// error: the session starts fresh and is created on the first Save.
func (s *Session) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if _, err := s.store.GetSession(ctx, s.id); err != nil {
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			return nil
		}
		return storeError("load session", err)
	}

	snap := schema.EmptySnapshot()
	rec, err := s.store.LatestSnapshot(ctx, s.id)
	switch {
	case err == nil:
		snap = rec.Snapshot
	case !schema.HasCode(err, schema.ErrCodeNotFound):
		return storeError("load snapshot", err)
	}

	records, err := s.store.ListMessages(ctx, s.id)
	if err != nil {
		return storeError("load messages", err)
	}

	var turns []agent.Turn
	raw, err := s.store.GetHistory(ctx, s.id)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &turns); err != nil {
			return schema.NewError(schema.ErrCodeStore, "decode history").WithCause(err)
		}
	case !schema.HasCode(err, schema.ErrCodeNotFound):
		return storeError("load history", err)
	}

	s.graph.Replace(snap)
	s.history.Reset(turns)

	s.mu.Lock()
	if len(records) > 0 {
		s.messages = make([]agent.Message, 0, len(records))
		for _, r := range records {
			s.messages = append(s.messages, agent.Message{
				Role:     agent.MessageRole(r.Role),
				Content:  r.Content,
				Planning: r.Planning,
				At:       r.CreatedAt,
			})
		}
	}
	s.saved = saveMarks{
		created:  true,
		version:  s.graph.Version(),
		messages: len(records),
		turns:    s.turns,
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "session restored",
		slog.Int("nodes", len(snap.Nodes)),
		slog.Int("edges", len(snap.Edges)),
		slog.Int("messages", len(records)),
		slog.Int("turns", len(turns)),
	)
	s.publishGraph(ctx)
	return nil
}

func storeError(op string, err error) error {
	if schema.HasCode(err, schema.ErrCodeNotFound) {
		return err
	}
	return schema.NewError(schema.ErrCodeStore, op+": "+err.Error()).WithCause(err)
}
