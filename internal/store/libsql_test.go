package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowarch/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSession(t *testing.T, s *LibSQLStore) *Session {
	t.Helper()
	sess := &Session{ID: uuid.New().String(), Title: "Login flow"}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func sampleSnapshot() schema.Snapshot {
	return schema.Snapshot{
		Nodes: []schema.Node{
			{ID: "a", Label: "Start", Position: schema.Position{X: 100, Y: 100}, ShapeKind: schema.ShapeStart, Color: "green"},
			{ID: "b", Label: "Work", Position: schema.Position{X: 350, Y: 100}, ShapeKind: schema.ShapeProcess, Color: "blue"},
		},
		Edges: []schema.Edge{{ID: "edge-a-b", Source: "a", Target: "b"}},
	}
}

func assertNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound), "got %v", err)
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var (
		count  int
		tables string
	)
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*), MAX(tables) FROM flowarch_migrations`).Scan(&count, &tables))
	assert.Equal(t, 1, count)
	assert.Equal(t, "sessions,snapshots,messages,histories", tables)
}

func TestMigrate_FailingStepRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	broken := append(append([]migration(nil), migrations...), migration{
		version: 2,
		name:    "broken",
		tables:  []string{"labels"},
		script:  "CREATE TABLE labels (id TEXT PRIMARY KEY);\nINSERT INTO missing_table VALUES (1);",
	})

	err := migrate(ctx, s.DB(), broken)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeStore), "got %v", err)
	assert.Contains(t, err.Error(), "migration broken")

	var version int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version) FROM flowarch_migrations`).Scan(&version))
	assert.Equal(t, 1, version)
	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'labels'`).Scan(&n))
	assert.Zero(t, n, "the failed step leaves no tables behind")
}

func TestStatements(t *testing.T) {
	script := `-- header
CREATE TABLE a (id TEXT);
  -- indented comment
CREATE INDEX idx_a ON a(id);

`
	assert.Equal(t, []string{
		"CREATE TABLE a (id TEXT)",
		"CREATE INDEX idx_a ON a(id)",
	}, statements(script))
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "Login flow", got.Title)
	assert.False(t, got.CreatedAt.IsZero())

	// Re-creating keeps the row and the old title when none is given.
	require.NoError(t, s.CreateSession(ctx, &Session{ID: sess.ID}))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Login flow", got.Title)
}

func TestCreateSession_RequiresID(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateSession(context.Background(), &Session{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), "nonexistent")
	assertNotFound(t, err)
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &Session{ID: "old", CreatedAt: time.Now().Add(-time.Hour), UpdatedAt: time.Now().Add(-time.Hour)}
	recent := &Session{ID: "recent"}
	require.NoError(t, s.CreateSession(ctx, old))
	require.NoError(t, s.CreateSession(ctx, recent))

	all, err := s.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "recent", all[0].ID)

	limited, err := s.ListSessions(ctx, SessionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteSessionCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	_, err := s.SaveSnapshot(ctx, sess.ID, sampleSnapshot())
	require.NoError(t, err)
	require.NoError(t, s.AppendMessages(ctx, sess.ID, []MessageRecord{{Role: "user", Content: "hi"}}))

	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	_, err = s.LatestSnapshot(ctx, sess.ID)
	assertNotFound(t, err)
	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assertNotFound(t, s.DeleteSession(ctx, sess.ID))
}

func TestSnapshotsAreVersioned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	v1, err := s.SaveSnapshot(ctx, sess.ID, schema.EmptySnapshot())
	require.NoError(t, err)
	v2, err := s.SaveSnapshot(ctx, sess.ID, sampleSnapshot())
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)
	assert.Equal(t, int64(2), v2)

	rec, err := s.LatestSnapshot(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.True(t, sampleSnapshot().Equal(rec.Snapshot))
}

func TestSaveSnapshot_UnknownSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SaveSnapshot(context.Background(), "ghost", schema.EmptySnapshot())
	assertNotFound(t, err)
}

func TestLatestSnapshot_EmptyCollectionsNotNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	_, err := s.SaveSnapshot(ctx, sess.ID, schema.Snapshot{})
	require.NoError(t, err)
	rec, err := s.LatestSnapshot(ctx, sess.ID)
	require.NoError(t, err)
	assert.NotNil(t, rec.Snapshot.Nodes)
	assert.NotNil(t, rec.Snapshot.Edges)
}

func TestPruneSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	for i := 0; i < 5; i++ {
		_, err := s.SaveSnapshot(ctx, sess.ID, sampleSnapshot())
		require.NoError(t, err)
	}

	n, err := s.PruneSnapshots(ctx, sess.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	rec, err := s.LatestSnapshot(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.Version)

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM snapshots WHERE session_id = ?`, sess.ID).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestAppendAndListMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	require.NoError(t, s.AppendMessages(ctx, sess.ID, []MessageRecord{
		{Role: "system", Content: "Hello!"},
		{Role: "user", Content: "add a start node"},
	}))
	require.NoError(t, s.AppendMessages(ctx, sess.ID, []MessageRecord{
		{Role: "assistant", Content: "Adding it.", Planning: true},
	}))
	require.NoError(t, s.AppendMessages(ctx, sess.ID, nil))

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Sequence)
		assert.Equal(t, sess.ID, m.SessionID)
	}
	assert.Equal(t, "add a start node", msgs[1].Content)
	assert.True(t, msgs[2].Planning)
	assert.False(t, msgs[1].Planning)
}

func TestAppendMessages_UnknownSession(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendMessages(context.Background(), "ghost", []MessageRecord{{Role: "user", Content: "x"}})
	assertNotFound(t, err)
}

func TestHistoryUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	_, err := s.GetHistory(ctx, sess.ID)
	assertNotFound(t, err)

	require.NoError(t, s.SaveHistory(ctx, sess.ID, json.RawMessage(`[{"role":"user"}]`)))
	require.NoError(t, s.SaveHistory(ctx, sess.ID, json.RawMessage(`[{"role":"user"},{"role":"model"}]`)))

	got, err := s.GetHistory(ctx, sess.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"role":"user"},{"role":"model"}]`, string(got))

	require.NoError(t, s.SaveHistory(ctx, sess.ID, nil))
	got, err = s.GetHistory(ctx, sess.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(got))
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Vacuum(context.Background()))
}
