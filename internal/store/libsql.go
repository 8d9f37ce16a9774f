package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowarch/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/flowarch.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return migrate(ctx, s.db, migrations)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Sessions ---

// CreateSession inserts a session, or refreshes the title of an existing one.
func (s *LibSQLStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "session id is required")
	}
	sess.CreatedAt = timeOrNow(sess.CreatedAt)
	sess.UpdatedAt = timeOrNow(sess.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = COALESCE(excluded.title, sessions.title)`,
		sess.ID, nullStr(sess.Title), sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

func (s *LibSQLStore) GetSession(ctx context.Context, id string) (*Session, error) {
	sess := &Session{}
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("session", id)
	}
	if err != nil {
		return nil, err
	}
	sess.Title = title.String
	return sess, nil
}

// ListSessions returns sessions, most recently updated first.
func (s *LibSQLStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	query := `SELECT id, title, created_at, updated_at FROM sessions ORDER BY updated_at DESC, id`
	var args []any
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess := &Session{}
		var title sql.NullString
		if err := rows.Scan(&sess.ID, &title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sess.Title = title.String
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes the session with its snapshots, messages and history.
func (s *LibSQLStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"snapshots", "messages", "histories"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res, "session", id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Snapshots ---

// SaveSnapshot stores snap as the next version for the session and returns
// that version number.
func (s *LibSQLStore) SaveSnapshot(ctx context.Context, sessionID string, snap schema.Snapshot) (int64, error) {
	graph, err := json.Marshal(snap.Clone())
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := touchSession(ctx, tx, sessionID); err != nil {
		return 0, err
	}

	var version int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM snapshots WHERE session_id = ?`, sessionID,
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("get next version: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (session_id, version, graph, node_count, edge_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, version, string(graph), len(snap.Nodes), len(snap.Edges), time.Now().UTC(),
	); err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return version, nil
}

func (s *LibSQLStore) LatestSnapshot(ctx context.Context, sessionID string) (*SnapshotRecord, error) {
	rec := &SnapshotRecord{SessionID: sessionID}
	var graph string
	err := s.db.QueryRowContext(ctx,
		`SELECT version, graph, created_at FROM snapshots
		 WHERE session_id = ? ORDER BY version DESC LIMIT 1`, sessionID,
	).Scan(&rec.Version, &graph, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("snapshot for session", sessionID)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(graph), &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	rec.Snapshot = rec.Snapshot.Clone()
	return rec, nil
}

// PruneSnapshots deletes all but the newest keep versions and returns the
// number of rows removed.
func (s *LibSQLStore) PruneSnapshots(ctx context.Context, sessionID string, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE session_id = ? AND version <= (
			SELECT COALESCE(MAX(version), 0) - ? FROM snapshots WHERE session_id = ?
		)`, sessionID, keep, sessionID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Messages ---

// AppendMessages appends msgs to the transcript, assigning sequence numbers
// that continue from the last stored message.
func (s *LibSQLStore) AppendMessages(ctx context.Context, sessionID string, msgs []MessageRecord) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := touchSession(ctx, tx, sessionID); err != nil {
		return err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}

	for i := range msgs {
		seq++
		m := &msgs[i]
		m.SessionID = sessionID
		m.Sequence = seq
		m.CreatedAt = timeOrNow(m.CreatedAt)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, sequence, role, content, planning, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, m.Sequence, m.Role, m.Content, boolInt(m.Planning), m.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert message %d: %w", m.Sequence, err)
		}
	}

	return tx.Commit()
}

func (s *LibSQLStore) ListMessages(ctx context.Context, sessionID string) ([]MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, role, content, planning, created_at FROM messages
		 WHERE session_id = ? ORDER BY sequence ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		m := MessageRecord{SessionID: sessionID}
		var planning int
		if err := rows.Scan(&m.Sequence, &m.Role, &m.Content, &planning, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Planning = planning != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- History ---

func (s *LibSQLStore) SaveHistory(ctx context.Context, sessionID string, turns json.RawMessage) error {
	if len(turns) == 0 {
		turns = json.RawMessage("[]")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := touchSession(ctx, tx, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO histories (session_id, turns, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET turns = excluded.turns, updated_at = excluded.updated_at`,
		sessionID, string(turns), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetHistory(ctx context.Context, sessionID string) (json.RawMessage, error) {
	var turns string
	err := s.db.QueryRowContext(ctx,
		`SELECT turns FROM histories WHERE session_id = ?`, sessionID,
	).Scan(&turns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("history for session", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(turns), nil
}

// --- helpers ---

// touchSession bumps updated_at and reports NOT_FOUND for unknown sessions.
func touchSession(ctx context.Context, tx *sql.Tx, sessionID string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), sessionID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "session", sessionID)
}

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*LibSQLStore)(nil)
