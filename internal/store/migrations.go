package store

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"

	"github.com/rendis/flowarch/pkg/schema"
)

//go:embed migrations/001_initial_schema.sql
var initialSchema string

// migration is one versioned schema step. Tables lists what it creates so
// flowarch_migrations doubles as a record of the session schema.
type migration struct {
	version int
	name    string
	tables  []string
	script  string
}

var migrations = []migration{
	{
		version: 1,
		name:    "sessions",
		tables:  []string{"sessions", "snapshots", "messages", "histories"},
		script:  initialSchema,
	},
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS flowarch_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	tables     TEXT NOT NULL,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// migrate brings db up to the newest of steps. Each step applies in its own
// transaction; a failing step leaves earlier ones in place.
func migrate(ctx context.Context, db *sql.DB, steps []migration) error {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return storeError("create flowarch_migrations", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM flowarch_migrations`,
	).Scan(&applied); err != nil {
		return storeError("read flowarch_migrations", err)
	}

	for _, m := range steps {
		if m.version <= applied {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin migration "+m.name, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range statements(m.script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storeError("migration "+m.name, err).
				WithDetails(map[string]any{"version": m.version, "statement": stmt})
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO flowarch_migrations (version, name, tables) VALUES (?, ?, ?)`,
		m.version, m.name, strings.Join(m.tables, ","),
	); err != nil {
		return storeError("record migration "+m.name, err)
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit migration "+m.name, err)
	}
	return nil
}

// statements drops "--" comment lines and splits the rest on semicolons.
// The schema scripts hold no string literals containing either.
func statements(script string) []string {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func storeError(op string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", op, err).WithCause(err)
}
