// Package sqlite persists conversation contexts and workflow state snapshots
// in a SQLite database using the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultStateTTL is how long workflow state snapshots are kept.
const DefaultStateTTL = 24 * time.Hour

// Backend implements core.ContextBackend on top of SQLite.
type Backend struct {
	db       *sql.DB
	stateTTL time.Duration
	now      func() time.Time
}

var (
	_ core.ContextBackend = (*Backend)(nil)
	_ engine.StateStore   = (*Backend)(nil)
)

// Open opens (or creates) the database at dsn and applies pending migrations.
// Use ":memory:" for an ephemeral database.
func Open(dsn string) (*Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	b := &Backend{db: db, stateTTL: DefaultStateTTL, now: time.Now}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return b, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// SetStateTTL changes how long workflow snapshots live.
func (b *Backend) SetStateTTL(ttl time.Duration) {
	if ttl > 0 {
		b.stateTTL = ttl
	}
}

func (b *Backend) migrate() error {
	if _, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string

	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}

	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := b.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}

		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}

		tx, err := b.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}

	return nil
}

// SaveContext upserts the user's context as JSON.
func (b *Backend) SaveContext(ctx context.Context, userID string, data core.Context) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `INSERT INTO contexts (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		userID, string(raw), b.now().UTC())
	if err != nil {
		return fmt.Errorf("save context %s: %w", userID, err)
	}

	return nil
}

// LoadContext returns the stored context, ok=false when none exists.
func (b *Backend) LoadContext(ctx context.Context, userID string) (core.Context, bool, error) {
	var raw string

	err := b.db.QueryRowContext(ctx, "SELECT data FROM contexts WHERE user_id = ?", userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("load context %s: %w", userID, err)
	}

	var data core.Context
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, false, fmt.Errorf("decode context %s: %w", userID, err)
	}

	return data, true, nil
}

// DeleteContext removes the user's context.
func (b *Backend) DeleteContext(ctx context.Context, userID string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM contexts WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("delete context %s: %w", userID, err)
	}

	return nil
}

// SaveWorkflowState upserts a JSON snapshot of a workflow execution.
func (b *Backend) SaveWorkflowState(ctx context.Context, executionID, userID string, state any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode workflow state: %w", err)
	}

	now := b.now().UTC()

	_, err = b.db.ExecContext(ctx, `INSERT INTO workflow_states (execution_id, user_id, state, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at, expires_at = excluded.expires_at`,
		executionID, userID, string(raw), now, now.Add(b.stateTTL).Unix())
	if err != nil {
		return fmt.Errorf("save workflow state %s: %w", executionID, err)
	}

	return nil
}

// LoadWorkflowState decodes the snapshot for executionID into dst. Expired
// snapshots are reported as missing.
func (b *Backend) LoadWorkflowState(ctx context.Context, executionID string, dst any) (bool, error) {
	var (
		raw     string
		expires int64
	)

	err := b.db.QueryRowContext(ctx, "SELECT state, expires_at FROM workflow_states WHERE execution_id = ?", executionID).Scan(&raw, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("load workflow state %s: %w", executionID, err)
	}

	if b.now().Unix() >= expires {
		return false, nil
	}

	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode workflow state %s: %w", executionID, err)
	}

	return true, nil
}

// UserWorkflowStates lists the execution ids with live snapshots for a user.
func (b *Backend) UserWorkflowStates(ctx context.Context, userID string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT execution_id FROM workflow_states WHERE user_id = ? AND expires_at > ? ORDER BY updated_at",
		userID, b.now().Unix())
	if err != nil {
		return nil, fmt.Errorf("list workflow states: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan workflow state: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// DeleteExpiredStates purges expired workflow snapshots and returns how many were removed.
func (b *Backend) DeleteExpiredStates(ctx context.Context) (int64, error) {
	res, err := b.db.ExecContext(ctx, "DELETE FROM workflow_states WHERE expires_at <= ?", b.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired states: %w", err)
	}

	return res.RowsAffected()
}
