package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/sandman-core/internal/actuator"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 200
)

// Entry is one recorded state transition.
type Entry struct {
	ID          int64
	Actuator    string
	State       string
	RemainingMS int64
	CreatedAt   time.Time
}

// Repository persists actuator state transitions to SQLite.
type Repository struct {
	db *sql.DB
}

// New creates a repository over an open database connection.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the transitions table if it is missing. Called
// once at startup; the schema is small enough not to need a migration
// framework.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			actuator TEXT NOT NULL,
			state TEXT NOT NULL,
			remaining_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);
		CREATE INDEX IF NOT EXISTS idx_transitions_actuator
			ON transitions (actuator, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("creating transitions schema: %w", err)
	}
	return nil
}

// Record inserts one transition row.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - snap: Snapshot emitted by the actuator driver
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *Repository) Record(ctx context.Context, snap actuator.Snapshot) error {
	if snap.Actuator == "" {
		return fmt.Errorf("actuator id is required")
	}

	remaining := snap.Remaining.Milliseconds()
	if remaining < 0 {
		remaining = 0
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transitions (actuator, state, remaining_ms, created_at)
		 VALUES (?, ?, ?, ?)`,
		snap.Actuator,
		snap.State.String(),
		remaining,
		snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting transition: %w", err)
	}
	return nil
}

// Recent returns the latest transitions for an actuator, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - actuatorID: Actuator to query
//   - limit: Maximum entries (default 50, max 200)
func (r *Repository) Recent(ctx context.Context, actuatorID string, limit int) ([]Entry, error) {
	if actuatorID == "" {
		return nil, fmt.Errorf("actuator id is required")
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, actuator, state, remaining_ms, created_at
		 FROM transitions
		 WHERE actuator = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		actuatorID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.Actuator, &entry.State, &entry.RemainingMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		entry.CreatedAt, err = parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}
	return entries, nil
}

// Prune deletes transitions older than the retention window.
//
// Returns the number of rows deleted.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM transitions WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting transitions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	timestamp, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return timestamp, nil
}
