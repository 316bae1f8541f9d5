// Package sqlite provides a SQLite-backed memory store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chatunreal/unreal/pkg/chat"
	"github.com/chatunreal/unreal/pkg/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	session   TEXT NOT NULL,
	role      TEXT NOT NULL,
	text      TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session, id);
`

// Store implements memory.Store on a SQLite database.
type Store struct {
	db       *sql.DB
	maxTurns int
}

// NewStore opens (or creates) the SQLite database at dbPath, bounded to
// maxTurns per session. The dbPath can be ":memory:" for an ephemeral store.
func NewStore(dbPath string, maxTurns int) (*Store, error) {
	if maxTurns <= 0 {
		return nil, fmt.Errorf("maxTurns must be positive, got %d", maxTurns)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps the synchronous appends from blocking concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, maxTurns: maxTurns}, nil
}

// Append inserts the turn and trims the session to the bound in one
// transaction. A persistence failure is reported as degraded; there is no
// separate in-memory window here, so the caller's request still proceeds
// with whatever Recent returns.
func (s *Store) Append(ctx context.Context, session string, turn chat.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", memory.ErrDegraded, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO turns (session, role, text, timestamp) VALUES (?, ?, ?, ?)",
		session, turn.Role, turn.Text, turn.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: inserting turn: %w", memory.ErrDegraded, err)
	}

	// FIFO eviction: drop everything older than the newest maxTurns rows.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM turns WHERE session = ? AND id NOT IN (
			SELECT id FROM turns WHERE session = ? ORDER BY id DESC LIMIT ?
		)`,
		session, session, s.maxTurns,
	)
	if err != nil {
		return fmt.Errorf("%w: evicting turns: %w", memory.ErrDegraded, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing: %w", memory.ErrDegraded, err)
	}

	return nil
}

// Recent returns up to the last k turns of the session, oldest-first.
func (s *Store) Recent(ctx context.Context, session string, k int) ([]chat.Turn, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, text, timestamp FROM (
			SELECT id, role, text, timestamp FROM turns
			WHERE session = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		session, k,
	)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []chat.Turn
	for rows.Next() {
		var turn chat.Turn
		var ts time.Time
		if err := rows.Scan(&turn.Role, &turn.Text, &ts); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turn.Timestamp = ts
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading turns: %w", err)
	}

	return turns, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
