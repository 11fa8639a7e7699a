// Package store provides the durable mutation queue, the local entity
// mirror, and the HTTP response cache, all persisted in a single SQLite
// database so queued writes survive restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_operations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	operation  TEXT    NOT NULL,
	entity_id  INTEGER NOT NULL,
	payload    TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	synced     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_pending_synced ON pending_operations(synced);

CREATE TABLE IF NOT EXISTS entity_mirror (
	id         INTEGER PRIMARY KEY,
	payload    TEXT    NOT NULL,
	assignee   TEXT,
	due_date   TEXT,
	deleted    INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mirror_assignee ON entity_mirror(assignee);
CREATE INDEX IF NOT EXISTS idx_mirror_due_date ON entity_mirror(due_date);

CREATE TABLE IF NOT EXISTS http_cache (
	url        TEXT PRIMARY KEY,
	body       BLOB NOT NULL,
	fetched_at INTEGER NOT NULL
);
`

// Store is the durable local state shared by the pipeline and the
// sync orchestrator. All mutations run in scoped transactions.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if necessary) the offline database under dataDir.
// The database uses WAL mode and a single writer connection.
func Open(dataDir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, storageErr("open", err)
	}

	dbPath := filepath.Join(dataDir, "offline.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, storageErr("open", err)
	}

	// SQLite supports a single writer; serialize through one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, storageErr("open", fmt.Errorf("enable WAL: %w", err))
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, storageErr("open", fmt.Errorf("enable foreign keys: %w", err))
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storageErr("migrate", err)
	}

	logger.Debug().Str("path", dbPath).Msg("opened offline store")

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats holds the counters consumed by the status surface
type Stats struct {
	PendingOperations int `json:"pendingOperations"`
	MirroredEntities  int `json:"mirroredEntities"`
	CachedResponses   int `json:"cachedResponses"`
}

// Stats returns pending-operation and cache counts
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM pending_operations WHERE synced = 0),
			(SELECT COUNT(*) FROM entity_mirror WHERE deleted = 0),
			(SELECT COUNT(*) FROM http_cache)`)
	if err := row.Scan(&st.PendingOperations, &st.MirroredEntities, &st.CachedResponses); err != nil {
		return Stats{}, storageErr("stats", err)
	}
	return st, nil
}

// withTx runs fn inside a transaction, rolling back on error so no
// partial write is ever left committed.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, err)
	}
	return nil
}
