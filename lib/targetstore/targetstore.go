// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

// Package targetstore persists imported target records in a SQLite
// table with a uniqueness constraint on path. The store is
// insert-only from the importer's point of view: records enter in
// all-or-nothing batches and are owned by the repository service
// afterwards. Schema migration is explicitly out of scope.
package targetstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ErrDuplicateTarget is returned when a batch insert hits the path
// uniqueness constraint. The transaction is rolled back; nothing from
// the batch is committed.
var ErrDuplicateTarget = errors.New("target path already present")

// ActionAdd is the action tag stamped on records created by an
// import run.
const ActionAdd = "ADD"

// Record is one imported target: its path, size, hashes, and the bin
// role it was assigned to.
type Record struct {
	// Path is the target path, unique across the table.
	Path string

	// Length is the target file size in bytes.
	Length int64

	// Hashes maps hash algorithm name to hex digest.
	Hashes map[string]string

	// BinRole is the delegated bin rolename assigned to the path.
	BinRole string

	// Published is false until the repository service publishes the
	// record into targets metadata.
	Published bool

	// Action is the pending action tag; imports always stamp ActionAdd.
	Action string

	// LastUpdate is the record timestamp.
	LastUpdate time.Time
}

// Config holds the parameters for opening a target store.
type Config struct {
	// Path is the SQLite database file. ":memory:" gives an
	// in-memory store (pool size is forced to 1 in that case, since
	// each in-memory connection is independent).
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Store is a SQLite-backed target table.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

const schema = `
CREATE TABLE IF NOT EXISTS targets (
    path        TEXT PRIMARY KEY,
    length      INTEGER NOT NULL,
    hashes      TEXT NOT NULL,
    rolename    TEXT NOT NULL,
    published   INTEGER NOT NULL DEFAULT 0,
    action      TEXT NOT NULL,
    last_update TEXT NOT NULL
);
`

// Open creates the connection pool and ensures the targets table
// exists. The caller must Close the store when done.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("targetstore: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	if cfg.Path == ":memory:" {
		poolSize = 1
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("targetstore: %s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("targetstore: opening %s: %w", cfg.Path, err)
	}

	logger.Info("target store opened", "path", cfg.Path, "pool_size", poolSize)

	return &Store{pool: pool, logger: logger, path: cfg.Path}, nil
}

// Close closes the pool. Blocks until borrowed connections return.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("targetstore: closing %s: %w", s.path, err)
	}
	return nil
}

// InsertBatch writes all records in a single IMMEDIATE transaction.
// If any record's path collides with an existing row (or another
// record in the batch), the whole transaction rolls back and the
// error wraps ErrDuplicateTarget with the offending path. On success
// every record is durable before InsertBatch returns.
func (s *Store) InsertBatch(ctx context.Context, records []Record) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("targetstore: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("targetstore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, record := range records {
		if err = s.insertOne(conn, record); err != nil {
			return err
		}
	}

	s.logger.Info("target batch committed", "records", len(records))
	return nil
}

func (s *Store) insertOne(conn *sqlite.Conn, record Record) error {
	hashesJSON, err := encodeHashes(record.Hashes)
	if err != nil {
		return err
	}

	action := record.Action
	if action == "" {
		action = ActionAdd
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO targets (path, length, hashes, rolename, published, action, last_update)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.Path,
				record.Length,
				hashesJSON,
				record.BinRole,
				boolToInt(record.Published),
				action,
				record.LastUpdate.UTC().Format(time.RFC3339),
			},
		})
	if err != nil {
		code := sqlite.ErrCode(err)
		if code == sqlite.ResultConstraintPrimaryKey || code == sqlite.ResultConstraintUnique {
			return fmt.Errorf("%w: %s", ErrDuplicateTarget, record.Path)
		}
		return fmt.Errorf("targetstore: inserting %s: %w", record.Path, err)
	}
	return nil
}

// Count returns the number of rows in the targets table.
func (s *Store) Count(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("targetstore: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var count int64
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM targets", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("targetstore: counting targets: %w", err)
	}
	return count, nil
}

// Contains reports whether a path is already present.
func (s *Store) Contains(ctx context.Context, path string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("targetstore: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	found := false
	err = sqlitex.Execute(conn, "SELECT 1 FROM targets WHERE path = ?", &sqlitex.ExecOptions{
		Args: []any{path},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("targetstore: checking %s: %w", path, err)
	}
	return found, nil
}

func encodeHashes(hashes map[string]string) (string, error) {
	// Canonical enough for storage: encoding/json sorts map keys.
	encoded, err := json.Marshal(hashes)
	if err != nil {
		return "", fmt.Errorf("targetstore: encoding hashes: %w", err)
	}
	return string(encoded), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
