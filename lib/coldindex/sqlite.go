// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coldindex

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/dedupvault/lib/sqlitepool"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	token BLOB PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID;
`

type sqliteStore struct {
	pool *sqlitepool.Pool
}

func openSQLite(ctx context.Context, path string, syncWrites bool, logger *slog.Logger) (*sqliteStore, error) {
	synchronous := sqlitepool.SynchronousNormal
	if syncWrites {
		synchronous = sqlitepool.SynchronousFull
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:        path,
		Synchronous: synchronous,
		Logger:      logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("coldindex: %w", err)
	}

	// Prepare one connection now so schema errors surface at startup.
	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("coldindex: opening %s: %w", path, err)
	}
	pool.Put(conn)

	return &sqliteStore{pool: pool}, nil
}

func (s *sqliteStore) Query(ctx context.Context, keys [][]byte) (values [][]byte, err error) {
	if err := validateKeys(keys); err != nil {
		return nil, err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("coldindex: query: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction := sqlitex.Transaction(conn)
	defer endTransaction(&err)

	values = make([][]byte, len(keys))
	for index, key := range keys {
		err = sqlitex.Execute(conn, "SELECT value FROM entries WHERE token = ?", &sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, value)
				values[index] = value
				return nil
			},
		})
		if err != nil {
			return nil, fmt.Errorf("coldindex: query key %d: %w", index, err)
		}
	}
	return values, nil
}

func (s *sqliteStore) Insert(ctx context.Context, entries []Entry) (err error) {
	if err := validateEntries(entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("coldindex: insert: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("coldindex: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for index, entry := range entries {
		err = sqlitex.Execute(conn, "INSERT OR IGNORE INTO entries (token, value) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{entry.Key, entry.Value},
		})
		if err != nil {
			return fmt.Errorf("coldindex: insert entry %d: %w", index, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.pool.Close()
}
