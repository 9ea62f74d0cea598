// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coldindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("coldindex: store is closed")

// Entry is one key-value pair to insert.
type Entry struct {
	Key   []byte
	Value []byte
}

// Store is a batched, write-once key-value index.
type Store interface {
	// Query returns one element per key, in order. An absent key
	// yields a nil element. Returned slices are owned by the caller.
	Query(ctx context.Context, keys [][]byte) ([][]byte, error)

	// Insert adds entries atomically. Keys already present keep their
	// existing values.
	Insert(ctx context.Context, entries []Entry) error

	// Close releases the backend.
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendBBolt  Backend = "bbolt"
	BackendBadger Backend = "badger"
	BackendMemory Backend = "memory"
)

// Backends lists the accepted backend names.
var Backends = []Backend{BackendSQLite, BackendBBolt, BackendBadger, BackendMemory}

// Config selects and configures a backend.
type Config struct {
	Backend Backend

	// Directory holds the backend's files. Created if missing. Unused
	// by the memory backend.
	Directory string

	// SyncWrites makes every Insert durable before it returns. When
	// false, a crash may lose recent inserts; the chunks they index
	// are then stored again on their next upload.
	SyncWrites bool

	Logger *slog.Logger
}

// Open opens the configured backend. For disk backends it verifies
// the store is usable before returning.
func Open(ctx context.Context, config Config) (Store, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("backend", string(config.Backend))

	if config.Backend == BackendMemory {
		return NewMemory(), nil
	}
	if config.Directory == "" {
		return nil, fmt.Errorf("coldindex: %s backend requires a directory", config.Backend)
	}
	if err := os.MkdirAll(config.Directory, 0o700); err != nil {
		return nil, fmt.Errorf("coldindex: creating %s: %w", config.Directory, err)
	}

	switch config.Backend {
	case BackendSQLite:
		return openSQLite(ctx, filepath.Join(config.Directory, "index.db"), config.SyncWrites, logger)
	case BackendBBolt:
		return openBolt(filepath.Join(config.Directory, "index.bolt"), config.SyncWrites, logger)
	case BackendBadger:
		return openBadger(filepath.Join(config.Directory, "index.badger"), config.SyncWrites, logger)
	default:
		return nil, fmt.Errorf("coldindex: unknown backend %q (want one of %v)", config.Backend, Backends)
	}
}

func validateKeys(keys [][]byte) error {
	for index, key := range keys {
		if len(key) == 0 {
			return fmt.Errorf("coldindex: key %d is empty", index)
		}
	}
	return nil
}

func validateEntries(entries []Entry) error {
	for index, entry := range entries {
		if len(entry.Key) == 0 {
			return fmt.Errorf("coldindex: entry %d has an empty key", index)
		}
		if len(entry.Value) == 0 {
			return fmt.Errorf("coldindex: entry %d has an empty value", index)
		}
	}
	return nil
}
