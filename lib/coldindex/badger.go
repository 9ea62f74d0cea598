// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coldindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

type badgerStore struct {
	db *badger.DB
}

func openBadger(path string, syncWrites bool, logger *slog.Logger) (*badgerStore, error) {
	options := badger.DefaultOptions(path).
		WithSyncWrites(syncWrites).
		WithLogger(badgerLogger{logger: logger}).
		WithValueLogFileSize(64 << 20)
	return openBadgerWith(options, logger)
}

func openBadgerWith(options badger.Options, logger *slog.Logger) (*badgerStore, error) {
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("coldindex: opening badger at %q: %w", options.Dir, err)
	}
	logger.Info("badger index opened", "path", options.Dir, "sync_writes", options.SyncWrites)
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) Query(ctx context.Context, keys [][]byte) ([][]byte, error) {
	if err := validateKeys(keys); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values := make([][]byte, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for index, key := range keys {
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("key %d: %w", index, err)
			}
			if values[index], err = item.ValueCopy(nil); err != nil {
				return fmt.Errorf("key %d: %w", index, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("coldindex: query: %w", err)
	}
	return values, nil
}

func (s *badgerStore) Insert(ctx context.Context, entries []Entry) error {
	if err := validateEntries(entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for index, entry := range entries {
			_, err := txn.Get(entry.Key)
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("entry %d: %w", index, err)
			}
			if err := txn.Set(entry.Key, entry.Value); err != nil {
				return fmt.Errorf("entry %d: %w", index, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("coldindex: insert: %w", err)
	}
	return nil
}

func (s *badgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("coldindex: closing badger: %w", err)
	}
	return nil
}

// badgerLogger routes badger's printf-style logging into slog. Badger
// is chatty at info level, so info lines are logged at debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
