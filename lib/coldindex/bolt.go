// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coldindex

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("entries")

type boltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

func openBolt(path string, syncWrites bool, logger *slog.Logger) (*boltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: time.Second,
		NoSync:  !syncWrites,
	})
	if err != nil {
		return nil, fmt.Errorf("coldindex: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("coldindex: creating bucket: %w", err)
	}
	logger.Info("bbolt index opened", "path", path, "sync_writes", syncWrites)
	return &boltStore{db: db, logger: logger}, nil
}

func (s *boltStore) Query(ctx context.Context, keys [][]byte) ([][]byte, error) {
	if err := validateKeys(keys); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values := make([][]byte, len(keys))
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for index, key := range keys {
			// Values are only valid for the life of the transaction.
			if value := bucket.Get(key); value != nil {
				values[index] = bytes.Clone(value)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("coldindex: query: %w", err)
	}
	return values, nil
}

func (s *boltStore) Insert(ctx context.Context, entries []Entry) error {
	if err := validateEntries(entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for _, entry := range entries {
			if bucket.Get(entry.Key) != nil {
				continue
			}
			if err := bucket.Put(entry.Key, entry.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("coldindex: insert: %w", err)
	}
	return nil
}

func (s *boltStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("coldindex: closing bbolt: %w", err)
	}
	return nil
}
