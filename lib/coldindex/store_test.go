// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coldindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
)

func key(n int) []byte   { return []byte(fmt.Sprintf("token-%04d", n)) }
func value(n int) []byte { return []byte(fmt.Sprintf("sealed-address-%d", n)) }

func openBackend(t *testing.T, backend Backend) Store {
	t.Helper()
	store, err := Open(context.Background(), Config{
		Backend:   backend,
		Directory: t.TempDir(),
		Logger:    slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("Open(%s): %v", backend, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBackends(t *testing.T) {
	for _, backend := range Backends {
		t.Run(string(backend), func(t *testing.T) {
			t.Run("query missing", func(t *testing.T) {
				store := openBackend(t, backend)
				values, err := store.Query(context.Background(), [][]byte{key(1), key(2)})
				if err != nil {
					t.Fatalf("Query: %v", err)
				}
				if len(values) != 2 || values[0] != nil || values[1] != nil {
					t.Errorf("values = %q, want two nil elements", values)
				}
			})

			t.Run("insert then query preserves order", func(t *testing.T) {
				store := openBackend(t, backend)
				ctx := context.Background()
				if err := store.Insert(ctx, []Entry{
					{Key: key(1), Value: value(1)},
					{Key: key(3), Value: value(3)},
				}); err != nil {
					t.Fatalf("Insert: %v", err)
				}
				values, err := store.Query(ctx, [][]byte{key(3), key(2), key(1)})
				if err != nil {
					t.Fatalf("Query: %v", err)
				}
				want := [][]byte{value(3), nil, value(1)}
				for index := range want {
					if !bytes.Equal(values[index], want[index]) {
						t.Errorf("values[%d] = %q, want %q", index, values[index], want[index])
					}
				}
			})

			t.Run("first value wins", func(t *testing.T) {
				store := openBackend(t, backend)
				ctx := context.Background()
				if err := store.Insert(ctx, []Entry{{Key: key(1), Value: value(1)}}); err != nil {
					t.Fatalf("Insert: %v", err)
				}
				if err := store.Insert(ctx, []Entry{{Key: key(1), Value: value(99)}}); err != nil {
					t.Fatalf("second Insert: %v", err)
				}
				values, err := store.Query(ctx, [][]byte{key(1)})
				if err != nil {
					t.Fatalf("Query: %v", err)
				}
				if !bytes.Equal(values[0], value(1)) {
					t.Errorf("value = %q, want %q", values[0], value(1))
				}
			})

			t.Run("returned values are caller owned", func(t *testing.T) {
				store := openBackend(t, backend)
				ctx := context.Background()
				if err := store.Insert(ctx, []Entry{{Key: key(1), Value: value(1)}}); err != nil {
					t.Fatalf("Insert: %v", err)
				}
				first, err := store.Query(ctx, [][]byte{key(1)})
				if err != nil {
					t.Fatalf("Query: %v", err)
				}
				first[0][0] ^= 0xff
				second, err := store.Query(ctx, [][]byte{key(1)})
				if err != nil {
					t.Fatalf("Query: %v", err)
				}
				if !bytes.Equal(second[0], value(1)) {
					t.Errorf("mutating a result changed the stored value: %q", second[0])
				}
			})

			t.Run("empty key rejected", func(t *testing.T) {
				store := openBackend(t, backend)
				if _, err := store.Query(context.Background(), [][]byte{nil}); err == nil {
					t.Error("Query accepted an empty key")
				}
				if err := store.Insert(context.Background(), []Entry{{Value: value(1)}}); err == nil {
					t.Error("Insert accepted an empty key")
				}
			})

			t.Run("large batch", func(t *testing.T) {
				store := openBackend(t, backend)
				ctx := context.Background()
				entries := make([]Entry, 500)
				keys := make([][]byte, len(entries))
				for index := range entries {
					entries[index] = Entry{Key: key(index), Value: value(index)}
					keys[index] = key(index)
				}
				if err := store.Insert(ctx, entries); err != nil {
					t.Fatalf("Insert: %v", err)
				}
				values, err := store.Query(ctx, keys)
				if err != nil {
					t.Fatalf("Query: %v", err)
				}
				for index := range values {
					if !bytes.Equal(values[index], value(index)) {
						t.Fatalf("values[%d] = %q, want %q", index, values[index], value(index))
					}
				}
			})
		})
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	for _, backend := range []Backend{BackendSQLite, BackendBBolt, BackendBadger} {
		t.Run(string(backend), func(t *testing.T) {
			directory := t.TempDir()
			config := Config{Backend: backend, Directory: directory, SyncWrites: true, Logger: slog.New(slog.DiscardHandler)}
			ctx := context.Background()

			store, err := Open(ctx, config)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if err := store.Insert(ctx, []Entry{{Key: key(7), Value: value(7)}}); err != nil {
				t.Fatalf("Insert: %v", err)
			}
			if err := store.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			reopened, err := Open(ctx, config)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer reopened.Close()
			values, err := reopened.Query(ctx, [][]byte{key(7)})
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if !bytes.Equal(values[0], value(7)) {
				t.Errorf("value after reopen = %q, want %q", values[0], value(7))
			}
		})
	}
}

func TestOpenValidation(t *testing.T) {
	if _, err := Open(context.Background(), Config{Backend: BackendSQLite}); err == nil {
		t.Error("Open accepted a disk backend without a directory")
	}
	if _, err := Open(context.Background(), Config{Backend: "leveldb", Directory: t.TempDir()}); err == nil {
		t.Error("Open accepted an unknown backend")
	}
}

func TestMemoryClosed(t *testing.T) {
	store := NewMemory()
	store.Close()
	if _, err := store.Query(context.Background(), [][]byte{key(1)}); !errors.Is(err, ErrClosed) {
		t.Errorf("Query after Close: err = %v, want ErrClosed", err)
	}
	if err := store.Insert(context.Background(), []Entry{{Key: key(1), Value: value(1)}}); !errors.Is(err, ErrClosed) {
		t.Errorf("Insert after Close: err = %v, want ErrClosed", err)
	}
}

func openInMemoryBadger(logger *slog.Logger) (*badgerStore, error) {
	options := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerLogger{logger: logger})
	return openBadgerWith(options, logger)
}

func TestInMemoryBadger(t *testing.T) {
	store, err := openInMemoryBadger(slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("openInMemoryBadger: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Insert(ctx, []Entry{{Key: key(1), Value: value(1)}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	values, err := store.Query(ctx, [][]byte{key(1)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !bytes.Equal(values[0], value(1)) {
		t.Errorf("value = %q", values[0])
	}
}

func TestMemoryConcurrentInsert(t *testing.T) {
	store := NewMemory()
	var waitGroup sync.WaitGroup
	for worker := range 8 {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for n := range 100 {
				store.Insert(context.Background(), []Entry{{Key: key(n), Value: value(worker)}})
			}
		}()
	}
	waitGroup.Wait()
	if store.Len() != 100 {
		t.Errorf("Len = %d, want 100", store.Len())
	}
}
