// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bureau-foundation/dedupvault/lib/coldindex"
	"github.com/bureau-foundation/dedupvault/lib/container"
	"github.com/bureau-foundation/dedupvault/lib/recipe"
)

// memoryBackend is a StorageBackend held entirely in memory, with
// switchable failures.
type memoryBackend struct {
	index *coldindex.Memory

	mu         sync.Mutex
	containers map[container.ID][]byte
	recipes    map[recipe.FileID][]byte
	queryErr   error
	updateErr  error
	writeErr   error
	queries    int
	updates    int
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		index:      coldindex.NewMemory(),
		containers: make(map[container.ID][]byte),
		recipes:    make(map[recipe.FileID][]byte),
	}
}

func (b *memoryBackend) QueryIndex(ctx context.Context, query IndexQuery) (IndexQueryResult, error) {
	b.mu.Lock()
	b.queries++
	err := b.queryErr
	b.mu.Unlock()
	if err != nil {
		return IndexQueryResult{}, err
	}
	keys := make([][]byte, len(query.Tokens))
	for index, token := range query.Tokens {
		keys[index] = bytes.Clone(token[:])
	}
	values, err := b.index.Query(ctx, keys)
	if err != nil {
		return IndexQueryResult{}, err
	}
	return IndexQueryResult{Values: values}, nil
}

func (b *memoryBackend) UpdateIndex(ctx context.Context, update IndexUpdate) error {
	b.mu.Lock()
	b.updates++
	err := b.updateErr
	b.mu.Unlock()
	if err != nil {
		return err
	}
	entries := make([]coldindex.Entry, len(update.Entries))
	for index, entry := range update.Entries {
		entries[index] = coldindex.Entry{Key: bytes.Clone(entry.Token[:]), Value: entry.Value}
	}
	return b.index.Insert(ctx, entries)
}

func (b *memoryBackend) WriteContainer(_ context.Context, write ContainerWrite) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	if _, exists := b.containers[write.ID]; exists {
		return fmt.Errorf("container %s written twice", write.ID)
	}
	b.containers[write.ID] = bytes.Clone(write.Data)
	return nil
}

func (b *memoryBackend) ReadContainers(_ context.Context, read ContainerRead) (ContainerReadResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := ContainerReadResult{Containers: make([][]byte, len(read.IDs))}
	for index, id := range read.IDs {
		raw, ok := b.containers[id]
		if !ok {
			return ContainerReadResult{}, fmt.Errorf("container %s: %w", id, ErrNotFound)
		}
		result.Containers[index] = raw
	}
	return result, nil
}

func (b *memoryBackend) CreateRecipe(_ context.Context, ref RecipeRef) (RecipeFile, error) {
	return &memoryRecipe{backend: b, fileID: ref.FileID}, nil
}

func (b *memoryBackend) OpenRecipe(_ context.Context, ref RecipeRef) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.recipes[ref.FileID]
	if !ok {
		return nil, fmt.Errorf("recipe %s: %w", ref.FileID, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memoryBackend) containerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.containers)
}

func (b *memoryBackend) hasRecipe(fileID recipe.FileID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.recipes[fileID]
	return ok
}

// memoryRecipe is a RecipeFile that publishes into its backend on
// Commit.
type memoryRecipe struct {
	backend  *memoryBackend
	fileID   recipe.FileID
	data     []byte
	position int64
	done     bool
}

func (r *memoryRecipe) Write(p []byte) (int, error) {
	if r.done {
		return 0, errors.New("write after commit or discard")
	}
	end := r.position + int64(len(p))
	if end > int64(len(r.data)) {
		r.data = append(r.data, make([]byte, end-int64(len(r.data)))...)
	}
	copy(r.data[r.position:], p)
	r.position = end
	return len(p), nil
}

func (r *memoryRecipe) Seek(offset int64, whence int) (int64, error) {
	var position int64
	switch whence {
	case io.SeekStart:
		position = offset
	case io.SeekCurrent:
		position = r.position + offset
	case io.SeekEnd:
		position = int64(len(r.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if position < 0 {
		return 0, errors.New("negative position")
	}
	r.position = position
	return position, nil
}

func (r *memoryRecipe) Commit() error {
	if r.done {
		return errors.New("recipe already closed")
	}
	r.done = true
	r.backend.mu.Lock()
	r.backend.recipes[r.fileID] = r.data
	r.backend.mu.Unlock()
	return nil
}

func (r *memoryRecipe) Discard() error {
	r.done = true
	return nil
}
