// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coldindex

import (
	"bytes"
	"context"
	"sync"
)

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
	closed  bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

// Query implements Store.
func (m *Memory) Query(_ context.Context, keys [][]byte) ([][]byte, error) {
	if err := validateKeys(keys); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	values := make([][]byte, len(keys))
	for index, key := range keys {
		if value, ok := m.entries[string(key)]; ok {
			values[index] = bytes.Clone(value)
		}
	}
	return values, nil
}

// Insert implements Store.
func (m *Memory) Insert(_ context.Context, entries []Entry) error {
	if err := validateEntries(entries); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, entry := range entries {
		if _, exists := m.entries[string(entry.Key)]; exists {
			continue
		}
		m.entries[string(entry.Key)] = bytes.Clone(entry.Value)
	}
	return nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
