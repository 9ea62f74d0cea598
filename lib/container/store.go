// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
)

// ErrChunkTooLarge is returned when a chunk cannot fit even in an
// empty container.
var ErrChunkTooLarge = errors.New("container: chunk larger than container capacity")

// Sink receives sealed containers. SealContainer must make raw durable
// and immutable under id before returning; after an error the
// container must not be visible under id.
type Sink interface {
	SealContainer(ctx context.Context, id ID, raw []byte) error
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// MaxSize bounds the persisted size of every container, header
	// included.
	MaxSize int

	// Sink receives each container as it is sealed.
	Sink Sink

	// NewID generates container IDs. Defaults to NewID.
	NewID func() ID

	// Logger receives seal events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store packs chunks into the open container and rolls over to a new
// container when the open one is full.
type Store struct {
	config StoreConfig

	current ID
	entries []Entry
	body    []byte

	sealedCount int
	sealedBytes int64
}

// NewStore creates a Store with no open container. The first
// SaveChunk allocates one.
func NewStore(config StoreConfig) (*Store, error) {
	if config.Sink == nil {
		return nil, fmt.Errorf("container store requires a sink")
	}
	if config.MaxSize <= CountSize+EntrySize {
		return nil, fmt.Errorf("container max size %d leaves no room for chunks", config.MaxSize)
	}
	if config.NewID == nil {
		config.NewID = NewID
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Store{config: config}, nil
}

// Capacity returns the largest chunk a Store with this MaxSize can
// ever hold.
func (s *Store) Capacity() int {
	return s.config.MaxSize - CountSize - EntrySize
}

// fits reports whether a chunk of n bytes can be appended to the open
// container without the persisted size exceeding MaxSize.
func (s *Store) fits(n int) bool {
	return PersistedSize(len(s.entries)+1, len(s.body)+n) <= s.config.MaxSize
}

// SaveChunk appends data (already sealed) to the open container and
// returns its address. If the chunk does not fit, the open container
// is sealed first and the chunk lands at offset 0 of a new container.
// The returned address always names the container that holds the
// bytes.
func (s *Store) SaveChunk(ctx context.Context, fp fingerprint.Fingerprint, data []byte) (Address, error) {
	if len(data) > s.Capacity() {
		return Address{}, fmt.Errorf("%w: %d bytes, capacity %d", ErrChunkTooLarge, len(data), s.Capacity())
	}

	if len(s.entries) > 0 && !s.fits(len(data)) {
		if err := s.seal(ctx); err != nil {
			return Address{}, err
		}
	}
	if s.current.IsZero() {
		s.current = s.config.NewID()
	}

	offset := uint32(len(s.body))
	entry := Entry{Fingerprint: fp, Offset: offset, Length: uint32(len(data))}
	s.entries = append(s.entries, entry)
	s.body = append(s.body, data...)

	return Address{Container: s.current, Offset: offset, Length: entry.Length}, nil
}

// Flush seals the open container if it holds any chunks.
func (s *Store) Flush(ctx context.Context) error {
	if len(s.entries) == 0 {
		return nil
	}
	return s.seal(ctx)
}

// Discard drops the open container without sealing it. Addresses
// already handed out for it become dangling; callers discard only
// when the whole session is abandoned.
func (s *Store) Discard() {
	if len(s.entries) > 0 {
		s.config.Logger.Debug("discarding open container",
			"container", s.current,
			"chunks", len(s.entries),
		)
	}
	s.reset()
}

// Pending returns the number of chunks in the open container.
func (s *Store) Pending() int { return len(s.entries) }

// Sealed returns the number of containers sealed and their total
// persisted size.
func (s *Store) Sealed() (count int, bytes int64) {
	return s.sealedCount, s.sealedBytes
}

func (s *Store) seal(ctx context.Context) error {
	raw := Encode(s.entries, s.body)
	if err := s.config.Sink.SealContainer(ctx, s.current, raw); err != nil {
		return fmt.Errorf("sealing container %s: %w", s.current, err)
	}
	s.config.Logger.Debug("container sealed",
		"container", s.current,
		"chunks", len(s.entries),
		"bytes", len(raw),
	)
	s.sealedCount++
	s.sealedBytes += int64(len(raw))
	s.reset()
	return nil
}

func (s *Store) reset() {
	s.current = ID{}
	s.entries = s.entries[:0]
	s.body = s.body[:0]
}
