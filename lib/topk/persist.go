// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package topk

import (
	"container/heap"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/dedupvault/lib/container"
	"github.com/bureau-foundation/dedupvault/lib/cursor"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
)

// ErrCorrupt is returned when persisted index state is inconsistent.
// Callers treat it as fatal: a partially loaded index would silently
// miss duplicates.
var ErrCorrupt = errors.New("topk: persisted index is corrupt")

// recordSize is the persisted size of one (fingerprint, heap item)
// pair: fingerprint, address, frequency, slot.
const recordSize = fingerprint.Size + container.AddressSize + 4 + 4

// countSize is the width of the leading item count.
const countSize = 8

// WriteTo persists the index as
//
//	[item_count: 8][item_count × (fingerprint, address, frequency: 4, slot: 4)]
//
// in heap order.
func (index *Index) WriteTo(w io.Writer) (int64, error) {
	writer := cursor.NewWriter(countSize + len(index.heap)*recordSize)
	writer.PutUint64(uint64(len(index.heap)))
	for _, entry := range index.heap {
		writer.PutFingerprint(entry.fp)
		entry.address.Put(writer)
		writer.PutUint32(entry.frequency)
		writer.PutUint32(uint32(entry.slot))
	}
	n, err := w.Write(writer.Bytes())
	if err != nil {
		return int64(n), fmt.Errorf("writing top-K index: %w", err)
	}
	return int64(n), nil
}

// ReadFrom replaces the contents of the index with state written by
// WriteTo. The heap vector and the fingerprint map are rebuilt
// together; any size mismatch, duplicate fingerprint, or slot
// inconsistency returns ErrCorrupt and leaves the index unchanged.
func (index *Index) ReadFrom(r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return int64(len(data)), fmt.Errorf("reading top-K index: %w", err)
	}
	loaded, err := decode(data, index.capacity)
	if err != nil {
		return int64(len(data)), err
	}

	index.heap = loaded
	index.slots = make(map[fingerprint.Fingerprint]*item, index.capacity)
	for _, entry := range loaded {
		index.slots[entry.fp] = entry
	}
	index.clock = uint64(len(loaded))
	heap.Init(&index.heap)

	if len(index.slots) != len(index.heap) {
		return int64(len(data)), fmt.Errorf("%w: map holds %d entries, heap %d", ErrCorrupt, len(index.slots), len(index.heap))
	}
	return int64(len(data)), nil
}

func decode(data []byte, capacity int) (entryHeap, error) {
	reader := cursor.NewReader(data)
	count, err := reader.Uint64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if count > uint64(capacity) {
		return nil, fmt.Errorf("%w: %d items exceed capacity %d", ErrCorrupt, count, capacity)
	}
	if want := uint64(countSize) + count*recordSize; uint64(len(data)) != want {
		return nil, fmt.Errorf("%w: %d items need %d bytes, have %d", ErrCorrupt, count, want, len(data))
	}

	loaded := make(entryHeap, count)
	seen := make(map[fingerprint.Fingerprint]struct{}, count)
	for position := range loaded {
		entry := &item{}
		// Sizes were checked above, so reads cannot fail.
		entry.fp, _ = reader.Fingerprint()
		entry.address, _ = container.ReadAddress(reader)
		entry.frequency, _ = reader.Uint32()
		slot, _ := reader.Uint32()

		if int(slot) != position {
			return nil, fmt.Errorf("%w: item %d records slot %d", ErrCorrupt, position, slot)
		}
		if _, duplicate := seen[entry.fp]; duplicate {
			return nil, fmt.Errorf("%w: fingerprint %s appears twice", ErrCorrupt, entry.fp.Short())
		}
		seen[entry.fp] = struct{}{}

		entry.slot = position
		entry.touched = uint64(position + 1)
		loaded[position] = entry
	}
	return loaded, nil
}
