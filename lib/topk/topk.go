// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package topk holds the fingerprint→address mapping for the K most
// frequent chunks, entirely in memory.
//
// The index is a min-heap ordered by estimated frequency paired with
// a map from fingerprint to heap slot, giving O(1) containment checks
// and O(log K) updates. Among entries with equal frequency, the one
// updated least recently sits closer to the root and is evicted
// first. The heap never holds more than its capacity.
//
// An Index is not safe for concurrent use. The dedup engine guards it
// with a single mutex.
package topk

import (
	"container/heap"
	"errors"
	"fmt"

	"github.com/bureau-foundation/dedupvault/lib/container"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
)

var (
	// ErrFull is returned by Insert when the index is at capacity.
	ErrFull = errors.New("topk: index is full")

	// ErrNotFull is returned by EvictAndInsert below capacity.
	ErrNotFull = errors.New("topk: eviction requires a full index")

	// ErrExists is returned when inserting a fingerprint already held.
	ErrExists = errors.New("topk: fingerprint already indexed")
)

// item is one heap entry.
type item struct {
	fp        fingerprint.Fingerprint
	address   container.Address
	frequency uint32
	slot      int

	// touched orders equal-frequency entries; higher is more recent.
	touched uint64
}

// entryHeap implements heap.Interface over items.
type entryHeap []*item

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].frequency != h[j].frequency {
		return h[i].frequency < h[j].frequency
	}
	return h[i].touched < h[j].touched
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].slot = i
	h[j].slot = j
}

func (h *entryHeap) Push(x any) {
	entry := x.(*item)
	entry.slot = len(*h)
	*h = append(*h, entry)
}

func (h *entryHeap) Pop() any {
	old := *h
	last := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	last.slot = -1
	return last
}

// Index is a bounded top-K fingerprint index.
type Index struct {
	capacity int
	heap     entryHeap
	slots    map[fingerprint.Fingerprint]*item
	clock    uint64
}

// New creates an empty index holding at most capacity entries.
func New(capacity int) (*Index, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("top-K capacity must be positive, got %d", capacity)
	}
	return &Index{
		capacity: capacity,
		heap:     make(entryHeap, 0, capacity),
		slots:    make(map[fingerprint.Fingerprint]*item, capacity),
	}, nil
}

// Len returns the number of entries.
func (index *Index) Len() int { return len(index.heap) }

// Cap returns the capacity.
func (index *Index) Cap() int { return index.capacity }

// Full reports whether the index is at capacity.
func (index *Index) Full() bool { return len(index.heap) >= index.capacity }

// Contains reports whether fp is indexed.
func (index *Index) Contains(fp fingerprint.Fingerprint) bool {
	_, found := index.slots[fp]
	return found
}

// Lookup returns the address stored for fp.
func (index *Index) Lookup(fp fingerprint.Fingerprint) (container.Address, bool) {
	entry, found := index.slots[fp]
	if !found {
		return container.Address{}, false
	}
	return entry.address, true
}

// Frequency returns the frequency stored for fp.
func (index *Index) Frequency(fp fingerprint.Fingerprint) (uint32, bool) {
	entry, found := index.slots[fp]
	if !found {
		return 0, false
	}
	return entry.frequency, true
}

// TopFrequency returns the frequency of the current minimum, or 0
// while the index is not yet full. A chunk whose estimate is below
// this value cannot be in the index.
func (index *Index) TopFrequency() uint32 {
	if !index.Full() {
		return 0
	}
	return index.heap[0].frequency
}

func (index *Index) tick() uint64 {
	index.clock++
	return index.clock
}

// UpdateFrequency sets the frequency of an indexed fingerprint and
// restores heap order. Returns false if fp is not indexed.
func (index *Index) UpdateFrequency(fp fingerprint.Fingerprint, frequency uint32) bool {
	entry, found := index.slots[fp]
	if !found {
		return false
	}
	entry.frequency = frequency
	entry.touched = index.tick()
	heap.Fix(&index.heap, entry.slot)
	return true
}

// Insert adds a new entry below capacity.
func (index *Index) Insert(fp fingerprint.Fingerprint, address container.Address, frequency uint32) error {
	if index.Full() {
		return ErrFull
	}
	if index.Contains(fp) {
		return ErrExists
	}
	index.push(fp, address, frequency)
	return nil
}

// EvictAndInsert pops the current minimum and pushes the new entry.
// Only valid at capacity.
func (index *Index) EvictAndInsert(fp fingerprint.Fingerprint, address container.Address, frequency uint32) error {
	if !index.Full() {
		return ErrNotFull
	}
	if index.Contains(fp) {
		return ErrExists
	}
	evicted := heap.Pop(&index.heap).(*item)
	delete(index.slots, evicted.fp)
	index.push(fp, address, frequency)
	return nil
}

func (index *Index) push(fp fingerprint.Fingerprint, address container.Address, frequency uint32) {
	entry := &item{fp: fp, address: address, frequency: frequency, touched: index.tick()}
	heap.Push(&index.heap, entry)
	index.slots[fp] = entry
}

// Admit applies the admission policy for a chunk with the given
// estimated frequency: an indexed chunk has its frequency raised to
// frequency if that is higher, and never lowered; a new chunk is inserted while there is room, or replaces the minimum
// when its frequency is at least the minimum's. Reports whether the
// chunk is in the index afterwards.
func (index *Index) Admit(fp fingerprint.Fingerprint, address container.Address, frequency uint32) bool {
	if current, found := index.Frequency(fp); found {
		index.UpdateFrequency(fp, max(current, frequency))
		return true
	}
	if !index.Full() {
		index.push(fp, address, frequency)
		return true
	}
	if frequency < index.TopFrequency() {
		return false
	}
	// Errors are impossible here: the index is full and fp is absent.
	_ = index.EvictAndInsert(fp, address, frequency)
	return true
}
