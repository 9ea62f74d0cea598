// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package topk

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/bureau-foundation/dedupvault/lib/container"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
)

func fpOf(n int) fingerprint.Fingerprint {
	return fingerprint.Sum([]byte(fmt.Sprintf("chunk-%d", n)))
}

func addressOf(n int) container.Address {
	var id container.ID
	id[0] = byte(n)
	id[1] = byte(n >> 8)
	return container.Address{Container: id, Offset: uint32(n * 10), Length: uint32(n + 1)}
}

func newIndex(t *testing.T, capacity int) *Index {
	t.Helper()
	index, err := New(capacity)
	if err != nil {
		t.Fatalf("New(%d): %v", capacity, err)
	}
	return index
}

func TestTopFrequencyZeroUntilFull(t *testing.T) {
	index := newIndex(t, 3)
	for n := range 2 {
		if err := index.Insert(fpOf(n), addressOf(n), uint32(10+n)); err != nil {
			t.Fatalf("Insert %d: %v", n, err)
		}
		if index.TopFrequency() != 0 {
			t.Fatalf("TopFrequency with %d/3 entries = %d, want 0", index.Len(), index.TopFrequency())
		}
	}
	if err := index.Insert(fpOf(2), addressOf(2), 5); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got := index.TopFrequency(); got != 5 {
		t.Errorf("TopFrequency when full = %d, want 5", got)
	}
	if err := index.Insert(fpOf(3), addressOf(3), 50); !errors.Is(err, ErrFull) {
		t.Errorf("Insert when full: got %v, want ErrFull", err)
	}
}

func TestEvictAndInsert(t *testing.T) {
	index := newIndex(t, 2)
	if err := index.EvictAndInsert(fpOf(0), addressOf(0), 1); !errors.Is(err, ErrNotFull) {
		t.Fatalf("EvictAndInsert below capacity: got %v, want ErrNotFull", err)
	}

	index.Insert(fpOf(0), addressOf(0), 3)
	index.Insert(fpOf(1), addressOf(1), 7)

	if err := index.EvictAndInsert(fpOf(2), addressOf(2), 4); err != nil {
		t.Fatalf("EvictAndInsert: %v", err)
	}
	if index.Contains(fpOf(0)) {
		t.Error("minimum was not evicted")
	}
	if !index.Contains(fpOf(1)) || !index.Contains(fpOf(2)) {
		t.Error("surviving entries missing")
	}
	address, found := index.Lookup(fpOf(2))
	if !found || address != addressOf(2) {
		t.Errorf("Lookup: got %v, %v", address, found)
	}
	if index.TopFrequency() != 4 {
		t.Errorf("TopFrequency = %d, want 4", index.TopFrequency())
	}
}

func TestUpdateFrequencyReorders(t *testing.T) {
	index := newIndex(t, 3)
	index.Insert(fpOf(0), addressOf(0), 1)
	index.Insert(fpOf(1), addressOf(1), 2)
	index.Insert(fpOf(2), addressOf(2), 3)

	if !index.UpdateFrequency(fpOf(0), 10) {
		t.Fatal("UpdateFrequency reported missing entry")
	}
	if index.TopFrequency() != 2 {
		t.Errorf("TopFrequency after raising the minimum = %d, want 2", index.TopFrequency())
	}
	if index.UpdateFrequency(fpOf(99), 1) {
		t.Error("UpdateFrequency succeeded for an absent fingerprint")
	}
	if frequency, _ := index.Frequency(fpOf(0)); frequency != 10 {
		t.Errorf("Frequency = %d, want 10", frequency)
	}
}

func TestTiesEvictLeastRecentlyUpdated(t *testing.T) {
	index := newIndex(t, 2)
	index.Insert(fpOf(0), addressOf(0), 5)
	index.Insert(fpOf(1), addressOf(1), 5)
	// Touch entry 0 so entry 1 becomes the older of the two.
	index.UpdateFrequency(fpOf(0), 5)

	if !index.Admit(fpOf(2), addressOf(2), 5) {
		t.Fatal("Admit rejected a chunk at the minimum frequency")
	}
	if index.Contains(fpOf(1)) {
		t.Error("the least recently updated tie was not the one evicted")
	}
	if !index.Contains(fpOf(0)) {
		t.Error("the recently updated tie was evicted")
	}
}

func TestAdmitPolicy(t *testing.T) {
	index := newIndex(t, 2)
	if !index.Admit(fpOf(0), addressOf(0), 4) || !index.Admit(fpOf(1), addressOf(1), 6) {
		t.Fatal("Admit rejected while below capacity")
	}
	if index.Admit(fpOf(2), addressOf(2), 3) {
		t.Error("Admit accepted a chunk below the minimum frequency")
	}
	if index.Contains(fpOf(2)) {
		t.Error("rejected chunk is indexed")
	}
	if !index.Admit(fpOf(0), addressOf(0), 9) {
		t.Error("Admit rejected an update of an indexed chunk")
	}
	if index.TopFrequency() != 6 {
		t.Errorf("TopFrequency = %d, want 6", index.TopFrequency())
	}
}

func TestAdmitNeverLowersFrequency(t *testing.T) {
	index := newIndex(t, 2)
	index.Admit(fpOf(0), addressOf(0), 9)
	index.Admit(fpOf(1), addressOf(1), 6)

	// A stale estimate from a concurrent upload.
	if !index.Admit(fpOf(0), addressOf(0), 2) {
		t.Fatal("Admit rejected an indexed chunk")
	}
	if frequency, _ := index.Frequency(fpOf(0)); frequency != 9 {
		t.Errorf("Frequency after stale Admit = %d, want 9", frequency)
	}
	if index.TopFrequency() != 6 {
		t.Errorf("TopFrequency = %d, want 6", index.TopFrequency())
	}
	if index.Admit(fpOf(2), addressOf(2), 5) {
		t.Error("Admit accepted a chunk below the minimum after a stale update")
	}
}

func TestSizeNeverExceedsCapacity(t *testing.T) {
	const capacity = 16
	index := newIndex(t, capacity)
	random := rand.New(rand.NewPCG(1, 2))

	for step := range 5000 {
		n := random.IntN(200)
		index.Admit(fpOf(n), addressOf(n), uint32(random.IntN(50)))
		if index.Len() > capacity {
			t.Fatalf("step %d: Len() = %d exceeds capacity %d", step, index.Len(), capacity)
		}
		if len(index.slots) != index.Len() {
			t.Fatalf("step %d: map has %d entries, heap %d", step, len(index.slots), index.Len())
		}
	}
	for position, entry := range index.heap {
		if entry.slot != position {
			t.Fatalf("entry at %d records slot %d", position, entry.slot)
		}
		if position > 0 && index.heap.Less(position, (position-1)/2) {
			t.Fatalf("heap order violated at %d", position)
		}
	}
}

func TestPersistRoundtrip(t *testing.T) {
	index := newIndex(t, 8)
	for n := range 8 {
		index.Admit(fpOf(n), addressOf(n), uint32(n*3%7))
	}

	var buffer bytes.Buffer
	if _, err := index.WriteTo(&buffer); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if buffer.Len() != countSize+8*recordSize {
		t.Fatalf("persisted %d bytes, want %d", buffer.Len(), countSize+8*recordSize)
	}

	restored := newIndex(t, 8)
	if _, err := restored.ReadFrom(bytes.NewReader(buffer.Bytes())); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if restored.Len() != 8 {
		t.Fatalf("restored Len = %d, want 8", restored.Len())
	}
	for n := range 8 {
		address, found := restored.Lookup(fpOf(n))
		if !found || address != addressOf(n) {
			t.Errorf("entry %d: got %v, %v", n, address, found)
		}
	}
	if restored.TopFrequency() != index.TopFrequency() {
		t.Errorf("TopFrequency: got %d, want %d", restored.TopFrequency(), index.TopFrequency())
	}
}

func TestReadFromDetectsCorruption(t *testing.T) {
	index := newIndex(t, 4)
	for n := range 3 {
		index.Admit(fpOf(n), addressOf(n), uint32(n))
	}
	var buffer bytes.Buffer
	index.WriteTo(&buffer)
	valid := buffer.Bytes()

	duplicated := bytes.Clone(valid)
	copy(duplicated[countSize+recordSize:], duplicated[countSize:countSize+32])

	badSlot := bytes.Clone(valid)
	badSlot[countSize+recordSize-4] = 9

	tests := map[string][]byte{
		"truncated":       valid[:len(valid)-1],
		"trailing":        append(bytes.Clone(valid), 0),
		"empty":           nil,
		"count too large": append([]byte{200, 0, 0, 0, 0, 0, 0, 0}, valid[countSize:]...),
		"duplicate":       duplicated,
		"bad slot":        badSlot,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			target := newIndex(t, 4)
			target.Admit(fpOf(100), addressOf(100), 1)
			if _, err := target.ReadFrom(bytes.NewReader(data)); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("ReadFrom: got %v, want ErrCorrupt", err)
			}
			if !target.Contains(fpOf(100)) || target.Len() != 1 {
				t.Error("failed ReadFrom modified the index")
			}
		})
	}
}

func TestReadFromRejectsMoreItemsThanCapacity(t *testing.T) {
	large := newIndex(t, 6)
	for n := range 6 {
		large.Admit(fpOf(n), addressOf(n), 1)
	}
	var buffer bytes.Buffer
	large.WriteTo(&buffer)

	small := newIndex(t, 4)
	if _, err := small.ReadFrom(&buffer); !errors.Is(err, ErrCorrupt) {
		t.Errorf("ReadFrom into smaller index: got %v, want ErrCorrupt", err)
	}
}
