// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sketch

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
)

func fpOf(label string) fingerprint.Fingerprint {
	return fingerprint.Sum([]byte(label))
}

func newSketch(t *testing.T, width, depth int) *Sketch {
	t.Helper()
	sketch, err := New(width, depth)
	if err != nil {
		t.Fatalf("New(%d, %d): %v", width, depth, err)
	}
	return sketch
}

func TestEstimateScenario(t *testing.T) {
	sketch := newSketch(t, 1024, 4)
	x, y := fpOf("X"), fpOf("Y")

	for range 1000 {
		sketch.Update(x)
	}
	sketch.Update(y)

	if estimate := sketch.Estimate(x); estimate < 1000 {
		t.Errorf("Estimate(X) = %d, want >= 1000", estimate)
	}
	if estimate := sketch.Estimate(y); estimate < 1 {
		t.Errorf("Estimate(Y) = %d, want >= 1", estimate)
	}
	if estimate := sketch.Estimate(fpOf("never seen")); estimate > 1001 {
		t.Errorf("Estimate(unseen) = %d exceeds total updates", estimate)
	}
}

func TestEstimateMonotonicAndUpperBound(t *testing.T) {
	// A narrow sketch forces collisions; estimates may inflate but
	// must never fall below the true count or decrease.
	sketch := newSketch(t, 16, 3)
	truth := make(map[fingerprint.Fingerprint]uint32)
	previous := make(map[fingerprint.Fingerprint]uint32)

	for step := range 2000 {
		fp := fpOf(fmt.Sprintf("chunk-%d", (step*7)%97))
		estimate := sketch.UpdateEstimate(fp)
		truth[fp]++

		if estimate < truth[fp] {
			t.Fatalf("step %d: estimate %d below true count %d", step, estimate, truth[fp])
		}
		for other, last := range previous {
			if now := sketch.Estimate(other); now < last {
				t.Fatalf("step %d: estimate for %s decreased %d -> %d", step, other.Short(), last, now)
			}
		}
		previous[fp] = estimate
	}
}

func TestUpdateEstimateMatchesEstimate(t *testing.T) {
	sketch := newSketch(t, 64, 4)
	fp := fpOf("same")
	for range 10 {
		got := sketch.UpdateEstimate(fp)
		if want := sketch.Estimate(fp); got != want {
			t.Fatalf("UpdateEstimate = %d, Estimate = %d", got, want)
		}
	}
}

func TestCountersSaturate(t *testing.T) {
	sketch := newSketch(t, 8, 2)
	fp := fpOf("hot")
	for row := range sketch.depth {
		sketch.rows[row][sketch.column(row, &fp)] = math.MaxUint32 - 1
	}

	sketch.Update(fp)
	sketch.Update(fp)
	sketch.Update(fp)

	if estimate := sketch.Estimate(fp); estimate != math.MaxUint32 {
		t.Errorf("Estimate after saturation = %d, want %d", estimate, uint32(math.MaxUint32))
	}
}

func TestPersistRoundtrip(t *testing.T) {
	sketch := newSketch(t, 256, 4)
	for index := range 500 {
		sketch.Update(fpOf(fmt.Sprintf("item-%d", index%50)))
	}

	var buffer bytes.Buffer
	written, err := sketch.WriteTo(&buffer)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if written != sketch.StateSize() || int64(buffer.Len()) != 4*256*4 {
		t.Fatalf("wrote %d bytes (buffer %d), want %d", written, buffer.Len(), sketch.StateSize())
	}

	restored := newSketch(t, 256, 4)
	if _, err := restored.ReadFrom(bytes.NewReader(buffer.Bytes())); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	for index := range 50 {
		fp := fpOf(fmt.Sprintf("item-%d", index))
		if restored.Estimate(fp) != sketch.Estimate(fp) {
			t.Fatalf("estimate for item-%d differs after reload", index)
		}
	}
}

func TestReadFromRejectsWrongSize(t *testing.T) {
	sketch := newSketch(t, 16, 2)
	sketch.Update(fpOf("keep"))

	for _, size := range []int{0, 16*2*4 - 1, 16*2*4 + 4} {
		_, err := sketch.ReadFrom(bytes.NewReader(make([]byte, size)))
		if !errors.Is(err, ErrCorrupt) {
			t.Errorf("ReadFrom(%d bytes): got %v, want ErrCorrupt", size, err)
		}
	}
	if sketch.Estimate(fpOf("keep")) == 0 {
		t.Error("failed ReadFrom modified the counters")
	}
}

func TestNewRejectsBadDimensions(t *testing.T) {
	for _, dims := range [][2]int{{0, 4}, {4, 0}, {-1, 1}} {
		if _, err := New(dims[0], dims[1]); err == nil {
			t.Errorf("New(%d, %d) succeeded", dims[0], dims[1])
		}
	}
}
