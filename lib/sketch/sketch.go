// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sketch implements a count-min sketch over chunk
// fingerprints.
//
// The sketch is a depth × width grid of uint32 counters. Each row
// hashes the fingerprint with its own seed to pick one counter.
// Update increments the chosen counter in every row; Estimate returns
// the minimum of them, which is never below the true number of
// updates. Counters saturate at math.MaxUint32 instead of wrapping,
// so an adversary cannot drive a hot chunk's estimate back down by
// overflowing its counters.
//
// A Sketch is not safe for concurrent use. The dedup engine guards it
// with a single mutex and holds it only for in-memory work.
package sketch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	farm "github.com/dgryski/go-farm"

	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
)

// ErrCorrupt is returned when persisted sketch state does not match
// the configured dimensions.
var ErrCorrupt = errors.New("sketch: persisted state does not match dimensions")

// Sketch is a count-min sketch with saturating counters.
type Sketch struct {
	width int
	depth int

	// rows[r][c] is the counter for row r, column c. Rows share one
	// backing array so persistence is a single contiguous write.
	rows     [][]uint32
	counters []uint32
	seeds    []uint64
}

// New creates a zeroed sketch.
func New(width, depth int) (*Sketch, error) {
	if width <= 0 || depth <= 0 {
		return nil, fmt.Errorf("sketch dimensions must be positive, got width=%d depth=%d", width, depth)
	}
	if uint64(width)*uint64(depth) > math.MaxInt32 {
		return nil, fmt.Errorf("sketch of %d×%d counters is too large", depth, width)
	}

	sketch := &Sketch{
		width:    width,
		depth:    depth,
		rows:     make([][]uint32, depth),
		counters: make([]uint32, width*depth),
		seeds:    make([]uint64, depth),
	}
	for row := range depth {
		sketch.rows[row] = sketch.counters[row*width : (row+1)*width]
		// Seeds only need to differ per row; odd multiples of the
		// 64-bit golden ratio spread them across the seed space.
		sketch.seeds[row] = uint64(2*row+1) * 0x9e3779b97f4a7c15
	}
	return sketch, nil
}

// Width returns the number of counters per row.
func (s *Sketch) Width() int { return s.width }

// Depth returns the number of rows.
func (s *Sketch) Depth() int { return s.depth }

func (s *Sketch) column(row int, fp *fingerprint.Fingerprint) int {
	return int(farm.Hash64WithSeed(fp[:], s.seeds[row]) % uint64(s.width))
}

// Update records one occurrence of fp.
func (s *Sketch) Update(fp fingerprint.Fingerprint) {
	for row := range s.depth {
		counter := &s.rows[row][s.column(row, &fp)]
		if *counter < math.MaxUint32 {
			*counter++
		}
	}
}

// Estimate returns the estimated number of occurrences of fp.
func (s *Sketch) Estimate(fp fingerprint.Fingerprint) uint32 {
	estimate := uint32(math.MaxUint32)
	for row := range s.depth {
		estimate = min(estimate, s.rows[row][s.column(row, &fp)])
	}
	return estimate
}

// UpdateEstimate records one occurrence of fp and returns the new
// estimate, hashing each row once.
func (s *Sketch) UpdateEstimate(fp fingerprint.Fingerprint) uint32 {
	estimate := uint32(math.MaxUint32)
	for row := range s.depth {
		counter := &s.rows[row][s.column(row, &fp)]
		if *counter < math.MaxUint32 {
			*counter++
		}
		estimate = min(estimate, *counter)
	}
	return estimate
}

// Reset zeroes every counter.
func (s *Sketch) Reset() {
	clear(s.counters)
}

// StateSize returns the size in bytes of the persisted state.
func (s *Sketch) StateSize() int64 {
	return int64(len(s.counters)) * 4
}

// WriteTo writes the counters as depth rows of width little-endian
// uint32 values.
func (s *Sketch) WriteTo(w io.Writer) (int64, error) {
	buffer := make([]byte, 4*s.width)
	var written int64
	for row := range s.depth {
		for column, value := range s.rows[row] {
			binary.LittleEndian.PutUint32(buffer[4*column:], value)
		}
		n, err := w.Write(buffer)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("writing sketch row %d: %w", row, err)
		}
	}
	return written, nil
}

// ReadFrom replaces the counters with state written by WriteTo. The
// reader must hold exactly StateSize bytes; anything shorter or
// longer is ErrCorrupt and leaves the sketch unchanged.
func (s *Sketch) ReadFrom(r io.Reader) (int64, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.StateSize()+1))
	if err != nil {
		return int64(len(data)), fmt.Errorf("reading sketch state: %w", err)
	}
	if int64(len(data)) != s.StateSize() {
		return int64(len(data)), fmt.Errorf("%w: got %d bytes, want %d (width=%d depth=%d)",
			ErrCorrupt, len(data), s.StateSize(), s.width, s.depth)
	}
	for index := range s.counters {
		s.counters[index] = binary.LittleEndian.Uint32(data[4*index:])
	}
	return int64(len(data)), nil
}
