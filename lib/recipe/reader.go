// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recipe

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/dedupvault/lib/cursor"
)

// ReaderConfig configures a Reader. FileID and Cipher must match the
// values the recipe was written with.
type ReaderConfig struct {
	FileID FileID
	Cipher *Cipher
}

// Reader returns recipe entries in order.
type Reader struct {
	source   *bufio.Reader
	config   ReaderConfig
	head     Head
	location Location

	buffered []Entry
	sequence uint64
	read     uint64
	done     bool
}

// NewReader reads the head and location byte.
func NewReader(source io.Reader, config ReaderConfig) (*Reader, error) {
	buffered := bufio.NewReader(source)

	preamble := make([]byte, HeadSize+1)
	if _, err := io.ReadFull(buffered, preamble); err != nil {
		return nil, fmt.Errorf("%w: reading head: %v", ErrCorrupt, err)
	}
	reader := cursor.NewReader(preamble)
	head, _ := ReadHead(reader)
	location, _ := reader.Byte()

	return &Reader{
		source:   buffered,
		config:   config,
		head:     head,
		location: Location(location),
	}, nil
}

// Head returns the recipe head.
func (r *Reader) Head() Head { return r.head }

// Location returns the location byte.
func (r *Reader) Location() Location { return r.location }

// Next returns up to max entries in recipe order. It returns io.EOF,
// with no entries, once every entry has been returned. Reaching the
// end with an entry count different from the head is ErrCorrupt.
func (r *Reader) Next(max int) ([]Entry, error) {
	if max <= 0 {
		return nil, fmt.Errorf("recipe: Next requires a positive count, got %d", max)
	}
	for len(r.buffered) < max && !r.done {
		if err := r.readBatch(); err != nil {
			return nil, err
		}
	}
	if len(r.buffered) == 0 {
		return nil, io.EOF
	}

	count := min(max, len(r.buffered))
	out := make([]Entry, count)
	copy(out, r.buffered[:count])
	r.buffered = r.buffered[count:]
	return out, nil
}

func (r *Reader) readBatch() error {
	header := make([]byte, batchHeaderSize)
	n, err := io.ReadFull(r.source, header)
	if errors.Is(err, io.EOF) && n == 0 {
		r.done = true
		if r.read != r.head.TotalChunkNum {
			return fmt.Errorf("%w: head declares %d chunks, recipe holds %d",
				ErrCorrupt, r.head.TotalChunkNum, r.read)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: reading batch %d header: %v", ErrCorrupt, r.sequence, err)
	}

	headerReader := cursor.NewReader(header)
	count, _ := headerReader.Uint32()
	sealedLength, _ := headerReader.Uint32()
	if count == 0 || count > MaxBatchSize {
		return fmt.Errorf("%w: batch %d declares %d entries (max %d)",
			ErrCorrupt, r.sequence, count, MaxBatchSize)
	}
	if limit := int(count)*maxEntrySize + r.config.Cipher.overhead(); int(sealedLength) > limit {
		return fmt.Errorf("%w: batch %d is %d bytes, at most %d expected",
			ErrCorrupt, r.sequence, sealedLength, limit)
	}

	sealed := make([]byte, sealedLength)
	if _, err := io.ReadFull(r.source, sealed); err != nil {
		return fmt.Errorf("%w: reading batch %d: %v", ErrCorrupt, r.sequence, err)
	}
	plaintext, err := r.config.Cipher.open(r.config.FileID, r.sequence, sealed)
	if err != nil {
		return err
	}

	entries := cursor.NewReader(plaintext)
	for index := range count {
		entry, err := readEntry(entries)
		if err != nil {
			return fmt.Errorf("%w: batch %d entry %d: %v", ErrCorrupt, r.sequence, index, err)
		}
		r.buffered = append(r.buffered, entry)
	}
	if entries.Remaining() != 0 {
		return fmt.Errorf("%w: batch %d has %d trailing bytes", ErrCorrupt, r.sequence, entries.Remaining())
	}

	r.sequence++
	r.read += uint64(count)
	if r.read > r.head.TotalChunkNum {
		return fmt.Errorf("%w: head declares %d chunks, recipe holds more", ErrCorrupt, r.head.TotalChunkNum)
	}
	return nil
}
