// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recipe

import (
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/dedupvault/lib/cursor"
)

// ErrCorrupt is returned for recipes that cannot be parsed or whose
// contents disagree with their head.
var ErrCorrupt = errors.New("recipe: corrupt recipe")

// DefaultBatchSize is the number of entries per batch when the
// configuration leaves it unset.
const DefaultBatchSize = 1024

// MaxBatchSize is the largest entry count a batch may hold. Readers
// accept any batch up to this size, whatever batch size they would
// write themselves.
const MaxBatchSize = 1 << 16

// batchHeaderSize is entry_count plus sealed_len.
const batchHeaderSize = 8

// WriterConfig configures a Writer.
type WriterConfig struct {
	FileID    FileID
	Cipher    *Cipher
	BatchSize int
	Location  Location
}

// Writer appends entries to a recipe file.
type Writer struct {
	file   io.WriteSeeker
	config WriterConfig

	pending      *cursor.Writer
	pendingCount int
	sequence     uint64
	entries      uint64
	finished     bool
}

// NewWriter writes the placeholder head and the location byte to
// file, which must be positioned at offset 0.
func NewWriter(file io.WriteSeeker, config WriterConfig) (*Writer, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BatchSize > MaxBatchSize {
		return nil, fmt.Errorf("recipe: batch size %d exceeds the maximum of %d", config.BatchSize, MaxBatchSize)
	}

	preamble := cursor.NewWriter(HeadSize + 1)
	Head{}.Put(preamble)
	preamble.PutByte(byte(config.Location))
	if _, err := file.Write(preamble.Bytes()); err != nil {
		return nil, fmt.Errorf("writing recipe placeholder head: %w", err)
	}

	return &Writer{
		file:    file,
		config:  config,
		pending: cursor.NewWriter(config.BatchSize * maxEntrySize),
	}, nil
}

// Append adds one entry. A full batch is written immediately.
func (w *Writer) Append(entry Entry) error {
	if w.finished {
		return fmt.Errorf("recipe %s: append after finish", w.config.FileID)
	}
	if err := entry.put(w.pending); err != nil {
		return err
	}
	w.pendingCount++
	w.entries++
	if w.pendingCount >= w.config.BatchSize {
		return w.Flush()
	}
	return nil
}

// Entries returns the number of entries appended so far.
func (w *Writer) Entries() uint64 { return w.entries }

// Flush writes any buffered entries as one batch.
func (w *Writer) Flush() error {
	if w.pendingCount == 0 {
		return nil
	}
	sealed, err := w.config.Cipher.seal(w.config.FileID, w.sequence, w.pending.Bytes())
	if err != nil {
		return err
	}

	frame := cursor.NewWriter(batchHeaderSize + len(sealed))
	frame.PutUint32(uint32(w.pendingCount))
	frame.PutUint32(uint32(len(sealed)))
	frame.PutBytes(sealed)
	if _, err := w.file.Write(frame.Bytes()); err != nil {
		return fmt.Errorf("writing recipe batch %d: %w", w.sequence, err)
	}

	w.sequence++
	w.pendingCount = 0
	w.pending.Reset()
	return nil
}

// Finish flushes the last batch and overwrites the placeholder head
// with head. head.TotalChunkNum must equal the number of entries
// written. The file is left positioned at its end and is not closed.
func (w *Writer) Finish(head Head) error {
	if w.finished {
		return fmt.Errorf("recipe %s: finished twice", w.config.FileID)
	}
	if head.TotalChunkNum != w.entries {
		return fmt.Errorf("recipe %s: head declares %d chunks but %d entries were written",
			w.config.FileID, head.TotalChunkNum, w.entries)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	encoded := cursor.NewWriter(HeadSize)
	head.Put(encoded)
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seeking to recipe head: %w", err)
	}
	if _, err := w.file.Write(encoded.Bytes()); err != nil {
		return fmt.Errorf("overwriting recipe head: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seeking to recipe end: %w", err)
	}
	w.finished = true
	return nil
}
