// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cursor provides bounds-checked sequential access to
// little-endian binary layouts: container headers, recipe batches,
// persisted index state, and wire frames.
//
// A [Reader] tracks its position in a byte slice and fails with
// [ErrShortBuffer] instead of reading past the end. A [Writer] appends
// the same primitives to a growing buffer. Every fixed-width integer is
// little-endian.
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
)

// ErrShortBuffer is returned when a read would run past the end of
// the underlying slice.
var ErrShortBuffer = errors.New("cursor: short buffer")

// Reader reads fixed-width values from a byte slice.
type Reader struct {
	data   []byte
	offset int
}

// NewReader returns a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the current read position.
func (r *Reader) Offset() int { return r.offset }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.offset }

// Len returns the total length of the underlying slice.
func (r *Reader) Len() int { return len(r.data) }

// take returns the next n bytes and advances. The returned slice
// aliases the underlying buffer.
func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d at offset %d", ErrShortBuffer, n, r.offset)
	}
	if n > r.Remaining() {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrShortBuffer, n, r.offset, r.Remaining())
	}
	out := r.data[r.offset : r.offset+n]
	r.offset += n
	return out, nil
}

// Byte reads one byte.
func (r *Reader) Byte() (byte, error) {
	data, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	data, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

// Uint64 reads a little-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	data, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) ([]byte, error) {
	return r.take(n)
}

// Fingerprint reads a fingerprint by value.
func (r *Reader) Fingerprint() (fingerprint.Fingerprint, error) {
	var fp fingerprint.Fingerprint
	data, err := r.take(fingerprint.Size)
	if err != nil {
		return fp, err
	}
	copy(fp[:], data)
	return fp, nil
}

// Skip advances n bytes.
func (r *Reader) Skip(n int) error {
	_, err := r.take(n)
	return err
}

// Seek moves to an absolute offset within the slice.
func (r *Reader) Seek(offset int) error {
	if offset < 0 || offset > len(r.data) {
		return fmt.Errorf("%w: seek to %d in %d-byte buffer", ErrShortBuffer, offset, len(r.data))
	}
	r.offset = offset
	return nil
}

// Writer appends fixed-width values to a buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity preallocated.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the written bytes. The slice aliases the Writer's
// buffer until the next write.
func (w *Writer) Bytes() []byte { return w.buf }

// Reset discards written bytes and keeps the capacity.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

// PutByte appends one byte.
func (w *Writer) PutByte(value byte) { w.buf = append(w.buf, value) }

// PutUint32 appends a little-endian uint32.
func (w *Writer) PutUint32(value uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, value)
}

// PutUint64 appends a little-endian uint64.
func (w *Writer) PutUint64(value uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, value)
}

// PutBytes appends raw bytes.
func (w *Writer) PutBytes(data []byte) { w.buf = append(w.buf, data...) }

// PutFingerprint appends a fingerprint.
func (w *Writer) PutFingerprint(fp fingerprint.Fingerprint) { w.buf = append(w.buf, fp[:]...) }
