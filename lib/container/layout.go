// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"fmt"

	"github.com/bureau-foundation/dedupvault/lib/cursor"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
)

const (
	// CountSize is the width of the chunk_count prefix.
	CountSize = 4

	// EntrySize is the width of one header entry.
	EntrySize = fingerprint.Size + 8
)

// Entry is one header record.
type Entry struct {
	Fingerprint fingerprint.Fingerprint
	Offset      uint32
	Length      uint32
}

// PersistedSize returns the encoded size of a container holding
// chunkCount chunks with bodySize body bytes.
func PersistedSize(chunkCount, bodySize int) int {
	return CountSize + chunkCount*EntrySize + bodySize
}

// Encode builds the persisted form of a container.
func Encode(entries []Entry, body []byte) []byte {
	writer := cursor.NewWriter(PersistedSize(len(entries), len(body)))
	writer.PutUint32(uint32(len(entries)))
	for _, entry := range entries {
		writer.PutFingerprint(entry.Fingerprint)
		writer.PutUint32(entry.Offset)
		writer.PutUint32(entry.Length)
	}
	writer.PutBytes(body)
	return writer.Bytes()
}

// View is a parsed, read-only container.
type View struct {
	entries []Entry
	body    []byte
}

// Parse decodes a persisted container. Every header entry is checked
// to lie inside the body, so lookups on the returned View cannot fail
// on bounds.
func Parse(raw []byte) (*View, error) {
	reader := cursor.NewReader(raw)
	count, err := reader.Uint32()
	if err != nil {
		return nil, fmt.Errorf("reading container chunk count: %w", err)
	}
	if uint64(count)*EntrySize > uint64(reader.Remaining()) {
		return nil, fmt.Errorf("container header declares %d chunks but only %d bytes follow",
			count, reader.Remaining())
	}

	entries := make([]Entry, count)
	for index := range entries {
		entry := &entries[index]
		if entry.Fingerprint, err = reader.Fingerprint(); err != nil {
			return nil, fmt.Errorf("reading header entry %d: %w", index, err)
		}
		if entry.Offset, err = reader.Uint32(); err != nil {
			return nil, fmt.Errorf("reading header entry %d: %w", index, err)
		}
		if entry.Length, err = reader.Uint32(); err != nil {
			return nil, fmt.Errorf("reading header entry %d: %w", index, err)
		}
	}

	body, _ := reader.Bytes(reader.Remaining())
	for index, entry := range entries {
		end := uint64(entry.Offset) + uint64(entry.Length)
		if end > uint64(len(body)) {
			return nil, fmt.Errorf("header entry %d (%s) spans [%d, %d) beyond %d-byte body",
				index, entry.Fingerprint.Short(), entry.Offset, end, len(body))
		}
	}

	return &View{entries: entries, body: body}, nil
}

// Len returns the number of chunks in the container.
func (v *View) Len() int { return len(v.entries) }

// Locate scans the header for fp.
func (v *View) Locate(fp fingerprint.Fingerprint) (Entry, bool) {
	for _, entry := range v.entries {
		if entry.Fingerprint == fp {
			return entry, true
		}
	}
	return Entry{}, false
}

// LocateAt scans the header for the entry stored at offset with the
// given length.
func (v *View) LocateAt(offset, length uint32) (Entry, bool) {
	for _, entry := range v.entries {
		if entry.Offset == offset && entry.Length == length {
			return entry, true
		}
	}
	return Entry{}, false
}

// Chunk returns the stored bytes for entry. The slice aliases the
// container buffer.
func (v *View) Chunk(entry Entry) []byte {
	return v.body[entry.Offset : entry.Offset+entry.Length]
}
