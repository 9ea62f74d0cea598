// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"

	"github.com/bureau-foundation/dedupvault/lib/codec"
	"github.com/bureau-foundation/dedupvault/lib/cursor"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
	"github.com/bureau-foundation/dedupvault/lib/recipe"
)

// ChunkRun builds a [len: u32][bytes] payload.
type ChunkRun struct {
	writer *cursor.Writer
	count  int
}

// NewChunkRun returns an empty run with room for capacity bytes.
func NewChunkRun(capacity int) *ChunkRun {
	return &ChunkRun{writer: cursor.NewWriter(capacity)}
}

// Add appends one chunk.
func (r *ChunkRun) Add(chunk []byte) {
	r.writer.PutUint32(uint32(len(chunk)))
	r.writer.PutBytes(chunk)
	r.count++
}

// Count returns the number of chunks added.
func (r *ChunkRun) Count() int { return r.count }

// Len returns the encoded size.
func (r *ChunkRun) Len() int { return r.writer.Len() }

// Bytes returns the encoded payload.
func (r *ChunkRun) Bytes() []byte { return r.writer.Bytes() }

// Reset empties the run, keeping its buffer.
func (r *ChunkRun) Reset() {
	r.writer.Reset()
	r.count = 0
}

// ParseChunks splits a chunk run of count chunks. Every chunk must be
// non-empty and at most maxChunk bytes, and the run must end exactly
// at the end of payload. The returned slices alias payload.
func ParseChunks(payload []byte, count uint32, maxChunk int) ([][]byte, error) {
	if uint64(count)*4 > uint64(len(payload)) {
		return nil, fmt.Errorf("%w: %d chunks cannot fit in %d bytes", ErrMalformed, count, len(payload))
	}
	reader := cursor.NewReader(payload)
	chunks := make([][]byte, 0, count)
	for index := range count {
		length, err := reader.Uint32()
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d length: %v", ErrMalformed, index, err)
		}
		if length == 0 || uint64(length) > uint64(maxChunk) {
			return nil, fmt.Errorf("%w: chunk %d is %d bytes (max %d)", ErrMalformed, index, length, maxChunk)
		}
		chunk, err := reader.Bytes(int(length))
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d body: %v", ErrMalformed, index, err)
		}
		chunks = append(chunks, chunk)
	}
	if reader.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d bytes after %d chunks", ErrMalformed, reader.Remaining(), count)
	}
	return chunks, nil
}

// EncodeFingerprints packs fingerprints back to back.
func EncodeFingerprints(fps []fingerprint.Fingerprint) []byte {
	writer := cursor.NewWriter(len(fps) * fingerprint.Size)
	for _, fp := range fps {
		writer.PutFingerprint(fp)
	}
	return writer.Bytes()
}

// ParseFingerprints unpacks exactly count fingerprints.
func ParseFingerprints(payload []byte, count uint32) ([]fingerprint.Fingerprint, error) {
	if uint64(len(payload)) != uint64(count)*fingerprint.Size {
		return nil, fmt.Errorf("%w: %d fingerprints need %d bytes, have %d",
			ErrMalformed, count, uint64(count)*fingerprint.Size, len(payload))
	}
	reader := cursor.NewReader(payload)
	fps := make([]fingerprint.Fingerprint, count)
	for index := range fps {
		fps[index], _ = reader.Fingerprint()
	}
	return fps, nil
}

// LoginRequest opens an upload or restore session for one file.
type LoginRequest struct {
	FileID recipe.FileID `cbor:"file_id"`
}

// LoginResponse accepts a login. For a restore it carries the recipe
// head so the client knows how much data to expect.
type LoginResponse struct {
	Head     recipe.Head `cbor:"head"`
	Location string      `cbor:"location,omitempty"`
}

// UploadDone acknowledges a committed upload.
type UploadDone struct {
	Chunks       uint64 `cbor:"chunks"`
	Bytes        uint64 `cbor:"bytes"`
	UniqueChunks uint64 `cbor:"unique_chunks"`
}

// ErrorResponse reports a failure that ends the session.
type ErrorResponse struct {
	Message string `cbor:"message"`
}

// EncodeControl marshals a control message.
func EncodeControl(message any) ([]byte, error) {
	return codec.Marshal(message)
}

// DecodeControl unmarshals a control message, wrapping failures in
// ErrMalformed.
func DecodeControl(payload []byte, message any) error {
	if err := codec.Unmarshal(payload, message); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
