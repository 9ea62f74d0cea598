// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recipe

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/dedupvault/lib/container"
	"github.com/bureau-foundation/dedupvault/lib/cursor"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
)

// HeadSize is the encoded size of a Head.
const HeadSize = 16

// Head records the size of the file and the number of chunks in its
// recipe.
type Head struct {
	FileSize      uint64 `cbor:"file_size"`
	TotalChunkNum uint64 `cbor:"total_chunk_num"`
}

// Put appends the encoded head.
func (h Head) Put(writer *cursor.Writer) {
	writer.PutUint64(h.FileSize)
	writer.PutUint64(h.TotalChunkNum)
}

// ReadHead decodes a head.
func ReadHead(reader *cursor.Reader) (Head, error) {
	var head Head
	var err error
	if head.FileSize, err = reader.Uint64(); err != nil {
		return head, err
	}
	if head.TotalChunkNum, err = reader.Uint64(); err != nil {
		return head, err
	}
	return head, nil
}

// Location records which tier holds a file's containers.
type Location uint8

const (
	// LocationEdge means the containers are held by this server.
	LocationEdge Location = 0

	// LocationCloud means the containers were migrated upstream.
	LocationCloud Location = 1
)

func (l Location) String() string {
	switch l {
	case LocationEdge:
		return "edge"
	case LocationCloud:
		return "cloud"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}

// FileID names a recipe. It is the BLAKE3 hash of the client's file
// name followed by the decimal client ID, so two clients uploading the
// same path never share a recipe.
type FileID [32]byte

// NewFileID derives the FileID for a client's file name.
func NewFileID(fileName string, clientID uint32) FileID {
	hasher := blake3.New()
	hasher.Write([]byte(fileName))
	hasher.Write(strconv.AppendUint(nil, uint64(clientID), 10))
	var id FileID
	copy(id[:], hasher.Sum(nil))
	return id
}

// String returns the hex form.
func (id FileID) String() string { return hex.EncodeToString(id[:]) }

// FileName returns the recipe's file name on disk.
func (id FileID) FileName() string { return id.String() + ".recipe" }

// EntryKind distinguishes the two recipe entry forms.
type EntryKind uint8

const (
	// KindAddress entries carry the chunk's container address.
	KindAddress EntryKind = 1

	// KindFingerprint entries carry only the fingerprint and are
	// resolved through the index at restore time.
	KindFingerprint EntryKind = 2
)

// ParseEntryKind accepts "address" or "fingerprint".
func ParseEntryKind(name string) (EntryKind, error) {
	switch name {
	case "address", "":
		return KindAddress, nil
	case "fingerprint":
		return KindFingerprint, nil
	default:
		return 0, fmt.Errorf("unknown recipe form %q (want address or fingerprint)", name)
	}
}

// Entry is one recipe record.
type Entry struct {
	Kind        EntryKind
	Address     container.Address
	Fingerprint fingerprint.Fingerprint
}

// AddressEntry returns an address-form entry.
func AddressEntry(address container.Address) Entry {
	return Entry{Kind: KindAddress, Address: address}
}

// FingerprintEntry returns a fingerprint-form entry.
func FingerprintEntry(fp fingerprint.Fingerprint) Entry {
	return Entry{Kind: KindFingerprint, Fingerprint: fp}
}

// maxEntrySize bounds the encoded size of any entry.
const maxEntrySize = 1 + fingerprint.Size

func (e Entry) put(writer *cursor.Writer) error {
	switch e.Kind {
	case KindAddress:
		writer.PutByte(byte(KindAddress))
		e.Address.Put(writer)
	case KindFingerprint:
		writer.PutByte(byte(KindFingerprint))
		writer.PutFingerprint(e.Fingerprint)
	default:
		return fmt.Errorf("recipe entry has unknown kind %d", e.Kind)
	}
	return nil
}

func readEntry(reader *cursor.Reader) (Entry, error) {
	kind, err := reader.Byte()
	if err != nil {
		return Entry{}, err
	}
	switch EntryKind(kind) {
	case KindAddress:
		address, err := container.ReadAddress(reader)
		return AddressEntry(address), err
	case KindFingerprint:
		fp, err := reader.Fingerprint()
		return FingerprintEntry(fp), err
	default:
		return Entry{}, fmt.Errorf("recipe entry at offset %d has unknown kind %d", reader.Offset()-1, kind)
	}
}
