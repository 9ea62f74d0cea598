// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/bureau-foundation/dedupvault/lib/cursor"
)

// IDSize is the width of a container ID in bytes.
const IDSize = 16

// ID names a container. IDs are random (UUIDv4) and never reused.
type ID [IDSize]byte

// NewID returns a fresh random container ID.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID parses the canonical UUID text form.
func ParseID(text string) (ID, error) {
	parsed, err := uuid.Parse(text)
	if err != nil {
		return ID{}, fmt.Errorf("parsing container ID %q: %w", text, err)
	}
	return ID(parsed), nil
}

// String returns the canonical UUID text form, which is also the
// container's file name.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is unset.
func (id ID) IsZero() bool {
	return id == ID{}
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// AddressSize is the encoded size of an Address.
const AddressSize = IDSize + 8

// Address locates a stored chunk. Length is the stored (sealed) size.
type Address struct {
	Container ID
	Offset    uint32
	Length    uint32
}

// String formats the address for logs.
func (a Address) String() string {
	return fmt.Sprintf("%s+%d:%d", a.Container, a.Offset, a.Length)
}

// Put appends the fixed-width encoding of a to writer.
func (a Address) Put(writer *cursor.Writer) {
	writer.PutBytes(a.Container[:])
	writer.PutUint32(a.Offset)
	writer.PutUint32(a.Length)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (a Address) MarshalBinary() ([]byte, error) {
	writer := cursor.NewWriter(AddressSize)
	a.Put(writer)
	return writer.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (a *Address) UnmarshalBinary(data []byte) error {
	if len(data) != AddressSize {
		return fmt.Errorf("address is %d bytes, want %d", len(data), AddressSize)
	}
	decoded, err := ReadAddress(cursor.NewReader(data))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// ReadAddress reads one encoded Address from reader.
func ReadAddress(reader *cursor.Reader) (Address, error) {
	var address Address
	raw, err := reader.Bytes(IDSize)
	if err != nil {
		return address, err
	}
	copy(address.Container[:], raw)
	if address.Offset, err = reader.Uint32(); err != nil {
		return address, err
	}
	if address.Length, err = reader.Uint32(); err != nil {
		return address, err
	}
	return address, nil
}
