// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the width of a fingerprint in bytes.
const Size = 32

// Fingerprint is the BLAKE3-256 digest of a chunk's plaintext.
type Fingerprint [Size]byte

// Sum computes the fingerprint of data.
func Sum(data []byte) Fingerprint {
	return Fingerprint(blake3.Sum256(data))
}

// FromBytes copies a fingerprint out of a byte slice. The slice must
// be exactly Size bytes.
func FromBytes(data []byte) (Fingerprint, error) {
	var fp Fingerprint
	if len(data) != Size {
		return fp, fmt.Errorf("fingerprint is %d bytes, want %d", len(data), Size)
	}
	copy(fp[:], data)
	return fp, nil
}

// Parse parses the hex form produced by String.
func Parse(hexString string) (Fingerprint, error) {
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("parsing fingerprint: %w", err)
	}
	return FromBytes(decoded)
}

// String returns the lowercase hex encoding, used in logs and file names.
func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}

// Short returns the first eight hex characters, for log lines.
func (fp Fingerprint) Short() string {
	return hex.EncodeToString(fp[:4])
}

// IsZero reports whether fp is the all-zero value.
func (fp Fingerprint) IsZero() bool {
	return fp == Fingerprint{}
}

// MarshalText implements encoding.TextMarshaler.
func (fp Fingerprint) MarshalText() ([]byte, error) {
	return []byte(fp.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (fp *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*fp = parsed
	return nil
}
