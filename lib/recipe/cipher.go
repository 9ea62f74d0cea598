// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recipe

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size of a recipe batch key.
const KeySize = chacha20poly1305.KeySize

// Cipher seals recipe batches. A nil *Cipher stores batches in the
// clear.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a batch cipher from a 32-byte key. The key is not
// retained beyond the AEAD's own copy.
func NewCipher(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating recipe cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// batchAAD binds a batch to its file and position.
func batchAAD(fileID FileID, sequence uint64) []byte {
	aad := make([]byte, len(fileID)+8)
	copy(aad, fileID[:])
	binary.LittleEndian.PutUint64(aad[len(fileID):], sequence)
	return aad
}

func (c *Cipher) seal(fileID FileID, sequence uint64, plaintext []byte) ([]byte, error) {
	if c == nil {
		return plaintext, nil
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating recipe batch nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, batchAAD(fileID, sequence)), nil
}

func (c *Cipher) open(fileID FileID, sequence uint64, sealed []byte) ([]byte, error) {
	if c == nil {
		return sealed, nil
	}
	if len(sealed) < chacha20poly1305.NonceSizeX+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: sealed batch %d is %d bytes", ErrCorrupt, sequence, len(sealed))
	}
	nonce := sealed[:chacha20poly1305.NonceSizeX]
	plaintext, err := c.aead.Open(nil, nonce, sealed[chacha20poly1305.NonceSizeX:], batchAAD(fileID, sequence))
	if err != nil {
		return nil, fmt.Errorf("%w: batch %d failed authentication: %v", ErrCorrupt, sequence, err)
	}
	return plaintext, nil
}

// overhead returns the bytes sealing adds to a batch.
func (c *Cipher) overhead() int {
	if c == nil {
		return 0
	}
	return chacha20poly1305.NonceSizeX + c.aead.Overhead()
}
