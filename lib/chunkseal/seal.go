// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunkseal compresses and encrypts individual chunks with a
// message-locked key: the chunk's own fingerprint.
//
// A sealed chunk is
//
//	[nonce: 12][ChaCha20-Poly1305( [tag: 1][plain_len: 4][payload] )]
//
// where payload is the plaintext compressed with tag. The nonce is a
// keyed BLAKE3 hash of the inner encoding under the fingerprint, so
// sealing is deterministic: the same plaintext under the same
// compression always yields the same bytes, and no key ever encrypts
// two different messages under one nonce.
//
// Open decrypts and, when the tag says the payload is compressed,
// tries to decompress it. A payload that fails to decompress is
// returned as stored. Containers may mix compressed and raw chunks.
package chunkseal

import (
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bureau-foundation/dedupvault/lib/cursor"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
)

// innerHeaderSize is the tag byte plus the plaintext length.
const innerHeaderSize = 1 + 4

// Overhead is the fixed size added to every chunk by sealing, not
// counting compression.
const Overhead = chacha20poly1305.NonceSize + chacha20poly1305.Overhead + innerHeaderSize

// ErrIntegrity is returned when an opened chunk does not hash to the
// fingerprint it was sealed under.
var ErrIntegrity = errors.New("chunkseal: opened chunk does not match its fingerprint")

var nonceDomain = []byte("dedupvault.chunk.nonce.v1")

// Sealed is the result of Seal.
type Sealed struct {
	// Data is the sealed chunk as stored in a container.
	Data []byte

	// Tag is the compression applied to the payload.
	Tag CompressionTag

	// PayloadSize is the size of the (possibly compressed) payload
	// before encryption.
	PayloadSize int
}

// Compressed reports whether compression succeeded for this chunk.
func (s Sealed) Compressed() bool { return s.Tag != CompressionNone }

// Seal compresses plaintext according to policy and encrypts it under
// fp. Incompressible data is stored with CompressionNone regardless
// of policy.
func Seal(fp fingerprint.Fingerprint, plaintext []byte, policy CompressionTag) (Sealed, error) {
	tag := policy
	if tag == CompressionAuto {
		tag = selectCompression(plaintext)
	}

	payload, err := compress(plaintext, tag)
	if errors.Is(err, errIncompressible) {
		tag, payload = CompressionNone, plaintext
	} else if err != nil {
		return Sealed{}, err
	}

	data, err := sealPayload(fp, tag, len(plaintext), payload)
	if err != nil {
		return Sealed{}, err
	}
	return Sealed{Data: data, Tag: tag, PayloadSize: len(payload)}, nil
}

func sealPayload(fp fingerprint.Fingerprint, tag CompressionTag, plainLength int, payload []byte) ([]byte, error) {
	inner := cursor.NewWriter(innerHeaderSize + len(payload))
	inner.PutByte(byte(tag))
	inner.PutUint32(uint32(plainLength))
	inner.PutBytes(payload)

	aead, err := chacha20poly1305.New(fp[:])
	if err != nil {
		return nil, fmt.Errorf("creating ChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := deriveNonce(fp, inner.Bytes())
	output := make([]byte, chacha20poly1305.NonceSize, chacha20poly1305.NonceSize+inner.Len()+aead.Overhead())
	copy(output, nonce[:])
	return aead.Seal(output, nonce[:], inner.Bytes(), nil), nil
}

func deriveNonce(fp fingerprint.Fingerprint, inner []byte) [chacha20poly1305.NonceSize]byte {
	hasher, err := blake3.NewKeyed(fp[:])
	if err != nil {
		panic("chunkseal: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(nonceDomain)
	hasher.Write(inner)
	var nonce [chacha20poly1305.NonceSize]byte
	copy(nonce[:], hasher.Sum(nil))
	return nonce
}

// Open decrypts a sealed chunk with fp and returns the plaintext.
func Open(fp fingerprint.Fingerprint, sealed []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSize+chacha20poly1305.Overhead+innerHeaderSize {
		return nil, fmt.Errorf("sealed chunk is %d bytes, minimum is %d", len(sealed), Overhead)
	}

	aead, err := chacha20poly1305.New(fp[:])
	if err != nil {
		return nil, fmt.Errorf("creating ChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := sealed[:chacha20poly1305.NonceSize]
	inner, err := aead.Open(nil, nonce, sealed[chacha20poly1305.NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting chunk %s: %w", fp.Short(), err)
	}

	reader := cursor.NewReader(inner)
	rawTag, _ := reader.Byte()
	plainLength, _ := reader.Uint32()
	payload, _ := reader.Bytes(reader.Remaining())

	plaintext := payload
	if tag := CompressionTag(rawTag); tag != CompressionNone {
		if decompressed, err := decompress(payload, tag, int(plainLength)); err == nil {
			plaintext = decompressed
		}
	}

	if fingerprint.Sum(plaintext) != fp {
		return nil, fmt.Errorf("%w: %s", ErrIntegrity, fp.Short())
	}
	return plaintext, nil
}
