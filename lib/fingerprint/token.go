// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"fmt"

	"github.com/zeebo/blake3"
)

// TokenKeySize is the required length of a tokenizer key.
const TokenKeySize = 32

// tokenDomain separates index tokens from every other keyed BLAKE3
// use of the same key material.
var tokenDomain = []byte("dedupvault.index.token.v1")

// Token is the obscured form of a fingerprint used as the cold index
// key. Deterministic under a fixed key, opaque without it.
type Token [Size]byte

// String returns the hex encoding of the token.
func (t Token) String() string {
	return Fingerprint(t).String()
}

// Tokenizer maps fingerprints to index tokens under a secret key.
type Tokenizer struct {
	key [TokenKeySize]byte
}

// NewTokenizer creates a tokenizer. The key is copied.
func NewTokenizer(key []byte) (*Tokenizer, error) {
	if len(key) != TokenKeySize {
		return nil, fmt.Errorf("token key is %d bytes, want %d", len(key), TokenKeySize)
	}
	tokenizer := &Tokenizer{}
	copy(tokenizer.key[:], key)
	return tokenizer, nil
}

// Token computes BLAKE3-keyed(key, domain || fp).
func (tokenizer *Tokenizer) Token(fp Fingerprint) Token {
	hasher, err := blake3.NewKeyed(tokenizer.key[:])
	if err != nil {
		// Key length is validated in NewTokenizer.
		panic("fingerprint: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(tokenDomain)
	hasher.Write(fp[:])
	var token Token
	copy(token[:], hasher.Sum(nil))
	return token
}
