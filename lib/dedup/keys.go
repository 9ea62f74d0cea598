// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/dedupvault/lib/container"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
	"github.com/bureau-foundation/dedupvault/lib/recipe"
	"github.com/bureau-foundation/dedupvault/lib/secret"
)

// MinMasterSecretSize is the shortest accepted master secret.
const MinMasterSecretSize = 32

// HKDF info strings. Each derived key has exactly one use.
const (
	tokenKeyInfo  = "dedupvault index token v1"
	valueKeyInfo  = "dedupvault index value v1"
	recipeKeyInfo = "dedupvault recipe batch v1"
)

// Keys holds the engine's derived keys.
type Keys struct {
	tokenizer *fingerprint.Tokenizer
	values    cipher.AEAD
	recipes   *recipe.Cipher
}

// DeriveKeys derives the index and recipe keys from the master secret.
// The master secret is not retained.
func DeriveKeys(master *secret.Buffer) (*Keys, error) {
	if master == nil || master.Len() < MinMasterSecretSize {
		return nil, fmt.Errorf("master secret must be at least %d bytes", MinMasterSecretSize)
	}

	tokenKey, err := deriveKey(master, tokenKeyInfo)
	if err != nil {
		return nil, err
	}
	defer tokenKey.Close()
	tokenizer, err := fingerprint.NewTokenizer(tokenKey.Bytes())
	if err != nil {
		return nil, err
	}

	valueKey, err := deriveKey(master, valueKeyInfo)
	if err != nil {
		return nil, err
	}
	defer valueKey.Close()
	values, err := chacha20poly1305.NewX(valueKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating index value cipher: %w", err)
	}

	recipeKey, err := deriveKey(master, recipeKeyInfo)
	if err != nil {
		return nil, err
	}
	defer recipeKey.Close()
	recipes, err := recipe.NewCipher(recipeKey.Bytes())
	if err != nil {
		return nil, err
	}

	return &Keys{tokenizer: tokenizer, values: values, recipes: recipes}, nil
}

func deriveKey(master *secret.Buffer, info string) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, master.Bytes(), nil, []byte(info))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("deriving %q key: %w", info, err)
	}
	buffer, err := secret.NewFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("protecting %q key: %w", info, err)
	}
	return buffer, nil
}

// Token returns the cold index key for fp.
func (k *Keys) Token(fp fingerprint.Fingerprint) fingerprint.Token {
	return k.tokenizer.Token(fp)
}

// RecipeCipher returns the recipe batch cipher.
func (k *Keys) RecipeCipher() *recipe.Cipher { return k.recipes }

// sealAddress encrypts an address for storage under token. The token
// is bound as associated data so a value cannot be moved to another
// key.
func (k *Keys) sealAddress(token fingerprint.Token, address container.Address) ([]byte, error) {
	plaintext, err := address.MarshalBinary()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+k.values.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating index value nonce: %w", err)
	}
	return k.values.Seal(nonce, nonce, plaintext, token[:]), nil
}

// openAddress reverses sealAddress.
func (k *Keys) openAddress(token fingerprint.Token, value []byte) (container.Address, error) {
	if len(value) < chacha20poly1305.NonceSizeX+k.values.Overhead() {
		return container.Address{}, fmt.Errorf("%w: index value for %s is %d bytes", ErrIndexCorrupt, token, len(value))
	}
	plaintext, err := k.values.Open(nil, value[:chacha20poly1305.NonceSizeX], value[chacha20poly1305.NonceSizeX:], token[:])
	if err != nil {
		return container.Address{}, fmt.Errorf("%w: index value for %s failed authentication", ErrIndexCorrupt, token)
	}
	var address container.Address
	if err := address.UnmarshalBinary(plaintext); err != nil {
		return container.Address{}, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	return address, nil
}
