// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/bureau-foundation/dedupvault/lib/secret"
)

// Keypair holds an age x25519 keypair. The caller must Close it.
type Keypair struct {
	// PrivateKey is the AGE-SECRET-KEY-1... text in protected memory.
	// Never log it or pass it on a command line.
	PrivateKey *secret.Buffer

	// PublicKey is the age1... recipient string.
	PublicKey string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}
	// The identity's own string copy stays on the heap until collected;
	// age exposes keys only as strings.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

func parseIdentity(privateKey *secret.Buffer) (*age.X25519Identity, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("invalid age private key: %w", err)
	}
	return identity, nil
}

// Recipient returns the public key belonging to privateKey. The
// server seals its own state to this recipient.
func Recipient(privateKey *secret.Buffer) (string, error) {
	identity, err := parseIdentity(privateKey)
	if err != nil {
		return "", err
	}
	return identity.Recipient().String(), nil
}

// ParsePublicKey validates an age public key.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}

// NewWriter returns a writer that encrypts everything written to it to
// the given recipients and writes the ciphertext to destination. The
// ciphertext is complete only after Close.
func NewWriter(destination io.Writer, recipientKeys []string) (io.WriteCloser, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	writer, err := age.Encrypt(destination, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	return writer, nil
}

// NewReader returns a reader over the plaintext of source, decrypted
// with privateKey. The key is borrowed, not closed. Tampering surfaces
// as a read error.
func NewReader(source io.Reader, privateKey *secret.Buffer) (io.Reader, error) {
	identity, err := parseIdentity(privateKey)
	if err != nil {
		return nil, err
	}
	reader, err := age.Decrypt(source, identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return reader, nil
}
