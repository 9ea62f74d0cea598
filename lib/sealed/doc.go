// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed wraps filippo.io/age for the vault's persisted index
// state. The sketch and top-K snapshots reveal which chunks are hot, so
// dedupd can seal them to an x25519 recipient when it writes them at
// shutdown and open them at startup.
//
// Key exports:
//
//   - [GenerateKeypair] -- new age keypair, private key in a secret.Buffer
//   - [NewWriter] / [NewReader] -- streaming encryption and decryption
//   - [Recipient] -- the public key of a private key
//   - [ParsePublicKey] -- recipient validation for configuration
//
// Depends on lib/secret for key memory.
package sealed
