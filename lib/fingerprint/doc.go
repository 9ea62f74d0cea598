// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint defines the content identity of a chunk.
//
// A [Fingerprint] is the BLAKE3-256 digest of a chunk's plaintext. It
// is used in three roles:
//
//   - the deduplication key in the local batch index, the top-K index,
//     and (in obscured form) the cold index
//   - the message-locked encryption key for the chunk itself, so that
//     identical plaintext always produces identical ciphertext
//   - the lookup key in a container header during restore
//
// Fingerprints never leave the trusted side of the index boundary in
// the clear. The cold index is keyed by a [Token], a keyed BLAKE3 hash
// of the fingerprint under a deployment secret, which supports equality
// lookups and nothing else.
//
// This package has no dependencies on other dedupvault packages.
package fingerprint
