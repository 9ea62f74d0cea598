// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material outside the Go heap: the vault
// master secret, the keys derived from it, and age private keys.
//
// [Buffer] allocates memory with mmap(MAP_ANONYMOUS), locks it into
// RAM with mlock, and excludes it from core dumps with
// madvise(MADV_DONTDUMP). Close zeroes, unlocks, and unmaps it; any
// later access panics. Close is idempotent.
//
// Constructors:
//
//   - [New] -- zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeroes the source
//   - [Random] -- filled from crypto/rand, used by keygen
//   - [ReadFromPath] / [ReadHexFromPath] -- secrets stored in files
//
// [WriteHexFile] stores a buffer in the form [ReadHexFromPath] reads.
//
// Depends on golang.org/x/sys/unix.
package secret
