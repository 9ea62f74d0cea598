// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package coldindex is the persistent fingerprint index behind the
// in-memory top-K.
//
// The index is an opaque key-value store. Keys are index tokens (a keyed
// hash of the fingerprint) and values are sealed chunk addresses, so a
// backend never sees a fingerprint or an address in the clear. The
// engine issues at most one [Store.Query] and one [Store.Insert] per
// upload batch, which is why both operations are batched.
//
// Four backends implement [Store]:
//
//   - sqlite: a WITHOUT ROWID table in a zombiezen pool (lib/sqlitepool).
//   - bbolt: one bucket in a bbolt file.
//   - badger: a badger/v4 LSM directory.
//   - memory: a mutex-guarded map, for tests and scratch servers.
//
// Entries are write-once. Inserting a key that already exists keeps
// the original value: a fingerprint's first address stays its address.
//
// Backend failures are always returned as errors. A failed lookup is
// never reported as an absent key, because the engine would then store
// a second copy of a chunk it already holds.
package coldindex
