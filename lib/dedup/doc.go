// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dedup is the deduplication core.
//
// An [Engine] owns the process-wide frequency state (a count-min
// sketch and the top-K hot index, each behind its own mutex) and makes
// every placement decision. All raw I/O goes through a
// [StorageBackend], called with small serializable request structs.
// Only index tokens, sealed addresses, sealed containers, and sealed
// recipe batches cross that boundary; fingerprints and plaintext
// addresses stay inside the engine.
//
// # Upload
//
// [Upload.ProcessBatch] handles one batch of chunks:
//
//  1. Fingerprint each chunk with BLAKE3.
//  2. Update the sketch and record each chunk's estimated frequency.
//  3. Classify each chunk: a repeat of an earlier chunk in the same
//     batch, a repeat of a chunk this upload stored in a container that
//     is still open, a hit in the top-K index (only checked when the
//     estimate reaches the top-K minimum), or a candidate for the cold
//     index.
//  4. Query the cold index once for all candidates.
//  5. Walk the batch in order: seal and store unique chunks, resolve
//     every other chunk to its address, append one recipe entry per
//     chunk.
//  6. Publish index entries for chunks whose containers are sealed, in
//     one cold index update, and admit qualifying chunks to the top-K.
//
// Index entries for a chunk are published only after its container is
// durable, so no session can ever resolve an address that does not
// exist yet. Chunks waiting in an open container are still found by
// later batches of the same upload.
//
// A cold index failure fails the batch before any chunk is stored: a
// failed lookup is never treated as "unique".
//
// # Baseline mode
//
// With [ModeBaseline] the engine keeps no sketch and no top-K index;
// every chunk that is not a repeat within its upload goes to the cold
// index.
package dedup
