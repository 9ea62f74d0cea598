// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package recipe reads and writes file recipes: the ordered list of
// chunk references needed to rebuild one file.
//
// On disk a recipe is
//
//	[file_size: 8][total_chunk_num: 8]   head, written as a placeholder
//	[location: 1]
//	[entry_count: 4][sealed_len: 4][sealed batch]   repeated
//
// The head is zero when the file is created and overwritten in place
// (seek to 0) once the upload finishes and the true values are known.
// Each batch holds up to the configured number of entries, encoded as
// [kind: 1][payload] where the payload is a chunk address or a bare
// fingerprint. Batches are sealed with XChaCha20-Poly1305 under a key
// derived from the deployment secret, bound to the file and the
// batch's position so batches cannot be swapped or reordered.
//
// Entry order is the reconstruction order and always equals the
// original chunk order.
package recipe
