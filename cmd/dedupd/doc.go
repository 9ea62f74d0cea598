// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// dedupd is the dedupvault edge server. It accepts upload, restore and
// probe sessions on a unix or TCP socket, deduplicates uploaded chunks
// against its frequency-aware index, and stores sealed chunks in
// containers under the storage root.
//
// The master secret is read from keys.master_secret_file (create one
// with "dedup keygen"). With index.persist_state enabled the sketch and
// top-K index are reloaded on start and saved on shutdown, optionally
// encrypted to keys.state_recipients.
package main
