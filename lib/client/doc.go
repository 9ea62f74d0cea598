// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package client speaks the dedupvault wire protocol to an edge server.
//
// A [Client] opens one connection per operation:
//
//   - [Client.Upload] chunks a stream and sends it in batches. A
//     reader goroutine feeds chunks into a bounded queue of items,
//     each item either a chunk or the end-of-file marker carrying the
//     recipe head, and a sender goroutine packs the queue into frames.
//     Keeping the end marker in the same queue means the head can never
//     overtake chunks still waiting to be sent.
//   - [Client.Restore] streams a previously uploaded file back and
//     checks it against the head the server announced.
//   - [Client.Probe] asks which fingerprints the server already holds.
//
// Files are named by the client-visible name and the client ID; the
// server never learns the name, only [recipe.NewFileID] of it.
package client
