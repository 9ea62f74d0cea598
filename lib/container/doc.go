// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package container packs sealed chunks into fixed-capacity,
// append-only containers and defines their persisted layout.
//
// A persisted container is:
//
//	[chunk_count: 4]
//	[fingerprint: 32][offset: 4][length: 4]  × chunk_count
//	[chunk bytes, concatenated]
//
// Offsets are relative to the first byte after the header. The header
// lets restore find a chunk by fingerprint (or by offset) with a
// linear scan, without consulting the recipe for anything but the
// container ID.
//
// A [Store] owns one open container at a time. When a chunk does not
// fit, the open container is sealed (handed to a [Sink], which makes
// it durable and immutable under its [ID]) and a fresh container with
// a new ID receives the chunk at offset 0. A chunk is never split or
// truncated. A Store belongs to a single upload session and is not
// safe for concurrent use.
package container
