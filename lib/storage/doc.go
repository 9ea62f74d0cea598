// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage is the local-disk implementation of
// dedup.StorageBackend, plus persistence of the engine's frequency
// state.
//
// A data directory holds:
//
//	containers/<uuid>          sealed containers, immutable
//	recipes/<hex file id>.recipe
//	index.db | index.bolt | index.badger   the cold index
//	state/                     sketch, top-K, and metadata snapshots
//
// Containers and recipes are written to a temporary file in the same
// directory and renamed into place, so a reader never observes a
// partial file under its final name. Containers are never overwritten.
package storage
