// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package restore reconstructs files from their recipes.
//
// A [Resolver] reads recipe entries in batches, resolves fingerprint
// entries to addresses, and groups the containers it needs into
// windows of at most C distinct containers. Each window is fetched in
// one bulk read (cache first, then the [ContainerSource]), after which
// every chunk in the window is located, opened, and appended to the
// output in recipe order. At most C containers are resident at once
// regardless of recipe length.
//
// Output batches are runs of [len:4][chunk] records handed to an
// [Emitter]. A restore that completes calls EmitEnd exactly once; a
// restore that fails never does.
//
// The [Cache] is shared across sessions and is never authoritative: a
// miss always falls through to durable storage.
package restore
