// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunker splits a byte stream into the chunks a client uploads.
//
// Two methods are supported. [MethodCDC] finds content-defined
// boundaries with a Rabin rolling hash (github.com/restic/chunker), so
// an insertion near the start of a file only disturbs the chunks around
// it and the rest of the file still deduplicates. [MethodFixed] cuts
// every Size bytes and exists mainly for benchmarks and tests that need
// predictable boundaries.
//
// Every chunk is non-empty and no larger than the configured maximum,
// which must not exceed the server's maximum chunk size. Chunkers reuse
// an internal buffer: the slice returned by Next is only valid until the
// following call.
package chunker
