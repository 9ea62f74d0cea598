// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens zombiezen.com/go/sqlite connection pools
// with dedupvault's standard pragmas.
//
// The sqlite cold index backend is the only user today. Connections
// come from sqlitex.Pool: callers [Pool.Take] one, use it from a single
// goroutine, and [Pool.Put] it back.
//
// Every connection runs with journal_mode=WAL, a busy timeout, an 8 MB
// page cache, and memory-mapped reads. The synchronous level is
// configurable: the index is the only record of which fingerprints
// already have an address, so servers default to FULL, while tests and
// scratch servers can choose NORMAL.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:      filepath.Join(dir, "index.db"),
//	    OnConnect: createSchema,
//	})
//	conn, err := pool.Take(ctx)
//	defer pool.Put(conn)
package sqlitepool
