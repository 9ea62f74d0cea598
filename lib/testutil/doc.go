// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds test helpers shared across dedupvault
// packages.
//
// [SocketDir] returns a short directory under /tmp for unix sockets,
// whose paths are limited to 108 bytes and so often cannot live under
// t.TempDir().
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern for channel handoffs in concurrency tests. They fail the test
// instead of hanging it.
package testutil
