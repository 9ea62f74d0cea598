// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session serves the wire protocol on a stream listener and
// drives the dedup engine for each connection.
//
// Each connection carries one session: an upload, a restore, or a run
// of fingerprint probes. Upload and restore sessions hold the
// client's identity lock for their whole lifetime, so a second session
// from the same client ID waits until the first ends. Any protocol
// violation or engine error is answered with ServerError; the upload
// is aborted and the connection closed. Other sessions are unaffected.
package session
