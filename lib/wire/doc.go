// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the framed client/server protocol.
//
// Every message is a 16-byte little-endian [Header] followed by
// DataSize payload bytes:
//
//	[type: i32][client id: u32][data size: u32][item count: u32][payload]
//
// Bulk payloads are packed binary: chunk runs are [len: u32][bytes]
// repeated ItemCount times, fingerprint runs are ItemCount × 32 bytes.
// Control payloads (logins, responses, errors) are CBOR via lib/codec.
//
// A session is one of:
//
//	upload:  ClientLoginUpload → ServerLoginResponse,
//	         ClientUploadChunks*, ClientUploadEnd → ServerUploadDone
//	restore: ClientLoginRestore → ServerLoginResponse | ServerFileNotExist,
//	         ServerRestoreChunks*, ServerRestoreFinal
//	probe:   ClientQueryFingerprints → ServerFingerprintStatus (repeatable)
//
// ServerError may replace any server message; the server closes the
// connection after sending it.
package wire
