// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR configuration for dedupvault's
// structured messages.
//
// The data path (chunk frames, containers, recipes) uses fixed binary
// layouts. Everything else that crosses a process or disk boundary is
// CBOR encoded through this package: login and probe messages on the
// wire, storage backend requests, and the metadata envelope around
// persisted sketch and top-K state. Every caller shares one
// deterministic encoder so that equal values produce equal bytes.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Struct fields carry `cbor` tags. Types that also appear in CLI JSON
// output carry `json` tags instead, which fxamacker/cbor reads as a
// fallback. A field never carries both.
package codec
