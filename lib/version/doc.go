// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the dedupvault
// binaries. Release builds inject [Version], [GitCommit] and
// [BuildTime] with -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/dedupvault/lib/version.Version=0.2.0"
//
// Development builds fall back to the VCS stamp in the binary's build
// info.
package version
