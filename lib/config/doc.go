// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads dedupvault configuration.
//
// Configuration comes from a single file given by --config or the
// DEDUPVAULT_CONFIG environment variable. YAML is the native format;
// files ending in .json or .jsonc are accepted too, with comments and
// trailing commas stripped before decoding. Sizes may be written with
// units ("4MiB") and durations as Go duration strings ("30s").
//
// Values are layered in a fixed order: [Default], then the file, then
// the section matching [Config].Environment (production defaults to
// synchronous writes), then DEDUPVAULT_* environment variables. Path
// fields finally have ${VAR} and ${VAR:-default} expanded, with
// ${DEDUPVAULT_ROOT} bound to the storage root.
//
// [Config.Validate] reports every problem at once rather than stopping
// at the first.
package config
