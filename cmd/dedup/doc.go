// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// dedup is the dedupvault client.
//
//	dedup upload [--name NAME] FILE     chunk FILE and store it on the server
//	dedup restore NAME [-o OUTPUT]      fetch a stored file
//	dedup probe FILE                    report how much of FILE the server already holds
//	dedup keygen                        create the server's master secret and state keypair
//
// Files are identified by NAME together with client.id, so two clients
// uploading the same name never collide.
package main
