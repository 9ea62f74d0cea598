// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"context"
	"errors"
	"io"

	"github.com/bureau-foundation/dedupvault/lib/container"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
	"github.com/bureau-foundation/dedupvault/lib/recipe"
)

// ErrNotFound is returned by a StorageBackend for a missing recipe or
// container.
var ErrNotFound = errors.New("dedup: not found")

// StorageBackend performs the engine's I/O. Implementations must be
// safe for concurrent use by multiple uploads and restores.
type StorageBackend interface {
	// QueryIndex looks up index tokens. The result holds one value per
	// token, nil when absent.
	QueryIndex(ctx context.Context, query IndexQuery) (IndexQueryResult, error)

	// UpdateIndex inserts entries. Existing tokens keep their values.
	UpdateIndex(ctx context.Context, update IndexUpdate) error

	// WriteContainer durably stores a sealed container. On success the
	// container is immutable and readable by ID; on failure it must
	// not be readable at all.
	WriteContainer(ctx context.Context, write ContainerWrite) error

	// ReadContainers returns the requested containers in order.
	ReadContainers(ctx context.Context, read ContainerRead) (ContainerReadResult, error)

	// CreateRecipe opens a new recipe for writing. The recipe becomes
	// visible under its file ID only on Commit, replacing any earlier
	// recipe with the same ID.
	CreateRecipe(ctx context.Context, ref RecipeRef) (RecipeFile, error)

	// OpenRecipe opens a committed recipe. Returns ErrNotFound when no
	// recipe exists.
	OpenRecipe(ctx context.Context, ref RecipeRef) (io.ReadCloser, error)
}

// RecipeFile is a recipe being written.
type RecipeFile interface {
	io.WriteSeeker

	// Commit syncs and publishes the recipe.
	Commit() error

	// Discard removes the partial recipe. Safe to call after Commit,
	// where it does nothing.
	Discard() error
}

// IndexQuery asks for the values stored under Tokens.
type IndexQuery struct {
	Tokens []fingerprint.Token `cbor:"tokens"`
}

// IndexQueryResult answers an IndexQuery. Values[i] answers
// Tokens[i]; nil means absent.
type IndexQueryResult struct {
	Values [][]byte `cbor:"values"`
}

// IndexEntry maps a token to a sealed address.
type IndexEntry struct {
	Token fingerprint.Token `cbor:"token"`
	Value []byte            `cbor:"value"`
}

// IndexUpdate inserts Entries into the cold index.
type IndexUpdate struct {
	Entries []IndexEntry `cbor:"entries"`
}

// ContainerWrite stores one sealed container.
type ContainerWrite struct {
	ID   container.ID `cbor:"id"`
	Data []byte       `cbor:"data"`
}

// ContainerRead asks for containers by ID.
type ContainerRead struct {
	IDs []container.ID `cbor:"ids"`
}

// ContainerReadResult answers a ContainerRead in request order.
type ContainerReadResult struct {
	Containers [][]byte `cbor:"containers"`
}

// RecipeRef names a recipe.
type RecipeRef struct {
	FileID recipe.FileID `cbor:"file_id"`
}
