// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/dedupvault/lib/recipe"
	"github.com/bureau-foundation/dedupvault/lib/restore"
)

// Restore is one file restore. It is owned by a single session.
type Restore struct {
	engine   *Engine
	fileID   recipe.FileID
	file     io.ReadCloser
	reader   *recipe.Reader
	resolver *restore.Resolver
	logger   *slog.Logger
}

// StartRestore opens the recipe for fileID. A recipe whose containers
// live in the cloud tier returns ErrRemoteRecipe; a missing recipe
// returns an error wrapping ErrNotFound.
func (e *Engine) StartRestore(ctx context.Context, fileID recipe.FileID) (*Restore, error) {
	file, err := e.backend.OpenRecipe(ctx, RecipeRef{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("opening recipe %s: %w", fileID, err)
	}
	reader, err := recipe.NewReader(file, recipe.ReaderConfig{
		FileID: fileID,
		Cipher: e.keys.RecipeCipher(),
	})
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("reading recipe %s: %w", fileID, err)
	}
	if reader.Location() != recipe.LocationEdge {
		file.Close()
		return nil, fmt.Errorf("%w: %s is held by the %s tier", ErrRemoteRecipe, fileID, reader.Location())
	}

	logger := e.logger.With("file", fileID.String())
	resolver, err := restore.NewResolver(restore.Config{
		Recipe:          reader,
		Addresses:       e,
		Containers:      backendContainers{backend: e.backend},
		Cache:           e.cache,
		Capping:         e.config.Capping,
		RecipeBatchSize: e.config.RecipeBatchSize,
		ChunkBatchSize:  e.config.ChunkBatchSize,
		MaxPayload:      e.config.MaxPayload,
		Logger:          logger,
	})
	if err != nil {
		file.Close()
		return nil, err
	}
	return &Restore{
		engine:   e,
		fileID:   fileID,
		file:     file,
		reader:   reader,
		resolver: resolver,
		logger:   logger,
	}, nil
}

// Head returns the recipe head.
func (r *Restore) Head() recipe.Head { return r.reader.Head() }

// Run streams the file into emitter and ends with EmitEnd on success.
func (r *Restore) Run(ctx context.Context, emitter restore.Emitter) error {
	err := r.resolver.Run(ctx, emitter)
	chunks, bytes := r.resolver.Restored()
	r.engine.stats.restoredChunks.Add(chunks)
	r.engine.stats.restoredBytes.Add(bytes)
	if err != nil {
		r.logger.Warn("restore failed", "state", r.resolver.State().String(), "chunks", chunks, "error", err)
		return err
	}
	r.engine.stats.restoresCompleted.Add(1)
	r.logger.Info("restore complete", "chunks", chunks, "bytes", bytes)
	return nil
}

// Close releases the recipe file.
func (r *Restore) Close() error { return r.file.Close() }
