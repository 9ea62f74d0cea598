// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/dedupvault/lib/chunkseal"
	"github.com/bureau-foundation/dedupvault/lib/container"
	"github.com/bureau-foundation/dedupvault/lib/cursor"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
	"github.com/bureau-foundation/dedupvault/lib/recipe"
)

// ErrCorrupt is returned when stored data cannot reproduce the file
// its recipe describes.
var ErrCorrupt = errors.New("restore: stored data does not match recipe")

// Defaults used when the corresponding Config field is zero.
const (
	DefaultCapping         = 16
	DefaultRecipeBatchSize = 1024
	DefaultChunkBatchSize  = 128
	DefaultMaxPayload      = 8 << 20
)

// RecipeSource yields recipe entries in order. *recipe.Reader
// implements it.
type RecipeSource interface {
	Head() recipe.Head
	Next(max int) ([]recipe.Entry, error)
}

// AddressResolver maps fingerprints to chunk addresses. Every
// fingerprint must resolve; an unknown fingerprint is an error.
type AddressResolver interface {
	ResolveAddresses(ctx context.Context, fps []fingerprint.Fingerprint) ([]container.Address, error)
}

// ContainerSource reads sealed containers from durable storage, one
// result per requested ID, in order.
type ContainerSource interface {
	ReadContainers(ctx context.Context, ids []container.ID) ([][]byte, error)
}

// Emitter receives restored output.
type Emitter interface {
	// EmitBatch delivers count chunks encoded as [len:4][bytes]
	// records. The payload is only valid for the duration of the
	// call.
	EmitBatch(ctx context.Context, payload []byte, count int) error

	// EmitEnd marks a complete restore.
	EmitEnd(ctx context.Context) error
}

// State is the resolver's position in its per-batch cycle.
type State int

const (
	StateReadingRecipe State = iota
	StateResolvingAddresses
	StateFetchingContainers
	StateExtractingChunks
	StateStreaming
	StateDone
)

func (s State) String() string {
	switch s {
	case StateReadingRecipe:
		return "reading-recipe"
	case StateResolvingAddresses:
		return "resolving-addresses"
	case StateFetchingContainers:
		return "fetching-containers"
	case StateExtractingChunks:
		return "extracting-chunks"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config wires a Resolver to its collaborators. Recipe, Containers,
// and Cache are required. Addresses is required only for recipes with
// fingerprint entries.
type Config struct {
	Recipe     RecipeSource
	Addresses  AddressResolver
	Containers ContainerSource
	Cache      *Cache

	// Capping bounds the distinct containers resident at once.
	Capping int

	// RecipeBatchSize is the number of entries read per recipe batch.
	RecipeBatchSize int

	// ChunkBatchSize is the number of chunks per emitted batch.
	ChunkBatchSize int

	// MaxPayload bounds the encoded size of one emitted batch. A
	// batch is cut early when the next record would exceed it.
	MaxPayload int

	Logger *slog.Logger
}

// Resolver runs one restore. It is not safe for concurrent use.
type Resolver struct {
	config Config
	head   recipe.Head
	state  State

	output      *cursor.Writer
	outputCount int

	restoredChunks uint64
	restoredBytes  uint64
}

// NewResolver validates config and returns a resolver positioned at
// the start of the recipe.
func NewResolver(config Config) (*Resolver, error) {
	if config.Recipe == nil || config.Containers == nil || config.Cache == nil {
		return nil, fmt.Errorf("restore: resolver requires a recipe, a container source, and a cache")
	}
	if config.Capping <= 0 {
		config.Capping = DefaultCapping
	}
	if config.RecipeBatchSize <= 0 {
		config.RecipeBatchSize = DefaultRecipeBatchSize
	}
	if config.ChunkBatchSize <= 0 {
		config.ChunkBatchSize = DefaultChunkBatchSize
	}
	if config.MaxPayload <= 0 {
		config.MaxPayload = DefaultMaxPayload
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Resolver{
		config: config,
		head:   config.Recipe.Head(),
		state:  StateReadingRecipe,
		output: cursor.NewWriter(64 << 10),
	}, nil
}

// State returns the current state.
func (r *Resolver) State() State { return r.state }

// Restored returns the chunks and plaintext bytes emitted so far.
func (r *Resolver) Restored() (chunks, bytes uint64) {
	return r.restoredChunks, r.restoredBytes
}

// Run restores the whole recipe into emitter. On success the last call
// on emitter is EmitEnd.
func (r *Resolver) Run(ctx context.Context, emitter Emitter) error {
	if r.state == StateDone {
		return fmt.Errorf("restore: resolver already finished")
	}
	for {
		r.state = StateReadingRecipe
		entries, err := r.config.Recipe.Next(r.config.RecipeBatchSize)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading recipe: %w", err)
		}
		if err := r.processBatch(ctx, entries, emitter); err != nil {
			return err
		}
	}

	if r.outputCount > 0 {
		if err := r.flush(ctx, emitter); err != nil {
			return err
		}
	}
	if r.restoredChunks != r.head.TotalChunkNum || r.restoredBytes != r.head.FileSize {
		return fmt.Errorf("%w: restored %d chunks (%d bytes), head declares %d chunks (%d bytes)",
			ErrCorrupt, r.restoredChunks, r.restoredBytes, r.head.TotalChunkNum, r.head.FileSize)
	}
	if err := emitter.EmitEnd(ctx); err != nil {
		return fmt.Errorf("emitting restore end: %w", err)
	}
	r.state = StateDone
	r.config.Logger.Debug("restore complete",
		"chunks", r.restoredChunks,
		"bytes", r.restoredBytes,
	)
	return nil
}

func (r *Resolver) processBatch(ctx context.Context, entries []recipe.Entry, emitter Emitter) error {
	r.state = StateResolvingAddresses
	addresses, err := r.resolve(ctx, entries)
	if err != nil {
		return err
	}

	// Window of distinct containers, name to slot.
	slots := make(map[container.ID]int, r.config.Capping)
	ids := make([]container.ID, 0, r.config.Capping)
	start := 0
	for index := range entries {
		id := addresses[index].Container
		if _, ok := slots[id]; !ok {
			slots[id] = len(ids)
			ids = append(ids, id)
		}
		if len(ids) == r.config.Capping || index == len(entries)-1 {
			if err := r.drainWindow(ctx, entries[start:index+1], addresses[start:index+1], slots, ids, emitter); err != nil {
				return err
			}
			clear(slots)
			ids = ids[:0]
			start = index + 1
		}
	}
	return nil
}

// resolve returns the address of every entry, looking up fingerprint
// entries in one batched call.
func (r *Resolver) resolve(ctx context.Context, entries []recipe.Entry) ([]container.Address, error) {
	addresses := make([]container.Address, len(entries))
	var lookups []fingerprint.Fingerprint
	var positions []int
	for index, entry := range entries {
		switch entry.Kind {
		case recipe.KindAddress:
			addresses[index] = entry.Address
		case recipe.KindFingerprint:
			lookups = append(lookups, entry.Fingerprint)
			positions = append(positions, index)
		default:
			return nil, fmt.Errorf("%w: recipe entry %d has kind %d", ErrCorrupt, r.restoredChunks+uint64(index), entry.Kind)
		}
	}
	if len(lookups) == 0 {
		return addresses, nil
	}
	if r.config.Addresses == nil {
		return nil, fmt.Errorf("restore: recipe holds fingerprint entries but no address resolver is configured")
	}
	resolved, err := r.config.Addresses.ResolveAddresses(ctx, lookups)
	if err != nil {
		return nil, fmt.Errorf("resolving %d fingerprints: %w", len(lookups), err)
	}
	if len(resolved) != len(lookups) {
		return nil, fmt.Errorf("restore: resolver returned %d addresses for %d fingerprints", len(resolved), len(lookups))
	}
	for index, position := range positions {
		addresses[position] = resolved[index]
	}
	return addresses, nil
}

// drainWindow makes every container in ids resident, then emits the
// window's chunks in recipe order.
func (r *Resolver) drainWindow(ctx context.Context, entries []recipe.Entry, addresses []container.Address,
	slots map[container.ID]int, ids []container.ID, emitter Emitter) error {

	r.state = StateFetchingContainers
	views, err := r.fetch(ctx, ids)
	if err != nil {
		return err
	}

	for index, entry := range entries {
		r.state = StateExtractingChunks
		address := addresses[index]
		view := views[slots[address.Container]]

		var located container.Entry
		var found bool
		if entry.Kind == recipe.KindAddress {
			located, found = view.LocateAt(address.Offset, address.Length)
		} else {
			located, found = view.Locate(entry.Fingerprint)
		}
		if !found {
			return fmt.Errorf("%w: chunk %d (%s) not found in container %s",
				ErrCorrupt, r.restoredChunks, address, address.Container)
		}
		if entry.Kind == recipe.KindFingerprint && located.Fingerprint != entry.Fingerprint {
			return fmt.Errorf("%w: chunk %d fingerprint mismatch", ErrCorrupt, r.restoredChunks)
		}

		plaintext, err := chunkseal.Open(located.Fingerprint, view.Chunk(located))
		if err != nil {
			return fmt.Errorf("opening chunk %d from container %s: %w", r.restoredChunks, address.Container, err)
		}

		r.state = StateStreaming
		if len(plaintext)+4 > r.config.MaxPayload {
			return fmt.Errorf("restore: chunk %d is %d bytes, larger than the %d byte payload limit",
				r.restoredChunks, len(plaintext), r.config.MaxPayload)
		}
		if r.outputCount > 0 && r.output.Len()+4+len(plaintext) > r.config.MaxPayload {
			if err := r.flush(ctx, emitter); err != nil {
				return err
			}
		}
		r.output.PutUint32(uint32(len(plaintext)))
		r.output.PutBytes(plaintext)
		r.outputCount++
		r.restoredChunks++
		r.restoredBytes += uint64(len(plaintext))
		if r.outputCount == r.config.ChunkBatchSize || r.restoredChunks == r.head.TotalChunkNum {
			if err := r.flush(ctx, emitter); err != nil {
				return err
			}
		}
	}
	return nil
}

// fetch returns parsed views for ids, reading cache misses in one bulk
// call and inserting them into the cache.
func (r *Resolver) fetch(ctx context.Context, ids []container.ID) ([]*container.View, error) {
	raws := make([][]byte, len(ids))
	var missing []container.ID
	var missingSlots []int
	for slot, id := range ids {
		if raw, ok := r.config.Cache.Read(id); ok {
			raws[slot] = raw
			continue
		}
		missing = append(missing, id)
		missingSlots = append(missingSlots, slot)
	}

	if len(missing) > 0 {
		fetched, err := r.config.Containers.ReadContainers(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("reading %d containers: %w", len(missing), err)
		}
		if len(fetched) != len(missing) {
			return nil, fmt.Errorf("restore: container source returned %d containers for %d IDs", len(fetched), len(missing))
		}
		for index, raw := range fetched {
			raws[missingSlots[index]] = raw
		}
	}

	views := make([]*container.View, len(ids))
	for slot, raw := range raws {
		view, err := container.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: container %s: %v", ErrCorrupt, ids[slot], err)
		}
		views[slot] = view
	}
	// Only containers that parsed are cached.
	for index, id := range missing {
		r.config.Cache.Insert(id, raws[missingSlots[index]])
	}
	r.config.Logger.Debug("restore window resident",
		"containers", len(ids),
		"fetched", len(missing),
	)
	return views, nil
}

func (r *Resolver) flush(ctx context.Context, emitter Emitter) error {
	if err := emitter.EmitBatch(ctx, r.output.Bytes(), r.outputCount); err != nil {
		return fmt.Errorf("emitting restore batch: %w", err)
	}
	r.output.Reset()
	r.outputCount = 0
	return nil
}
