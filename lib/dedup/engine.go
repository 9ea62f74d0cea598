// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/dedupvault/lib/chunkseal"
	"github.com/bureau-foundation/dedupvault/lib/container"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
	"github.com/bureau-foundation/dedupvault/lib/recipe"
	"github.com/bureau-foundation/dedupvault/lib/restore"
	"github.com/bureau-foundation/dedupvault/lib/sketch"
	"github.com/bureau-foundation/dedupvault/lib/topk"
)

var (
	// ErrIndexCorrupt means a cold index value failed to open.
	ErrIndexCorrupt = errors.New("dedup: cold index value is corrupt")

	// ErrRemoteRecipe means the recipe's containers are held by the
	// cloud tier and cannot be restored locally.
	ErrRemoteRecipe = errors.New("dedup: recipe is not held locally")

	// ErrChunkSize means a chunk is empty or larger than the maximum.
	ErrChunkSize = errors.New("dedup: chunk size out of range")

	// ErrUnresolved means a fingerprint has no index entry.
	ErrUnresolved = errors.New("dedup: fingerprint is not indexed")

	// ErrHeadMismatch means a recipe head disagrees with the data
	// received.
	ErrHeadMismatch = errors.New("dedup: recipe head does not match upload")
)

// Mode selects the dedup index design.
type Mode string

const (
	// ModeFrequency uses the sketch and the top-K hot index in front
	// of the cold index.
	ModeFrequency Mode = "frequency"

	// ModeBaseline sends every lookup to the cold index.
	ModeBaseline Mode = "baseline"
)

// ParseMode parses a mode name. The empty string is ModeFrequency.
func ParseMode(name string) (Mode, error) {
	switch Mode(name) {
	case "", ModeFrequency:
		return ModeFrequency, nil
	case ModeBaseline:
		return ModeBaseline, nil
	default:
		return "", fmt.Errorf("unknown index mode %q (want %q or %q)", name, ModeFrequency, ModeBaseline)
	}
}

// Config configures an Engine. Backend and Keys are required; zero
// numeric fields take the package defaults.
type Config struct {
	Backend StorageBackend
	Keys    *Keys
	Mode    Mode

	SketchWidth int
	SketchDepth int
	TopK        int

	MaxChunkSize     int
	MaxContainerSize int
	Compression      chunkseal.CompressionTag

	// RecipeForm is recipe.KindAddress or recipe.KindFingerprint.
	RecipeForm      recipe.EntryKind
	RecipeBatchSize int

	Capping         int
	CacheContainers int
	ChunkBatchSize  int

	// MaxPayload bounds one restore frame's chunk payload.
	MaxPayload int

	// NewContainerID overrides container ID generation in tests.
	NewContainerID func() container.ID

	Logger *slog.Logger
}

// Defaults for zero Config fields.
const (
	DefaultSketchWidth      = 1 << 18
	DefaultSketchDepth      = 4
	DefaultTopK             = 16384
	DefaultMaxChunkSize     = 16 << 10
	DefaultMaxContainerSize = 4 << 20
	DefaultCacheContainers  = 64
)

// DedupCore is the operation surface sessions use.
type DedupCore interface {
	StartUpload(ctx context.Context, fileID recipe.FileID) (*Upload, error)
	StartRestore(ctx context.Context, fileID recipe.FileID) (*Restore, error)
	Probe(ctx context.Context, fps []fingerprint.Fingerprint) ([]bool, error)
	Stats() StatsSnapshot
}

var _ DedupCore = (*Engine)(nil)

// Engine is the process-wide dedup core. It is safe for concurrent
// use by many sessions.
type Engine struct {
	config  Config
	backend StorageBackend
	keys    *Keys
	logger  *slog.Logger
	cache   *restore.Cache

	// sketchMu guards sketch. Never held across I/O.
	sketchMu sync.Mutex
	sketch   *sketch.Sketch

	// heapMu guards hot. Never held across I/O.
	heapMu sync.Mutex
	hot    *topk.Index

	stats stats
}

// New creates an engine with empty frequency state.
func New(config Config) (*Engine, error) {
	if config.Backend == nil {
		return nil, fmt.Errorf("dedup: engine requires a storage backend")
	}
	if config.Keys == nil {
		return nil, fmt.Errorf("dedup: engine requires keys")
	}
	mode, err := ParseMode(string(config.Mode))
	if err != nil {
		return nil, err
	}
	config.Mode = mode
	setDefault(&config.SketchWidth, DefaultSketchWidth)
	setDefault(&config.SketchDepth, DefaultSketchDepth)
	setDefault(&config.TopK, DefaultTopK)
	setDefault(&config.MaxChunkSize, DefaultMaxChunkSize)
	setDefault(&config.MaxContainerSize, DefaultMaxContainerSize)
	setDefault(&config.RecipeBatchSize, recipe.DefaultBatchSize)
	setDefault(&config.Capping, restore.DefaultCapping)
	setDefault(&config.CacheContainers, DefaultCacheContainers)
	setDefault(&config.ChunkBatchSize, restore.DefaultChunkBatchSize)
	setDefault(&config.MaxPayload, restore.DefaultMaxPayload)
	switch config.RecipeForm {
	case 0:
		config.RecipeForm = recipe.KindAddress
	case recipe.KindAddress, recipe.KindFingerprint:
	default:
		return nil, fmt.Errorf("dedup: unknown recipe entry form %d", config.RecipeForm)
	}
	if capacity := config.MaxContainerSize - container.CountSize - container.EntrySize; config.MaxChunkSize+chunkseal.Overhead > capacity {
		return nil, fmt.Errorf("dedup: max chunk size %d does not fit a %d byte container", config.MaxChunkSize, config.MaxContainerSize)
	}
	if config.RecipeBatchSize > recipe.MaxBatchSize {
		return nil, fmt.Errorf("dedup: recipe batch size %d exceeds the maximum of %d", config.RecipeBatchSize, recipe.MaxBatchSize)
	}
	if config.MaxChunkSize+4 > config.MaxPayload {
		return nil, fmt.Errorf("dedup: max chunk size %d does not fit a %d byte payload", config.MaxChunkSize, config.MaxPayload)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	engine := &Engine{
		config:  config,
		backend: config.Backend,
		keys:    config.Keys,
		logger:  config.Logger,
	}
	engine.cache, err = restore.NewCache(config.CacheContainers)
	if err != nil {
		return nil, err
	}
	if mode == ModeFrequency {
		if engine.sketch, err = sketch.New(config.SketchWidth, config.SketchDepth); err != nil {
			return nil, err
		}
		if engine.hot, err = topk.New(config.TopK); err != nil {
			return nil, err
		}
	}

	engine.logger.Info("dedup engine created",
		"mode", string(mode),
		"sketch_width", config.SketchWidth,
		"sketch_depth", config.SketchDepth,
		"top_k", config.TopK,
		"max_container_size", config.MaxContainerSize,
		"compression", config.Compression.String(),
	)
	return engine, nil
}

func setDefault(field *int, value int) {
	if *field <= 0 {
		*field = value
	}
}

// Mode returns the engine's index mode.
func (e *Engine) Mode() Mode { return e.config.Mode }

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() StatsSnapshot {
	snapshot := e.stats.snapshot()
	if e.HasState() {
		e.heapMu.Lock()
		snapshot.HotEntries = e.hot.Len()
		e.heapMu.Unlock()
	}
	return snapshot
}

// estimate records every chunk in the sketch and stores each chunk's
// new estimate. Baseline mode leaves frequencies at zero.
func (e *Engine) estimate(records []chunkRecord) {
	if !e.HasState() {
		return
	}
	e.sketchMu.Lock()
	defer e.sketchMu.Unlock()
	for index := range records {
		records[index].frequency = e.sketch.UpdateEstimate(records[index].fp)
	}
}

// Probe reports which fingerprints are already indexed. It does not
// affect frequency state.
func (e *Engine) Probe(ctx context.Context, fps []fingerprint.Fingerprint) ([]bool, error) {
	_, found, err := e.lookup(ctx, fps)
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ResolveAddresses maps fingerprints to addresses through the top-K
// index and then the cold index. Every fingerprint must resolve.
func (e *Engine) ResolveAddresses(ctx context.Context, fps []fingerprint.Fingerprint) ([]container.Address, error) {
	addresses, found, err := e.lookup(ctx, fps)
	if err != nil {
		return nil, err
	}
	for index, ok := range found {
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnresolved, fps[index].Short())
		}
	}
	return addresses, nil
}

// lookup resolves fingerprints without touching the sketch, using one
// cold index query for every top-K miss.
func (e *Engine) lookup(ctx context.Context, fps []fingerprint.Fingerprint) ([]container.Address, []bool, error) {
	addresses := make([]container.Address, len(fps))
	found := make([]bool, len(fps))

	if e.HasState() {
		e.heapMu.Lock()
		for index, fp := range fps {
			addresses[index], found[index] = e.hot.Lookup(fp)
		}
		e.heapMu.Unlock()
	}

	var tokens []fingerprint.Token
	var positions []int
	for index, fp := range fps {
		if !found[index] {
			tokens = append(tokens, e.keys.Token(fp))
			positions = append(positions, index)
		}
	}
	if len(tokens) == 0 {
		return addresses, found, nil
	}

	values, err := e.queryIndex(ctx, tokens)
	if err != nil {
		return nil, nil, err
	}
	for index, value := range values {
		if value == nil {
			continue
		}
		address, err := e.keys.openAddress(tokens[index], value)
		if err != nil {
			return nil, nil, err
		}
		addresses[positions[index]] = address
		found[positions[index]] = true
	}
	return addresses, found, nil
}

// queryIndex issues one cold index query and checks the result shape.
func (e *Engine) queryIndex(ctx context.Context, tokens []fingerprint.Token) ([][]byte, error) {
	e.stats.coldQueries.Add(1)
	e.stats.coldQueryKeys.Add(uint64(len(tokens)))
	result, err := e.backend.QueryIndex(ctx, IndexQuery{Tokens: tokens})
	if err != nil {
		return nil, fmt.Errorf("querying cold index for %d tokens: %w", len(tokens), err)
	}
	if len(result.Values) != len(tokens) {
		return nil, fmt.Errorf("%w: cold index returned %d values for %d tokens", ErrIndexCorrupt, len(result.Values), len(tokens))
	}
	return result.Values, nil
}

// StateShape describes the dimensions persisted frequency state must
// match.
type StateShape struct {
	Mode        Mode `cbor:"mode"`
	SketchWidth int  `cbor:"sketch_width"`
	SketchDepth int  `cbor:"sketch_depth"`
	TopK        int  `cbor:"top_k"`
}

// StateShape returns the engine's state dimensions.
func (e *Engine) StateShape() StateShape {
	return StateShape{
		Mode:        e.config.Mode,
		SketchWidth: e.config.SketchWidth,
		SketchDepth: e.config.SketchDepth,
		TopK:        e.config.TopK,
	}
}

// HasState reports whether the engine keeps frequency state worth
// persisting.
func (e *Engine) HasState() bool { return e.config.Mode == ModeFrequency }

// SaveState writes the sketch to sketchOut and the top-K index to
// hotOut. Each structure is copied under its lock and written after
// the lock is released.
func (e *Engine) SaveState(sketchOut, hotOut io.Writer) error {
	if !e.HasState() {
		return fmt.Errorf("dedup: %s mode keeps no frequency state", e.config.Mode)
	}

	var sketchState bytes.Buffer
	sketchState.Grow(int(e.sketch.StateSize()))
	e.sketchMu.Lock()
	_, err := e.sketch.WriteTo(&sketchState)
	e.sketchMu.Unlock()
	if err != nil {
		return err
	}

	var hotState bytes.Buffer
	e.heapMu.Lock()
	_, err = e.hot.WriteTo(&hotState)
	entries := e.hot.Len()
	e.heapMu.Unlock()
	if err != nil {
		return err
	}

	if _, err := sketchState.WriteTo(sketchOut); err != nil {
		return fmt.Errorf("writing sketch state: %w", err)
	}
	if _, err := hotState.WriteTo(hotOut); err != nil {
		return fmt.Errorf("writing top-K state: %w", err)
	}
	e.logger.Info("frequency state saved", "hot_entries", entries)
	return nil
}

// LoadState replaces the frequency state with state written by
// SaveState. Either both structures load or neither changes; a
// corrupt file is returned as an error and must stop startup.
func (e *Engine) LoadState(sketchIn, hotIn io.Reader) error {
	if !e.HasState() {
		return fmt.Errorf("dedup: %s mode keeps no frequency state", e.config.Mode)
	}

	loadedSketch, err := sketch.New(e.config.SketchWidth, e.config.SketchDepth)
	if err != nil {
		return err
	}
	if _, err := loadedSketch.ReadFrom(sketchIn); err != nil {
		return fmt.Errorf("loading sketch: %w", err)
	}
	loadedHot, err := topk.New(e.config.TopK)
	if err != nil {
		return err
	}
	if _, err := loadedHot.ReadFrom(hotIn); err != nil {
		return fmt.Errorf("loading top-K index: %w", err)
	}

	e.sketchMu.Lock()
	e.sketch = loadedSketch
	e.sketchMu.Unlock()
	e.heapMu.Lock()
	e.hot = loadedHot
	e.heapMu.Unlock()

	e.logger.Info("frequency state loaded", "hot_entries", loadedHot.Len())
	return nil
}

// backendContainers adapts the backend to restore.ContainerSource.
type backendContainers struct {
	backend StorageBackend
}

func (b backendContainers) ReadContainers(ctx context.Context, ids []container.ID) ([][]byte, error) {
	result, err := b.backend.ReadContainers(ctx, ContainerRead{IDs: ids})
	if err != nil {
		return nil, err
	}
	return result.Containers, nil
}
