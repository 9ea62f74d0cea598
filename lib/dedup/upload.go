// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/dedupvault/lib/chunkseal"
	"github.com/bureau-foundation/dedupvault/lib/container"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
	"github.com/bureau-foundation/dedupvault/lib/recipe"
)

// chunkTag is a chunk's classification within a batch.
type chunkTag uint8

const (
	// tagUnique: not found in any index (after the cold query, a
	// chunk still tagged unique is stored).
	tagUnique chunkTag = iota

	// tagDuplicate: address already known.
	tagDuplicate

	// tagBatchUnique: repeats an earlier chunk of this batch that was
	// tagged unique when this chunk was classified.
	tagBatchUnique

	// tagBatchDuplicate: repeats an earlier chunk of this batch that
	// was already a duplicate.
	tagBatchDuplicate
)

// duplicateSource records where a duplicate's address came from.
type duplicateSource uint8

const (
	sourceNone duplicateSource = iota
	sourceSession
	sourceHot
	sourceCold
)

type chunkRecord struct {
	fp        fingerprint.Fingerprint
	token     fingerprint.Token
	size      int
	frequency uint32

	tag      chunkTag
	source   duplicateSource
	referent int
	query    int
	address  container.Address
}

// pendingChunk is a chunk this upload stored whose index entry is not
// yet published.
type pendingChunk struct {
	fp        fingerprint.Fingerprint
	address   container.Address
	frequency uint32
	published bool
}

// admission is a top-K candidate produced by a batch.
type admission struct {
	fp        fingerprint.Fingerprint
	address   container.Address
	frequency uint32
}

// Upload is one file upload. It is owned by a single session and is
// not safe for concurrent use.
type Upload struct {
	engine *Engine
	fileID recipe.FileID
	logger *slog.Logger

	file       RecipeFile
	recipe     *recipe.Writer
	containers *container.Store

	// pending holds stored chunks in store order; pendingIndex maps a
	// fingerprint to its position.
	pending      []*pendingChunk
	pendingIndex map[fingerprint.Fingerprint]*pendingChunk
	sealed       map[container.ID]struct{}

	chunks       uint64
	logicalBytes uint64
	uniqueChunks uint64

	failed   error
	finished bool
}

// StartUpload creates the recipe for fileID and returns an upload
// ready for ProcessBatch. The caller must call Finish or Abort.
func (e *Engine) StartUpload(ctx context.Context, fileID recipe.FileID) (*Upload, error) {
	file, err := e.backend.CreateRecipe(ctx, RecipeRef{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("creating recipe %s: %w", fileID, err)
	}
	writer, err := recipe.NewWriter(file, recipe.WriterConfig{
		FileID:    fileID,
		Cipher:    e.keys.RecipeCipher(),
		BatchSize: e.config.RecipeBatchSize,
		Location:  recipe.LocationEdge,
	})
	if err != nil {
		file.Discard()
		return nil, err
	}

	upload := &Upload{
		engine:       e,
		fileID:       fileID,
		logger:       e.logger.With("file", fileID.String()),
		file:         file,
		recipe:       writer,
		pendingIndex: make(map[fingerprint.Fingerprint]*pendingChunk),
		sealed:       make(map[container.ID]struct{}),
	}
	upload.containers, err = container.NewStore(container.StoreConfig{
		MaxSize: e.config.MaxContainerSize,
		Sink:    uploadSink{upload: upload},
		NewID:   e.config.NewContainerID,
		Logger:  upload.logger,
	})
	if err != nil {
		file.Discard()
		return nil, err
	}
	upload.logger.Debug("upload started")
	return upload, nil
}

// uploadSink writes sealed containers through the backend and marks
// them for publication.
type uploadSink struct {
	upload *Upload
}

func (s uploadSink) SealContainer(ctx context.Context, id container.ID, raw []byte) error {
	engine := s.upload.engine
	if err := engine.backend.WriteContainer(ctx, ContainerWrite{ID: id, Data: raw}); err != nil {
		return fmt.Errorf("writing container %s: %w", id, err)
	}
	s.upload.sealed[id] = struct{}{}
	engine.stats.containersSealed.Add(1)
	engine.stats.containerBytes.Add(uint64(len(raw)))
	return nil
}

// FileID returns the file being uploaded.
func (u *Upload) FileID() recipe.FileID { return u.fileID }

// Chunks returns the number of chunks processed so far.
func (u *Upload) Chunks() uint64 { return u.chunks }

// Bytes returns the logical bytes processed so far.
func (u *Upload) Bytes() uint64 { return u.logicalBytes }

// UniqueChunks returns the number of chunks this upload stored.
func (u *Upload) UniqueChunks() uint64 { return u.uniqueChunks }

func (u *Upload) usable() error {
	if u.finished {
		return fmt.Errorf("upload %s already finished", u.fileID)
	}
	if u.failed != nil {
		return fmt.Errorf("upload %s failed earlier: %w", u.fileID, u.failed)
	}
	return nil
}

// ProcessBatch deduplicates one batch of chunks and appends one recipe
// entry per chunk, in order. After an error the upload is unusable and
// must be aborted.
func (u *Upload) ProcessBatch(ctx context.Context, chunks [][]byte) error {
	if err := u.usable(); err != nil {
		return err
	}
	if err := u.processBatch(ctx, chunks); err != nil {
		u.failed = err
		return err
	}
	return nil
}

func (u *Upload) processBatch(ctx context.Context, chunks [][]byte) error {
	if len(chunks) == 0 {
		return nil
	}
	engine := u.engine

	records := make([]chunkRecord, len(chunks))
	for index, data := range chunks {
		if len(data) == 0 || len(data) > engine.config.MaxChunkSize {
			return fmt.Errorf("%w: chunk %d is %d bytes (max %d)", ErrChunkSize, index, len(data), engine.config.MaxChunkSize)
		}
		fp := fingerprint.Sum(data)
		records[index] = chunkRecord{fp: fp, token: engine.keys.Token(fp), size: len(data)}
	}

	engine.estimate(records)
	tokens := u.classify(records)

	if len(tokens) > 0 {
		values, err := engine.queryIndex(ctx, tokens)
		if err != nil {
			return err
		}
		for index := range records {
			record := &records[index]
			if record.tag != tagUnique || values[record.query] == nil {
				continue
			}
			address, err := engine.keys.openAddress(record.token, values[record.query])
			if err != nil {
				return err
			}
			record.tag = tagDuplicate
			record.source = sourceCold
			record.address = address
		}
	}

	var admissions []admission
	for index := range records {
		record := &records[index]
		switch record.tag {
		case tagUnique:
			if err := u.storeChunk(ctx, record, chunks[index]); err != nil {
				return err
			}
		case tagBatchUnique, tagBatchDuplicate:
			record.address = records[record.referent].address
			engine.stats.batchDuplicates.Add(1)
		case tagDuplicate:
			u.countDuplicate(record.source)
			if record.source != sourceSession {
				admissions = append(admissions, admission{fp: record.fp, address: record.address, frequency: record.frequency})
			}
		}

		entry := recipe.AddressEntry(record.address)
		if engine.config.RecipeForm == recipe.KindFingerprint {
			entry = recipe.FingerprintEntry(record.fp)
		}
		if err := u.recipe.Append(entry); err != nil {
			return fmt.Errorf("appending recipe entry: %w", err)
		}
		u.chunks++
		u.logicalBytes += uint64(record.size)
		engine.stats.logicalChunks.Add(1)
		engine.stats.logicalBytes.Add(uint64(record.size))
	}

	published, err := u.publish(ctx)
	if err != nil {
		return err
	}
	engine.admit(append(admissions, published...))
	return nil
}

// classify tags every record and returns the tokens for the cold
// index query. Runs under the heap lock; the top-K minimum is read
// once for the whole batch.
func (u *Upload) classify(records []chunkRecord) []fingerprint.Token {
	engine := u.engine
	var tokens []fingerprint.Token
	local := make(map[fingerprint.Fingerprint]int, len(records))

	if engine.HasState() {
		engine.heapMu.Lock()
		defer engine.heapMu.Unlock()
	}
	var threshold uint32
	if engine.HasState() {
		threshold = engine.hot.TopFrequency()
	}

	for index := range records {
		record := &records[index]

		if first, ok := local[record.fp]; ok {
			referent := &records[first]
			record.referent = first
			if referent.tag == tagUnique {
				record.tag = tagBatchUnique
			} else {
				record.tag = tagBatchDuplicate
			}
			referent.frequency = max(referent.frequency, record.frequency)
			continue
		}
		local[record.fp] = index

		if pending, ok := u.pendingIndex[record.fp]; ok {
			record.tag = tagDuplicate
			record.source = sourceSession
			record.address = pending.address
			pending.frequency = max(pending.frequency, record.frequency)
			continue
		}

		if engine.HasState() && record.frequency >= threshold {
			if address, ok := engine.hot.Lookup(record.fp); ok {
				record.tag = tagDuplicate
				record.source = sourceHot
				record.address = address
				continue
			}
		}

		record.tag = tagUnique
		record.query = len(tokens)
		tokens = append(tokens, record.token)
	}
	return tokens
}

// storeChunk seals a unique chunk into the open container.
func (u *Upload) storeChunk(ctx context.Context, record *chunkRecord, data []byte) error {
	engine := u.engine
	sealed, err := chunkseal.Seal(record.fp, data, engine.config.Compression)
	if err != nil {
		return fmt.Errorf("sealing chunk %s: %w", record.fp.Short(), err)
	}
	address, err := u.containers.SaveChunk(ctx, record.fp, sealed.Data)
	if err != nil {
		return fmt.Errorf("storing chunk %s: %w", record.fp.Short(), err)
	}
	record.address = address

	pending := &pendingChunk{fp: record.fp, address: address, frequency: record.frequency}
	u.pending = append(u.pending, pending)
	u.pendingIndex[record.fp] = pending
	u.uniqueChunks++

	engine.stats.uniqueChunks.Add(1)
	engine.stats.uniqueBytes.Add(uint64(record.size))
	engine.stats.storedBytes.Add(uint64(len(sealed.Data)))
	if sealed.Compressed() {
		engine.stats.compressedChunks.Add(1)
	}
	return nil
}

func (u *Upload) countDuplicate(source duplicateSource) {
	switch source {
	case sourceSession:
		u.engine.stats.sessionDuplicates.Add(1)
	case sourceHot:
		u.engine.stats.hotDuplicates.Add(1)
	case sourceCold:
		u.engine.stats.coldDuplicates.Add(1)
	}
}

// publish inserts index entries for every pending chunk whose
// container is sealed, in one cold index update, and returns them as
// top-K candidates.
func (u *Upload) publish(ctx context.Context) ([]admission, error) {
	if len(u.sealed) == 0 {
		return nil, nil
	}
	engine := u.engine

	var entries []IndexEntry
	var ready []*pendingChunk
	for _, pending := range u.pending {
		if _, ok := u.sealed[pending.address.Container]; !ok {
			continue
		}
		token := engine.keys.Token(pending.fp)
		value, err := engine.keys.sealAddress(token, pending.address)
		if err != nil {
			return nil, err
		}
		entries = append(entries, IndexEntry{Token: token, Value: value})
		ready = append(ready, pending)
	}

	if len(entries) > 0 {
		if err := engine.backend.UpdateIndex(ctx, IndexUpdate{Entries: entries}); err != nil {
			return nil, fmt.Errorf("updating cold index with %d entries: %w", len(entries), err)
		}
		engine.stats.indexPublished.Add(uint64(len(entries)))
	}

	admissions := make([]admission, 0, len(ready))
	for _, pending := range ready {
		pending.published = true
		delete(u.pendingIndex, pending.fp)
		admissions = append(admissions, admission{fp: pending.fp, address: pending.address, frequency: pending.frequency})
	}
	remaining := u.pending[:0]
	for _, pending := range u.pending {
		if !pending.published {
			remaining = append(remaining, pending)
		}
	}
	clear(u.pending[len(remaining):])
	u.pending = remaining
	clear(u.sealed)
	return admissions, nil
}

// admit applies the top-K admission policy to candidates, in order,
// under the heap lock.
func (e *Engine) admit(candidates []admission) {
	if !e.HasState() || len(candidates) == 0 {
		return
	}
	e.heapMu.Lock()
	defer e.heapMu.Unlock()
	for _, candidate := range candidates {
		e.hot.Admit(candidate.fp, candidate.address, candidate.frequency)
	}
}

// Finish seals the open container, publishes the remaining index
// entries, and commits the recipe under head. head must describe
// exactly the chunks processed.
func (u *Upload) Finish(ctx context.Context, head recipe.Head) error {
	if err := u.usable(); err != nil {
		return err
	}
	if head.TotalChunkNum != u.chunks || head.FileSize != u.logicalBytes {
		u.failed = fmt.Errorf("%w: head declares %d chunks (%d bytes), received %d chunks (%d bytes)",
			ErrHeadMismatch, head.TotalChunkNum, head.FileSize, u.chunks, u.logicalBytes)
		return u.failed
	}

	if err := u.finish(ctx, head); err != nil {
		u.failed = err
		return err
	}
	u.finished = true
	u.engine.stats.uploadsCompleted.Add(1)

	containers, containerBytes := u.containers.Sealed()
	u.logger.Info("upload complete",
		"chunks", u.chunks,
		"bytes", u.logicalBytes,
		"unique_chunks", u.uniqueChunks,
		"containers", containers,
		"container_bytes", containerBytes,
	)
	return nil
}

func (u *Upload) finish(ctx context.Context, head recipe.Head) error {
	if err := u.containers.Flush(ctx); err != nil {
		return fmt.Errorf("sealing final container: %w", err)
	}
	published, err := u.publish(ctx)
	if err != nil {
		return err
	}
	u.engine.admit(published)

	if err := u.recipe.Finish(head); err != nil {
		return fmt.Errorf("finishing recipe: %w", err)
	}
	if err := u.file.Commit(); err != nil {
		return fmt.Errorf("committing recipe: %w", err)
	}
	return nil
}

// Abort drops the open container and the partial recipe. Containers
// already sealed stay on disk and their chunks are still published to
// the index, so later uploads can reuse them. Abort after Finish does
// nothing.
func (u *Upload) Abort(ctx context.Context) error {
	if u.finished {
		return nil
	}
	u.finished = true
	u.containers.Discard()

	var errs []error
	if published, err := u.publish(ctx); err != nil {
		errs = append(errs, err)
	} else {
		u.engine.admit(published)
	}
	if err := u.file.Discard(); err != nil {
		errs = append(errs, fmt.Errorf("discarding recipe: %w", err))
	}
	u.engine.stats.uploadsAborted.Add(1)
	u.logger.Warn("upload aborted", "chunks", u.chunks, "cause", u.failed)
	return errors.Join(errs...)
}
