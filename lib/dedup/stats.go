// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import "sync/atomic"

// stats are the engine's monotonic counters. They are diagnostic only.
type stats struct {
	logicalChunks atomic.Uint64
	logicalBytes  atomic.Uint64

	uniqueChunks atomic.Uint64
	uniqueBytes  atomic.Uint64

	compressedChunks atomic.Uint64
	storedBytes      atomic.Uint64

	batchDuplicates   atomic.Uint64
	sessionDuplicates atomic.Uint64
	hotDuplicates     atomic.Uint64
	coldDuplicates    atomic.Uint64

	coldQueries    atomic.Uint64
	coldQueryKeys  atomic.Uint64
	indexPublished atomic.Uint64

	containersSealed atomic.Uint64
	containerBytes   atomic.Uint64

	uploadsCompleted atomic.Uint64
	uploadsAborted   atomic.Uint64

	restoredChunks    atomic.Uint64
	restoredBytes     atomic.Uint64
	restoresCompleted atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the engine counters.
type StatsSnapshot struct {
	LogicalChunks uint64 `json:"logical_chunks"`
	LogicalBytes  uint64 `json:"logical_bytes"`

	UniqueChunks uint64 `json:"unique_chunks"`
	UniqueBytes  uint64 `json:"unique_bytes"`

	// CompressedChunks counts unique chunks stored compressed.
	CompressedChunks uint64 `json:"compressed_chunks"`

	// StoredBytes is the sealed size of unique chunks.
	StoredBytes uint64 `json:"stored_bytes"`

	BatchDuplicates   uint64 `json:"batch_duplicates"`
	SessionDuplicates uint64 `json:"session_duplicates"`
	HotDuplicates     uint64 `json:"hot_duplicates"`
	ColdDuplicates    uint64 `json:"cold_duplicates"`

	ColdQueries    uint64 `json:"cold_queries"`
	ColdQueryKeys  uint64 `json:"cold_query_keys"`
	IndexPublished uint64 `json:"index_published"`

	ContainersSealed uint64 `json:"containers_sealed"`
	ContainerBytes   uint64 `json:"container_bytes"`

	UploadsCompleted uint64 `json:"uploads_completed"`
	UploadsAborted   uint64 `json:"uploads_aborted"`

	RestoredChunks    uint64 `json:"restored_chunks"`
	RestoredBytes     uint64 `json:"restored_bytes"`
	RestoresCompleted uint64 `json:"restores_completed"`

	// HotEntries is the current top-K size.
	HotEntries int `json:"hot_entries"`
}

// DedupRatio returns logical bytes over unique bytes, or 0 before any
// unique data is stored.
func (s StatsSnapshot) DedupRatio() float64 {
	if s.UniqueBytes == 0 {
		return 0
	}
	return float64(s.LogicalBytes) / float64(s.UniqueBytes)
}

func (s *stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		LogicalChunks:     s.logicalChunks.Load(),
		LogicalBytes:      s.logicalBytes.Load(),
		UniqueChunks:      s.uniqueChunks.Load(),
		UniqueBytes:       s.uniqueBytes.Load(),
		CompressedChunks:  s.compressedChunks.Load(),
		StoredBytes:       s.storedBytes.Load(),
		BatchDuplicates:   s.batchDuplicates.Load(),
		SessionDuplicates: s.sessionDuplicates.Load(),
		HotDuplicates:     s.hotDuplicates.Load(),
		ColdDuplicates:    s.coldDuplicates.Load(),
		ColdQueries:       s.coldQueries.Load(),
		ColdQueryKeys:     s.coldQueryKeys.Load(),
		IndexPublished:    s.indexPublished.Load(),
		ContainersSealed:  s.containersSealed.Load(),
		ContainerBytes:    s.containerBytes.Load(),
		UploadsCompleted:  s.uploadsCompleted.Load(),
		UploadsAborted:    s.uploadsAborted.Load(),
		RestoredChunks:    s.restoredChunks.Load(),
		RestoredBytes:     s.restoredBytes.Load(),
		RestoresCompleted: s.restoresCompleted.Load(),
	}
}
