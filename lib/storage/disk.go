// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/dedupvault/lib/coldindex"
	"github.com/bureau-foundation/dedupvault/lib/container"
	"github.com/bureau-foundation/dedupvault/lib/dedup"
)

// DefaultReadParallelism bounds concurrent container reads per
// ReadContainers call.
const DefaultReadParallelism = 8

// Config configures a Disk backend.
type Config struct {
	// Root is the data directory. Created if missing.
	Root string

	// IndexBackend selects the cold index implementation.
	IndexBackend coldindex.Backend

	// SyncWrites fsyncs containers, recipes, and index inserts before
	// reporting them durable.
	SyncWrites bool

	// ReadParallelism bounds concurrent reads in ReadContainers.
	ReadParallelism int

	Logger *slog.Logger
}

// Disk stores containers and recipes as files and delegates the cold
// index to a coldindex.Store. Safe for concurrent use.
type Disk struct {
	config     Config
	containers string
	recipes    string
	index      coldindex.Store
	logger     *slog.Logger
}

var _ dedup.StorageBackend = (*Disk)(nil)

// Open prepares the directory layout and opens the cold index.
func Open(ctx context.Context, config Config) (*Disk, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("storage root directory is required")
	}
	if config.ReadParallelism <= 0 {
		config.ReadParallelism = DefaultReadParallelism
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	disk := &Disk{
		config:     config,
		containers: filepath.Join(config.Root, "containers"),
		recipes:    filepath.Join(config.Root, "recipes"),
		logger:     config.Logger,
	}
	for _, directory := range []string{disk.containers, disk.recipes} {
		if err := os.MkdirAll(directory, 0o700); err != nil {
			return nil, fmt.Errorf("creating %s: %w", directory, err)
		}
	}

	index, err := coldindex.Open(ctx, coldindex.Config{
		Backend:    config.IndexBackend,
		Directory:  config.Root,
		SyncWrites: config.SyncWrites,
		Logger:     config.Logger,
	})
	if err != nil {
		return nil, err
	}
	disk.index = index

	disk.logger.Info("storage opened",
		"root", config.Root,
		"index", string(config.IndexBackend),
		"sync_writes", config.SyncWrites,
	)
	return disk, nil
}

// Close closes the cold index.
func (d *Disk) Close() error {
	return d.index.Close()
}

// QueryIndex implements dedup.StorageBackend.
func (d *Disk) QueryIndex(ctx context.Context, query dedup.IndexQuery) (dedup.IndexQueryResult, error) {
	keys := make([][]byte, len(query.Tokens))
	for index := range query.Tokens {
		keys[index] = query.Tokens[index][:]
	}
	values, err := d.index.Query(ctx, keys)
	if err != nil {
		return dedup.IndexQueryResult{}, err
	}
	return dedup.IndexQueryResult{Values: values}, nil
}

// UpdateIndex implements dedup.StorageBackend.
func (d *Disk) UpdateIndex(ctx context.Context, update dedup.IndexUpdate) error {
	entries := make([]coldindex.Entry, len(update.Entries))
	for index := range update.Entries {
		entries[index] = coldindex.Entry{
			Key:   update.Entries[index].Token[:],
			Value: update.Entries[index].Value,
		}
	}
	return d.index.Insert(ctx, entries)
}

func (d *Disk) containerPath(id container.ID) string {
	return filepath.Join(d.containers, id.String())
}

// WriteContainer implements dedup.StorageBackend. Writing an ID that
// already exists is an error.
func (d *Disk) WriteContainer(ctx context.Context, write dedup.ContainerWrite) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	finalPath := d.containerPath(write.ID)
	if _, err := os.Lstat(finalPath); err == nil {
		return fmt.Errorf("container %s already exists", write.ID)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking container %s: %w", write.ID, err)
	}
	if err := writeFileAtomic(d.containers, finalPath, write.Data, d.config.SyncWrites); err != nil {
		return fmt.Errorf("writing container %s: %w", write.ID, err)
	}
	return nil
}

// writeFileAtomic writes data to a temporary file in directory and
// renames it to finalPath.
func writeFileAtomic(directory, finalPath string, data []byte, sync bool) error {
	temporary, err := os.CreateTemp(directory, ".tmp-*")
	if err != nil {
		return err
	}
	temporaryPath := temporary.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(temporaryPath)
		}
	}()

	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return err
	}
	if sync {
		if err := temporary.Sync(); err != nil {
			temporary.Close()
			return err
		}
	}
	if err := temporary.Close(); err != nil {
		return err
	}
	if err := os.Rename(temporaryPath, finalPath); err != nil {
		return err
	}
	success = true
	if sync {
		return syncDirectory(directory)
	}
	return nil
}

func syncDirectory(directory string) error {
	handle, err := os.Open(directory)
	if err != nil {
		return err
	}
	defer handle.Close()
	return handle.Sync()
}

// ReadContainers implements dedup.StorageBackend. Reads run in
// parallel; the first failure cancels the rest.
func (d *Disk) ReadContainers(ctx context.Context, read dedup.ContainerRead) (dedup.ContainerReadResult, error) {
	containers := make([][]byte, len(read.IDs))
	group, groupContext := errgroup.WithContext(ctx)
	group.SetLimit(d.config.ReadParallelism)
	for index, id := range read.IDs {
		group.Go(func() error {
			if err := groupContext.Err(); err != nil {
				return err
			}
			raw, err := os.ReadFile(d.containerPath(id))
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("container %s: %w", id, dedup.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("reading container %s: %w", id, err)
			}
			containers[index] = raw
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return dedup.ContainerReadResult{}, err
	}
	return dedup.ContainerReadResult{Containers: containers}, nil
}

// ContainerUsage returns the number of stored containers and their
// total size.
func (d *Disk) ContainerUsage() (count int, size int64, err error) {
	entries, err := os.ReadDir(d.containers)
	if err != nil {
		return 0, 0, fmt.Errorf("listing containers: %w", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") || !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return 0, 0, fmt.Errorf("stat container %s: %w", entry.Name(), err)
		}
		count++
		size += info.Size()
	}
	return count, size, nil
}

func (d *Disk) recipePath(ref dedup.RecipeRef) string {
	return filepath.Join(d.recipes, ref.FileID.FileName())
}

// CreateRecipe implements dedup.StorageBackend.
func (d *Disk) CreateRecipe(ctx context.Context, ref dedup.RecipeRef) (dedup.RecipeFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	temporary, err := os.CreateTemp(d.recipes, ".tmp-"+ref.FileID.String()[:16]+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating recipe file: %w", err)
	}
	return &recipeFile{
		File:      temporary,
		directory: d.recipes,
		finalPath: d.recipePath(ref),
		sync:      d.config.SyncWrites,
	}, nil
}

// OpenRecipe implements dedup.StorageBackend.
func (d *Disk) OpenRecipe(ctx context.Context, ref dedup.RecipeRef) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(d.recipePath(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("recipe %s: %w", ref.FileID, dedup.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening recipe %s: %w", ref.FileID, err)
	}
	return file, nil
}

// RemoveRecipe deletes a committed recipe. Containers it references
// are left in place; other recipes may share them.
func (d *Disk) RemoveRecipe(ref dedup.RecipeRef) error {
	err := os.Remove(d.recipePath(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("recipe %s: %w", ref.FileID, dedup.ErrNotFound)
	}
	return err
}

// recipeFile is a recipe under construction in a temporary file.
type recipeFile struct {
	*os.File
	directory string
	finalPath string
	sync      bool
	closed    bool
}

func (r *recipeFile) Commit() error {
	if r.closed {
		return fmt.Errorf("recipe %s already closed", filepath.Base(r.finalPath))
	}
	r.closed = true
	temporaryPath := r.Name()
	if r.sync {
		if err := r.File.Sync(); err != nil {
			r.File.Close()
			os.Remove(temporaryPath)
			return err
		}
	}
	if err := r.File.Close(); err != nil {
		os.Remove(temporaryPath)
		return err
	}
	if err := os.Rename(temporaryPath, r.finalPath); err != nil {
		os.Remove(temporaryPath)
		return err
	}
	if r.sync {
		return syncDirectory(r.directory)
	}
	return nil
}

func (r *recipeFile) Discard() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.File.Close()
	return os.Remove(r.Name())
}
