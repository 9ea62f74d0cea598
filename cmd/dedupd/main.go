// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/dedupvault/lib/chunkseal"
	"github.com/bureau-foundation/dedupvault/lib/coldindex"
	"github.com/bureau-foundation/dedupvault/lib/config"
	"github.com/bureau-foundation/dedupvault/lib/dedup"
	"github.com/bureau-foundation/dedupvault/lib/recipe"
	"github.com/bureau-foundation/dedupvault/lib/secret"
	"github.com/bureau-foundation/dedupvault/lib/session"
	"github.com/bureau-foundation/dedupvault/lib/storage"
	"github.com/bureau-foundation/dedupvault/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath  string
		listen      string
		root        string
		mode        string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("dedupd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "configuration file (default: $DEDUPVAULT_CONFIG)")
	flagSet.StringVar(&listen, "listen", "", "override server.address")
	flagSet.StringVar(&root, "root", "", "override storage.root")
	flagSet.StringVar(&mode, "mode", "", "override index.mode (frequency or baseline)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("dedupd %s\n", version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Address = listen
	}
	if root != "" {
		cfg.Storage.Root = root
	}
	if mode != "" {
		cfg.Index.Mode = mode
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	master, err := secret.ReadHexFromPath(cfg.Keys.MasterSecretFile)
	if err != nil {
		return fmt.Errorf("reading master secret (create one with \"dedup keygen\"): %w", err)
	}
	keys, err := dedup.DeriveKeys(master)
	master.Close()
	if err != nil {
		return err
	}

	disk, err := storage.Open(ctx, storage.Config{
		Root:            cfg.Storage.Root,
		IndexBackend:    coldindex.Backend(cfg.Index.Backend),
		SyncWrites:      cfg.Storage.SyncWrites,
		ReadParallelism: cfg.Storage.ReadParallelism,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer disk.Close()

	engine, err := newEngine(cfg, disk, keys, logger)
	if err != nil {
		return err
	}

	stateOptions, closeState, err := stateOptions(cfg)
	if err != nil {
		return err
	}
	defer closeState()

	persist := cfg.Index.PersistState && engine.HasState()
	if persist {
		meta, found, err := storage.LoadState(cfg.Storage.Root, engine, stateOptions)
		if err != nil {
			return fmt.Errorf("loading index state: %w", err)
		}
		if found {
			logger.Info("index state restored",
				"hot_entries", meta.HotEntries,
				"saved_at", meta.SavedAt,
				"sealed", meta.Sealed,
			)
		}
	}

	server, err := session.NewServer(session.Config{
		Engine:       engine,
		MaxChunkSize: cfg.Chunking.MaxSize.Int(),
		MaxPayload:   cfg.Server.MaxPayload.Int(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	if err := server.Listen(cfg.Server.Network, cfg.Server.Address); err != nil {
		return err
	}

	logger.Info("dedupd starting",
		"version", version.Info(),
		"mode", engine.Mode(),
		"index_backend", cfg.Index.Backend,
		"root", cfg.Storage.Root,
	)
	serveErr := server.Serve(ctx)

	if persist {
		if err := storage.SaveState(cfg.Storage.Root, engine, stateOptions); err != nil {
			logger.Error("saving index state failed", "error", err)
		} else {
			logger.Info("index state saved")
		}
	}
	logStatistics(logger, engine.Stats(), disk)
	return serveErr
}

func newEngine(cfg *config.Config, backend dedup.StorageBackend, keys *dedup.Keys, logger *slog.Logger) (*dedup.Engine, error) {
	mode, err := dedup.ParseMode(cfg.Index.Mode)
	if err != nil {
		return nil, err
	}
	compression, err := chunkseal.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}
	form, err := recipe.ParseEntryKind(cfg.Index.RecipeForm)
	if err != nil {
		return nil, err
	}
	return dedup.New(dedup.Config{
		Backend:          backend,
		Keys:             keys,
		Mode:             mode,
		SketchWidth:      cfg.Index.SketchWidth,
		SketchDepth:      cfg.Index.SketchDepth,
		TopK:             cfg.Index.TopK,
		MaxChunkSize:     cfg.Chunking.MaxSize.Int(),
		MaxContainerSize: cfg.Storage.MaxContainerSize.Int(),
		Compression:      compression,
		RecipeForm:       form,
		RecipeBatchSize:  cfg.Transfer.RecipeBatchSize,
		Capping:          cfg.Restore.ContainerCapping,
		CacheContainers:  cfg.Restore.CacheContainers,
		ChunkBatchSize:   cfg.Transfer.ChunkBatchSize,
		MaxPayload:       cfg.Server.MaxPayload.Int(),
		Logger:           logger,
	})
}

// stateOptions loads the age identity for sealed index state, if one
// is configured.
func stateOptions(cfg *config.Config) (storage.StateOptions, func(), error) {
	options := storage.StateOptions{Recipients: cfg.Keys.StateRecipients}
	if cfg.Keys.StateIdentityFile == "" {
		return options, func() {}, nil
	}
	identity, err := secret.ReadFromPath(cfg.Keys.StateIdentityFile)
	if err != nil {
		return options, nil, fmt.Errorf("reading state identity: %w", err)
	}
	options.Identity = identity
	return options, func() { identity.Close() }, nil
}

func logStatistics(logger *slog.Logger, stats dedup.StatsSnapshot, disk *storage.Disk) {
	attrs := []any{
		"uploads", stats.UploadsCompleted,
		"uploads_aborted", stats.UploadsAborted,
		"restores", stats.RestoresCompleted,
		"logical_chunks", stats.LogicalChunks,
		"unique_chunks", stats.UniqueChunks,
		"logical_size", humanize.IBytes(stats.LogicalBytes),
		"unique_size", humanize.IBytes(stats.UniqueBytes),
		"stored_size", humanize.IBytes(stats.StoredBytes),
		"dedup_ratio", fmt.Sprintf("%.2f", stats.DedupRatio()),
		"hot_duplicates", stats.HotDuplicates,
		"cold_duplicates", stats.ColdDuplicates,
		"cold_queries", stats.ColdQueries,
		"hot_entries", stats.HotEntries,
		"restored_size", humanize.IBytes(stats.RestoredBytes),
	}
	if count, size, err := disk.ContainerUsage(); err == nil {
		attrs = append(attrs, "containers", humanize.Comma(int64(count)), "container_size", humanize.IBytes(uint64(size)))
	}
	logger.Info("dedupd statistics", attrs...)
}
