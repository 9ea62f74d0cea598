// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/dedupvault/lib/client"
	"github.com/bureau-foundation/dedupvault/lib/config"
	"github.com/bureau-foundation/dedupvault/lib/version"
)

func main() {
	if err := root().execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func root() *command {
	return &command{
		name:    "dedup",
		summary: "dedupvault client",
		usage:   "dedup <command> [flags]",
		subcommands: []*command{
			uploadCommand(),
			restoreCommand(),
			probeCommand(),
			keygenCommand(),
			{
				name:    "version",
				summary: "Print version information",
				run: func([]string) error {
					fmt.Printf("dedup %s\n", version.Full())
					return nil
				},
			},
		},
	}
}

// connection holds the flags every networked command shares.
type connection struct {
	configPath string
	address    string
	clientID   uint32
}

func (c *connection) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.configPath, "config", "", "configuration file (default: $DEDUPVAULT_CONFIG)")
	flagSet.StringVar(&c.address, "server", "", "override server.address")
	flagSet.Uint32Var(&c.clientID, "client-id", 0, "override client.id")
}

func (c *connection) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.configPath != "" {
		cfg, err = config.LoadFile(c.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if c.address != "" {
		cfg.Server.Address = c.address
	}
	if c.clientID != 0 {
		cfg.Client.ID = c.clientID
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// dial loads configuration and builds a client from it.
func (c *connection) dial() (*client.Client, *config.Config, error) {
	cfg, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	dedupClient, err := client.New(client.Config{
		Network:        cfg.Server.Network,
		Address:        cfg.Server.Address,
		ClientID:       cfg.Client.ID,
		Chunking:       cfg.ChunkerConfig(),
		ChunkBatchSize: cfg.Transfer.ChunkBatchSize,
		QueueDepth:     cfg.Client.QueueDepth,
		MaxChunkSize:   cfg.Chunking.MaxSize.Int(),
		MaxPayload:     cfg.Server.MaxPayload.Int(),
		IOTimeout:      cfg.Client.IOTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return dedupClient, cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
