// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/dedupvault/lib/chunker"
	"github.com/bureau-foundation/dedupvault/lib/client"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
)

func uploadCommand() *command {
	var (
		conn connection
		name string
	)
	return &command{
		name:    "upload",
		summary: "Chunk a file and store it on the server",
		usage:   "dedup upload [--name NAME] FILE",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("upload", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.StringVar(&name, "name", "", "name to store the file under (default: FILE as given)")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("upload takes exactly one FILE argument")
			}
			path := args[0]
			if name == "" {
				name = path
			}
			dedupClient, _, err := conn.dial()
			if err != nil {
				return err
			}
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			ctx, stop := signalContext()
			defer stop()
			result, err := dedupClient.Upload(ctx, name, bufio.NewReaderSize(file, 1<<20))
			if err != nil {
				return err
			}
			fmt.Printf("uploaded %s as %s: %s in %s chunks, %s new\n",
				path, result.FileID.String()[:16],
				humanize.IBytes(result.Bytes),
				humanize.Comma(int64(result.Chunks)),
				humanize.Comma(int64(result.UniqueChunks)),
			)
			return nil
		},
	}
}

func restoreCommand() *command {
	var (
		conn   connection
		output string
	)
	return &command{
		name:    "restore",
		summary: "Fetch a stored file",
		usage:   "dedup restore NAME [-o OUTPUT]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("restore", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.StringVarP(&output, "output", "o", "", "destination path, or - for stdout (default: base name of NAME)")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("restore takes exactly one NAME argument")
			}
			name := args[0]
			if output == "" {
				output = filepath.Base(name)
			}
			dedupClient, _, err := conn.dial()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			if output == "-" {
				writer := bufio.NewWriterSize(os.Stdout, 1<<20)
				if _, err := dedupClient.Restore(ctx, name, writer); err != nil {
					return err
				}
				return writer.Flush()
			}
			return restoreToFile(ctx, dedupClient, name, output)
		},
	}
}

// restoreToFile writes into a temporary file beside path and renames
// it into place only after the restore verified.
func restoreToFile(ctx context.Context, dedupClient *client.Client, name, path string) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), ".dedup-restore-*")
	if err != nil {
		return err
	}
	defer os.Remove(temporary.Name())
	defer temporary.Close()

	writer := bufio.NewWriterSize(temporary, 1<<20)
	result, err := dedupClient.Restore(ctx, name, writer)
	if errors.Is(err, client.ErrFileNotExist) {
		return fmt.Errorf("%s has not been uploaded by this client", name)
	}
	if err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	if err := temporary.Close(); err != nil {
		return err
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		return err
	}
	fmt.Printf("restored %s to %s: %s in %s chunks\n",
		name, path, humanize.IBytes(result.Bytes), humanize.Comma(int64(result.Chunks)))
	return nil
}

func probeCommand() *command {
	var conn connection
	return &command{
		name:    "probe",
		summary: "Report how much of a file the server already stores",
		usage:   "dedup probe FILE",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("probe", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("probe takes exactly one FILE argument")
			}
			dedupClient, cfg, err := conn.dial()
			if err != nil {
				return err
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			fps, sizes, err := fingerprintFile(file, cfg.ChunkerConfig())
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			found, err := dedupClient.Probe(ctx, fps)
			if err != nil {
				return err
			}

			var present, presentBytes, totalBytes uint64
			for index, ok := range found {
				totalBytes += uint64(sizes[index])
				if ok {
					present++
					presentBytes += uint64(sizes[index])
				}
			}
			fmt.Printf("%s: %d of %d chunks already stored (%s of %s)\n",
				args[0], present, len(fps), humanize.IBytes(presentBytes), humanize.IBytes(totalBytes))
			return nil
		},
	}
}

// fingerprintFile chunks source the way an upload would and returns
// each chunk's fingerprint and size.
func fingerprintFile(source io.Reader, chunking chunker.Config) ([]fingerprint.Fingerprint, []int, error) {
	split, err := chunker.New(bufio.NewReaderSize(source, 1<<20), chunking)
	if err != nil {
		return nil, nil, err
	}
	var (
		fps   []fingerprint.Fingerprint
		sizes []int
	)
	for {
		chunk, err := split.Next()
		if errors.Is(err, io.EOF) {
			return fps, sizes, nil
		}
		if err != nil {
			return nil, nil, err
		}
		fps = append(fps, fingerprint.Sum(chunk))
		sizes = append(sizes, len(chunk))
	}
}
