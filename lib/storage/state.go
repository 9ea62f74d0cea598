// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/dedupvault/lib/codec"
	"github.com/bureau-foundation/dedupvault/lib/dedup"
	"github.com/bureau-foundation/dedupvault/lib/sealed"
	"github.com/bureau-foundation/dedupvault/lib/secret"
)

// StateVersion is the snapshot format version written to the metadata
// file.
const StateVersion = 1

const (
	stateDirectory = "state"
	sketchFile     = "sketch.bin"
	topKFile       = "topk.bin"
	metaFile       = "meta.cbor"
)

// ErrStateMismatch means a snapshot was written by an engine with
// different dimensions or mode.
var ErrStateMismatch = errors.New("storage: saved index state does not match engine configuration")

// StateMeta describes a snapshot. It is written last, so a snapshot
// without metadata is incomplete and ignored.
type StateMeta struct {
	Version    int              `cbor:"version"`
	Shape      dedup.StateShape `cbor:"shape"`
	HotEntries int              `cbor:"hot_entries"`
	Sealed     bool             `cbor:"sealed"`
	SavedAt    time.Time        `cbor:"saved_at"`
}

// StateOptions controls snapshot sealing.
type StateOptions struct {
	// Recipients are age public keys. When non-empty the sketch and
	// top-K files are sealed to them.
	Recipients []string

	// Identity is the age private key used to open sealed snapshots.
	Identity *secret.Buffer
}

// SaveState snapshots engine's frequency state under root/state.
func SaveState(root string, engine *dedup.Engine, options StateOptions) error {
	directory := filepath.Join(root, stateDirectory)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	// Remove the old metadata first so a crash mid-save leaves no
	// snapshot rather than a mixed one.
	if err := os.Remove(filepath.Join(directory, metaFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing previous state metadata: %w", err)
	}

	var sketchState, hotState bytes.Buffer
	if err := engine.SaveState(&sketchState, &hotState); err != nil {
		return err
	}
	for name, state := range map[string]*bytes.Buffer{sketchFile: &sketchState, topKFile: &hotState} {
		data, err := sealState(state.Bytes(), options.Recipients)
		if err != nil {
			return fmt.Errorf("sealing %s: %w", name, err)
		}
		if err := writeFileAtomic(directory, filepath.Join(directory, name), data, true); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	meta := StateMeta{
		Version:    StateVersion,
		Shape:      engine.StateShape(),
		HotEntries: engine.Stats().HotEntries,
		Sealed:     len(options.Recipients) > 0,
		SavedAt:    time.Now().UTC(),
	}
	encoded, err := codec.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding state metadata: %w", err)
	}
	if err := writeFileAtomic(directory, filepath.Join(directory, metaFile), encoded, true); err != nil {
		return fmt.Errorf("writing state metadata: %w", err)
	}
	return nil
}

func sealState(plain []byte, recipients []string) ([]byte, error) {
	if len(recipients) == 0 {
		return plain, nil
	}
	var ciphertext bytes.Buffer
	writer, err := sealed.NewWriter(&ciphertext, recipients)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(plain); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return ciphertext.Bytes(), nil
}

// LoadState restores engine's frequency state from root/state.
// Returns false with no error when there is no complete snapshot. A
// snapshot that exists but cannot be loaded is an error; starting with
// a silently empty index would hide the problem.
func LoadState(root string, engine *dedup.Engine, options StateOptions) (*StateMeta, bool, error) {
	directory := filepath.Join(root, stateDirectory)
	encoded, err := os.ReadFile(filepath.Join(directory, metaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading state metadata: %w", err)
	}

	var meta StateMeta
	if err := codec.Unmarshal(encoded, &meta); err != nil {
		return nil, false, fmt.Errorf("decoding state metadata: %w", err)
	}
	if meta.Version != StateVersion {
		return nil, false, fmt.Errorf("%w: snapshot version %d, want %d", ErrStateMismatch, meta.Version, StateVersion)
	}
	if meta.Shape != engine.StateShape() {
		return nil, false, fmt.Errorf("%w: snapshot %+v, engine %+v", ErrStateMismatch, meta.Shape, engine.StateShape())
	}
	if meta.Sealed && options.Identity == nil {
		return nil, false, fmt.Errorf("state snapshot is sealed but no identity is configured")
	}

	sketchIn, err := openState(filepath.Join(directory, sketchFile), meta.Sealed, options.Identity)
	if err != nil {
		return nil, false, err
	}
	defer sketchIn.Close()
	hotIn, err := openState(filepath.Join(directory, topKFile), meta.Sealed, options.Identity)
	if err != nil {
		return nil, false, err
	}
	defer hotIn.Close()

	if err := engine.LoadState(sketchIn, hotIn); err != nil {
		return nil, false, err
	}
	return &meta, true, nil
}

type stateReader struct {
	io.Reader
	file *os.File
}

func (r stateReader) Close() error { return r.file.Close() }

func openState(path string, isSealed bool, identity *secret.Buffer) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	if !isSealed {
		return file, nil
	}
	reader, err := sealed.NewReader(file, identity)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("opening sealed %s: %w", filepath.Base(path), err)
	}
	return stateReader{Reader: reader, file: file}, nil
}
