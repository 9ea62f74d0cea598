// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"testing"
	"time"

	"github.com/bureau-foundation/dedupvault/lib/chunker"
	"github.com/bureau-foundation/dedupvault/lib/coldindex"
	"github.com/bureau-foundation/dedupvault/lib/dedup"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
	"github.com/bureau-foundation/dedupvault/lib/secret"
	"github.com/bureau-foundation/dedupvault/lib/session"
	"github.com/bureau-foundation/dedupvault/lib/storage"
)

// startServer returns a dial function connecting to an in-process
// server over net.Pipe.
func startServer(t *testing.T) func(context.Context) (net.Conn, error) {
	t.Helper()
	return startServerWith(t, nil)
}

// startServerWith is startServer with a hook to adjust the engine
// configuration.
func startServerWith(t *testing.T, mutate func(*dedup.Config)) func(context.Context) (net.Conn, error) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	disk, err := storage.Open(ctx, storage.Config{Root: t.TempDir(), IndexBackend: coldindex.BackendMemory, Logger: logger})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { disk.Close() })

	master, err := secret.Random(dedup.MinMasterSecretSize)
	if err != nil {
		t.Fatalf("secret.Random: %v", err)
	}
	defer master.Close()
	keys, err := dedup.DeriveKeys(master)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	engineConfig := dedup.Config{
		Backend:          disk,
		Keys:             keys,
		SketchWidth:      1024,
		TopK:             64,
		MaxContainerSize: 64 << 10,
		Capping:          2,
		Logger:           logger,
	}
	if mutate != nil {
		mutate(&engineConfig)
	}
	engine, err := dedup.New(engineConfig)
	if err != nil {
		t.Fatalf("dedup.New: %v", err)
	}
	server, err := session.NewServer(session.Config{
		Engine:       engine,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return func(context.Context) (net.Conn, error) {
		clientSide, serverSide := net.Pipe()
		go server.ServeConn(ctx, serverSide)
		return clientSide, nil
	}
}

func newTestClient(t *testing.T, dial func(context.Context) (net.Conn, error), mutate func(*Config)) *Client {
	t.Helper()
	config := Config{
		ClientID:  7,
		Dial:      dial,
		IOTimeout: 5 * time.Second,
		Logger:    slog.New(slog.DiscardHandler),
	}
	if mutate != nil {
		mutate(&config)
	}
	client, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func testData(seed byte, size int) []byte {
	data := make([]byte, size)
	rand.NewChaCha8([32]byte{seed}).Read(data)
	return data
}

func TestUploadRestoreRoundTrip(t *testing.T) {
	chunkings := map[string]chunker.Config{
		"cdc":   chunker.DefaultConfig(),
		"fixed": {Method: chunker.MethodFixed, AverageSize: 4096},
	}
	for name, chunking := range chunkings {
		t.Run(name, func(t *testing.T) {
			dial := startServer(t)
			client := newTestClient(t, dial, func(c *Config) {
				c.Chunking = chunking
				c.ChunkBatchSize = 5
			})
			data := testData(1, 300<<10)

			uploaded, err := client.Upload(context.Background(), "photos.tar", bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Upload: %v", err)
			}
			if uploaded.Bytes != uint64(len(data)) {
				t.Errorf("uploaded bytes = %d, want %d", uploaded.Bytes, len(data))
			}
			if uploaded.UniqueChunks != uploaded.Chunks {
				t.Errorf("unique chunks = %d, want all %d for random data", uploaded.UniqueChunks, uploaded.Chunks)
			}

			var restored bytes.Buffer
			result, err := client.Restore(context.Background(), "photos.tar", &restored)
			if err != nil {
				t.Fatalf("Restore: %v", err)
			}
			if !bytes.Equal(restored.Bytes(), data) {
				t.Fatalf("restored %d bytes differ from the %d uploaded", restored.Len(), len(data))
			}
			if result.Chunks != uploaded.Chunks {
				t.Errorf("restored %d chunks, uploaded %d", result.Chunks, uploaded.Chunks)
			}
			if result.FileID != uploaded.FileID {
				t.Errorf("restore file ID %s, upload file ID %s", result.FileID, uploaded.FileID)
			}
		})
	}
}

func TestSecondUploadDeduplicates(t *testing.T) {
	dial := startServer(t)
	client := newTestClient(t, dial, nil)
	data := testData(2, 200<<10)

	if _, err := client.Upload(context.Background(), "first", bytes.NewReader(data)); err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	second, err := client.Upload(context.Background(), "second", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if second.UniqueChunks != 0 {
		t.Errorf("second upload stored %d unique chunks, want 0", second.UniqueChunks)
	}
	if second.Chunks == 0 {
		t.Error("second upload reported no chunks")
	}

	var restored bytes.Buffer
	if _, err := client.Restore(context.Background(), "second", &restored); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !bytes.Equal(restored.Bytes(), data) {
		t.Error("deduplicated file did not restore")
	}
}

func TestFileIdentityIncludesClientID(t *testing.T) {
	dial := startServer(t)
	owner := newTestClient(t, dial, nil)
	other := newTestClient(t, dial, func(c *Config) { c.ClientID = 8 })

	if _, err := owner.Upload(context.Background(), "notes", bytes.NewReader(testData(3, 10<<10))); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	_, err := other.Restore(context.Background(), "notes", &bytes.Buffer{})
	if !errors.Is(err, ErrFileNotExist) {
		t.Errorf("Restore by another client = %v, want ErrFileNotExist", err)
	}
}

func TestRestoreUnknownFile(t *testing.T) {
	client := newTestClient(t, startServer(t), nil)
	_, err := client.Restore(context.Background(), "missing", &bytes.Buffer{})
	if !errors.Is(err, ErrFileNotExist) {
		t.Errorf("Restore = %v, want ErrFileNotExist", err)
	}
}

func TestUploadRespectsPayloadLimit(t *testing.T) {
	dial := startServer(t)
	// Fixed 1000 byte chunks in frames of at most 2500 bytes: two
	// chunks per frame regardless of the batch size.
	small := newTestClient(t, dial, func(c *Config) {
		c.Chunking = chunker.Config{Method: chunker.MethodFixed, AverageSize: 1000}
		c.MaxPayload = 2500
	})
	data := testData(4, 9500)
	uploaded, err := small.Upload(context.Background(), "framed", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if uploaded.Chunks != 10 {
		t.Errorf("uploaded %d chunks, want 10", uploaded.Chunks)
	}

	var restored bytes.Buffer
	if _, err := newTestClient(t, dial, nil).Restore(context.Background(), "framed", &restored); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !bytes.Equal(restored.Bytes(), data) {
		t.Error("restored data differs")
	}
}

func TestProbe(t *testing.T) {
	dial := startServer(t)
	client := newTestClient(t, dial, func(c *Config) { c.MaxPayload = 3 * fingerprint.Size })
	data := testData(5, 100<<10)
	if _, err := client.Upload(context.Background(), "probed", bytes.NewReader(data)); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	chunks, err := chunker.All(bytes.NewReader(data), chunker.DefaultConfig())
	if err != nil {
		t.Fatalf("chunker.All: %v", err)
	}
	var fps []fingerprint.Fingerprint
	for _, chunk := range chunks {
		fps = append(fps, fingerprint.Sum(chunk))
	}
	fps = append(fps, fingerprint.Sum([]byte("never uploaded")))

	found, err := client.Probe(context.Background(), fps)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if len(found) != len(fps) {
		t.Fatalf("got %d statuses, want %d", len(found), len(fps))
	}
	for index := range chunks {
		if !found[index] {
			t.Errorf("chunk %d reported missing", index)
		}
	}
	if found[len(found)-1] {
		t.Error("unknown fingerprint reported present")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New accepted a config without an address")
	}
	_, err := New(Config{Address: "/tmp/dedupvault.sock", MaxChunkSize: 4096})
	if err == nil {
		t.Error("New accepted a chunker larger than the server's chunk limit")
	}
	client, err := New(Config{Address: "/tmp/dedupvault.sock"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if client.config.Network != "unix" || client.config.ChunkBatchSize != DefaultChunkBatchSize {
		t.Errorf("defaults not applied: %+v", client.config)
	}
}

func TestRestoreSplitsLargeBatchesByPayload(t *testing.T) {
	dial := startServerWith(t, func(c *dedup.Config) {
		c.ChunkBatchSize = 1024
		c.MaxContainerSize = 1 << 20
		c.Capping = 8
	})
	client := newTestClient(t, dial, func(c *Config) {
		c.Chunking = chunker.Config{Method: chunker.MethodFixed, AverageSize: 16 << 10}
		c.ChunkBatchSize = 1024
	})
	// 600 full chunks are more than one default payload in a single
	// chunk batch.
	data := testData(9, 600*(16<<10))

	uploaded, err := client.Upload(context.Background(), "disk.img", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if uploaded.Chunks != 600 {
		t.Fatalf("uploaded %d chunks, want 600", uploaded.Chunks)
	}

	var restored bytes.Buffer
	result, err := client.Restore(context.Background(), "disk.img", &restored)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !bytes.Equal(restored.Bytes(), data) {
		t.Fatalf("restored %d bytes differ from the %d uploaded", restored.Len(), len(data))
	}
	if result.Chunks != 600 {
		t.Errorf("restored %d chunks, want 600", result.Chunks)
	}
}
