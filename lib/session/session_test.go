// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/dedupvault/lib/coldindex"
	"github.com/bureau-foundation/dedupvault/lib/dedup"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
	"github.com/bureau-foundation/dedupvault/lib/recipe"
	"github.com/bureau-foundation/dedupvault/lib/secret"
	"github.com/bureau-foundation/dedupvault/lib/storage"
	"github.com/bureau-foundation/dedupvault/lib/testutil"
	"github.com/bureau-foundation/dedupvault/lib/wire"
)

func newTestServer(t *testing.T) (*Server, *dedup.Engine) {
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
	engine, err := dedup.New(dedup.Config{
		Backend:          disk,
		Keys:             keys,
		SketchWidth:      256,
		TopK:             32,
		MaxChunkSize:     4096,
		MaxContainerSize: 16 << 10,
		ChunkBatchSize:   3,
		Logger:           logger,
	})
	if err != nil {
		t.Fatalf("dedup.New: %v", err)
	}
	server, err := NewServer(Config{Engine: engine, MaxChunkSize: 4096, ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, Logger: logger})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return server, engine
}

// testClient speaks raw frames to a server over a pipe.
type testClient struct {
	t    *testing.T
	conn net.Conn
	id   uint32
}

func connect(t *testing.T, server *Server, clientID uint32) *testClient {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.ServeConn(context.Background(), serverSide)
	}()
	t.Cleanup(func() {
		clientSide.Close()
		testutil.RequireClosed(t, done, 5*time.Second, "session goroutine exit")
	})
	clientSide.SetDeadline(time.Now().Add(10 * time.Second))
	return &testClient{t: t, conn: clientSide, id: clientID}
}

func (c *testClient) send(messageType wire.MessageType, count uint32, payload []byte) {
	c.t.Helper()
	if err := wire.WriteFrame(c.conn, wire.Header{Type: messageType, ClientID: c.id, ItemCount: count}, payload); err != nil {
		c.t.Fatalf("sending %s: %v", messageType, err)
	}
}

func (c *testClient) sendControl(messageType wire.MessageType, message any) {
	c.t.Helper()
	payload, err := wire.EncodeControl(message)
	if err != nil {
		c.t.Fatalf("EncodeControl: %v", err)
	}
	c.send(messageType, 0, payload)
}

func (c *testClient) receive(want wire.MessageType) (wire.Header, []byte) {
	c.t.Helper()
	header, payload, err := wire.ReadFrame(c.conn, wire.DefaultMaxPayload)
	if err != nil {
		c.t.Fatalf("waiting for %s: %v", want, err)
	}
	if header.Type != want {
		var response wire.ErrorResponse
		wire.DecodeControl(payload, &response)
		c.t.Fatalf("received %s (%q), want %s", header.Type, response.Message, want)
	}
	return header, payload
}

func makeChunks(count, size int) [][]byte {
	chunks := make([][]byte, count)
	for index := range chunks {
		chunk := make([]byte, size)
		for offset := 0; offset+8 <= size; offset += 8 {
			binary.LittleEndian.PutUint64(chunk[offset:], uint64(index+1)*0x9e3779b97f4a7c15^uint64(offset))
		}
		chunks[index] = chunk
	}
	return chunks
}

func (c *testClient) upload(fileID recipe.FileID, chunks [][]byte, batch int) wire.UploadDone {
	c.t.Helper()
	c.sendControl(wire.ClientLoginUpload, wire.LoginRequest{FileID: fileID})
	c.receive(wire.ServerLoginResponse)

	var head recipe.Head
	for start := 0; start < len(chunks); start += batch {
		run := wire.NewChunkRun(0)
		for _, chunk := range chunks[start:min(start+batch, len(chunks))] {
			run.Add(chunk)
			head.FileSize += uint64(len(chunk))
			head.TotalChunkNum++
		}
		c.send(wire.ClientUploadChunks, uint32(run.Count()), run.Bytes())
	}
	c.sendControl(wire.ClientUploadEnd, head)
	_, payload := c.receive(wire.ServerUploadDone)
	var done wire.UploadDone
	if err := wire.DecodeControl(payload, &done); err != nil {
		c.t.Fatalf("decoding upload done: %v", err)
	}
	return done
}

func TestUploadThenRestore(t *testing.T) {
	server, _ := newTestServer(t)
	fileID := recipe.NewFileID("photos.tar", 5)
	chunks := makeChunks(10, 3000)
	chunks = append(chunks, chunks[2], chunks[7])

	done := connect(t, server, 5).upload(fileID, chunks, 4)
	if done.Chunks != 12 || done.UniqueChunks != 10 {
		t.Errorf("UploadDone = %+v, want 12 chunks, 10 unique", done)
	}

	client := connect(t, server, 5)
	client.sendControl(wire.ClientLoginRestore, wire.LoginRequest{FileID: fileID})
	_, payload := client.receive(wire.ServerLoginResponse)
	var response wire.LoginResponse
	if err := wire.DecodeControl(payload, &response); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	if response.Head.TotalChunkNum != 12 || response.Head.FileSize != 36000 {
		t.Errorf("Head = %+v", response.Head)
	}

	var restored [][]byte
	for {
		header, payload, err := wire.ReadFrame(client.conn, wire.DefaultMaxPayload)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if header.Type == wire.ServerRestoreFinal {
			break
		}
		if header.Type != wire.ServerRestoreChunks {
			t.Fatalf("unexpected %s during restore", header.Type)
		}
		if header.ItemCount > 3 {
			t.Errorf("batch of %d chunks exceeds the configured 3", header.ItemCount)
		}
		batch, err := wire.ParseChunks(payload, header.ItemCount, 4096)
		if err != nil {
			t.Fatalf("ParseChunks: %v", err)
		}
		restored = append(restored, batch...)
	}
	if len(restored) != len(chunks) {
		t.Fatalf("restored %d chunks, want %d", len(restored), len(chunks))
	}
	for index := range chunks {
		if !bytes.Equal(restored[index], chunks[index]) {
			t.Errorf("chunk %d differs", index)
		}
	}
}

func TestRestoreUnknownFile(t *testing.T) {
	server, _ := newTestServer(t)
	client := connect(t, server, 1)
	client.sendControl(wire.ClientLoginRestore, wire.LoginRequest{FileID: recipe.NewFileID("missing", 1)})
	client.receive(wire.ServerFileNotExist)
}

func TestMalformedChunkRunAbortsUpload(t *testing.T) {
	server, engine := newTestServer(t)
	fileID := recipe.NewFileID("bad", 3)

	client := connect(t, server, 3)
	client.sendControl(wire.ClientLoginUpload, wire.LoginRequest{FileID: fileID})
	client.receive(wire.ServerLoginResponse)

	run := wire.NewChunkRun(0)
	run.Add([]byte("only one chunk"))
	client.send(wire.ClientUploadChunks, 4, run.Bytes())
	client.receive(wire.ServerError)

	if stats := engine.Stats(); stats.UploadsAborted != 1 || stats.LogicalChunks != 0 {
		t.Errorf("aborted=%d logical=%d, want 1 and 0", stats.UploadsAborted, stats.LogicalChunks)
	}
	other := connect(t, server, 3)
	other.sendControl(wire.ClientLoginRestore, wire.LoginRequest{FileID: fileID})
	other.receive(wire.ServerFileNotExist)
}

func TestOversizedChunkRejected(t *testing.T) {
	server, _ := newTestServer(t)
	client := connect(t, server, 8)
	client.sendControl(wire.ClientLoginUpload, wire.LoginRequest{FileID: recipe.NewFileID("big", 8)})
	client.receive(wire.ServerLoginResponse)

	run := wire.NewChunkRun(0)
	run.Add(make([]byte, 4097))
	client.send(wire.ClientUploadChunks, 1, run.Bytes())
	client.receive(wire.ServerError)
}

func TestHeadMismatchReported(t *testing.T) {
	server, _ := newTestServer(t)
	client := connect(t, server, 2)
	client.sendControl(wire.ClientLoginUpload, wire.LoginRequest{FileID: recipe.NewFileID("short", 2)})
	client.receive(wire.ServerLoginResponse)

	run := wire.NewChunkRun(0)
	run.Add([]byte("data"))
	client.send(wire.ClientUploadChunks, 1, run.Bytes())
	client.sendControl(wire.ClientUploadEnd, recipe.Head{FileSize: 4, TotalChunkNum: 2})
	client.receive(wire.ServerError)
}

func TestForeignClientIDRejected(t *testing.T) {
	server, _ := newTestServer(t)
	client := connect(t, server, 4)
	client.sendControl(wire.ClientLoginUpload, wire.LoginRequest{FileID: recipe.NewFileID("mixed", 4)})
	client.receive(wire.ServerLoginResponse)

	client.id = 5
	client.send(wire.ClientUploadEnd, 0, nil)
	client.receive(wire.ServerError)
}

func TestProbe(t *testing.T) {
	server, _ := newTestServer(t)
	chunks := makeChunks(3, 1000)
	connect(t, server, 6).upload(recipe.NewFileID("probe", 6), chunks, 3)

	client := connect(t, server, 6)
	fps := []fingerprint.Fingerprint{fingerprint.Sum(chunks[1]), fingerprint.Sum([]byte("never stored"))}
	for range 2 {
		client.send(wire.ClientQueryFingerprints, uint32(len(fps)), wire.EncodeFingerprints(fps))
		header, status := client.receive(wire.ServerFingerprintStatus)
		if header.ItemCount != 2 || !bytes.Equal(status, []byte{1, 0}) {
			t.Errorf("status = %v (%d items), want [1 0]", status, header.ItemCount)
		}
	}
}

func TestServeOnUnixSocket(t *testing.T) {
	server, _ := newTestServer(t)
	path := filepath.Join(testutil.SocketDir(t), "dedupd.sock")
	if err := server.Listen("unix", path); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	client := &testClient{t: t, conn: conn, id: 1}
	client.sendControl(wire.ClientLoginRestore, wire.LoginRequest{FileID: recipe.NewFileID("nothing", 1)})
	client.receive(wire.ServerFileNotExist)
	conn.Close()

	cancel()
	if err := testutil.RequireReceive(t, served, 5*time.Second, "Serve return"); err != nil {
		t.Errorf("Serve: %v", err)
	}
}
