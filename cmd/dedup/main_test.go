// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/dedupvault/lib/chunker"
	"github.com/bureau-foundation/dedupvault/lib/dedup"
	"github.com/bureau-foundation/dedupvault/lib/sealed"
	"github.com/bureau-foundation/dedupvault/lib/secret"
)

func TestFingerprintFile(t *testing.T) {
	data := make([]byte, 100<<10)
	rand.NewChaCha8([32]byte{9}).Read(data)

	fps, sizes, err := fingerprintFile(bytes.NewReader(data), chunker.DefaultConfig())
	if err != nil {
		t.Fatalf("fingerprintFile: %v", err)
	}
	if len(fps) != len(sizes) || len(fps) == 0 {
		t.Fatalf("got %d fingerprints and %d sizes", len(fps), len(sizes))
	}
	total := 0
	for _, size := range sizes {
		total += size
	}
	if total != len(data) {
		t.Errorf("chunk sizes sum to %d, want %d", total, len(data))
	}
}

func TestKeygenFiles(t *testing.T) {
	directory := t.TempDir()
	masterPath := filepath.Join(directory, "keys", "master.key")
	if err := writeMasterSecret(masterPath); err != nil {
		t.Fatalf("writeMasterSecret: %v", err)
	}
	master, err := secret.ReadHexFromPath(masterPath)
	if err != nil {
		t.Fatalf("ReadHexFromPath: %v", err)
	}
	defer master.Close()
	if _, err := dedup.DeriveKeys(master); err != nil {
		t.Errorf("generated master secret is unusable: %v", err)
	}
	if err := writeMasterSecret(masterPath); err == nil {
		t.Error("keygen overwrote an existing master secret")
	}

	identityPath := filepath.Join(directory, "state.age")
	publicKey, err := writeStateIdentity(identityPath)
	if err != nil {
		t.Fatalf("writeStateIdentity: %v", err)
	}
	identity, err := secret.ReadFromPath(identityPath)
	if err != nil {
		t.Fatalf("ReadFromPath: %v", err)
	}
	defer identity.Close()
	recipient, err := sealed.Recipient(identity)
	if err != nil {
		t.Fatalf("Recipient: %v", err)
	}
	if recipient != publicKey {
		t.Errorf("identity's recipient %q differs from printed key %q", recipient, publicKey)
	}
}

func TestUnknownCommand(t *testing.T) {
	err := root().execute([]string{"dedupe"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("execute = %v, want an unknown command error", err)
	}
	if err := root().execute([]string{"upload"}); err == nil {
		t.Error("upload without a file succeeded")
	}
}
