// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recipe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/dedupvault/lib/container"
	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
)

func testEntries(count int) []Entry {
	entries := make([]Entry, count)
	for index := range entries {
		if index%3 == 0 {
			fp := fingerprint.Sum([]byte{byte(index), byte(index >> 8)})
			entries[index] = FingerprintEntry(fp)
			continue
		}
		var id container.ID
		id[0] = byte(index)
		entries[index] = AddressEntry(container.Address{
			Container: id,
			Offset:    uint32(index * 100),
			Length:    uint32(index + 1),
		})
	}
	return entries
}

func writeRecipe(t *testing.T, config WriterConfig, entries []Entry, head Head) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.FileID.FileName())
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer file.Close()

	writer, err := NewWriter(file, config)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, entry := range entries {
		if err := writer.Append(entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := writer.Finish(head); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return path
}

func readAll(t *testing.T, path string, config ReaderConfig, step int) (Head, []Entry, error) {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer file.Close()

	reader, err := NewReader(file, config)
	if err != nil {
		return Head{}, nil, err
	}
	var all []Entry
	for {
		entries, err := reader.Next(step)
		if errors.Is(err, io.EOF) {
			return reader.Head(), all, nil
		}
		if err != nil {
			return reader.Head(), all, err
		}
		all = append(all, entries...)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{7}, KeySize)
	batchCipher, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	tests := []struct {
		name   string
		cipher *Cipher
		count  int
		batch  int
		step   int
	}{
		{name: "plain", count: 10, batch: 4, step: 3},
		{name: "sealed", cipher: batchCipher, count: 10, batch: 4, step: 3},
		{name: "exact batches", cipher: batchCipher, count: 8, batch: 4, step: 8},
		{name: "single entry", cipher: batchCipher, count: 1, batch: 1024, step: 16},
		{name: "empty", cipher: batchCipher, count: 0, batch: 4, step: 4},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			fileID := NewFileID("report.pdf", 42)
			entries := testEntries(test.count)
			head := Head{FileSize: 12345, TotalChunkNum: uint64(test.count)}
			path := writeRecipe(t, WriterConfig{FileID: fileID, Cipher: test.cipher, BatchSize: test.batch}, entries, head)

			gotHead, got, err := readAll(t, path, ReaderConfig{FileID: fileID, Cipher: test.cipher}, test.step)
			if err != nil {
				t.Fatalf("reading recipe: %v", err)
			}
			if gotHead != head {
				t.Errorf("head = %+v, want %+v", gotHead, head)
			}
			if len(got) != len(entries) {
				t.Fatalf("read %d entries, want %d", len(got), len(entries))
			}
			for index := range entries {
				if got[index] != entries[index] {
					t.Errorf("entry %d = %+v, want %+v", index, got[index], entries[index])
				}
			}
		})
	}
}

func TestLocationByte(t *testing.T) {
	t.Parallel()

	fileID := NewFileID("a", 1)
	path := writeRecipe(t, WriterConfig{FileID: fileID, Location: LocationCloud}, testEntries(2), Head{TotalChunkNum: 2})

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer file.Close()
	reader, err := NewReader(file, ReaderConfig{FileID: fileID})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if reader.Location() != LocationCloud {
		t.Errorf("Location = %s, want cloud", reader.Location())
	}
}

func TestFinishRejectsCountMismatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "r")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer file.Close()

	writer, err := NewWriter(file, WriterConfig{FileID: NewFileID("a", 1)})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, entry := range testEntries(3) {
		if err := writer.Append(entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := writer.Finish(Head{TotalChunkNum: 4}); err == nil {
		t.Fatal("Finish accepted a head that disagrees with the entry count")
	}
}

func TestWrongFileIDFailsAuthentication(t *testing.T) {
	t.Parallel()

	batchCipher, err := NewCipher(bytes.Repeat([]byte{1}, KeySize))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	path := writeRecipe(t, WriterConfig{FileID: NewFileID("a", 1), Cipher: batchCipher}, testEntries(5), Head{TotalChunkNum: 5})

	_, _, err = readAll(t, path, ReaderConfig{FileID: NewFileID("a", 2), Cipher: batchCipher}, 5)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestTruncatedRecipe(t *testing.T) {
	t.Parallel()

	fileID := NewFileID("a", 1)
	path := writeRecipe(t, WriterConfig{FileID: fileID, BatchSize: 2}, testEntries(6), Head{TotalChunkNum: 6})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	t.Run("mid batch", func(t *testing.T) {
		truncated := filepath.Join(t.TempDir(), "mid")
		if err := os.WriteFile(truncated, data[:len(data)-3], 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		_, _, err := readAll(t, truncated, ReaderConfig{FileID: fileID}, 2)
		if !errors.Is(err, ErrCorrupt) {
			t.Fatalf("err = %v, want ErrCorrupt", err)
		}
	})

	t.Run("missing batch", func(t *testing.T) {
		// Each plain batch of two address entries is 8 + 2*25 bytes.
		truncated := filepath.Join(t.TempDir(), "missing")
		if err := os.WriteFile(truncated, data[:len(data)-58], 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		_, _, err := readAll(t, truncated, ReaderConfig{FileID: fileID}, 2)
		if !errors.Is(err, ErrCorrupt) {
			t.Fatalf("err = %v, want ErrCorrupt", err)
		}
	})
}

func TestReaderAcceptsAnyBatchSizeUpToMaximum(t *testing.T) {
	t.Parallel()

	fileID := NewFileID("archive.tar", 3)
	entries := testEntries(5000)
	head := Head{TotalChunkNum: uint64(len(entries))}
	path := writeRecipe(t, WriterConfig{FileID: fileID, BatchSize: 4096}, entries, head)

	// The reader has no notion of the batch size the writer used.
	_, got, err := readAll(t, path, ReaderConfig{FileID: fileID}, 100)
	if err != nil {
		t.Fatalf("reading recipe: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("read %d entries, want %d", len(got), len(entries))
	}
	for index := range entries {
		if got[index] != entries[index] {
			t.Fatalf("entry %d = %+v, want %+v", index, got[index], entries[index])
		}
	}
}

func TestBatchSizeMaximum(t *testing.T) {
	t.Parallel()

	fileID := NewFileID("a", 1)
	file, err := os.Create(filepath.Join(t.TempDir(), "oversized"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer file.Close()
	if _, err := NewWriter(file, WriterConfig{FileID: fileID, BatchSize: MaxBatchSize + 1}); err == nil {
		t.Error("NewWriter accepted a batch size above the maximum")
	}

	path := writeRecipe(t, WriterConfig{FileID: fileID, BatchSize: 2}, testEntries(2), Head{TotalChunkNum: 2})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	binary.LittleEndian.PutUint32(data[HeadSize+1:], MaxBatchSize+1)
	patched := filepath.Join(t.TempDir(), "patched")
	if err := os.WriteFile(patched, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := readAll(t, patched, ReaderConfig{FileID: fileID}, 2); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestFileID(t *testing.T) {
	t.Parallel()

	if NewFileID("a", 1) == NewFileID("a", 2) {
		t.Error("file IDs for different clients collide")
	}
	if NewFileID("a1", 1) != NewFileID("a", 11) {
		t.Error("file ID should hash the concatenation of name and decimal client id")
	}
	name := NewFileID("a", 1).FileName()
	if filepath.Ext(name) != ".recipe" || len(name) != 64+len(".recipe") {
		t.Errorf("FileName = %q", name)
	}
}
