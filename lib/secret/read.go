// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
)

// ReadFromPath reads a secret from a file path, or from stdin if path is "-".
// The returned buffer is mmap-backed (locked into RAM, excluded from core
// dumps) and must be closed by the caller. Leading/trailing whitespace is
// trimmed before storing. Returns an error if the source is empty after
// trimming.
func ReadFromPath(path string) (*Buffer, error) {
	var data []byte

	if path == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			return nil, fmt.Errorf("stdin is empty")
		}
		data = scanner.Bytes()
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret is empty")
	}

	// NewFromBytes copies into mmap-backed memory and zeros trimmed.
	buffer, err := NewFromBytes(trimmed)
	// Zero remaining bytes (whitespace prefix/suffix) not covered by trimmed.
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// ReadHexFromPath reads a hex-encoded secret (the form written by
// WriteHexFile) and returns the decoded bytes. The encoded text is
// zeroed once decoded.
func ReadHexFromPath(path string) (*Buffer, error) {
	encoded, err := ReadFromPath(path)
	if err != nil {
		return nil, err
	}
	defer encoded.Close()

	text := encoded.Bytes()
	if len(text)%2 != 0 {
		return nil, fmt.Errorf("secret in %s has odd hex length %d", path, len(text))
	}
	decoded, err := New(len(text) / 2)
	if err != nil {
		return nil, err
	}
	if _, err := hex.Decode(decoded.Bytes(), text); err != nil {
		decoded.Close()
		return nil, fmt.Errorf("secret in %s is not hex: %w", path, err)
	}
	return decoded, nil
}

// WriteHexFile writes buffer hex-encoded to path with mode 0600,
// refusing to replace an existing file.
func WriteHexFile(path string, buffer *Buffer) error {
	encoded := make([]byte, hex.EncodedLen(buffer.Len()))
	defer Zero(encoded)
	hex.Encode(encoded, buffer.Bytes())
	return writeSecretFile(path, encoded)
}

// WriteFile writes buffer's bytes followed by a newline to path with
// mode 0600, refusing to replace an existing file. ReadFromPath reads
// it back.
func WriteFile(path string, buffer *Buffer) error {
	return writeSecretFile(path, buffer.Bytes())
}

func writeSecretFile(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating secret file: %w", err)
	}
	_, err = file.Write(data)
	if err == nil {
		_, err = file.Write([]byte{'\n'})
	}
	if err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("writing secret file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("closing secret file: %w", err)
	}
	return nil
}
