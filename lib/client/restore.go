// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"io"

	"github.com/bureau-foundation/dedupvault/lib/recipe"
	"github.com/bureau-foundation/dedupvault/lib/wire"
)

// RestoreResult reports a completed restore.
type RestoreResult struct {
	FileID recipe.FileID
	Head   recipe.Head
	Chunks uint64
	Bytes  uint64
}

// Restore writes the file previously uploaded as name to destination.
// It returns ErrFileNotExist when the server has no such file, and an
// error if the restored stream disagrees with the file's head.
func (c *Client) Restore(ctx context.Context, name string, destination io.Writer) (*RestoreResult, error) {
	fileID := recipe.NewFileID(name, c.config.ClientID)
	connection, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer connection.Close()
	defer connection.closeOnCancel(ctx)()

	if err := connection.writeControl(wire.ClientLoginRestore, wire.LoginRequest{FileID: fileID}); err != nil {
		return nil, fmt.Errorf("restore login: %w", err)
	}
	header, payload, err := connection.read("restore login")
	if err != nil {
		return nil, err
	}
	switch header.Type {
	case wire.ServerFileNotExist:
		return nil, fmt.Errorf("restoring %q: %w", name, ErrFileNotExist)
	case wire.ServerLoginResponse:
	default:
		return nil, fmt.Errorf("restore login: %w: unexpected %s", wire.ErrMalformed, header.Type)
	}
	var login wire.LoginResponse
	if err := wire.DecodeControl(payload, &login); err != nil {
		return nil, fmt.Errorf("restore login: %w", err)
	}

	result := &RestoreResult{FileID: fileID, Head: login.Head}
	for {
		header, payload, err := connection.read("restore")
		if err != nil {
			return nil, err
		}
		switch header.Type {
		case wire.ServerRestoreChunks:
			chunks, err := wire.ParseChunks(payload, header.ItemCount, c.config.MaxChunkSize)
			if err != nil {
				return nil, fmt.Errorf("restore: %w", err)
			}
			for _, chunk := range chunks {
				if _, err := destination.Write(chunk); err != nil {
					return nil, fmt.Errorf("writing restored data: %w", err)
				}
				result.Chunks++
				result.Bytes += uint64(len(chunk))
			}

		case wire.ServerRestoreFinal:
			if result.Chunks != login.Head.TotalChunkNum || result.Bytes != login.Head.FileSize {
				return nil, fmt.Errorf("restore: received %d chunks (%d bytes), head announced %d chunks (%d bytes)",
					result.Chunks, result.Bytes, login.Head.TotalChunkNum, login.Head.FileSize)
			}
			c.logger.Info("restore complete", "file", fileID.String(), "chunks", result.Chunks, "bytes", result.Bytes)
			return result, nil

		default:
			return nil, fmt.Errorf("restore: %w: unexpected %s", wire.ErrMalformed, header.Type)
		}
	}
}
