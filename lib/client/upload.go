// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/dedupvault/lib/chunker"
	"github.com/bureau-foundation/dedupvault/lib/recipe"
	"github.com/bureau-foundation/dedupvault/lib/wire"
)

// itemKind tags entries in the upload queue.
type itemKind uint8

const (
	itemChunk itemKind = iota
	itemRecipeEnd
)

// item is one entry of the upload queue. Chunk items own their data;
// the end item carries the head of the whole file.
type item struct {
	kind  itemKind
	chunk []byte
	head  recipe.Head
}

// UploadResult reports what the server recorded for an upload.
type UploadResult struct {
	FileID recipe.FileID
	wire.UploadDone
}

// Upload chunks source and stores it on the server under name.
func (c *Client) Upload(ctx context.Context, name string, source io.Reader) (*UploadResult, error) {
	fileID := recipe.NewFileID(name, c.config.ClientID)
	connection, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer connection.Close()
	defer connection.closeOnCancel(ctx)()

	if err := connection.writeControl(wire.ClientLoginUpload, wire.LoginRequest{FileID: fileID}); err != nil {
		return nil, fmt.Errorf("upload login: %w", err)
	}
	if _, _, err := connection.expect("upload login", wire.ServerLoginResponse); err != nil {
		return nil, err
	}

	queue := make(chan item, c.config.QueueDepth)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(queue)
		return c.produce(groupCtx, source, queue)
	})
	var sendErr error
	group.Go(func() error {
		sendErr = c.send(groupCtx, connection, queue)
		return sendErr
	})
	if err := group.Wait(); err != nil {
		// A server that rejects a batch reports why before closing;
		// prefer that message over the resulting broken pipe.
		if sendErr != nil && !errors.Is(sendErr, context.Canceled) {
			if _, _, readErr := connection.read("upload"); errors.As(readErr, new(*ServerError)) {
				return nil, readErr
			}
		}
		return nil, err
	}

	_, payload, err := connection.expect("upload", wire.ServerUploadDone)
	if err != nil {
		return nil, err
	}
	result := &UploadResult{FileID: fileID}
	if err := wire.DecodeControl(payload, &result.UploadDone); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	c.logger.Info("upload complete",
		"file", fileID.String(),
		"chunks", result.Chunks,
		"bytes", result.Bytes,
		"unique_chunks", result.UniqueChunks,
	)
	return result, nil
}

// produce chunks source into the queue and ends with the recipe head.
func (c *Client) produce(ctx context.Context, source io.Reader, queue chan<- item) error {
	split, err := chunker.New(source, c.config.Chunking)
	if err != nil {
		return err
	}
	var head recipe.Head
	for {
		chunk, err := split.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		head.FileSize += uint64(len(chunk))
		head.TotalChunkNum++
		if err := enqueue(ctx, queue, item{kind: itemChunk, chunk: append([]byte(nil), chunk...)}); err != nil {
			return err
		}
	}
	return enqueue(ctx, queue, item{kind: itemRecipeEnd, head: head})
}

func enqueue(ctx context.Context, queue chan<- item, next item) error {
	select {
	case queue <- next:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send drains the queue into chunk frames of at most ChunkBatchSize
// chunks and MaxPayload bytes, then sends the end marker.
func (c *Client) send(ctx context.Context, connection *conn, queue <-chan item) error {
	run := wire.NewChunkRun(c.config.ChunkBatchSize * c.config.Chunking.Limit())
	flush := func() error {
		if run.Count() == 0 {
			return nil
		}
		if err := connection.write(wire.ClientUploadChunks, run.Count(), run.Bytes()); err != nil {
			return fmt.Errorf("sending chunk batch: %w", err)
		}
		run.Reset()
		return nil
	}

	for {
		var next item
		var ok bool
		select {
		case next, ok = <-queue:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			return fmt.Errorf("upload queue closed without an end marker")
		}

		switch next.kind {
		case itemChunk:
			if run.Count() > 0 && run.Len()+4+len(next.chunk) > c.config.MaxPayload {
				if err := flush(); err != nil {
					return err
				}
			}
			run.Add(next.chunk)
			if run.Count() >= c.config.ChunkBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}

		case itemRecipeEnd:
			if err := flush(); err != nil {
				return err
			}
			if err := connection.writeControl(wire.ClientUploadEnd, next.head); err != nil {
				return fmt.Errorf("sending upload end: %w", err)
			}
			return nil
		}
	}
}
