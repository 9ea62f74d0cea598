// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/bureau-foundation/dedupvault/lib/dedup"
	"github.com/bureau-foundation/dedupvault/lib/netutil"
	"github.com/bureau-foundation/dedupvault/lib/recipe"
	"github.com/bureau-foundation/dedupvault/lib/wire"
)

// errProtocol marks client misbehavior.
var errProtocol = errors.New("protocol error")

func protocolError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errProtocol, fmt.Sprintf(format, args...))
}

// connection is one session's state.
type connection struct {
	server   *Server
	conn     net.Conn
	clientID uint32
	logger   *slog.Logger
}

func (c *connection) read() (wire.Header, []byte, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.server.config.ReadTimeout))
	return wire.ReadFrame(c.conn, c.server.config.MaxPayload)
}

// next reads a frame from the session's client.
func (c *connection) next() (wire.Header, []byte, error) {
	header, payload, err := c.read()
	if err != nil {
		if errors.Is(err, wire.ErrFrameTooLarge) {
			return header, nil, fmt.Errorf("%w: %v", errProtocol, err)
		}
		return header, nil, err
	}
	if header.ClientID != c.clientID {
		return header, nil, protocolError("frame from client %d inside session of client %d", header.ClientID, c.clientID)
	}
	return header, payload, nil
}

func (c *connection) write(messageType wire.MessageType, count uint32, payload []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
	return wire.WriteFrame(c.conn, wire.Header{Type: messageType, ClientID: c.clientID, ItemCount: count}, payload)
}

func (c *connection) writeControl(messageType wire.MessageType, message any) error {
	payload, err := wire.EncodeControl(message)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", messageType, err)
	}
	return c.write(messageType, 0, payload)
}

// fail reports err to the client, best effort.
func (c *connection) fail(err error) {
	if netutil.IsExpectedCloseError(err) {
		c.logger.Info("client disconnected", "error", err)
		return
	}
	level := slog.LevelError
	if errors.Is(err, errProtocol) || errors.Is(err, wire.ErrMalformed) {
		level = slog.LevelWarn
	}
	c.logger.Log(context.Background(), level, "session failed", "error", err)
	if writeErr := c.writeControl(wire.ServerError, wire.ErrorResponse{Message: err.Error()}); writeErr != nil {
		c.logger.Debug("failed to send error response", "error", writeErr)
	}
}

func (c *connection) login(payload []byte) (recipe.FileID, error) {
	var request wire.LoginRequest
	if err := wire.DecodeControl(payload, &request); err != nil {
		return recipe.FileID{}, err
	}
	return request.FileID, nil
}

func (c *connection) upload(ctx context.Context, payload []byte) error {
	fileID, err := c.login(payload)
	if err != nil {
		return err
	}
	release, err := c.server.locks.Acquire(ctx, c.clientID)
	if err != nil {
		return err
	}
	defer release()

	upload, err := c.server.config.Engine.StartUpload(ctx, fileID)
	if err != nil {
		return err
	}
	if err := c.receive(ctx, upload); err != nil {
		if abortErr := upload.Abort(ctx); abortErr != nil {
			c.logger.Warn("abort failed", "error", abortErr)
		}
		return err
	}
	return nil
}

// receive runs the upload after login until the client's end marker.
func (c *connection) receive(ctx context.Context, upload *dedup.Upload) error {
	if err := c.writeControl(wire.ServerLoginResponse, wire.LoginResponse{Location: recipe.LocationEdge.String()}); err != nil {
		return err
	}
	for {
		header, payload, err := c.next()
		if err != nil {
			return err
		}
		switch header.Type {
		case wire.ClientUploadChunks:
			chunks, err := wire.ParseChunks(payload, header.ItemCount, c.server.config.MaxChunkSize)
			if err != nil {
				return err
			}
			if err := upload.ProcessBatch(ctx, chunks); err != nil {
				return err
			}

		case wire.ClientUploadEnd:
			var head recipe.Head
			if err := wire.DecodeControl(payload, &head); err != nil {
				return err
			}
			if err := upload.Finish(ctx, head); err != nil {
				return err
			}
			return c.writeControl(wire.ServerUploadDone, wire.UploadDone{
				Chunks:       upload.Chunks(),
				Bytes:        upload.Bytes(),
				UniqueChunks: upload.UniqueChunks(),
			})

		default:
			return protocolError("unexpected %s during upload", header.Type)
		}
	}
}

func (c *connection) restore(ctx context.Context, payload []byte) error {
	fileID, err := c.login(payload)
	if err != nil {
		return err
	}
	release, err := c.server.locks.Acquire(ctx, c.clientID)
	if err != nil {
		return err
	}
	defer release()

	restore, err := c.server.config.Engine.StartRestore(ctx, fileID)
	if errors.Is(err, dedup.ErrNotFound) {
		c.logger.Info("restore of unknown file", "file", fileID.String())
		return c.write(wire.ServerFileNotExist, 0, nil)
	}
	if err != nil {
		return err
	}
	defer restore.Close()

	response := wire.LoginResponse{Head: restore.Head(), Location: recipe.LocationEdge.String()}
	if err := c.writeControl(wire.ServerLoginResponse, response); err != nil {
		return err
	}
	return restore.Run(ctx, emitter{connection: c})
}

// emitter streams restored chunks to the client.
type emitter struct {
	connection *connection
}

func (e emitter) EmitBatch(_ context.Context, payload []byte, count int) error {
	return e.connection.write(wire.ServerRestoreChunks, uint32(count), payload)
}

func (e emitter) EmitEnd(context.Context) error {
	return e.connection.write(wire.ServerRestoreFinal, 0, nil)
}

// probe answers fingerprint queries until the client closes.
func (c *connection) probe(ctx context.Context, header wire.Header, payload []byte) error {
	for {
		fps, err := wire.ParseFingerprints(payload, header.ItemCount)
		if err != nil {
			return err
		}
		found, err := c.server.config.Engine.Probe(ctx, fps)
		if err != nil {
			return err
		}
		status := make([]byte, len(found))
		for index, ok := range found {
			if ok {
				status[index] = 1
			}
		}
		if err := c.write(wire.ServerFingerprintStatus, uint32(len(status)), status); err != nil {
			return err
		}

		header, payload, err = c.next()
		if netutil.IsExpectedCloseError(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if header.Type != wire.ClientQueryFingerprints {
			return protocolError("unexpected %s during probe", header.Type)
		}
	}
}
