// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/bureau-foundation/dedupvault/lib/chunker"
	"github.com/bureau-foundation/dedupvault/lib/wire"
)

const (
	// DefaultChunkBatchSize is the number of chunks per upload frame.
	DefaultChunkBatchSize = 128

	// DefaultQueueDepth bounds the chunks buffered between the reader
	// and the sender.
	DefaultQueueDepth = 1024

	DefaultDialTimeout = 5 * time.Second
	DefaultIOTimeout   = 2 * time.Minute
)

// ErrFileNotExist is returned by Restore when the server has no recipe
// for the requested file.
var ErrFileNotExist = errors.New("file does not exist on server")

// ServerError carries the message of a server-error frame.
type ServerError struct {
	Operation string
	Message   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server rejected %s: %s", e.Operation, e.Message)
}

// Config configures a Client.
type Config struct {
	// Network and Address locate the server ("unix" or "tcp").
	Network string
	Address string

	// ClientID identifies this client to the server. Together with a
	// file name it determines the file's identity.
	ClientID uint32

	Chunking chunker.Config

	ChunkBatchSize int
	QueueDepth     int

	// MaxChunkSize must match the server's limit; restored chunks
	// larger than it are rejected as malformed.
	MaxChunkSize int
	MaxPayload   int

	DialTimeout time.Duration
	IOTimeout   time.Duration

	// Dial overrides how connections are made. Tests use it to wire a
	// client to an in-process server.
	Dial func(ctx context.Context) (net.Conn, error)

	Logger *slog.Logger
}

// Client issues uploads, restores and probes against one server.
type Client struct {
	config Config
	logger *slog.Logger
}

// New validates config and fills in defaults.
func New(config Config) (*Client, error) {
	if config.Dial == nil && config.Address == "" {
		return nil, fmt.Errorf("client requires a server address")
	}
	if config.Network == "" {
		config.Network = "unix"
	}
	if config.Chunking.Method == "" {
		config.Chunking = chunker.DefaultConfig()
	}
	if config.MaxChunkSize <= 0 {
		config.MaxChunkSize = chunker.DefaultMaxSize
	}
	if err := config.Chunking.Validate(); err != nil {
		return nil, fmt.Errorf("chunking: %w", err)
	}
	if limit := config.Chunking.Limit(); limit > config.MaxChunkSize {
		return nil, fmt.Errorf("chunker can produce %d byte chunks, server accepts at most %d", limit, config.MaxChunkSize)
	}
	if config.ChunkBatchSize <= 0 {
		config.ChunkBatchSize = DefaultChunkBatchSize
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = DefaultQueueDepth
	}
	if config.MaxPayload <= 0 {
		config.MaxPayload = wire.DefaultMaxPayload
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.IOTimeout <= 0 {
		config.IOTimeout = DefaultIOTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{config: config, logger: config.Logger.With("client", config.ClientID)}, nil
}

// conn wraps one connection to the server.
type conn struct {
	client *Client
	net    net.Conn
}

func (c *Client) dial(ctx context.Context) (*conn, error) {
	var (
		netConn net.Conn
		err     error
	)
	if c.config.Dial != nil {
		netConn, err = c.config.Dial(ctx)
	} else {
		dialer := net.Dialer{Timeout: c.config.DialTimeout}
		netConn, err = dialer.DialContext(ctx, c.config.Network, c.config.Address)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s %s: %w", c.config.Network, c.config.Address, err)
	}
	return &conn{client: c, net: netConn}, nil
}

func (c *conn) Close() error { return c.net.Close() }

func (c *conn) write(messageType wire.MessageType, count int, payload []byte) error {
	c.net.SetWriteDeadline(time.Now().Add(c.client.config.IOTimeout))
	header := wire.Header{Type: messageType, ClientID: c.client.config.ClientID, ItemCount: uint32(count)}
	return wire.WriteFrame(c.net, header, payload)
}

func (c *conn) writeControl(messageType wire.MessageType, message any) error {
	payload, err := wire.EncodeControl(message)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", messageType, err)
	}
	return c.write(messageType, 0, payload)
}

// read returns the next frame. A server-error frame becomes a
// *ServerError attributed to operation.
func (c *conn) read(operation string) (wire.Header, []byte, error) {
	c.net.SetReadDeadline(time.Now().Add(c.client.config.IOTimeout))
	header, payload, err := wire.ReadFrame(c.net, c.client.config.MaxPayload)
	if err != nil {
		return header, nil, fmt.Errorf("%s: %w", operation, err)
	}
	if header.Type == wire.ServerError {
		var response wire.ErrorResponse
		if err := wire.DecodeControl(payload, &response); err != nil {
			return header, nil, fmt.Errorf("%s: undecodable server error: %w", operation, err)
		}
		return header, nil, &ServerError{Operation: operation, Message: response.Message}
	}
	return header, payload, nil
}

// expect reads a frame and requires it to have the given type.
func (c *conn) expect(operation string, messageType wire.MessageType) (wire.Header, []byte, error) {
	header, payload, err := c.read(operation)
	if err != nil {
		return header, nil, err
	}
	if header.Type != messageType {
		return header, nil, fmt.Errorf("%s: %w: got %s, want %s", operation, wire.ErrMalformed, header.Type, messageType)
	}
	return header, payload, nil
}

// closeOnCancel closes the connection if ctx ends before stop is
// called, unblocking any pending read or write.
func (c *conn) closeOnCancel(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() { c.net.Close() })
}
