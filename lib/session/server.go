// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/dedupvault/lib/dedup"
	"github.com/bureau-foundation/dedupvault/lib/netutil"
	"github.com/bureau-foundation/dedupvault/lib/wire"
)

// Default timeouts. The read timeout covers the gap between frames,
// not a whole session.
const (
	DefaultReadTimeout  = 2 * time.Minute
	DefaultWriteTimeout = 30 * time.Second
)

// Config configures a Server.
type Config struct {
	Engine dedup.DedupCore

	// MaxChunkSize bounds every chunk a client uploads.
	MaxChunkSize int

	// MaxPayload bounds a single frame's payload.
	MaxPayload int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Server accepts connections and runs one session per connection.
type Server struct {
	config   Config
	locks    *IdentityLocks
	logger   *slog.Logger
	listener net.Listener

	// active tracks in-flight sessions; Serve waits for them before
	// returning.
	active sync.WaitGroup
}

// NewServer validates config and returns a server with no listener.
func NewServer(config Config) (*Server, error) {
	if config.Engine == nil {
		return nil, fmt.Errorf("session server requires an engine")
	}
	if config.MaxChunkSize <= 0 {
		config.MaxChunkSize = dedup.DefaultMaxChunkSize
	}
	if config.MaxPayload <= 0 {
		config.MaxPayload = wire.DefaultMaxPayload
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Server{
		config: config,
		locks:  NewIdentityLocks(),
		logger: config.Logger,
	}, nil
}

// Listen binds the server. For "unix" a stale socket file at address
// is removed first.
func (s *Server) Listen(network, address string) error {
	if network == "unix" {
		if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale socket %s: %w", address, err)
		}
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("listening on %s %s: %w", network, address, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then closes the
// listener and waits for active sessions to finish.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("session server: Serve called before Listen")
	}
	listener := s.listener
	defer func() {
		listener.Close()
		if address, ok := listener.Addr().(*net.UnixAddr); ok {
			os.Remove(address.Name)
		}
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("session server listening", "address", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.ServeConn(ctx, conn)
		}()
	}

	s.active.Wait()
	return nil
}

// ServeConn runs one session on conn and closes it.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	session := &connection{
		server: s,
		conn:   conn,
		logger: s.logger.With("remote", remoteName(conn)),
	}

	header, payload, err := session.read()
	if err != nil {
		if !netutil.IsExpectedCloseError(err) {
			session.logger.Debug("reading first frame failed", "error", err)
		}
		return
	}
	session.clientID = header.ClientID
	session.logger = session.logger.With("client", header.ClientID)

	switch header.Type {
	case wire.ClientLoginUpload:
		err = session.upload(ctx, payload)
	case wire.ClientLoginRestore:
		err = session.restore(ctx, payload)
	case wire.ClientQueryFingerprints:
		err = session.probe(ctx, header, payload)
	default:
		err = protocolError("unexpected first message %s", header.Type)
	}
	if err != nil {
		session.fail(err)
	}
}

func remoteName(conn net.Conn) string {
	if address := conn.RemoteAddr(); address != nil && address.String() != "" {
		return address.String()
	}
	return "local"
}
