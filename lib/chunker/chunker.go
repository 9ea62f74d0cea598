// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunker

import (
	"errors"
	"fmt"
	"io"
	"math/bits"

	rabin "github.com/restic/chunker"
)

// Method selects a chunking algorithm.
type Method string

const (
	MethodCDC   Method = "cdc"
	MethodFixed Method = "fixed"
)

// Methods lists the accepted values of Config.Method.
var Methods = []Method{MethodCDC, MethodFixed}

// ParseMethod accepts the names in Methods.
func ParseMethod(name string) (Method, error) {
	for _, method := range Methods {
		if string(method) == name {
			return method, nil
		}
	}
	return "", fmt.Errorf("unknown chunking method %q (want one of %v)", name, Methods)
}

// Default sizes for content-defined chunking. MaxSize matches the
// server's default maximum chunk size.
const (
	DefaultMinSize     = 4 << 10
	DefaultAverageSize = 8 << 10
	DefaultMaxSize     = 16 << 10
)

// Polynomial is the irreducible polynomial used by every CDC chunker.
// It is fixed so that the same content produces the same boundaries on
// every client; a random polynomial per client would defeat
// cross-client deduplication.
const Polynomial = rabin.Pol(0x3DA3358B4DC173)

// windowSize is the Rabin window; boundaries before it are meaningless.
const windowSize = 64

// Config describes how to chunk a stream.
type Config struct {
	Method Method

	// MinSize and MaxSize bound every chunk except the last, which
	// may be shorter than MinSize. Ignored by MethodFixed.
	MinSize int
	MaxSize int

	// AverageSize is the target mean chunk size for MethodCDC and
	// the exact chunk size for MethodFixed. It is rounded down to a
	// power of two for MethodCDC.
	AverageSize int
}

// DefaultConfig returns content-defined chunking with the default sizes.
func DefaultConfig() Config {
	return Config{
		Method:      MethodCDC,
		MinSize:     DefaultMinSize,
		AverageSize: DefaultAverageSize,
		MaxSize:     DefaultMaxSize,
	}
}

// Validate checks that the sizes are consistent.
func (c Config) Validate() error {
	var errs []error
	switch c.Method {
	case MethodCDC:
		if c.MinSize < windowSize {
			errs = append(errs, fmt.Errorf("min size must be at least %d, got %d", windowSize, c.MinSize))
		}
		if c.AverageSize < c.MinSize {
			errs = append(errs, fmt.Errorf("average size %d is below min size %d", c.AverageSize, c.MinSize))
		}
		if c.MaxSize < c.AverageSize {
			errs = append(errs, fmt.Errorf("max size %d is below average size %d", c.MaxSize, c.AverageSize))
		}
	case MethodFixed:
		if c.AverageSize <= 0 {
			errs = append(errs, fmt.Errorf("fixed chunk size must be positive, got %d", c.AverageSize))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown chunking method %q", c.Method))
	}
	return errors.Join(errs...)
}

// Limit returns the largest chunk the configuration can produce.
func (c Config) Limit() int {
	if c.Method == MethodFixed {
		return c.AverageSize
	}
	return c.MaxSize
}

// Chunker yields successive chunks of a stream.
type Chunker interface {
	// Next returns the next chunk, or io.EOF once the stream is
	// exhausted. The returned slice is overwritten by the next call.
	Next() ([]byte, error)
}

// New returns a chunker reading from r.
func New(r io.Reader, cfg Config) (Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Method == MethodFixed {
		return &fixed{reader: r, buf: make([]byte, cfg.AverageSize)}, nil
	}
	inner := rabin.NewWithBoundaries(r, Polynomial, uint(cfg.MinSize), uint(cfg.MaxSize))
	inner.SetAverageBits(bits.Len(uint(cfg.AverageSize)) - 1)
	return &contentDefined{inner: inner, buf: make([]byte, cfg.MaxSize)}, nil
}

type contentDefined struct {
	inner *rabin.Chunker
	buf   []byte
}

func (c *contentDefined) Next() ([]byte, error) {
	chunk, err := c.inner.Next(c.buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("chunking: %w", err)
	}
	return chunk.Data, nil
}

type fixed struct {
	reader io.Reader
	buf    []byte
	done   bool
}

func (f *fixed) Next() ([]byte, error) {
	if f.done {
		return nil, io.EOF
	}
	n, err := io.ReadFull(f.reader, f.buf)
	switch {
	case err == nil:
		return f.buf[:n], nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		f.done = true
		return f.buf[:n], nil
	case errors.Is(err, io.EOF):
		f.done = true
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("chunking: %w", err)
	}
}

// All chunks the whole of r, copying each chunk out of the chunker's
// buffer. Intended for tests and small inputs.
func All(r io.Reader, cfg Config) ([][]byte, error) {
	c, err := New(r, cfg)
	if err != nil {
		return nil, err
	}
	var chunks [][]byte
	for {
		chunk, err := c.Next()
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, append([]byte(nil), chunk...))
	}
}
