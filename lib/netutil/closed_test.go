// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{io.EOF, true},
		{fmt.Errorf("reading frame: %w", io.ErrUnexpectedEOF), true},
		{net.ErrClosed, true},
		{io.ErrClosedPipe, true},
		{&net.OpError{Op: "write", Err: syscall.EPIPE}, true},
		{fmt.Errorf("wrapped: %w", syscall.ECONNRESET), true},
		{syscall.ENOSPC, false},
		{errors.New("protocol error"), false},
	}
	for _, test := range tests {
		if got := IsExpectedCloseError(test.err); got != test.want {
			t.Errorf("IsExpectedCloseError(%v) = %v, want %v", test.err, got, test.want)
		}
	}
}
