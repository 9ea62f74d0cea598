// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/dedupvault/lib/testutil"
)

func TestIdentityLockSerializesSameClient(t *testing.T) {
	locks := NewIdentityLocks()
	ctx := context.Background()

	release, err := locks.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan func(), 1)
	go func() {
		second, err := locks.Acquire(ctx, 1)
		if err != nil {
			return
		}
		acquired <- second
	}()

	other, err := locks.Acquire(ctx, 2)
	if err != nil {
		t.Fatalf("Acquire for another client: %v", err)
	}
	other()

	select {
	case <-acquired:
		t.Fatal("second session for the same client acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	release()
	second := testutil.RequireReceive(t, acquired, 5*time.Second, "second acquire")
	second()

	if locks.Len() != 0 {
		t.Errorf("Len = %d after all releases, want 0", locks.Len())
	}
}

func TestIdentityLockAcquireCancelled(t *testing.T) {
	locks := NewIdentityLocks()
	release, err := locks.Acquire(context.Background(), 9)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Acquire(ctx, 9); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire error = %v, want DeadlineExceeded", err)
	}
	if locks.Len() != 1 {
		t.Errorf("Len = %d, want 1", locks.Len())
	}
}
