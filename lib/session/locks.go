// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
)

// IdentityLocks serializes sessions per client ID.
type IdentityLocks struct {
	mu   sync.Mutex
	held map[uint32]*identityLock
}

type identityLock struct {
	token chan struct{}
	users int
}

// NewIdentityLocks returns an empty lock table.
func NewIdentityLocks() *IdentityLocks {
	return &IdentityLocks{held: make(map[uint32]*identityLock)}
}

// Acquire blocks until the lock for clientID is free or ctx ends. The
// returned release function is idempotent.
func (l *IdentityLocks) Acquire(ctx context.Context, clientID uint32) (func(), error) {
	l.mu.Lock()
	lock, ok := l.held[clientID]
	if !ok {
		lock = &identityLock{token: make(chan struct{}, 1)}
		l.held[clientID] = lock
	}
	lock.users++
	l.mu.Unlock()

	select {
	case lock.token <- struct{}{}:
	case <-ctx.Done():
		l.leave(clientID, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.token
			l.leave(clientID, lock)
		})
	}, nil
}

func (l *IdentityLocks) leave(clientID uint32, lock *identityLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.users--
	if lock.users == 0 {
		delete(l.held, clientID)
	}
}

// Len returns the number of client IDs with a holder or waiter.
func (l *IdentityLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
