// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flock provides a reentrant lock shared between processes,
// guarding the registers of an e7awg board.
//
// The lock is held by an owner, any comparable value.
// The owner may acquire the lock again without blocking; the lock is
// released when every acquisition has been matched by a release.
// Across processes, the lock is an advisory flock(2) lock on a file.
package flock // import "github.com/go-lpc/e7awg/flock"

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-lpc/e7awg/hw"
	"golang.org/x/sys/unix"
)

// Lock is a reentrant inter-process lock.
type Lock struct {
	path string

	mu    sync.Mutex
	cond  *sync.Cond
	f     *os.File
	owner interface{}
	count int
}

// New returns a lock backed by the file at path, creating it if needed.
func New(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("flock: could not open lock file %q: %w", path, err)
	}
	l := &Lock{path: path, f: f}
	l.cond = sync.NewCond(&l.mu)
	return l, nil
}

// Path returns the name of the lock file.
func (l *Lock) Path() string { return l.path }

// Close closes the lock file, releasing the lock if held.
func (l *Lock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	l.owner = nil
	l.count = 0
	l.cond.Broadcast()
	if err != nil {
		return fmt.Errorf("flock: could not close lock file %q: %w", l.path, err)
	}
	return nil
}

// Count returns the number of pending acquisitions of the current owner.
func (l *Lock) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Acquire acquires the lock for the provided owner, blocking until
// the lock is free or already held by that owner.
func (l *Lock) Acquire(owner interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.count > 0 && l.owner != owner {
		l.cond.Wait()
	}
	if l.f == nil {
		return fmt.Errorf("flock: lock file %q closed: %w", l.path, hw.ErrLock)
	}
	if l.count == 0 {
		err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX)
		if err != nil {
			return fmt.Errorf("flock: could not lock %q: %w", l.path, err)
		}
		l.owner = owner
	}
	l.count++
	return nil
}

// TryAcquire is like Acquire but does not block.
// It reports whether the lock was acquired.
func (l *Lock) TryAcquire(owner interface{}) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return false, fmt.Errorf("flock: lock file %q closed: %w", l.path, hw.ErrLock)
	}
	if l.count > 0 {
		if l.owner != owner {
			return false, nil
		}
		l.count++
		return true, nil
	}

	err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	switch err {
	case nil:
		l.owner = owner
		l.count = 1
		return true, nil
	case unix.EWOULDBLOCK:
		return false, nil
	default:
		return false, fmt.Errorf("flock: could not lock %q: %w", l.path, err)
	}
}

// Release releases one acquisition of the lock.
// Releasing a lock that is not held is a no-op.
// Releasing a lock held by another owner is an error.
func (l *Lock) Release(owner interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		return nil
	}
	if l.owner != owner {
		return fmt.Errorf("flock: %q not held by the releasing owner: %w", l.path, hw.ErrLock)
	}
	l.count--
	if l.count > 0 {
		return nil
	}

	l.owner = nil
	l.cond.Broadcast()
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if err != nil {
		return fmt.Errorf("flock: could not unlock %q: %w", l.path, err)
	}
	return nil
}

// Do runs fn while holding the lock for the provided owner.
// The lock is released when fn returns or panics.
func (l *Lock) Do(owner interface{}, fn func() error) (err error) {
	err = l.Acquire(owner)
	if err != nil {
		return err
	}
	defer func() {
		e := l.Release(owner)
		if err == nil {
			err = e
		}
	}()
	return fn()
}
