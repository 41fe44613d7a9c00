// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRange reports a value outside of a hardware bound.
	ErrRange = errors.New("value out of range")
	// ErrCapacity reports a full registry, section list or memory region.
	ErrCapacity = errors.New("capacity exceeded")
	// ErrFormat reports malformed bytes.
	ErrFormat = errors.New("invalid format")
	// ErrLock reports a misuse of the register lock.
	ErrLock = errors.New("lock misuse")
	// ErrSequencing reports a command number that does not follow
	// the previous ones.
	ErrSequencing = errors.New("invalid command sequencing")
	// ErrState reports an operation invalid in the current state of a unit.
	ErrState = errors.New("invalid unit state")
)

// TimeoutError is returned when units did not stop in time.
// The units are left running.
type TimeoutError struct {
	Units []string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for %s to stop", strings.Join(e.Units, ", "))
}

// FifoFullError is returned when commands do not fit in the free
// space of the sequencer command FIFO. Nothing was sent.
type FifoFullError struct {
	Required int // bytes
	Free     int // bytes
}

func (e *FifoFullError) Error() string {
	return fmt.Sprintf(
		"command FIFO full (required=%d bytes, free=%d bytes)",
		e.Required, e.Free,
	)
}

// TimingViolation is a timing error reported by the sequencer for
// a start or fence command that missed its time.
type TimingViolation struct {
	CmdID uint8
	CmdNo uint16
	Units []string
}

func (e *TimingViolation) Error() string {
	return fmt.Sprintf(
		"timing violation (cmd-id=%d, cmd-no=%d): %s",
		e.CmdID, e.CmdNo, strings.Join(e.Units, ", "),
	)
}

// Names returns the string form of the provided values.
func Names[T fmt.Stringer](vs []T) []string {
	o := make([]string, len(vs))
	for i, v := range vs {
		o[i] = v.String()
	}
	return o
}
