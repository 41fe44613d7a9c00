// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ctrl

import (
	"fmt"

	"github.com/go-lpc/e7awg/hw"
)

// State is the state of an AWG or a capture unit, as tracked by
// a coordinator.
type State uint8

const (
	Idle State = iota
	Initialized
	Armed
	Running
	Stopped
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case Initialized:
		return "initialized"
	case Armed:
		return "armed"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", uint8(st))
}

// Status is the state of a unit.
// Err reports whether a stopped unit raised error flags.
type Status struct {
	State State `json:"state"`
	Err   bool  `json:"err,omitempty"`
}

func (st Status) String() string {
	if st.State != Stopped {
		return st.State.String()
	}
	if st.Err {
		return "stopped(error)"
	}
	return "stopped(success)"
}

// AwgStatus returns the status of an AWG.
func (c *Coordinator) AwgStatus(awg hw.AWG) Status {
	if !awg.Valid() {
		return Status{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awgs[awg]
}

// CaptureUnitStatus returns the status of a capture unit.
func (c *Coordinator) CaptureUnitStatus(unit hw.CaptureUnit) Status {
	if !unit.Valid() {
		return Status{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps[unit]
}

func (c *Coordinator) setAwgs(set hw.Set[hw.AWG], st Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range set.Slice() {
		c.awgs[id] = st
	}
}

func (c *Coordinator) setUnits(set hw.Set[hw.CaptureUnit], st Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range set.Slice() {
		c.caps[id] = st
	}
}

// configurable reports whether parameters may be applied to a unit
// in the provided state.
func configurable(st State) bool {
	switch st {
	case Idle, Running:
		return false
	}
	return true
}

// refreshAwg returns the status of an AWG, after reading its status
// register if it is tracked as running.
// An AWG the hardware no longer reports busy is stopped.
func (c *Coordinator) refreshAwg(rw *regio, awg hw.AWG) Status {
	st := c.AwgStatus(awg)
	if st.State != Running {
		return st
	}
	regs := awgRegs(rw, awg)
	busy := regs.status.bit(hw.AwgCtrlStatusBusy)
	flags := regs.err.r()
	if busy || rw.err != nil {
		return st
	}
	st = Status{State: Stopped, Err: flags&awgErrMask != 0}
	c.setAwgs(hw.SetOf(awg), st)
	return st
}

// refreshUnit is the capture unit counterpart of refreshAwg.
func (c *Coordinator) refreshUnit(rw *regio, unit hw.CaptureUnit) Status {
	st := c.CaptureUnitStatus(unit)
	if st.State != Running {
		return st
	}
	regs := captureRegs(rw, unit)
	busy := regs.status.bit(hw.CaptureCtrlStatusBusy)
	flags := regs.err.r()
	if busy || rw.err != nil {
		return st
	}
	st = Status{State: Stopped, Err: flags&captureErrMask != 0}
	c.setUnits(hw.SetOf(unit), st)
	return st
}

func (c *Coordinator) checkAwgConfigurable(rw *regio, awg hw.AWG) error {
	st := c.refreshAwg(rw, awg)
	if !configurable(st.State) {
		return fmt.Errorf("ctrl: could not configure %v in state %v: %w", awg, st, hw.ErrState)
	}
	return nil
}

func (c *Coordinator) checkUnitConfigurable(rw *regio, unit hw.CaptureUnit) error {
	st := c.refreshUnit(rw, unit)
	if !configurable(st.State) {
		return fmt.Errorf("ctrl: could not configure %v in state %v: %w", unit, st, hw.ErrState)
	}
	return nil
}
