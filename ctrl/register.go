// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ctrl

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// regio performs register accesses for one locked operation.
// The first error is sticky: later accesses are no-ops.
type regio struct {
	tr  Transport
	err error
	buf [4]byte
}

type reg32 struct {
	r func() uint32
	w func(v uint32)
}

func newReg32(rw *regio, sp Space, addr uint64) reg32 {
	return reg32{
		r: func() uint32 {
			return rw.readU32(sp, addr)
		},
		w: func(v uint32) {
			rw.writeU32(sp, addr, v)
		},
	}
}

func (reg reg32) bit(i uint) bool {
	return (reg.r()>>i)&1 == 1
}

func (reg reg32) setBit(i uint, v bool) {
	cur := reg.r()
	if v {
		cur |= 1 << i
	} else {
		cur &^= 1 << i
	}
	reg.w(cur)
}

// pulse drives a bit of the register low, high then low.
func (reg reg32) pulse(i uint) {
	reg.setBit(i, false)
	reg.setBit(i, true)
	reg.setBit(i, false)
}

// strobe drives a bit of the register high then low, holding each
// level for d.
func (reg reg32) strobe(i uint, d time.Duration) {
	reg.setBit(i, true)
	time.Sleep(d)
	reg.setBit(i, false)
	time.Sleep(d)
}

func (rw *regio) read(sp Space, addr uint64, n int) []byte {
	if rw.err != nil {
		return nil
	}
	p, err := rw.tr.ReadRegister(sp, addr, n)
	if err != nil {
		rw.err = fmt.Errorf("ctrl: could not read %v register 0x%x: %w", sp, addr, err)
		return nil
	}
	if len(p) != n {
		rw.err = fmt.Errorf(
			"ctrl: short read of %v register 0x%x (got=%d, want=%d): %w",
			sp, addr, len(p), n, io.ErrUnexpectedEOF,
		)
		return nil
	}
	return p
}

func (rw *regio) write(sp Space, addr uint64, p []byte) {
	if rw.err != nil {
		return
	}
	err := rw.tr.WriteRegister(sp, addr, p)
	if err != nil {
		rw.err = fmt.Errorf("ctrl: could not write %v register 0x%x: %w", sp, addr, err)
		return
	}
}

func (rw *regio) readU32(sp Space, addr uint64) uint32 {
	p := rw.read(sp, addr, 4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (rw *regio) writeU32(sp Space, addr uint64, v uint32) {
	binary.LittleEndian.PutUint32(rw.buf[:4], v)
	rw.write(sp, addr, rw.buf[:4])
}

// writeU32s writes consecutive registers starting at addr.
func (rw *regio) writeU32s(sp Space, addr uint64, vs []uint32) {
	if len(vs) == 0 {
		return
	}
	p := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(p[4*i:], v)
	}
	rw.write(sp, addr, p)
}

// master holds the registers shared by all the units of a controller.
type master struct {
	sel  reg32 // control target selection
	ctrl reg32
}

func (m master) selectTargets(mask uint64) {
	m.sel.w(m.sel.r() | uint32(mask))
}

func (m master) deselectTargets(mask uint64) {
	m.sel.w(m.sel.r() &^ uint32(mask))
}

// unitRegs holds the control registers of a single unit.
type unitRegs struct {
	ctrl   reg32
	status reg32
	err    reg32
}
