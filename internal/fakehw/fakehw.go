// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakehw emulates the registers of an e7awg board.
//
// Units become ready as soon as they are prepared and run until they
// are stopped with Stop* or terminated, unless AutoStop is set.
package fakehw // import "github.com/go-lpc/e7awg/internal/fakehw"

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/go-lpc/e7awg/ctrl"
	"github.com/go-lpc/e7awg/hw"
)

// FifoSize is the size in bytes of the emulated command FIFO.
const FifoSize = 64 * hw.CmdSize

// Version is the version register of all the emulated controllers:
// K:2024/03/15-2.
const Version = uint32('K')<<24 | 24<<16 | 3<<12 | 15<<4 | 2

// Board is an emulated e7awg board. It implements ctrl.Transport.
type Board struct {
	mu   sync.Mutex
	regs map[ctrl.Space]map[uint64]uint32

	// AutoStop makes started units, and the sequencer, stop at once.
	AutoStop bool
	// Err, when set, is returned by every register access.
	Err error

	frames  [][]byte // command frames received
	reports []byte
	nreads  int
	nwrites int
}

// New returns a new emulated board, with all units idle.
func New() *Board {
	b := &Board{
		regs: map[ctrl.Space]map[uint64]uint32{
			ctrl.SpaceAWG:       make(map[uint64]uint32),
			ctrl.SpaceCapture:   make(map[uint64]uint32),
			ctrl.SpaceSequencer: make(map[uint64]uint32),
			ctrl.SpaceWaveRAM:   make(map[uint64]uint32),
		},
	}
	b.regs[ctrl.SpaceAWG][hw.AwgMasterAddr+hw.AwgMasterVersion] = Version
	b.regs[ctrl.SpaceCapture][hw.CaptureMasterAddr+hw.CaptureMasterVersion] = Version
	b.regs[ctrl.SpaceSequencer][hw.SeqAddr+hw.SeqVersion] = Version
	b.regs[ctrl.SpaceSequencer][hw.SeqAddr+hw.SeqCmdFifoFreeSpace] = FifoSize
	return b
}

func checkAccess(addr uint64, n int) error {
	if addr%4 != 0 || n%4 != 0 {
		return fmt.Errorf("fakehw: unaligned access (addr=0x%x, n=%d): %w", addr, n, hw.ErrFormat)
	}
	return nil
}

func (b *Board) ReadRegister(sp ctrl.Space, addr uint64, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Err != nil {
		return nil, b.Err
	}
	err := checkAccess(addr, n)
	if err != nil {
		return nil, err
	}
	regs, ok := b.regs[sp]
	if !ok {
		return nil, fmt.Errorf("fakehw: invalid space %v: %w", sp, hw.ErrRange)
	}
	b.nreads++
	p := make([]byte, n)
	for i := 0; i < n; i += 4 {
		binary.LittleEndian.PutUint32(p[i:], regs[addr+uint64(i)])
	}
	return p, nil
}

func (b *Board) WriteRegister(sp ctrl.Space, addr uint64, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Err != nil {
		return b.Err
	}
	err := checkAccess(addr, len(p))
	if err != nil {
		return err
	}
	regs, ok := b.regs[sp]
	if !ok {
		return fmt.Errorf("fakehw: invalid space %v: %w", sp, hw.ErrRange)
	}
	b.nwrites++
	for i := 0; i < len(p); i += 4 {
		a := addr + uint64(i)
		old := regs[a]
		v := binary.LittleEndian.Uint32(p[i:])
		regs[a] = v
		b.update(sp, a, old, v)
	}
	return nil
}

func (b *Board) SendCommandFrame(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Err != nil {
		return b.Err
	}
	if len(p)%hw.CmdSize != 0 {
		return fmt.Errorf("fakehw: invalid command frames size %d: %w", len(p), hw.ErrFormat)
	}
	seq := b.regs[ctrl.SpaceSequencer]
	if len(p) > int(seq[hw.SeqAddr+hw.SeqCmdFifoFreeSpace]) {
		seq[hw.SeqAddr+hw.SeqErr] |= 1 << hw.SeqErrCmdFifoOverflowBit
		return nil
	}
	for i := 0; i < len(p); i += hw.CmdSize {
		b.frames = append(b.frames, append([]byte(nil), p[i:i+hw.CmdSize]...))
	}
	seq[hw.SeqAddr+hw.SeqNumStoredCmds] += uint32(len(p) / hw.CmdSize)
	b.updateFreeSpace()
	return nil
}

func (b *Board) DrainReports() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Err != nil {
		return nil, b.Err
	}
	o := b.reports
	b.reports = nil
	return o, nil
}

// PostReports queues command error reports, as sent by the sequencer.
func (b *Board) PostReports(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reports = append(b.reports, p...)
}

// Frames returns the command frames received so far.
func (b *Board) Frames() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.frames...)
}

// Accesses returns the number of register reads and writes so far.
func (b *Board) Accesses() (reads, writes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nreads, b.nwrites
}

// Reg returns the value of a register.
func (b *Board) Reg(sp ctrl.Space, addr uint64) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[sp][addr]
}

// SetReg sets the value of a register, without side effects.
func (b *Board) SetReg(sp ctrl.Space, addr uint64, v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[sp][addr] = v
}

// Store writes p into the wave RAM, as a capture would.
func (b *Board) Store(addr uint64, p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ram := b.regs[ctrl.SpaceWaveRAM]
	for i := 0; i+4 <= len(p); i += 4 {
		ram[addr+uint64(i)] = binary.LittleEndian.Uint32(p[i:])
	}
}

// StopAwgs marks the provided AWGs as done, raising the provided
// error flags.
func (b *Board) StopAwgs(flags uint32, ids ...hw.AWG) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.stopAwg(id, flags)
	}
}

// StopCaptureUnits marks the provided capture units as done, raising
// the provided error flags.
func (b *Board) StopCaptureUnits(flags uint32, ids ...hw.CaptureUnit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.stopUnit(id, flags)
	}
}

// ProcessCommands marks n stored commands as processed.
func (b *Board) ProcessCommands(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.process(n)
}

func (b *Board) process(n int) {
	seq := b.regs[ctrl.SpaceSequencer]
	stored := seq[hw.SeqAddr+hw.SeqNumStoredCmds]
	cnt := seq[hw.SeqAddr+hw.SeqCmdCounter] + uint32(n)
	if cnt > stored {
		cnt = stored
	}
	seq[hw.SeqAddr+hw.SeqCmdCounter] = cnt
	seq[hw.SeqAddr+hw.SeqNumSuccessfulCmds] = cnt
	b.updateFreeSpace()
}

func (b *Board) updateFreeSpace() {
	seq := b.regs[ctrl.SpaceSequencer]
	pending := seq[hw.SeqAddr+hw.SeqNumStoredCmds] - seq[hw.SeqAddr+hw.SeqCmdCounter]
	seq[hw.SeqAddr+hw.SeqCmdFifoFreeSpace] = FifoSize - pending*hw.CmdSize
}

func rising(old, v uint32, bit uint) bool {
	return (old>>bit)&1 == 0 && (v>>bit)&1 == 1
}

func (b *Board) update(sp ctrl.Space, addr uint64, old, v uint32) {
	switch sp {
	case ctrl.SpaceAWG:
		b.updateAWG(addr, old, v)
	case ctrl.SpaceCapture:
		b.updateCapture(addr, old, v)
	case ctrl.SpaceSequencer:
		b.updateSequencer(addr, old, v)
	}
}

func (b *Board) updateAWG(addr uint64, old, v uint32) {
	regs := b.regs[ctrl.SpaceAWG]
	if addr == hw.AwgMasterAddr+hw.AwgMasterCtrl {
		sel := hw.SetFromBits[hw.AWG](uint64(regs[hw.AwgMasterAddr+hw.AwgMasterCtrlTargetSel]))
		for _, id := range sel.Slice() {
			status := hw.AwgCtrlAddr(id) + hw.AwgCtrlStatus
			switch {
			case rising(old, v, hw.AwgMasterCtrlReset):
				regs[status] = 0
				regs[hw.AwgCtrlAddr(id)+hw.AwgCtrlErr] = 0
			case rising(old, v, hw.AwgMasterCtrlPrepare):
				regs[status] |= 1 << hw.AwgCtrlStatusReady
			case rising(old, v, hw.AwgMasterCtrlStart):
				regs[status] &^= 1<<hw.AwgCtrlStatusReady | 1<<hw.AwgCtrlStatusDone
				regs[status] |= 1 << hw.AwgCtrlStatusBusy
				if b.AutoStop {
					b.stopAwg(id, 0)
				}
			case rising(old, v, hw.AwgMasterCtrlDoneClr):
				regs[status] &^= 1 << hw.AwgCtrlStatusDone
			}
		}
		return
	}
	for _, id := range hw.AllAWGs() {
		if addr == hw.AwgCtrlAddr(id)+hw.AwgCtrlCtrl && rising(old, v, hw.AwgCtrlCtrlTerminate) {
			b.stopAwg(id, 0)
		}
	}
}

func (b *Board) stopAwg(id hw.AWG, flags uint32) {
	regs := b.regs[ctrl.SpaceAWG]
	status := hw.AwgCtrlAddr(id) + hw.AwgCtrlStatus
	regs[status] &^= 1 << hw.AwgCtrlStatusBusy
	regs[status] |= 1 << hw.AwgCtrlStatusDone
	regs[hw.AwgCtrlAddr(id)+hw.AwgCtrlErr] |= flags
}

func (b *Board) updateCapture(addr uint64, old, v uint32) {
	regs := b.regs[ctrl.SpaceCapture]
	if addr == hw.CaptureMasterAddr+hw.CaptureMasterCtrl {
		sel := hw.SetFromBits[hw.CaptureUnit](uint64(regs[hw.CaptureMasterAddr+hw.CaptureMasterCtrlTargetSel]))
		for _, id := range sel.Slice() {
			status := hw.CaptureCtrlAddr(id) + hw.CaptureCtrlStatus
			switch {
			case rising(old, v, hw.CaptureMasterCtrlReset):
				regs[status] = 0
				regs[hw.CaptureCtrlAddr(id)+hw.CaptureCtrlErr] = 0
			case rising(old, v, hw.CaptureMasterCtrlStart):
				regs[status] &^= 1 << hw.CaptureCtrlStatusDone
				regs[status] |= 1 << hw.CaptureCtrlStatusBusy
				if b.AutoStop {
					b.stopUnit(id, 0)
				}
			case rising(old, v, hw.CaptureMasterCtrlDoneClr):
				regs[status] &^= 1 << hw.CaptureCtrlStatusDone
			}
		}
		return
	}
	for _, id := range hw.AllCaptureUnits() {
		if addr == hw.CaptureCtrlAddr(id)+hw.CaptureCtrlCtrl && rising(old, v, hw.CaptureCtrlCtrlTerminate) {
			b.stopUnit(id, 0)
		}
	}
}

func (b *Board) stopUnit(id hw.CaptureUnit, flags uint32) {
	regs := b.regs[ctrl.SpaceCapture]
	status := hw.CaptureCtrlAddr(id) + hw.CaptureCtrlStatus
	regs[status] &^= 1 << hw.CaptureCtrlStatusBusy
	regs[status] |= 1 << hw.CaptureCtrlStatusDone
	regs[hw.CaptureCtrlAddr(id)+hw.CaptureCtrlErr] |= flags
}

func (b *Board) updateSequencer(addr uint64, old, v uint32) {
	if addr != hw.SeqAddr+hw.SeqCtrl {
		return
	}
	seq := b.regs[ctrl.SpaceSequencer]
	status := uint64(hw.SeqAddr + hw.SeqStatus)
	switch {
	case rising(old, v, hw.SeqCtrlReset):
		seq[status] &= 1 << hw.SeqStatusErrReportSendActive
		seq[hw.SeqAddr+hw.SeqErr] = 0
		seq[hw.SeqAddr+hw.SeqNumStoredCmds] = 0
		seq[hw.SeqAddr+hw.SeqCmdCounter] = 0
		seq[hw.SeqAddr+hw.SeqNumSuccessfulCmds] = 0
		seq[hw.SeqAddr+hw.SeqNumErrCmds] = 0
		b.frames = nil
		b.updateFreeSpace()
	case rising(old, v, hw.SeqCtrlStart):
		seq[status] &^= 1 << hw.SeqStatusDone
		seq[status] |= 1 << hw.SeqStatusBusy
		if b.AutoStop {
			b.process(int(seq[hw.SeqAddr+hw.SeqNumStoredCmds]))
			seq[status] &^= 1 << hw.SeqStatusBusy
			seq[status] |= 1 << hw.SeqStatusDone
		}
	case rising(old, v, hw.SeqCtrlTerminate):
		seq[status] &^= 1 << hw.SeqStatusBusy
		seq[status] |= 1 << hw.SeqStatusDone
	case rising(old, v, hw.SeqCtrlDoneClr):
		seq[status] &^= 1 << hw.SeqStatusDone
	case rising(old, v, hw.SeqCtrlCmdClr):
		seq[hw.SeqAddr+hw.SeqNumStoredCmds] = 0
		seq[hw.SeqAddr+hw.SeqCmdCounter] = 0
		b.frames = nil
		b.updateFreeSpace()
	case rising(old, v, hw.SeqCtrlCmdCounterReset):
		seq[hw.SeqAddr+hw.SeqCmdCounter] = 0
		b.updateFreeSpace()
	case rising(old, v, hw.SeqCtrlErrReportClr):
		seq[hw.SeqAddr+hw.SeqNumErrReports] = 0
	}

	enable := (v>>hw.SeqCtrlErrReportSendEnable)&1 == 1
	if enable {
		seq[status] |= 1 << hw.SeqStatusErrReportSendActive
	} else {
		seq[status] &^= 1 << hw.SeqStatusErrReportSendActive
	}
}

var _ ctrl.Transport = (*Board)(nil)
