// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"sync"

	"github.com/go-lpc/e7awg/ctrl"
	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/internal/mmap"
	"github.com/go-lpc/e7awg/wire"
)

// Window maps the addresses [Base, Base+H.Len()) of a space onto a
// memory-mapped handle.
type Window struct {
	H    *mmap.Handle
	Base uint64
}

func (w Window) offset(addr uint64, n int) (int64, error) {
	if w.H == nil || addr < w.Base || addr-w.Base+uint64(n) > uint64(w.H.Len()) {
		return 0, fmt.Errorf("transport: address 0x%x (n=%d) outside of mapped window: %w", addr, n, hw.ErrRange)
	}
	return int64(addr - w.Base), nil
}

// Mem is a transport to a board whose spaces are memory-mapped into
// the process, as on SoC boards.
//
// Command frames are written to the command window, prefixed with the
// number of commands. Error reports are read from the report window:
// its first register holds the number of pending reports, stored from
// offset 16. Reading them acknowledges them.
type Mem struct {
	mu     sync.Mutex
	spaces map[ctrl.Space]Window
	cmd    Window
	rep    Window
}

// NewMem returns a transport over the provided windows.
func NewMem(awg, capture, seq, ram, cmd, rep Window) *Mem {
	return &Mem{
		spaces: map[ctrl.Space]Window{
			ctrl.SpaceAWG:       awg,
			ctrl.SpaceCapture:   capture,
			ctrl.SpaceSequencer: seq,
			ctrl.SpaceWaveRAM:   ram,
		},
		cmd: cmd,
		rep: rep,
	}
}

// Close unmaps the windows of the transport.
func (tr *Mem) Close() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	var err error
	for _, w := range []Window{
		tr.spaces[ctrl.SpaceAWG],
		tr.spaces[ctrl.SpaceCapture],
		tr.spaces[ctrl.SpaceSequencer],
		tr.spaces[ctrl.SpaceWaveRAM],
		tr.cmd,
		tr.rep,
	} {
		if w.H == nil {
			continue
		}
		if e := w.H.Close(); e != nil && err == nil {
			err = fmt.Errorf("transport: could not unmap window: %w", e)
		}
	}
	return err
}

func (tr *Mem) ReadRegister(sp ctrl.Space, addr uint64, n int) ([]byte, error) {
	if err := checkSpace(sp); err != nil {
		return nil, err
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	off, err := tr.spaces[sp].offset(addr, n)
	if err != nil {
		return nil, err
	}
	p := make([]byte, n)
	_, err = tr.spaces[sp].H.ReadAt(p, off)
	if err != nil {
		return nil, fmt.Errorf("transport: could not read %v at 0x%x: %w", sp, addr, err)
	}
	return p, nil
}

func (tr *Mem) WriteRegister(sp ctrl.Space, addr uint64, p []byte) error {
	if err := checkSpace(sp); err != nil {
		return err
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	off, err := tr.spaces[sp].offset(addr, len(p))
	if err != nil {
		return err
	}
	_, err = tr.spaces[sp].H.WriteAt(p, off)
	if err != nil {
		return fmt.Errorf("transport: could not write %v at 0x%x: %w", sp, addr, err)
	}
	return nil
}

func (tr *Mem) SendCommandFrame(p []byte) error {
	if len(p)%hw.CmdSize != 0 {
		return fmt.Errorf("transport: invalid command frames size %d: %w", len(p), hw.ErrFormat)
	}
	payload := wire.CmdWritePayload(len(p)/hw.CmdSize, p)

	tr.mu.Lock()
	defer tr.mu.Unlock()

	off, err := tr.cmd.offset(tr.cmd.Base, len(payload))
	if err != nil {
		return err
	}
	_, err = tr.cmd.H.WriteAt(payload, off)
	if err != nil {
		return fmt.Errorf("transport: could not write command frames: %w", err)
	}
	return nil
}

func (tr *Mem) DrainReports() ([]byte, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.rep.H == nil {
		return nil, nil
	}
	n, err := tr.rep.H.Uint32At(0)
	if err != nil {
		return nil, fmt.Errorf("transport: could not read number of error reports: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	size := int(n) * hw.CmdErrReportSize
	off, err := tr.rep.offset(tr.rep.Base+hw.CmdErrReportSize, size)
	if err != nil {
		return nil, err
	}
	p := make([]byte, size)
	_, err = tr.rep.H.ReadAt(p, off)
	if err != nil {
		return nil, fmt.Errorf("transport: could not read error reports: %w", err)
	}
	err = tr.rep.H.PutUint32At(0, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: could not acknowledge error reports: %w", err)
	}
	return p, nil
}

var _ ctrl.Transport = (*Mem)(nil)
