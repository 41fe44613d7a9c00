// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/go-lpc/e7awg/ctrl"
	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/internal/mmap"
)

func newMem(t *testing.T) (*Mem, [6][]byte) {
	t.Helper()
	var bufs [6][]byte
	for i := range bufs {
		bufs[i] = make([]byte, 4096)
	}
	win := func(i int, base uint64) Window {
		return Window{H: mmap.HandleFrom(bufs[i]), Base: base}
	}
	tr := NewMem(
		win(0, 0),
		win(1, 0),
		win(2, 0),
		win(3, hw.CaptureDataAddr(0)),
		win(4, 0),
		win(5, 0),
	)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, bufs
}

func TestMemRegisters(t *testing.T) {
	tr, bufs := newMem(t)

	err := tr.WriteRegister(ctrl.SpaceCapture, 0x10, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := binary.LittleEndian.Uint32(bufs[1][0x10:]), uint32(0x04030201); got != want {
		t.Fatalf("invalid register: got=0x%x, want=0x%x", got, want)
	}
	p, err := tr.ReadRegister(ctrl.SpaceCapture, 0x10, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p, []byte{1, 2, 3, 4}) {
		t.Fatalf("invalid read-back: %v", p)
	}

	addr := hw.CaptureDataAddr(0) + 64
	err = tr.WriteRegister(ctrl.SpaceWaveRAM, addr, []byte{0xde, 0xad, 0xbe, 0xef})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(bufs[3][64:68], []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("wave RAM window base not applied")
	}

	for _, tc := range []struct {
		name string
		sp   ctrl.Space
		addr uint64
		n    int
	}{
		{"below-base", ctrl.SpaceWaveRAM, 0, 4},
		{"past-end", ctrl.SpaceAWG, 4094, 4},
		{"past-end-ram", ctrl.SpaceWaveRAM, hw.CaptureDataAddr(0) + 4096, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tr.ReadRegister(tc.sp, tc.addr, tc.n)
			if !errors.Is(err, hw.ErrRange) {
				t.Fatalf("invalid error: got=%v, want=%v", err, hw.ErrRange)
			}
		})
	}

	_, err = tr.ReadRegister(ctrl.Space(42), 0, 4)
	if !errors.Is(err, hw.ErrRange) {
		t.Fatalf("invalid error: got=%v, want=%v", err, hw.ErrRange)
	}
}

func TestMemCommandsAndReports(t *testing.T) {
	tr, bufs := newMem(t)

	frames := bytes.Repeat([]byte{0x5a}, 3*hw.CmdSize)
	err := tr.SendCommandFrame(frames)
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint64(bufs[4][:8]); got != 3 {
		t.Fatalf("invalid number of commands: got=%d, want=3", got)
	}
	if !bytes.Equal(bufs[4][8:8+len(frames)], frames) {
		t.Fatalf("invalid command frames")
	}

	reps, err := tr.DrainReports()
	if err != nil {
		t.Fatal(err)
	}
	if len(reps) != 0 {
		t.Fatalf("unexpected reports: %x", reps)
	}

	binary.LittleEndian.PutUint32(bufs[5][:4], 2)
	for i := 0; i < 2*hw.CmdErrReportSize; i++ {
		bufs[5][hw.CmdErrReportSize+i] = byte(i)
	}
	reps, err = tr.DrainReports()
	if err != nil {
		t.Fatal(err)
	}
	if len(reps) != 2*hw.CmdErrReportSize || reps[17] != 17 {
		t.Fatalf("invalid reports: %x", reps)
	}
	if got := binary.LittleEndian.Uint32(bufs[5][:4]); got != 0 {
		t.Fatalf("reports not acknowledged: count=%d", got)
	}
}
