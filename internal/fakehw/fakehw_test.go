// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fakehw_test

import (
	"encoding/binary"
	"testing"

	"github.com/go-lpc/e7awg/ctrl"
	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/internal/fakehw"
)

func writeCtrl(t *testing.T, brd *fakehw.Board, v uint32) {
	t.Helper()
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, v)
	err := brd.WriteRegister(ctrl.SpaceSequencer, hw.SeqAddr+hw.SeqCtrl, p)
	if err != nil {
		t.Fatalf("could not write sequencer control: %+v", err)
	}
}

func TestSequencerStatus(t *testing.T) {
	brd := fakehw.New()
	status := func() uint32 {
		return brd.Reg(ctrl.SpaceSequencer, hw.SeqAddr+hw.SeqStatus)
	}

	writeCtrl(t, brd, 1<<hw.SeqCtrlStart)
	if got := status(); got&(1<<hw.SeqStatusBusy) == 0 || got&(1<<hw.SeqStatusDone) != 0 {
		t.Fatalf("sequencer not started: status=0x%x", got)
	}

	writeCtrl(t, brd, 1<<hw.SeqCtrlStart|1<<hw.SeqCtrlTerminate)
	if got := status(); got&(1<<hw.SeqStatusBusy) != 0 || got&(1<<hw.SeqStatusDone) == 0 {
		t.Fatalf("sequencer not terminated: status=0x%x", got)
	}

	writeCtrl(t, brd, 1<<hw.SeqCtrlErrReportSendEnable)
	if got := status(); got&(1<<hw.SeqStatusErrReportSendActive) == 0 {
		t.Fatalf("error report sending not active: status=0x%x", got)
	}

	writeCtrl(t, brd, 1<<hw.SeqCtrlReset|1<<hw.SeqCtrlErrReportSendEnable)
	if got, want := status(), uint32(1<<hw.SeqStatusErrReportSendActive); got != want {
		t.Fatalf("invalid status after reset: got=0x%x, want=0x%x", got, want)
	}
}

func TestSequencerAutoStop(t *testing.T) {
	brd := fakehw.New()
	brd.AutoStop = true

	writeCtrl(t, brd, 1<<hw.SeqCtrlStart)
	got := brd.Reg(ctrl.SpaceSequencer, hw.SeqAddr+hw.SeqStatus)
	if got&(1<<hw.SeqStatusBusy) != 0 || got&(1<<hw.SeqStatusDone) == 0 {
		t.Fatalf("sequencer not stopped: status=0x%x", got)
	}
}
