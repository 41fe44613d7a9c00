// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package seqcmd

import (
	"fmt"
	"strings"

	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/wire"
)

// Report is an error report sent by the sequencer for a command that
// failed. It carries the ID and the number of that command.
type Report interface {
	ID() ID
	No() uint16
	Terminated() bool

	isReport()
}

// ReportHeader holds the fields shared by all error reports.
type ReportHeader struct {
	Num          uint16
	IsTerminated bool // the sequencer stopped because of this error
}

func (h ReportHeader) No() uint16       { return h.Num }
func (h ReportHeader) Terminated() bool { return h.IsTerminated }
func (ReportHeader) isReport()          {}

// AwgStartErr lists the AWGs that could not start at the requested time.
type AwgStartErr struct {
	ReportHeader
	AWGs hw.Set[hw.AWG]
}

// CaptureEndFenceErr lists the capture units that had not completed at
// the fence time.
type CaptureEndFenceErr struct {
	ReportHeader
	Units  hw.Set[hw.CaptureUnit]
	InTime bool // the fence was executed before its end time
}

type WaveSequenceSetErr struct {
	ReportHeader
	ReadErr  bool
	WriteErr bool
}

type CaptureParamSetErr struct {
	ReportHeader
	ReadErr  bool
	WriteErr bool
}

type CaptureAddrSetErr struct {
	ReportHeader
	WriteErr bool
}

type FeedbackCalcOnClassificationErr struct {
	ReportHeader
	ReadErr bool
}

// WaveGenEndFenceErr lists the AWGs that had not completed at the fence
// time.
type WaveGenEndFenceErr struct {
	ReportHeader
	AWGs   hw.Set[hw.AWG]
	InTime bool
}

type ResponsiveFeedbackErr struct {
	ReportHeader
	AWGs     hw.Set[hw.AWG]
	ReadErr  bool
	WriteErr bool
}

type WaveSequenceSelectionErr struct {
	ReportHeader
}

// BranchByFlagErr reports a branch to an invalid command counter.
type BranchByFlagErr struct {
	ReportHeader
	OutOfRange bool
	CmdCounter uint16 // command counter targeted by the branch
}

type AwgStartWithExtTrigAndClsValErr struct {
	ReportHeader
	AWGs       hw.Set[hw.AWG]
	ReadErr    bool
	WriteErr   bool
	TimeoutErr bool // no external trigger before the command timeout
}

func (AwgStartErr) ID() ID                     { return IDAwgStart }
func (CaptureEndFenceErr) ID() ID              { return IDCaptureEndFence }
func (WaveSequenceSetErr) ID() ID              { return IDWaveSequenceSet }
func (CaptureParamSetErr) ID() ID              { return IDCaptureParamSet }
func (CaptureAddrSetErr) ID() ID               { return IDCaptureAddrSet }
func (FeedbackCalcOnClassificationErr) ID() ID { return IDFeedbackCalcOnClassification }
func (WaveGenEndFenceErr) ID() ID              { return IDWaveGenEndFence }
func (ResponsiveFeedbackErr) ID() ID           { return IDResponsiveFeedback }
func (WaveSequenceSelectionErr) ID() ID        { return IDWaveSequenceSelection }
func (BranchByFlagErr) ID() ID                 { return IDBranchByFlag }
func (AwgStartWithExtTrigAndClsValErr) ID() ID { return IDAwgStartWithExtTrigAndClsVal }

var (
	_ Report = AwgStartErr{}
	_ Report = CaptureEndFenceErr{}
	_ Report = WaveSequenceSetErr{}
	_ Report = CaptureParamSetErr{}
	_ Report = CaptureAddrSetErr{}
	_ Report = FeedbackCalcOnClassificationErr{}
	_ Report = WaveGenEndFenceErr{}
	_ Report = ResponsiveFeedbackErr{}
	_ Report = WaveSequenceSelectionErr{}
	_ Report = BranchByFlagErr{}
	_ Report = AwgStartWithExtTrigAndClsValErr{}
)

// bit positions of the report fields.
const (
	posTerminated = 0
	posReadErr    = 24
	posWriteErr   = 25
	posInTime     = 40
	posFbReadErr  = 40
	posFbWriteErr = 41
	posTimeoutErr = 42
	posCounter    = 32
)

// EncodeReport returns the frame of the provided error report.
func EncodeReport(r Report) ([]byte, error) {
	var w wire.Word128
	w.SetBool(posTerminated, r.Terminated())
	w.Set(posID, 7, uint64(r.ID()))
	w.Set(posNo, 16, uint64(r.No()))

	switch r := r.(type) {
	case AwgStartErr:
		w.Set(posUnits, 16, r.AWGs.Bits())
	case CaptureEndFenceErr:
		w.Set(posUnits, 10, r.Units.Bits())
		w.SetBool(posInTime, r.InTime)
	case WaveSequenceSetErr:
		w.SetBool(posReadErr, r.ReadErr)
		w.SetBool(posWriteErr, r.WriteErr)
	case CaptureParamSetErr:
		w.SetBool(posReadErr, r.ReadErr)
		w.SetBool(posWriteErr, r.WriteErr)
	case CaptureAddrSetErr:
		w.SetBool(posWriteErr, r.WriteErr)
	case FeedbackCalcOnClassificationErr:
		w.SetBool(posReadErr, r.ReadErr)
	case WaveGenEndFenceErr:
		w.Set(posUnits, 16, r.AWGs.Bits())
		w.SetBool(posInTime, r.InTime)
	case ResponsiveFeedbackErr:
		w.Set(posUnits, 16, r.AWGs.Bits())
		w.SetBool(posFbReadErr, r.ReadErr)
		w.SetBool(posFbWriteErr, r.WriteErr)
	case WaveSequenceSelectionErr:
		// header only.
	case BranchByFlagErr:
		w.SetBool(posReadErr, r.OutOfRange)
		w.Set(posCounter, 16, uint64(r.CmdCounter))
	case AwgStartWithExtTrigAndClsValErr:
		w.Set(posUnits, 16, r.AWGs.Bits())
		w.SetBool(posFbReadErr, r.ReadErr)
		w.SetBool(posFbWriteErr, r.WriteErr)
		w.SetBool(posTimeoutErr, r.TimeoutErr)
	default:
		return nil, fmt.Errorf("seqcmd: unknown report type %T", r)
	}

	raw := w.Bytes()
	return raw[:], nil
}

// DecodeReport decodes an error report from its frame.
func DecodeReport(p []byte) (Report, error) {
	w, err := wire.Word128From(p)
	if err != nil {
		return nil, fmt.Errorf("seqcmd: could not decode error report: %w", err)
	}

	hdr := ReportHeader{
		Num:          uint16(w.Get(posNo, 16)),
		IsTerminated: w.Bool(posTerminated),
	}
	awgs := hw.SetFromBits[hw.AWG](w.Get(posUnits, 16))

	switch id := ID(w.Get(posID, 7)); id {
	case IDAwgStart:
		return AwgStartErr{ReportHeader: hdr, AWGs: awgs}, nil
	case IDCaptureEndFence:
		return CaptureEndFenceErr{
			ReportHeader: hdr,
			Units:        hw.SetFromBits[hw.CaptureUnit](w.Get(posUnits, 10)),
			InTime:       w.Bool(posInTime),
		}, nil
	case IDWaveSequenceSet:
		return WaveSequenceSetErr{
			ReportHeader: hdr,
			ReadErr:      w.Bool(posReadErr),
			WriteErr:     w.Bool(posWriteErr),
		}, nil
	case IDCaptureParamSet:
		return CaptureParamSetErr{
			ReportHeader: hdr,
			ReadErr:      w.Bool(posReadErr),
			WriteErr:     w.Bool(posWriteErr),
		}, nil
	case IDCaptureAddrSet:
		return CaptureAddrSetErr{ReportHeader: hdr, WriteErr: w.Bool(posWriteErr)}, nil
	case IDFeedbackCalcOnClassification:
		return FeedbackCalcOnClassificationErr{ReportHeader: hdr, ReadErr: w.Bool(posReadErr)}, nil
	case IDWaveGenEndFence:
		return WaveGenEndFenceErr{
			ReportHeader: hdr,
			AWGs:         awgs,
			InTime:       w.Bool(posInTime),
		}, nil
	case IDResponsiveFeedback:
		return ResponsiveFeedbackErr{
			ReportHeader: hdr,
			AWGs:         awgs,
			ReadErr:      w.Bool(posFbReadErr),
			WriteErr:     w.Bool(posFbWriteErr),
		}, nil
	case IDWaveSequenceSelection:
		return WaveSequenceSelectionErr{ReportHeader: hdr}, nil
	case IDBranchByFlag:
		return BranchByFlagErr{
			ReportHeader: hdr,
			OutOfRange:   w.Bool(posReadErr),
			CmdCounter:   uint16(w.Get(posCounter, 16)),
		}, nil
	case IDAwgStartWithExtTrigAndClsVal:
		return AwgStartWithExtTrigAndClsValErr{
			ReportHeader: hdr,
			AWGs:         awgs,
			ReadErr:      w.Bool(posFbReadErr),
			WriteErr:     w.Bool(posFbWriteErr),
			TimeoutErr:   w.Bool(posTimeoutErr),
		}, nil
	default:
		return nil, fmt.Errorf("seqcmd: unknown error report ID %d: %w", uint8(id), hw.ErrFormat)
	}
}

// DecodeReports decodes a stream of error report frames, in arrival order.
func DecodeReports(p []byte) ([]Report, error) {
	if len(p)%hw.CmdErrReportSize != 0 {
		return nil, fmt.Errorf(
			"seqcmd: invalid error report stream size %d (not a multiple of %d): %w",
			len(p), hw.CmdErrReportSize, hw.ErrFormat,
		)
	}
	reports := make([]Report, 0, len(p)/hw.CmdErrReportSize)
	for i := 0; i < len(p); i += hw.CmdErrReportSize {
		r, err := DecodeReport(p[i : i+hw.CmdErrReportSize])
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func awgIDs(s hw.Set[hw.AWG]) []int {
	o := make([]int, 0, s.Len())
	for _, v := range s.Slice() {
		o = append(o, int(v))
	}
	return o
}

func unitIDs(s hw.Set[hw.CaptureUnit]) []int {
	o := make([]int, 0, s.Len())
	for _, v := range s.Slice() {
		o = append(o, int(v))
	}
	return o
}

// Describe returns a multi-line human readable description of a report.
func Describe(r Report) string {
	type field struct {
		name  string
		value interface{}
	}
	fields := []field{
		{"command ID", uint8(r.ID())},
		{"command No", r.No()},
		{"terminated", r.Terminated()},
	}
	switch r := r.(type) {
	case AwgStartErr:
		fields = append(fields, field{"AWG IDs", awgIDs(r.AWGs)})
	case CaptureEndFenceErr:
		fields = append(fields,
			field{"capture unit IDs", unitIDs(r.Units)},
			field{"in time", r.InTime},
		)
	case WaveSequenceSetErr:
		fields = append(fields, field{"read error", r.ReadErr}, field{"write error", r.WriteErr})
	case CaptureParamSetErr:
		fields = append(fields, field{"read error", r.ReadErr}, field{"write error", r.WriteErr})
	case CaptureAddrSetErr:
		fields = append(fields, field{"write error", r.WriteErr})
	case FeedbackCalcOnClassificationErr:
		fields = append(fields, field{"read error", r.ReadErr})
	case WaveGenEndFenceErr:
		fields = append(fields, field{"AWG IDs", awgIDs(r.AWGs)}, field{"in time", r.InTime})
	case ResponsiveFeedbackErr:
		fields = append(fields,
			field{"AWG IDs", awgIDs(r.AWGs)},
			field{"read error", r.ReadErr},
			field{"write error", r.WriteErr},
		)
	case WaveSequenceSelectionErr:
	case BranchByFlagErr:
		fields = append(fields,
			field{"out of range error", r.OutOfRange},
			field{"cmd counter", r.CmdCounter},
		)
	case AwgStartWithExtTrigAndClsValErr:
		fields = append(fields,
			field{"AWG IDs", awgIDs(r.AWGs)},
			field{"read error", r.ReadErr},
			field{"write error", r.WriteErr},
			field{"timeout error", r.TimeoutErr},
		)
	}

	width := 0
	for _, f := range fields {
		if len(f.name) > width {
			width = len(f.name)
		}
	}

	o := new(strings.Builder)
	fmt.Fprintf(o, "%vCmdErr", r.ID())
	for _, f := range fields {
		fmt.Fprintf(o, "\n  - %-*s : %v", width, f.name, f.value)
	}
	return o.String()
}

// Violation returns the timing violation described by the provided
// report, or nil if the report does not describe a start or a fence
// that missed its time.
func Violation(r Report) *hw.TimingViolation {
	var units []string
	switch r := r.(type) {
	case AwgStartErr:
		if r.AWGs.Empty() {
			return nil
		}
		units = hw.Names(r.AWGs.Slice())
	case ResponsiveFeedbackErr:
		if r.AWGs.Empty() {
			return nil
		}
		units = hw.Names(r.AWGs.Slice())
	case CaptureEndFenceErr:
		if r.InTime && r.Units.Empty() {
			return nil
		}
		units = hw.Names(r.Units.Slice())
	case WaveGenEndFenceErr:
		if r.InTime && r.AWGs.Empty() {
			return nil
		}
		units = hw.Names(r.AWGs.Slice())
	default:
		return nil
	}
	return &hw.TimingViolation{
		CmdID: uint8(r.ID()),
		CmdNo: r.No(),
		Units: units,
	}
}

// Violations returns the timing violations described by the provided
// reports, in report order.
func Violations(reps []Report) []*hw.TimingViolation {
	var vs []*hw.TimingViolation
	for _, r := range reps {
		if v := Violation(r); v != nil {
			vs = append(vs, v)
		}
	}
	return vs
}
