// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hw holds the hardware definitions of e7awg boards:
// unit identifiers, DSP stages, error flags, sizes and the register
// memory map.
package hw // import "github.com/go-lpc/e7awg/hw"

import (
	"fmt"
)

// Enum is the constraint satisfied by all the closed hardware
// enumerations of this package.
type Enum interface {
	~uint8
	Valid() bool
	String() string
}

// AWG identifies an arbitrary waveform generator.
type AWG uint8

// NumAWGs is the number of AWGs of a board.
const NumAWGs = 16

func (v AWG) Valid() bool         { return v < NumAWGs }
func (v AWG) String() string      { return fmt.Sprintf("AWG.U%d", uint8(v)) }
func AllAWGs() []AWG              { return all[AWG](NumAWGs) }
func ParseAWG(i int) (AWG, error) { return parse[AWG](i) }

// CaptureUnit identifies a capture unit.
type CaptureUnit uint8

// NumCaptureUnits is the number of capture units of a board.
const NumCaptureUnits = 10

func (v CaptureUnit) Valid() bool    { return v < NumCaptureUnits }
func (v CaptureUnit) String() string { return fmt.Sprintf("CaptureUnit.U%d", uint8(v)) }
func AllCaptureUnits() []CaptureUnit { return all[CaptureUnit](NumCaptureUnits) }
func ParseCaptureUnit(i int) (CaptureUnit, error) {
	return parse[CaptureUnit](i)
}

// CaptureModule identifies a group of capture units sharing a
// start trigger.
type CaptureModule uint8

// NumCaptureModules is the number of capture modules of a board.
const NumCaptureModules = 4

func (v CaptureModule) Valid() bool    { return v < NumCaptureModules }
func (v CaptureModule) String() string { return fmt.Sprintf("CaptureModule.U%d", uint8(v)) }
func AllCaptureModules() []CaptureModule {
	return all[CaptureModule](NumCaptureModules)
}

// Units returns the capture units held by the module.
func (v CaptureModule) Units() []CaptureUnit {
	switch v {
	case 0:
		return []CaptureUnit{0, 1, 2, 3}
	case 1:
		return []CaptureUnit{4, 5, 6, 7}
	case 2:
		return []CaptureUnit{8}
	case 3:
		return []CaptureUnit{9}
	}
	return nil
}

// Module returns the capture module holding the unit.
func (v CaptureUnit) Module() CaptureModule {
	switch {
	case v < 4:
		return 0
	case v < 8:
		return 1
	case v == 8:
		return 2
	default:
		return 3
	}
}

// FeedbackChannel identifies a channel carrying feedback values.
type FeedbackChannel uint8

const NumFeedbackChannels = 10

func (v FeedbackChannel) Valid() bool    { return v < NumFeedbackChannels }
func (v FeedbackChannel) String() string { return fmt.Sprintf("FeedbackChannel.U%d", uint8(v)) }
func AllFeedbackChannels() []FeedbackChannel {
	return all[FeedbackChannel](NumFeedbackChannels)
}

// FourClassifierChannel identifies a channel carrying
// classification results.
type FourClassifierChannel uint8

const NumFourClassifierChannels = 10

func (v FourClassifierChannel) Valid() bool { return v < NumFourClassifierChannels }
func (v FourClassifierChannel) String() string {
	return fmt.Sprintf("FourClassifierChannel.U%d", uint8(v))
}
func AllFourClassifierChannels() []FourClassifierChannel {
	return all[FourClassifierChannel](NumFourClassifierChannels)
}

// DecisionFunc identifies one of the two decision functions of the
// classification stage.
type DecisionFunc uint8

const (
	DecisionFunc0 DecisionFunc = iota
	DecisionFunc1

	NumDecisionFuncs = 2
)

func (v DecisionFunc) Valid() bool    { return v < NumDecisionFuncs }
func (v DecisionFunc) String() string { return fmt.Sprintf("DecisionFunc.U%d", uint8(v)) }
func AllDecisionFuncs() []DecisionFunc {
	return all[DecisionFunc](NumDecisionFuncs)
}

// DspUnit is a stage of the capture DSP pipeline.
// Stages are ordered by their position in the pipeline.
type DspUnit uint8

const (
	ComplexFir DspUnit = iota
	Decimation
	RealFir
	ComplexWindow
	Sum
	Integration
	Classification

	numDspUnits
)

var dspUnitNames = [...]string{
	ComplexFir:     "COMPLEX_FIR",
	Decimation:     "DECIMATION",
	RealFir:        "REAL_FIR",
	ComplexWindow:  "COMPLEX_WINDOW",
	Sum:            "SUM",
	Integration:    "INTEGRATION",
	Classification: "CLASSIFICATION",
}

func (v DspUnit) Valid() bool { return v < numDspUnits }
func (v DspUnit) String() string {
	if !v.Valid() {
		return fmt.Sprintf("DspUnit(%d)", uint8(v))
	}
	return dspUnitNames[v]
}
func AllDspUnits() []DspUnit { return all[DspUnit](int(numDspUnits)) }

// CaptureParamElem selects an element of the capture parameters.
type CaptureParamElem uint8

const (
	ElemDspUnits CaptureParamElem = iota
	ElemCaptureDelay
	ElemNumIntegSections
	ElemNumSumSections
	ElemSumTargetInterval
	ElemSumSectionLen
	ElemPostBlankLen
	ElemComplexFirCoef
	ElemRealFirCoef
	ElemComplexWindowCoef
	ElemDecisionFuncParam

	numCaptureParamElems
)

var captureParamElemNames = [...]string{
	ElemDspUnits:          "DSP_UNITS",
	ElemCaptureDelay:      "CAPTURE_DELAY",
	ElemNumIntegSections:  "NUM_INTEG_SECTIONS",
	ElemNumSumSections:    "NUM_SUM_SECTIONS",
	ElemSumTargetInterval: "SUM_TARGET_INTERVAL",
	ElemSumSectionLen:     "SUM_SECTION_LEN",
	ElemPostBlankLen:      "POST_BLANK_LEN",
	ElemComplexFirCoef:    "COMP_FIR_COEF",
	ElemRealFirCoef:       "REAL_FIR_COEF",
	ElemComplexWindowCoef: "COMP_WINDOW_COEF",
	ElemDecisionFuncParam: "DECISION_FUNC_PARAM",
}

func (v CaptureParamElem) Valid() bool { return v < numCaptureParamElems }
func (v CaptureParamElem) String() string {
	if !v.Valid() {
		return fmt.Sprintf("CaptureParamElem(%d)", uint8(v))
	}
	return captureParamElemNames[v]
}
func AllCaptureParamElems() []CaptureParamElem {
	return all[CaptureParamElem](int(numCaptureParamElems))
}

// AwgErr is an error flag raised by an AWG.
type AwgErr uint8

const (
	AwgErrMemRead AwgErr = iota
	AwgErrSampleShortage
)

func (v AwgErr) Valid() bool { return v <= AwgErrSampleShortage }
func (v AwgErr) String() string {
	switch v {
	case AwgErrMemRead:
		return "MEM_RD"
	case AwgErrSampleShortage:
		return "SAMPLE_SHORTAGE"
	}
	return fmt.Sprintf("AwgErr(%d)", uint8(v))
}

// CaptureErr is an error flag raised by a capture unit.
type CaptureErr uint8

const (
	CaptureErrMemWrite CaptureErr = iota
	CaptureErrOverflow
)

func (v CaptureErr) Valid() bool { return v <= CaptureErrOverflow }
func (v CaptureErr) String() string {
	switch v {
	case CaptureErrMemWrite:
		return "MEM_WR"
	case CaptureErrOverflow:
		return "OVERFLOW"
	}
	return fmt.Sprintf("CaptureErr(%d)", uint8(v))
}

// SequencerErr is an error flag raised by the sequencer.
type SequencerErr uint8

const (
	SeqErrCmdFifoOverflow SequencerErr = iota
	SeqErrErrFifoOverflow
)

func (v SequencerErr) Valid() bool { return v <= SeqErrErrFifoOverflow }
func (v SequencerErr) String() string {
	switch v {
	case SeqErrCmdFifoOverflow:
		return "CMD_FIFO_OVERFLOW"
	case SeqErrErrFifoOverflow:
		return "ERR_FIFO_OVERFLOW"
	}
	return fmt.Sprintf("SequencerErr(%d)", uint8(v))
}

func all[T ~uint8](n int) []T {
	vs := make([]T, n)
	for i := range vs {
		vs[i] = T(i)
	}
	return vs
}

func parse[T Enum](i int) (T, error) {
	v := T(i)
	if i < 0 || i > 0xff || !v.Valid() {
		var zero T
		return zero, fmt.Errorf("hw: could not convert %d to %T: %w", i, zero, ErrRange)
	}
	return v, nil
}
