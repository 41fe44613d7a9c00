// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package seqcmd implements the commands executed by the e7awg sequencer
// and the error reports it sends back.
//
// Every command is a 16-byte little-endian bitfield:
//
//	bit  0      stop-sequencer flag
//	bits 1..7   command ID
//	bits 8..23  command number
//	bits 24..   command specific fields
package seqcmd // import "github.com/go-lpc/e7awg/seqcmd"

import (
	"fmt"

	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/wire"
)

// ID identifies the kind of a command and of its error report.
type ID uint8

const (
	IDAwgStart                     ID = 1
	IDCaptureEndFence              ID = 2
	IDWaveSequenceSet              ID = 3
	IDCaptureParamSet              ID = 4
	IDCaptureAddrSet               ID = 5
	IDFeedbackCalcOnClassification ID = 6
	IDWaveGenEndFence              ID = 7
	IDResponsiveFeedback           ID = 8
	IDWaveSequenceSelection        ID = 9
	IDBranchByFlag                 ID = 10
	IDAwgStartWithExtTrigAndClsVal ID = 11
)

var idNames = map[ID]string{
	IDAwgStart:                     "AwgStart",
	IDCaptureEndFence:              "CaptureEndFence",
	IDWaveSequenceSet:              "WaveSequenceSet",
	IDCaptureParamSet:              "CaptureParamSet",
	IDCaptureAddrSet:               "CaptureAddrSet",
	IDFeedbackCalcOnClassification: "FeedbackCalcOnClassification",
	IDWaveGenEndFence:              "WaveGenEndFence",
	IDResponsiveFeedback:           "ResponsiveFeedback",
	IDWaveSequenceSelection:        "WaveSequenceSelection",
	IDBranchByFlag:                 "BranchByFlag",
	IDAwgStartWithExtTrigAndClsVal: "AwgStartWithExtTrigAndClsVal",
}

func (id ID) String() string {
	if v, ok := idNames[id]; ok {
		return v
	}
	return fmt.Sprintf("ID(%d)", uint8(id))
}

// Immediate is the start time of AWGs started as soon as they are ready.
const Immediate int64 = -1

const (
	MinBranchOffset = -32768
	MaxBranchOffset = 32767
)

// Command is a sequencer command.
//
// The set of commands is closed: it is made of the types defined in
// this package.
type Command interface {
	ID() ID
	No() uint16
	StopSeq() bool
	Size() int
	Validate() error

	isCommand()
}

// Header holds the fields shared by all commands.
type Header struct {
	Num  uint16 // command number
	Stop bool   // stop the sequencer after this command
}

func (h Header) No() uint16    { return h.Num }
func (h Header) StopSeq() bool { return h.Stop }
func (Header) Size() int       { return hw.CmdSize }
func (Header) isCommand()      {}

// Keys returns a key table selecting the same registry entry whatever
// the feedback value.
func Keys(key int) [4]int {
	return [4]int{key, key, key, key}
}

// AwgStart starts AWGs at a given time.
type AwgStart struct {
	Header
	AWGs      hw.Set[hw.AWG]
	StartTime int64 // in units of 8ns since the sequencer start. Negative values mean Immediate.
	Wait      bool  // wait for the end of the waveforms before completing
}

// CaptureEndFence checks capture units have completed at a given time.
type CaptureEndFence struct {
	Header
	Units     hw.Set[hw.CaptureUnit]
	EndTime   int64
	Wait      bool // wait for the capture units to complete
	Terminate bool // force the capture units to stop
}

// WaveSequenceSet loads registered wave sequences into AWGs.
type WaveSequenceSet struct {
	Header
	AWGs    hw.Set[hw.AWG]
	Channel hw.FeedbackChannel
	Keys    [4]int // wave registry keys, indexed by feedback value
}

// CaptureParamSet loads registered capture parameters into capture units.
type CaptureParamSet struct {
	Header
	Units   hw.Set[hw.CaptureUnit]
	Channel hw.FeedbackChannel
	Elems   hw.Set[hw.CaptureParamElem]
	Keys    [4]int // capture parameter registry keys, indexed by feedback value
}

// CaptureAddrSet sets the offset of the capture data of capture units.
type CaptureAddrSet struct {
	Header
	Units      hw.Set[hw.CaptureUnit]
	ByteOffset int
}

// FeedbackCalcOnClassification computes feedback values from the
// classification results stored at the provided offset of the capture
// data of each capture unit.
// The classification results must have been fenced by a previous
// CaptureEndFence.
type FeedbackCalcOnClassification struct {
	Header
	Units      hw.Set[hw.CaptureUnit]
	ByteOffset int
	ElemOffset int // in classification results
}

// BitOffset returns the bit address of the feedback value, relative to
// the capture data of a capture unit.
func (c FeedbackCalcOnClassification) BitOffset() int64 {
	return int64(c.ByteOffset)*8 + int64(c.ElemOffset)*hw.ClassificationResultSize
}

// Normalize returns the command with its offsets expressed as a
// capture RAM word aligned byte offset and an element offset within
// that word, as stored in the command frame.
func (c FeedbackCalcOnClassification) Normalize() FeedbackCalcOnClassification {
	const wordBits = hw.CaptureRAMWordSize * 8
	bits := c.BitOffset()
	c.ByteOffset = int(bits / wordBits * hw.CaptureRAMWordSize)
	c.ElemOffset = int(bits % wordBits / hw.ClassificationResultSize)
	return c
}

// WaveGenEndFence checks AWGs have completed at a given time.
type WaveGenEndFence struct {
	Header
	AWGs      hw.Set[hw.AWG]
	EndTime   int64
	Wait      bool
	Terminate bool
}

// ResponsiveFeedback starts AWGs with the wave sequences selected from
// feedback values.
type ResponsiveFeedback struct {
	Header
	AWGs      hw.Set[hw.AWG]
	StartTime int64
	Wait      bool
}

// WaveSequenceSelection selects the wave sequences used by
// ResponsiveFeedback and AwgStartWithExtTrigAndClsVal.
type WaveSequenceSelection struct {
	Header
	AWGs    hw.Set[hw.AWG]
	Channel hw.FourClassifierChannel
	Keys    [4]int
	ExtTrig bool // use the external trigger classifier channels (only U0)
}

// BranchByFlag jumps Offset commands away when the sequencer branch
// flag is set.
type BranchByFlag struct {
	Header
	Offset int
}

// AwgStartWithExtTrigAndClsVal waits for a classification result, loads
// the wave sequence it selects and starts AWGs on the external trigger.
type AwgStartWithExtTrigAndClsVal struct {
	Header
	AWGs    hw.Set[hw.AWG]
	Timeout uint64 // in units of 8ns
	Wait    bool
}

func (AwgStart) ID() ID                     { return IDAwgStart }
func (CaptureEndFence) ID() ID              { return IDCaptureEndFence }
func (WaveSequenceSet) ID() ID              { return IDWaveSequenceSet }
func (CaptureParamSet) ID() ID              { return IDCaptureParamSet }
func (CaptureAddrSet) ID() ID               { return IDCaptureAddrSet }
func (FeedbackCalcOnClassification) ID() ID { return IDFeedbackCalcOnClassification }
func (WaveGenEndFence) ID() ID              { return IDWaveGenEndFence }
func (ResponsiveFeedback) ID() ID           { return IDResponsiveFeedback }
func (WaveSequenceSelection) ID() ID        { return IDWaveSequenceSelection }
func (BranchByFlag) ID() ID                 { return IDBranchByFlag }
func (AwgStartWithExtTrigAndClsVal) ID() ID { return IDAwgStartWithExtTrigAndClsVal }

func rangeErr(id ID, name string, v interface{}, lo, hi interface{}) error {
	return fmt.Errorf(
		"seqcmd: invalid %s %v for %v command (want %v..%v): %w",
		name, v, id, lo, hi, hw.ErrRange,
	)
}

func validAWGs(id ID, s hw.Set[hw.AWG]) error {
	if s.Empty() || !s.Valid() {
		return fmt.Errorf("seqcmd: invalid AWGs %v for %v command: %w", s, id, hw.ErrRange)
	}
	return nil
}

func validUnits(id ID, s hw.Set[hw.CaptureUnit]) error {
	if s.Empty() || !s.Valid() {
		return fmt.Errorf("seqcmd: invalid capture units %v for %v command: %w", s, id, hw.ErrRange)
	}
	return nil
}

func validKeys(id ID, keys [4]int) error {
	for _, k := range keys {
		if k < 0 || k > hw.MaxCmdKey {
			return rangeErr(id, "registry key", k, 0, hw.MaxCmdKey)
		}
	}
	return nil
}

func validTime(id ID, name string, v int64) error {
	if v < 0 || v > hw.MaxEndTime {
		return rangeErr(id, name, v, 0, int64(hw.MaxEndTime))
	}
	return nil
}

func (c AwgStart) Validate() error {
	return validAWGs(c.ID(), c.AWGs)
}

func (c CaptureEndFence) Validate() error {
	if err := validUnits(c.ID(), c.Units); err != nil {
		return err
	}
	return validTime(c.ID(), "end time", c.EndTime)
}

func (c WaveSequenceSet) Validate() error {
	if err := validAWGs(c.ID(), c.AWGs); err != nil {
		return err
	}
	if !c.Channel.Valid() {
		return fmt.Errorf("seqcmd: invalid feedback channel %v: %w", c.Channel, hw.ErrRange)
	}
	return validKeys(c.ID(), c.Keys)
}

func (c CaptureParamSet) Validate() error {
	if err := validUnits(c.ID(), c.Units); err != nil {
		return err
	}
	if !c.Channel.Valid() {
		return fmt.Errorf("seqcmd: invalid feedback channel %v: %w", c.Channel, hw.ErrRange)
	}
	if c.Elems.Empty() || !c.Elems.Valid() {
		return fmt.Errorf("seqcmd: invalid capture parameter elements %v: %w", c.Elems, hw.ErrRange)
	}
	return validKeys(c.ID(), c.Keys)
}

func (c CaptureAddrSet) Validate() error {
	if err := validUnits(c.ID(), c.Units); err != nil {
		return err
	}
	if c.ByteOffset < 0 || c.ByteOffset >= hw.MaxCaptureSize {
		return rangeErr(c.ID(), "byte offset", c.ByteOffset, 0, hw.MaxCaptureSize-1)
	}
	if c.ByteOffset%hw.CaptureDataAlignmentSize != 0 {
		return fmt.Errorf(
			"seqcmd: byte offset %d is not a multiple of %d: %w",
			c.ByteOffset, hw.CaptureDataAlignmentSize, hw.ErrRange,
		)
	}
	return nil
}

func (c FeedbackCalcOnClassification) Validate() error {
	if err := validUnits(c.ID(), c.Units); err != nil {
		return err
	}
	if c.ByteOffset < 0 || c.ByteOffset >= hw.MaxCaptureSize {
		return rangeErr(c.ID(), "byte offset", c.ByteOffset, 0, hw.MaxCaptureSize-1)
	}
	const maxElems = hw.MaxCaptureSize * 8 / hw.ClassificationResultSize
	if c.ElemOffset < 0 || c.ElemOffset >= maxElems {
		return rangeErr(c.ID(), "element offset", c.ElemOffset, 0, maxElems-1)
	}
	if c.BitOffset() >= hw.MaxCaptureSize*8 {
		return fmt.Errorf(
			"seqcmd: classification result (byte-offset=%d, elem-offset=%d) is not in the capture data area: %w",
			c.ByteOffset, c.ElemOffset, hw.ErrRange,
		)
	}
	return nil
}

func (c WaveGenEndFence) Validate() error {
	if err := validAWGs(c.ID(), c.AWGs); err != nil {
		return err
	}
	return validTime(c.ID(), "end time", c.EndTime)
}

func (c ResponsiveFeedback) Validate() error {
	return validAWGs(c.ID(), c.AWGs)
}

func (c WaveSequenceSelection) Validate() error {
	if err := validAWGs(c.ID(), c.AWGs); err != nil {
		return err
	}
	if !c.Channel.Valid() {
		return fmt.Errorf("seqcmd: invalid four-classifier channel %v: %w", c.Channel, hw.ErrRange)
	}
	if c.ExtTrig && c.Channel != 0 {
		return fmt.Errorf(
			"seqcmd: invalid four-classifier channel %v for external trigger: %w",
			c.Channel, hw.ErrRange,
		)
	}
	return validKeys(c.ID(), c.Keys)
}

func (c BranchByFlag) Validate() error {
	if c.Offset < MinBranchOffset || c.Offset > MaxBranchOffset {
		return rangeErr(c.ID(), "branch offset", c.Offset, MinBranchOffset, MaxBranchOffset)
	}
	return nil
}

func (c AwgStartWithExtTrigAndClsVal) Validate() error {
	return validAWGs(c.ID(), c.AWGs)
}

var (
	_ Command = AwgStart{}
	_ Command = CaptureEndFence{}
	_ Command = WaveSequenceSet{}
	_ Command = CaptureParamSet{}
	_ Command = CaptureAddrSet{}
	_ Command = FeedbackCalcOnClassification{}
	_ Command = WaveGenEndFence{}
	_ Command = ResponsiveFeedback{}
	_ Command = WaveSequenceSelection{}
	_ Command = BranchByFlag{}
	_ Command = AwgStartWithExtTrigAndClsVal{}
)

// bit positions of the command fields.
const (
	posStop    = 0
	posID      = 1
	posNo      = 8
	posUnits   = 24
	posTime    = 40
	posWait    = 104 // start commands
	posTerm    = 104 // fence commands
	posFWait   = 105 // fence commands
	posChan    = 40
	posKeys    = 44
	posElems   = 44
	posPKeys   = 60
	posOffset  = 40
	posElemOff = 76
	posExtTrig = 127
	posBranch  = 24
)

func putKeys(w *wire.Word128, pos uint, keys [4]int) {
	for i, k := range keys {
		w.Set(pos+uint(i)*10, 10, uint64(k))
	}
}

func getKeys(w wire.Word128, pos uint) [4]int {
	var keys [4]int
	for i := range keys {
		keys[i] = int(w.Get(pos+uint(i)*10, 10))
	}
	return keys
}

func startTime(t int64) uint64 {
	if t < 0 {
		return ^uint64(0)
	}
	return uint64(t)
}

// Encode returns the frame of the provided command.
func Encode(cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("seqcmd: could not encode command #%d: %w", cmd.No(), err)
	}

	var w wire.Word128
	w.SetBool(posStop, cmd.StopSeq())
	w.Set(posID, 7, uint64(cmd.ID()))
	w.Set(posNo, 16, uint64(cmd.No()))

	switch cmd := cmd.(type) {
	case AwgStart:
		w.Set(posUnits, 16, cmd.AWGs.Bits())
		w.Set(posTime, 64, startTime(cmd.StartTime))
		w.SetBool(posWait, cmd.Wait)
	case CaptureEndFence:
		w.Set(posUnits, 10, cmd.Units.Bits())
		w.Set(posTime, 64, uint64(cmd.EndTime))
		w.SetBool(posTerm, cmd.Terminate)
		w.SetBool(posFWait, cmd.Wait)
	case WaveSequenceSet:
		w.Set(posUnits, 16, cmd.AWGs.Bits())
		w.Set(posChan, 4, uint64(cmd.Channel))
		putKeys(&w, posKeys, cmd.Keys)
	case CaptureParamSet:
		w.Set(posUnits, 10, cmd.Units.Bits())
		w.Set(posChan, 4, uint64(cmd.Channel))
		w.Set(posElems, 16, cmd.Elems.Bits())
		putKeys(&w, posPKeys, cmd.Keys)
	case CaptureAddrSet:
		w.Set(posUnits, 10, cmd.Units.Bits())
		w.Set(posOffset, 36, uint64(cmd.ByteOffset))
	case FeedbackCalcOnClassification:
		norm := cmd.Normalize()
		w.Set(posUnits, 10, cmd.Units.Bits())
		w.Set(posOffset, 36, uint64(norm.ByteOffset))
		w.Set(posElemOff, 8, uint64(norm.ElemOffset))
	case WaveGenEndFence:
		w.Set(posUnits, 16, cmd.AWGs.Bits())
		w.Set(posTime, 64, uint64(cmd.EndTime))
		w.SetBool(posTerm, cmd.Terminate)
		w.SetBool(posFWait, cmd.Wait)
	case ResponsiveFeedback:
		w.Set(posUnits, 16, cmd.AWGs.Bits())
		w.Set(posTime, 64, startTime(cmd.StartTime))
		w.SetBool(posWait, cmd.Wait)
	case WaveSequenceSelection:
		w.Set(posUnits, 16, cmd.AWGs.Bits())
		w.Set(posChan, 4, uint64(cmd.Channel))
		putKeys(&w, posKeys, cmd.Keys)
		w.SetBool(posExtTrig, cmd.ExtTrig)
	case BranchByFlag:
		w.Set(posBranch, 16, uint64(cmd.Offset)&0xFFFF)
	case AwgStartWithExtTrigAndClsVal:
		w.Set(posUnits, 16, cmd.AWGs.Bits())
		w.Set(posTime, 64, cmd.Timeout)
		w.SetBool(posWait, cmd.Wait)
	default:
		return nil, fmt.Errorf("seqcmd: unknown command type %T", cmd)
	}

	raw := w.Bytes()
	return raw[:], nil
}

// EncodeAll returns the concatenated frames of the provided commands.
func EncodeAll(cmds []Command) ([]byte, error) {
	out := make([]byte, 0, len(cmds)*hw.CmdSize)
	for _, cmd := range cmds {
		raw, err := Encode(cmd)
		if err != nil {
			return nil, err
		}
		out = append(out, raw...)
	}
	return out, nil
}

// Decode decodes a command from its frame.
func Decode(p []byte) (Command, error) {
	w, err := wire.Word128From(p)
	if err != nil {
		return nil, fmt.Errorf("seqcmd: could not decode command: %w", err)
	}

	hdr := Header{
		Num:  uint16(w.Get(posNo, 16)),
		Stop: w.Bool(posStop),
	}
	awgs := hw.SetFromBits[hw.AWG](w.Get(posUnits, 16))
	units := hw.SetFromBits[hw.CaptureUnit](w.Get(posUnits, 10))

	var cmd Command
	switch id := ID(w.Get(posID, 7)); id {
	case IDAwgStart:
		cmd = AwgStart{
			Header:    hdr,
			AWGs:      awgs,
			StartTime: int64(w.Get(posTime, 64)),
			Wait:      w.Bool(posWait),
		}
	case IDCaptureEndFence:
		cmd = CaptureEndFence{
			Header:    hdr,
			Units:     units,
			EndTime:   int64(w.Get(posTime, 64)),
			Wait:      w.Bool(posFWait),
			Terminate: w.Bool(posTerm),
		}
	case IDWaveSequenceSet:
		cmd = WaveSequenceSet{
			Header:  hdr,
			AWGs:    awgs,
			Channel: hw.FeedbackChannel(w.Get(posChan, 4)),
			Keys:    getKeys(w, posKeys),
		}
	case IDCaptureParamSet:
		cmd = CaptureParamSet{
			Header:  hdr,
			Units:   units,
			Channel: hw.FeedbackChannel(w.Get(posChan, 4)),
			Elems:   hw.SetFromBits[hw.CaptureParamElem](w.Get(posElems, 16)),
			Keys:    getKeys(w, posPKeys),
		}
	case IDCaptureAddrSet:
		cmd = CaptureAddrSet{
			Header:     hdr,
			Units:      units,
			ByteOffset: int(w.Get(posOffset, 36)),
		}
	case IDFeedbackCalcOnClassification:
		cmd = FeedbackCalcOnClassification{
			Header:     hdr,
			Units:      units,
			ByteOffset: int(w.Get(posOffset, 36)),
			ElemOffset: int(w.Get(posElemOff, 8)),
		}
	case IDWaveGenEndFence:
		cmd = WaveGenEndFence{
			Header:    hdr,
			AWGs:      awgs,
			EndTime:   int64(w.Get(posTime, 64)),
			Wait:      w.Bool(posFWait),
			Terminate: w.Bool(posTerm),
		}
	case IDResponsiveFeedback:
		cmd = ResponsiveFeedback{
			Header:    hdr,
			AWGs:      awgs,
			StartTime: int64(w.Get(posTime, 64)),
			Wait:      w.Bool(posWait),
		}
	case IDWaveSequenceSelection:
		cmd = WaveSequenceSelection{
			Header:  hdr,
			AWGs:    awgs,
			Channel: hw.FourClassifierChannel(w.Get(posChan, 4)),
			Keys:    getKeys(w, posKeys),
			ExtTrig: w.Bool(posExtTrig),
		}
	case IDBranchByFlag:
		cmd = BranchByFlag{
			Header: hdr,
			Offset: int(int16(w.Get(posBranch, 16))),
		}
	case IDAwgStartWithExtTrigAndClsVal:
		cmd = AwgStartWithExtTrigAndClsVal{
			Header:  hdr,
			AWGs:    awgs,
			Timeout: w.Get(posTime, 64),
			Wait:    w.Bool(posWait),
		}
	default:
		return nil, fmt.Errorf("seqcmd: unknown command ID %d: %w", uint8(id), hw.ErrFormat)
	}

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("seqcmd: invalid %v command frame: %w (%v)", cmd.ID(), hw.ErrFormat, err)
	}
	return cmd, nil
}

// DecodeAll decodes a stream of command frames.
func DecodeAll(p []byte) ([]Command, error) {
	if len(p)%hw.CmdSize != 0 {
		return nil, fmt.Errorf(
			"seqcmd: invalid command stream size %d (not a multiple of %d): %w",
			len(p), hw.CmdSize, hw.ErrFormat,
		)
	}
	cmds := make([]Command, 0, len(p)/hw.CmdSize)
	for i := 0; i < len(p); i += hw.CmdSize {
		cmd, err := Decode(p[i : i+hw.CmdSize])
		if err != nil {
			return nil, fmt.Errorf("seqcmd: could not decode command #%d of stream: %w", i/hw.CmdSize, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}
