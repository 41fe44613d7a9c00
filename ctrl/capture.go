// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ctrl

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/go-lpc/e7awg/capture"
	"github.com/go-lpc/e7awg/hw"
)

func captureMaster(rw *regio) master {
	return master{
		sel:  newReg32(rw, SpaceCapture, hw.CaptureMasterAddr+hw.CaptureMasterCtrlTargetSel),
		ctrl: newReg32(rw, SpaceCapture, hw.CaptureMasterAddr+hw.CaptureMasterCtrl),
	}
}

func captureRegs(rw *regio, unit hw.CaptureUnit) unitRegs {
	base := hw.CaptureCtrlAddr(unit)
	return unitRegs{
		ctrl:   newReg32(rw, SpaceCapture, base+hw.CaptureCtrlCtrl),
		status: newReg32(rw, SpaceCapture, base+hw.CaptureCtrlStatus),
		err:    newReg32(rw, SpaceCapture, base+hw.CaptureCtrlErr),
	}
}

// InitializeCaptureUnits resets the provided capture units, disables
// their start trigger, clears the capture parameter registry and sets
// default parameters on them.
func (c *Coordinator) InitializeCaptureUnits(ids ...hw.CaptureUnit) error {
	set, err := unitSet(ids)
	if err != nil {
		return err
	}
	err = c.initUnits(newOwner(), set)
	if err != nil {
		return fmt.Errorf("ctrl: could not initialize capture units %v: %w", set, err)
	}
	return nil
}

func (c *Coordinator) initUnits(op *owner, set hw.Set[hw.CaptureUnit]) error {
	if set.Empty() {
		return nil
	}
	return c.run(op, func(rw *regio) error {
		mask := newReg32(rw, SpaceCapture, hw.CaptureMasterAddr+hw.CaptureMasterAwgTrigMask)
		mask.w(mask.r() &^ uint32(set.Bits()))
		captureMaster(rw).deselectTargets(set.Bits())
		for _, id := range set.Slice() {
			captureRegs(rw, id).ctrl.w(0)
		}
		if rw.err != nil {
			return rw.err
		}

		err := c.resetUnits(op, set)
		if err != nil {
			return err
		}

		c.mu.Lock()
		c.nCap = 0
		c.mu.Unlock()

		param := capture.NewParam()
		for _, id := range set.Slice() {
			writeCaptureParams(rw, SpaceCapture, hw.CaptureParamAddr(id), param)
			rw.writeU32(SpaceCapture, hw.CaptureParamAddr(id)+hw.CaptureParamCaptureAddr, captureAddr(id))
		}
		if rw.err != nil {
			return rw.err
		}
		c.setUnits(set, Status{State: Initialized})
		return nil
	})
}

// Initialize initializes the provided AWGs and capture units.
func (c *Coordinator) Initialize(awgs []hw.AWG, units []hw.CaptureUnit) error {
	aset, err := awgSet(awgs)
	if err != nil {
		return err
	}
	uset, err := unitSet(units)
	if err != nil {
		return err
	}
	op := newOwner()
	err = c.run(op, func(*regio) error {
		err := c.initAwgs(op, aset)
		if err != nil {
			return err
		}
		return c.initUnits(op, uset)
	})
	if err != nil {
		return fmt.Errorf("ctrl: could not initialize board: %w", err)
	}
	return nil
}

// captureAddr is the value of the capture address register of a unit.
func captureAddr(unit hw.CaptureUnit) uint32 {
	return uint32(hw.CaptureDataAddr(unit) / hw.CaptureRAMWordSize)
}

func writeCaptureParams(rw *regio, sp Space, addr uint64, p *capture.Param) {
	var (
		secs  = p.SumSections()
		lens  = make([]uint32, len(secs))
		blank = make([]uint32, len(secs))
	)
	for i, sec := range secs {
		lens[i] = uint32(sec.CaptureWords)
		blank[i] = uint32(sec.PostBlankWords)
	}
	rw.writeU32(sp, addr+hw.CaptureParamNumSumSections, uint32(len(secs)))
	rw.writeU32s(sp, addr+hw.CaptureParamSumSectionLen, lens)
	rw.writeU32s(sp, addr+hw.CaptureParamPostBlankLen, blank)

	rw.writeU32(sp, addr+hw.CaptureParamNumIntegSections, uint32(p.NumIntegSections()))
	rw.writeU32(sp, addr+hw.CaptureParamDspModuleEnable, uint32(p.DspUnits().Bits()))
	rw.writeU32(sp, addr+hw.CaptureParamCaptureDelay, uint32(p.CaptureDelay()))

	re, im := complexRegs(p.ComplexFirCoefs())
	rw.writeU32s(sp, addr+hw.CaptureParamComplexFirRe, re)
	rw.writeU32s(sp, addr+hw.CaptureParamComplexFirIm, im)

	fi, fq := p.RealFirCoefs()
	rw.writeU32s(sp, addr+hw.CaptureParamRealFirI, int64Regs(fi))
	rw.writeU32s(sp, addr+hw.CaptureParamRealFirQ, int64Regs(fq))

	re, im = complexRegs(p.ComplexWindowCoefs())
	rw.writeU32s(sp, addr+hw.CaptureParamComplexWindowRe, re)
	rw.writeU32s(sp, addr+hw.CaptureParamComplexWindowIm, im)

	beg := p.SumStartWordNo()
	end := beg + p.NumWordsToSum() - 1
	if end > hw.MaxSumSectionLen {
		end = hw.MaxSumSectionLen
	}
	rw.writeU32(sp, addr+hw.CaptureParamSumStartTime, uint32(beg))
	rw.writeU32(sp, addr+hw.CaptureParamSumEndTime, uint32(end))

	fns := make([]uint32, 0, 3*hw.NumDecisionFuncs)
	for _, fn := range hw.AllDecisionFuncs() {
		v, _ := p.DecisionFuncParams(fn)
		fns = append(fns,
			math.Float32bits(v.A),
			math.Float32bits(v.B),
			math.Float32bits(v.C),
		)
	}
	rw.writeU32s(sp, addr+hw.CaptureParamDecisionFunc, fns)
}

func complexRegs(coefs []capture.Complex) (re, im []uint32) {
	re = make([]uint32, len(coefs))
	im = make([]uint32, len(coefs))
	for i, v := range coefs {
		re[i] = uint32(int32(v.Re))
		im[i] = uint32(int32(v.Im))
	}
	return re, im
}

func int64Regs(vs []int64) []uint32 {
	o := make([]uint32, len(vs))
	for i, v := range vs {
		o[i] = uint32(int32(v))
	}
	return o
}

func (c *Coordinator) checkCaptureParam(unit hw.CaptureUnit, p *capture.Param) error {
	if p == nil {
		return fmt.Errorf("ctrl: nil capture parameters for %v: %w", unit, hw.ErrRange)
	}
	if n := p.CalcRequiredCaptureMemSize(); n > hw.MaxCaptureSize {
		return fmt.Errorf(
			"ctrl: capture data of %v do not fit in capture RAM (required=%d, max=%d bytes): %w",
			unit, n, hw.MaxCaptureSize, hw.ErrCapacity,
		)
	}
	for _, i := range sumRangeOverflows(p) {
		c.msg.Printf(
			"sum range of section %d on %v exceeds %d capture words: the sum may overflow",
			i, unit, hw.MaxSumRangeLen,
		)
	}
	return nil
}

// sumRangeOverflows returns the sum sections whose sum range is too
// long to be summed without overflow.
func sumRangeOverflows(p *capture.Param) []int {
	var o []int
	for i := 0; i < p.NumSumSections(); i++ {
		n, err := p.NumSamplesToSum(i)
		if err != nil {
			continue
		}
		if n > hw.MaxSumRangeLen {
			o = append(o, i)
		}
	}
	return o
}

// SetCaptureParams sets the parameters of a capture unit, without
// registering them.
func (c *Coordinator) SetCaptureParams(unit hw.CaptureUnit, p *capture.Param) error {
	if !unit.Valid() {
		return fmt.Errorf("ctrl: invalid capture unit %d: %w", uint8(unit), hw.ErrRange)
	}
	err := c.checkCaptureParam(unit, p)
	if err != nil {
		return err
	}
	return c.run(newOwner(), func(rw *regio) error {
		err := c.checkUnitConfigurable(rw, unit)
		if err != nil {
			return err
		}
		addr := hw.CaptureParamAddr(unit)
		writeCaptureParams(rw, SpaceCapture, addr, p)
		rw.writeU32(SpaceCapture, addr+hw.CaptureParamCaptureAddr, captureAddr(unit))
		if rw.err != nil {
			return fmt.Errorf("ctrl: could not set capture parameters of %v: %w", unit, rw.err)
		}
		c.setUnits(hw.SetOf(unit), Status{State: Armed})
		return nil
	})
}

// RegisterCaptureParams stores p in the capture parameter registry and
// sets it on the capture unit.
// The returned key identifies the parameters in sequencer commands.
func (c *Coordinator) RegisterCaptureParams(unit hw.CaptureUnit, p *capture.Param) (int, error) {
	if !unit.Valid() {
		return 0, fmt.Errorf("ctrl: invalid capture unit %d: %w", uint8(unit), hw.ErrRange)
	}
	err := c.checkCaptureParam(unit, p)
	if err != nil {
		return 0, err
	}
	var key int
	err = c.run(newOwner(), func(rw *regio) error {
		err := c.checkUnitConfigurable(rw, unit)
		if err != nil {
			return err
		}
		c.mu.Lock()
		key = c.nCap
		c.mu.Unlock()
		if key >= hw.MaxCaptureParamRegistryEntries {
			return fmt.Errorf(
				"ctrl: capture parameter registry full (%d entries): %w",
				hw.MaxCaptureParamRegistryEntries, hw.ErrCapacity,
			)
		}

		// registry entries do not hold the capture address.
		writeCaptureParams(rw, SpaceWaveRAM, hw.CaptureParamRegistryEntry(key), p)

		addr := hw.CaptureParamAddr(unit)
		writeCaptureParams(rw, SpaceCapture, addr, p)
		rw.writeU32(SpaceCapture, addr+hw.CaptureParamCaptureAddr, captureAddr(unit))
		if rw.err != nil {
			return fmt.Errorf("ctrl: could not register capture parameters of %v: %w", unit, rw.err)
		}

		c.mu.Lock()
		c.nCap = key + 1
		c.caps[unit] = Status{State: Armed}
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return key, nil
}

// StartCaptureUnits starts the provided capture units.
// Units already running are left untouched.
func (c *Coordinator) StartCaptureUnits(ids ...hw.CaptureUnit) error {
	set, err := unitSet(ids)
	if err != nil {
		return err
	}
	err = c.run(newOwner(), func(rw *regio) error {
		var targets hw.Set[hw.CaptureUnit]
		for _, id := range set.Slice() {
			if c.refreshUnit(rw, id).State == Running {
				c.msg.Printf("%v already running", id)
				continue
			}
			targets = targets.With(id)
		}
		if targets.Empty() {
			return nil
		}

		m := captureMaster(rw)
		m.selectTargets(targets.Bits())
		m.ctrl.pulse(hw.CaptureMasterCtrlStart)
		m.deselectTargets(targets.Bits())
		if rw.err != nil {
			return rw.err
		}
		c.setUnits(targets, Status{State: Running})
		return nil
	})
	if err != nil {
		return fmt.Errorf("ctrl: could not start capture units %v: %w", set, err)
	}
	return nil
}

// TerminateCaptureUnits forces the provided capture units to stop.
func (c *Coordinator) TerminateCaptureUnits(ids ...hw.CaptureUnit) error {
	set, err := unitSet(ids)
	if err != nil {
		return err
	}
	op := newOwner()
	err = c.run(op, func(rw *regio) error {
		for _, id := range set.Slice() {
			regs := captureRegs(rw, id)
			regs.ctrl.setBit(hw.CaptureCtrlCtrlTerminate, true)
			if rw.err != nil {
				return rw.err
			}
			idle, err := c.poll(context.Background(), op, c.cfg.settle, func(rw *regio) bool {
				return !captureRegs(rw, id).status.bit(hw.CaptureCtrlStatusBusy)
			})
			if err != nil {
				return err
			}
			if !idle {
				return &hw.TimeoutError{Units: []string{id.String()}}
			}
			regs.ctrl.setBit(hw.CaptureCtrlCtrlTerminate, false)
			if rw.err != nil {
				return rw.err
			}
			c.setUnits(hw.SetOf(id), Status{State: Stopped})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ctrl: could not terminate capture units %v: %w", set, err)
	}
	return nil
}

// ResetCaptureUnits resets the provided capture units.
func (c *Coordinator) ResetCaptureUnits(ids ...hw.CaptureUnit) error {
	set, err := unitSet(ids)
	if err != nil {
		return err
	}
	err = c.resetUnits(newOwner(), set)
	if err != nil {
		return fmt.Errorf("ctrl: could not reset capture units %v: %w", set, err)
	}
	return nil
}

func (c *Coordinator) resetUnits(op *owner, set hw.Set[hw.CaptureUnit]) error {
	return c.run(op, func(rw *regio) error {
		m := captureMaster(rw)
		m.selectTargets(set.Bits())
		m.ctrl.strobe(hw.CaptureMasterCtrlReset, resetPulse)
		m.deselectTargets(set.Bits())
		if rw.err != nil {
			return rw.err
		}
		c.setUnits(set, Status{State: Initialized})
		return nil
	})
}

// ClearCaptureStopFlags clears the DONE flags of the provided capture units.
func (c *Coordinator) ClearCaptureStopFlags(ids ...hw.CaptureUnit) error {
	set, err := unitSet(ids)
	if err != nil {
		return err
	}
	err = c.run(newOwner(), func(rw *regio) error {
		m := captureMaster(rw)
		m.selectTargets(set.Bits())
		m.ctrl.pulse(hw.CaptureMasterCtrlDoneClr)
		m.deselectTargets(set.Bits())
		if rw.err != nil {
			return rw.err
		}
		c.mu.Lock()
		for _, id := range set.Slice() {
			c.caps[id].State = Stopped
		}
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("ctrl: could not clear stop flags of capture units %v: %w", set, err)
	}
	return nil
}

const captureErrMask = 1<<hw.CaptureCtrlErrOverflow | 1<<hw.CaptureCtrlErrWrite

// WaitForCaptureUnitsToStop waits until all the provided capture units
// are done, or until the timeout expires.
// On timeout, a *hw.TimeoutError names the units that did not stop.
// Units not started by the coordinator are named with their state.
func (c *Coordinator) WaitForCaptureUnitsToStop(ctx context.Context, timeout time.Duration, ids ...hw.CaptureUnit) error {
	set, err := unitSet(ids)
	if err != nil {
		return err
	}
	remain := set
	ok, err := c.poll(ctx, newOwner(), timeout, func(rw *regio) bool {
		for _, id := range remain.Slice() {
			regs := captureRegs(rw, id)
			if !regs.status.bit(hw.CaptureCtrlStatusDone) {
				continue
			}
			flags := regs.err.r()
			if rw.err != nil {
				return false
			}
			remain = remain.Without(id)
			c.setUnits(hw.SetOf(id), Status{State: Stopped, Err: flags&captureErrMask != 0})
		}
		return remain.Empty()
	})
	if err != nil {
		return fmt.Errorf("ctrl: could not wait for capture units %v: %w", set, err)
	}
	if !ok {
		return &hw.TimeoutError{Units: c.unitNames(remain)}
	}
	return nil
}

func (c *Coordinator) unitNames(set hw.Set[hw.CaptureUnit]) []string {
	names := hw.Names(set.Slice())
	for i, id := range set.Slice() {
		if st := c.CaptureUnitStatus(id); st.State != Running {
			names[i] += " (" + st.String() + ")"
		}
	}
	return names
}

// CheckCaptureErr returns the error flags raised by the provided capture
// units. Units without error flags are not listed. Flags are not cleared.
func (c *Coordinator) CheckCaptureErr(ids ...hw.CaptureUnit) (map[hw.CaptureUnit]hw.Set[hw.CaptureErr], error) {
	set, err := unitSet(ids)
	if err != nil {
		return nil, err
	}
	errs := make(map[hw.CaptureUnit]hw.Set[hw.CaptureErr])
	err = c.run(newOwner(), func(rw *regio) error {
		for _, id := range set.Slice() {
			v := captureRegs(rw, id).err.r()
			var flags hw.Set[hw.CaptureErr]
			if (v>>hw.CaptureCtrlErrOverflow)&1 == 1 {
				flags = flags.With(hw.CaptureErrOverflow)
			}
			if (v>>hw.CaptureCtrlErrWrite)&1 == 1 {
				flags = flags.With(hw.CaptureErrMemWrite)
			}
			if !flags.Empty() {
				errs[id] = flags
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ctrl: could not check errors of capture units %v: %w", set, err)
	}
	return errs, nil
}

// SelectTriggerAwg selects the AWG whose start triggers the capture
// units of a module.
func (c *Coordinator) SelectTriggerAwg(mod hw.CaptureModule, awg hw.AWG) error {
	if !awg.Valid() {
		return fmt.Errorf("ctrl: invalid AWG %d: %w", uint8(awg), hw.ErrRange)
	}
	return c.writeTriggerAwg(mod, uint32(awg)+1)
}

// DeselectTriggerAwg leaves the capture units of a module without
// trigger AWG.
func (c *Coordinator) DeselectTriggerAwg(mod hw.CaptureModule) error {
	return c.writeTriggerAwg(mod, 0)
}

func (c *Coordinator) writeTriggerAwg(mod hw.CaptureModule, v uint32) error {
	if !mod.Valid() {
		return fmt.Errorf("ctrl: invalid capture module %d: %w", uint8(mod), hw.ErrRange)
	}
	return c.run(newOwner(), func(rw *regio) error {
		rw.writeU32(SpaceCapture, hw.CaptureMasterAddr+hw.CaptureTrigAwgSelAddr(mod), v)
		return nil
	})
}

// TriggerAwg returns the AWG triggering the capture units of a module.
// ok is false when the module has no trigger AWG.
func (c *Coordinator) TriggerAwg(mod hw.CaptureModule) (awg hw.AWG, ok bool, err error) {
	if !mod.Valid() {
		return 0, false, fmt.Errorf("ctrl: invalid capture module %d: %w", uint8(mod), hw.ErrRange)
	}
	var v uint32
	err = c.run(newOwner(), func(rw *regio) error {
		v = rw.readU32(SpaceCapture, hw.CaptureMasterAddr+hw.CaptureTrigAwgSelAddr(mod))
		return nil
	})
	if err != nil || v == 0 {
		return 0, false, err
	}
	return hw.AWG(v - 1), true, nil
}

// EnableStartTrigger lets the provided capture units be started by the
// trigger AWG of their module.
func (c *Coordinator) EnableStartTrigger(ids ...hw.CaptureUnit) error {
	return c.setStartTrigger(ids, true)
}

// DisableStartTrigger prevents the provided capture units from being
// started by the trigger AWG of their module.
func (c *Coordinator) DisableStartTrigger(ids ...hw.CaptureUnit) error {
	return c.setStartTrigger(ids, false)
}

func (c *Coordinator) setStartTrigger(ids []hw.CaptureUnit, enable bool) error {
	set, err := unitSet(ids)
	if err != nil {
		return err
	}
	return c.run(newOwner(), func(rw *regio) error {
		mask := newReg32(rw, SpaceCapture, hw.CaptureMasterAddr+hw.CaptureMasterAwgTrigMask)
		v := mask.r()
		if enable {
			v |= uint32(set.Bits())
		} else {
			v &^= uint32(set.Bits())
		}
		mask.w(v)
		return nil
	})
}

// NumCapturedSamples returns the number of samples, or classification
// results, stored by the last capture of a unit.
func (c *Coordinator) NumCapturedSamples(unit hw.CaptureUnit) (int, error) {
	if !unit.Valid() {
		return 0, fmt.Errorf("ctrl: invalid capture unit %d: %w", uint8(unit), hw.ErrRange)
	}
	var n uint32
	err := c.run(newOwner(), func(rw *regio) error {
		n = rw.readU32(SpaceCapture, hw.CaptureParamAddr(unit)+hw.CaptureParamNumCapturedSamps)
		return nil
	})
	return int(n), err
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

// CaptureData returns the I/Q samples stored by the last capture of
// a unit.
func (c *Coordinator) CaptureData(unit hw.CaptureUnit) ([]complex64, error) {
	if !unit.Valid() {
		return nil, fmt.Errorf("ctrl: invalid capture unit %d: %w", uint8(unit), hw.ErrRange)
	}
	var samples []complex64
	err := c.run(newOwner(), func(rw *regio) error {
		n := int(rw.readU32(SpaceCapture, hw.CaptureParamAddr(unit)+hw.CaptureParamNumCapturedSamps))
		size := alignUp(n*hw.CapturedSampleSize, hw.CaptureRAMWordSize)
		p := rw.read(SpaceWaveRAM, hw.CaptureDataAddr(unit), size)
		if rw.err != nil {
			return rw.err
		}
		samples = make([]complex64, n)
		for i := range samples {
			beg := i * hw.CapturedSampleSize
			samples[i] = complex(
				math.Float32frombits(binary.LittleEndian.Uint32(p[beg:])),
				math.Float32frombits(binary.LittleEndian.Uint32(p[beg+4:])),
			)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ctrl: could not read capture data of %v: %w", unit, err)
	}
	return samples, nil
}

// ClassificationResults returns the classification results stored by
// the last capture of a unit. Each result is in [0, 3].
func (c *Coordinator) ClassificationResults(unit hw.CaptureUnit) ([]uint8, error) {
	if !unit.Valid() {
		return nil, fmt.Errorf("ctrl: invalid capture unit %d: %w", uint8(unit), hw.ErrRange)
	}
	var res []uint8
	err := c.run(newOwner(), func(rw *regio) error {
		n := int(rw.readU32(SpaceCapture, hw.CaptureParamAddr(unit)+hw.CaptureParamNumCapturedSamps))
		size := alignUp((n*hw.ClassificationResultSize+7)/8, hw.CaptureRAMWordSize)
		p := rw.read(SpaceWaveRAM, hw.CaptureDataAddr(unit), size)
		if rw.err != nil {
			return rw.err
		}
		res = make([]uint8, n)
		for i := range res {
			res[i] = 0x3 & (p[i/4] >> (2 * uint(i%4)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ctrl: could not read classification results of %v: %w", unit, err)
	}
	return res, nil
}
