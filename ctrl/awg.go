// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ctrl

import (
	"context"
	"fmt"
	"time"

	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/wave"
)

const resetPulse = 10 * time.Microsecond

func awgMaster(rw *regio) master {
	return master{
		sel:  newReg32(rw, SpaceAWG, hw.AwgMasterAddr+hw.AwgMasterCtrlTargetSel),
		ctrl: newReg32(rw, SpaceAWG, hw.AwgMasterAddr+hw.AwgMasterCtrl),
	}
}

func awgRegs(rw *regio, awg hw.AWG) unitRegs {
	base := hw.AwgCtrlAddr(awg)
	return unitRegs{
		ctrl:   newReg32(rw, SpaceAWG, base+hw.AwgCtrlCtrl),
		status: newReg32(rw, SpaceAWG, base+hw.AwgCtrlStatus),
		err:    newReg32(rw, SpaceAWG, base+hw.AwgCtrlErr),
	}
}

// defaultWaveSequence is the sequence set on initialized AWGs:
// one block of silence, played once.
func defaultWaveSequence() *wave.Sequence {
	seq, err := wave.NewSequence(0, 1)
	if err != nil {
		panic(err)
	}
	err = seq.AddChunk(make([]wave.Sample, hw.NumSamplesInWaveBlock), 0, 1)
	if err != nil {
		panic(err)
	}
	return seq
}

// InitializeAwgs resets the provided AWGs, clears their wave sequence
// registry and sets a silent wave sequence on them.
func (c *Coordinator) InitializeAwgs(ids ...hw.AWG) error {
	set, err := awgSet(ids)
	if err != nil {
		return err
	}
	err = c.initAwgs(newOwner(), set)
	if err != nil {
		return fmt.Errorf("ctrl: could not initialize AWGs %v: %w", set, err)
	}
	return nil
}

func (c *Coordinator) initAwgs(op *owner, set hw.Set[hw.AWG]) error {
	if set.Empty() {
		return nil
	}
	return c.run(op, func(rw *regio) error {
		awgMaster(rw).deselectTargets(set.Bits())
		for _, id := range set.Slice() {
			awgRegs(rw, id).ctrl.w(0)
		}
		if rw.err != nil {
			return rw.err
		}

		err := c.resetAwgs(op, set)
		if err != nil {
			return err
		}

		c.mu.Lock()
		for _, id := range set.Slice() {
			c.wave[id] = waveRegistry{}
		}
		c.mu.Unlock()

		seq := defaultWaveSequence()
		for _, id := range set.Slice() {
			rw.writeU32(SpaceAWG, hw.WaveParamAddr(id)+hw.WaveParamWaveStartableBlockInterval, 1)
			err = c.writeWaveSequence(rw, id, seq, 0)
			if err != nil {
				return err
			}
		}
		if rw.err != nil {
			return rw.err
		}
		c.setAwgs(set, Status{State: Initialized})
		return nil
	})
}

func chunkDataSize(chunk wave.Chunk) int {
	const align = hw.WaveRAMWordSize
	return (chunk.Data().NumBytes() + align - 1) / align * align
}

func waveDataSize(seq *wave.Sequence) int {
	n := 0
	for _, chunk := range seq.Chunks() {
		n += chunkDataSize(chunk)
	}
	return n
}

// chunkAddrs returns the wave RAM addresses of the chunks of seq,
// stored from offset bytes into the wave data region of awg.
func chunkAddrs(awg hw.AWG, seq *wave.Sequence, offset int) []uint64 {
	addrs := make([]uint64, seq.NumChunks())
	for i, chunk := range seq.Chunks() {
		addrs[i] = hw.WaveDataAddr(awg) + uint64(offset)
		offset += chunkDataSize(chunk)
	}
	return addrs
}

func writeWaveParams(rw *regio, sp Space, addr uint64, seq *wave.Sequence, addrs []uint64) {
	rw.writeU32(sp, addr+hw.WaveParamNumWaitWords, uint32(seq.NumWaitWords()))
	rw.writeU32(sp, addr+hw.WaveParamNumRepeats, uint32(seq.NumRepeats()))
	rw.writeU32(sp, addr+hw.WaveParamNumChunks, uint32(seq.NumChunks()))
	for i, chunk := range seq.Chunks() {
		base := addr + hw.WaveParamChunkAddr(i)
		rw.writeU32(sp, base+hw.WaveParamChunkStartAddr, uint32(addrs[i]>>4))
		rw.writeU32(sp, base+hw.WaveParamChunkNumWavePartWords, uint32(chunk.NumWaveWords()))
		rw.writeU32(sp, base+hw.WaveParamChunkNumBlankWords, uint32(chunk.NumBlankWords()))
		rw.writeU32(sp, base+hw.WaveParamChunkNumChunkRepeats, uint32(chunk.NumRepeats()))
	}
}

func writeWaveData(rw *regio, seq *wave.Sequence, addrs []uint64) error {
	for i, chunk := range seq.Chunks() {
		raw, err := chunk.Data().MarshalBinary()
		if err != nil {
			return fmt.Errorf("ctrl: could not encode samples of chunk %d: %w", i, err)
		}
		p := make([]byte, chunkDataSize(chunk))
		copy(p, raw)
		rw.write(SpaceWaveRAM, addrs[i], p)
	}
	return nil
}

// writeWaveSequence sets seq on awg, its samples being stored from
// offset bytes into the wave data region of awg.
func (c *Coordinator) writeWaveSequence(rw *regio, awg hw.AWG, seq *wave.Sequence, offset int) error {
	addrs := chunkAddrs(awg, seq, offset)
	writeWaveParams(rw, SpaceAWG, hw.WaveParamAddr(awg), seq, addrs)
	return writeWaveData(rw, seq, addrs)
}

func checkWaveData(awg hw.AWG, used int, seq *wave.Sequence) error {
	if seq == nil || seq.NumChunks() == 0 {
		return fmt.Errorf("ctrl: empty wave sequence for %v: %w", awg, hw.ErrRange)
	}
	size := waveDataSize(seq)
	if used+size > hw.MaxWaveDataSize {
		return fmt.Errorf(
			"ctrl: wave data of %v do not fit in wave RAM (used=%d, required=%d, max=%d bytes): %w",
			awg, used, size, hw.MaxWaveDataSize, hw.ErrCapacity,
		)
	}
	return nil
}

// SetWaveSequence sets the wave sequence played by an AWG, without
// registering it.
func (c *Coordinator) SetWaveSequence(awg hw.AWG, seq *wave.Sequence) error {
	if !awg.Valid() {
		return fmt.Errorf("ctrl: invalid AWG %d: %w", uint8(awg), hw.ErrRange)
	}
	return c.run(newOwner(), func(rw *regio) error {
		err := c.checkAwgConfigurable(rw, awg)
		if err != nil {
			return err
		}
		c.mu.Lock()
		used := c.wave[awg].used
		c.mu.Unlock()

		err = checkWaveData(awg, used, seq)
		if err != nil {
			return err
		}

		// samples go after the registered ones.
		err = c.writeWaveSequence(rw, awg, seq, used)
		if err != nil {
			return err
		}
		if rw.err != nil {
			return fmt.Errorf("ctrl: could not set wave sequence of %v: %w", awg, rw.err)
		}
		c.setAwgs(hw.SetOf(awg), Status{State: Armed})
		return nil
	})
}

// RegisterWaveSequence stores seq in the wave sequence registry of
// an AWG and sets it on the AWG.
// The returned key identifies the sequence in sequencer commands.
func (c *Coordinator) RegisterWaveSequence(awg hw.AWG, seq *wave.Sequence) (int, error) {
	if !awg.Valid() {
		return 0, fmt.Errorf("ctrl: invalid AWG %d: %w", uint8(awg), hw.ErrRange)
	}
	var key int
	err := c.run(newOwner(), func(rw *regio) error {
		err := c.checkAwgConfigurable(rw, awg)
		if err != nil {
			return err
		}
		c.mu.Lock()
		reg := c.wave[awg]
		c.mu.Unlock()

		if reg.keys >= hw.MaxWaveRegistryEntries {
			return fmt.Errorf(
				"ctrl: wave sequence registry of %v full (%d entries): %w",
				awg, hw.MaxWaveRegistryEntries, hw.ErrCapacity,
			)
		}
		err = checkWaveData(awg, reg.used, seq)
		if err != nil {
			return err
		}

		key = reg.keys
		addrs := chunkAddrs(awg, seq, reg.used)
		writeWaveParams(rw, SpaceWaveRAM, hw.WaveParamRegistryEntry(awg, key), seq, addrs)
		writeWaveParams(rw, SpaceAWG, hw.WaveParamAddr(awg), seq, addrs)
		err = writeWaveData(rw, seq, addrs)
		if err != nil {
			return err
		}
		if rw.err != nil {
			return fmt.Errorf("ctrl: could not register wave sequence of %v: %w", awg, rw.err)
		}

		c.mu.Lock()
		c.wave[awg] = waveRegistry{
			keys: reg.keys + 1,
			used: reg.used + waveDataSize(seq),
		}
		c.awgs[awg] = Status{State: Armed}
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return key, nil
}

// StartAwgs starts the provided AWGs.
// AWGs already running are left untouched.
func (c *Coordinator) StartAwgs(ids ...hw.AWG) error {
	set, err := awgSet(ids)
	if err != nil {
		return err
	}
	op := newOwner()
	err = c.run(op, func(rw *regio) error {
		var targets hw.Set[hw.AWG]
		for _, id := range set.Slice() {
			if c.refreshAwg(rw, id).State == Running {
				c.msg.Printf("%v already running", id)
				continue
			}
			targets = targets.With(id)
		}
		if targets.Empty() {
			return nil
		}

		m := awgMaster(rw)
		m.selectTargets(targets.Bits())
		m.ctrl.setBit(hw.AwgMasterCtrlPrepare, false)
		m.ctrl.setBit(hw.AwgMasterCtrlPrepare, true)
		if rw.err != nil {
			return rw.err
		}
		ready, err := c.poll(context.Background(), op, c.cfg.settle, func(rw *regio) bool {
			for _, id := range targets.Slice() {
				if !awgRegs(rw, id).status.bit(hw.AwgCtrlStatusReady) {
					return false
				}
			}
			return true
		})
		if err != nil {
			return err
		}
		if !ready {
			return &hw.TimeoutError{Units: hw.Names(targets.Slice())}
		}
		m.ctrl.setBit(hw.AwgMasterCtrlPrepare, false)
		m.deselectTargets(targets.Bits())

		m.selectTargets(targets.Bits())
		m.ctrl.pulse(hw.AwgMasterCtrlStart)
		m.deselectTargets(targets.Bits())
		if rw.err != nil {
			return rw.err
		}
		c.setAwgs(targets, Status{State: Running})
		return nil
	})
	if err != nil {
		return fmt.Errorf("ctrl: could not start AWGs %v: %w", set, err)
	}
	return nil
}

// TerminateAwgs forces the provided AWGs to stop.
func (c *Coordinator) TerminateAwgs(ids ...hw.AWG) error {
	set, err := awgSet(ids)
	if err != nil {
		return err
	}
	op := newOwner()
	err = c.run(op, func(rw *regio) error {
		for _, id := range set.Slice() {
			regs := awgRegs(rw, id)
			regs.ctrl.setBit(hw.AwgCtrlCtrlTerminate, true)
			if rw.err != nil {
				return rw.err
			}
			idle, err := c.poll(context.Background(), op, c.cfg.settle, func(rw *regio) bool {
				return !awgRegs(rw, id).status.bit(hw.AwgCtrlStatusBusy)
			})
			if err != nil {
				return err
			}
			if !idle {
				return &hw.TimeoutError{Units: []string{id.String()}}
			}
			regs.ctrl.setBit(hw.AwgCtrlCtrlTerminate, false)
			if rw.err != nil {
				return rw.err
			}
			c.setAwgs(hw.SetOf(id), Status{State: Stopped})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ctrl: could not terminate AWGs %v: %w", set, err)
	}
	return nil
}

// ResetAwgs resets the provided AWGs.
func (c *Coordinator) ResetAwgs(ids ...hw.AWG) error {
	set, err := awgSet(ids)
	if err != nil {
		return err
	}
	err = c.resetAwgs(newOwner(), set)
	if err != nil {
		return fmt.Errorf("ctrl: could not reset AWGs %v: %w", set, err)
	}
	return nil
}

func (c *Coordinator) resetAwgs(op *owner, set hw.Set[hw.AWG]) error {
	return c.run(op, func(rw *regio) error {
		m := awgMaster(rw)
		m.selectTargets(set.Bits())
		m.ctrl.strobe(hw.AwgMasterCtrlReset, resetPulse)
		m.deselectTargets(set.Bits())
		if rw.err != nil {
			return rw.err
		}
		c.setAwgs(set, Status{State: Initialized})
		return nil
	})
}

// ClearAwgStopFlags clears the DONE flags of the provided AWGs.
func (c *Coordinator) ClearAwgStopFlags(ids ...hw.AWG) error {
	set, err := awgSet(ids)
	if err != nil {
		return err
	}
	err = c.run(newOwner(), func(rw *regio) error {
		m := awgMaster(rw)
		m.selectTargets(set.Bits())
		m.ctrl.pulse(hw.AwgMasterCtrlDoneClr)
		m.deselectTargets(set.Bits())
		if rw.err != nil {
			return rw.err
		}
		c.mu.Lock()
		for _, id := range set.Slice() {
			c.awgs[id].State = Stopped
		}
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("ctrl: could not clear stop flags of AWGs %v: %w", set, err)
	}
	return nil
}

// WaitForAwgsToStop waits until all the provided AWGs are done, or
// until the timeout expires.
// On timeout, a *hw.TimeoutError names the AWGs that did not stop.
// AWGs not started by the coordinator are named with their state.
func (c *Coordinator) WaitForAwgsToStop(ctx context.Context, timeout time.Duration, ids ...hw.AWG) error {
	set, err := awgSet(ids)
	if err != nil {
		return err
	}
	remain := set
	ok, err := c.poll(ctx, newOwner(), timeout, func(rw *regio) bool {
		for _, id := range remain.Slice() {
			regs := awgRegs(rw, id)
			if !regs.status.bit(hw.AwgCtrlStatusDone) {
				continue
			}
			flags := regs.err.r()
			if rw.err != nil {
				return false
			}
			remain = remain.Without(id)
			c.setAwgs(hw.SetOf(id), Status{State: Stopped, Err: flags&awgErrMask != 0})
		}
		return remain.Empty()
	})
	if err != nil {
		return fmt.Errorf("ctrl: could not wait for AWGs %v: %w", set, err)
	}
	if !ok {
		return &hw.TimeoutError{Units: c.awgNames(remain)}
	}
	return nil
}

func (c *Coordinator) awgNames(set hw.Set[hw.AWG]) []string {
	names := hw.Names(set.Slice())
	for i, id := range set.Slice() {
		if st := c.AwgStatus(id); st.State != Running {
			names[i] += " (" + st.String() + ")"
		}
	}
	return names
}

const awgErrMask = 1<<hw.AwgCtrlErrRead | 1<<hw.AwgCtrlErrSampleShortage

// CheckAwgErr returns the error flags raised by the provided AWGs.
// AWGs without error flags are not listed. Flags are not cleared.
func (c *Coordinator) CheckAwgErr(ids ...hw.AWG) (map[hw.AWG]hw.Set[hw.AwgErr], error) {
	set, err := awgSet(ids)
	if err != nil {
		return nil, err
	}
	errs := make(map[hw.AWG]hw.Set[hw.AwgErr])
	err = c.run(newOwner(), func(rw *regio) error {
		for _, id := range set.Slice() {
			v := awgRegs(rw, id).err.r()
			var flags hw.Set[hw.AwgErr]
			if (v>>hw.AwgCtrlErrRead)&1 == 1 {
				flags = flags.With(hw.AwgErrMemRead)
			}
			if (v>>hw.AwgCtrlErrSampleShortage)&1 == 1 {
				flags = flags.With(hw.AwgErrSampleShortage)
			}
			if !flags.Empty() {
				errs[id] = flags
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ctrl: could not check errors of AWGs %v: %w", set, err)
	}
	return errs, nil
}

// SetWaveStartableBlockTiming sets the interval, in wave blocks,
// between two instants at which the provided AWGs may start.
func (c *Coordinator) SetWaveStartableBlockTiming(interval int, ids ...hw.AWG) error {
	if interval < 1 || int64(interval) > 0xFFFF_FFFF {
		return fmt.Errorf(
			"ctrl: wave startable block interval %d out of range [1, %d]: %w",
			interval, uint32(0xFFFF_FFFF), hw.ErrRange,
		)
	}
	set, err := awgSet(ids)
	if err != nil {
		return err
	}
	return c.run(newOwner(), func(rw *regio) error {
		for _, id := range set.Slice() {
			rw.writeU32(SpaceAWG, hw.WaveParamAddr(id)+hw.WaveParamWaveStartableBlockInterval, uint32(interval))
		}
		return nil
	})
}

// WaveStartableBlockTiming returns the wave startable block interval of
// the provided AWGs.
func (c *Coordinator) WaveStartableBlockTiming(ids ...hw.AWG) (map[hw.AWG]int, error) {
	set, err := awgSet(ids)
	if err != nil {
		return nil, err
	}
	o := make(map[hw.AWG]int, set.Len())
	err = c.run(newOwner(), func(rw *regio) error {
		for _, id := range set.Slice() {
			o[id] = int(rw.readU32(SpaceAWG, hw.WaveParamAddr(id)+hw.WaveParamWaveStartableBlockInterval))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}
