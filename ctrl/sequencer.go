// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ctrl

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/seqcmd"
)

const seqPulse = 100 * time.Microsecond

// ReportRouter is implemented by transports receiving command error
// reports from the network. The sequencer is told to send its reports
// to ReportAddr.
type ReportRouter interface {
	ReportAddr() *net.UDPAddr
}

func seqCtrl(rw *regio) reg32 {
	return newReg32(rw, SpaceSequencer, hw.SeqAddr+hw.SeqCtrl)
}

func seqStatus(rw *regio) reg32 {
	return newReg32(rw, SpaceSequencer, hw.SeqAddr+hw.SeqStatus)
}

// InitializeSequencer resets the sequencer, sets its branch flag and
// discards pending command error reports.
func (c *Coordinator) InitializeSequencer() error {
	err := c.run(newOwner(), func(rw *regio) error {
		if rr, ok := c.tr.(ReportRouter); ok {
			if addr := rr.ReportAddr(); addr != nil {
				ip := addr.IP.To4()
				if ip == nil {
					return fmt.Errorf("ctrl: invalid error report address %v: %w", addr, hw.ErrRange)
				}
				rw.writeU32(SpaceSequencer, hw.SeqAddr+hw.SeqDestUDPPort, uint32(addr.Port))
				rw.writeU32(SpaceSequencer, hw.SeqAddr+hw.SeqDestIPAddr, binary.BigEndian.Uint32(ip))
			}
		}
		ctrl := seqCtrl(rw)
		ctrl.w(0)
		ctrl.strobe(hw.SeqCtrlReset, seqPulse)
		ctrl.setBit(hw.SeqCtrlBranchFlagNeg, false)
		if rw.err != nil {
			return rw.err
		}

		_, err := c.tr.DrainReports()
		if err != nil {
			return fmt.Errorf("ctrl: could not drain error reports: %w", err)
		}

		c.mu.Lock()
		c.seq.last = -1
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("ctrl: could not initialize sequencer: %w", err)
	}
	return nil
}

// CmdFifoFreeSpace returns the free space of the sequencer command
// FIFO, in bytes.
func (c *Coordinator) CmdFifoFreeSpace() (int, error) {
	return c.seqCounter(hw.SeqCmdFifoFreeSpace)
}

// NumSuccessfulCommands returns the number of commands processed
// successfully since the sequencer started.
func (c *Coordinator) NumSuccessfulCommands() (int, error) {
	return c.seqCounter(hw.SeqNumSuccessfulCmds)
}

// NumErrCommands returns the number of commands that failed since the
// sequencer started.
func (c *Coordinator) NumErrCommands() (int, error) {
	return c.seqCounter(hw.SeqNumErrCmds)
}

// NumUnsentCmdErrReports returns the number of command error reports
// not yet sent by the sequencer.
func (c *Coordinator) NumUnsentCmdErrReports() (int, error) {
	return c.seqCounter(hw.SeqNumErrReports)
}

func (c *Coordinator) seqCounter(reg uint64) (int, error) {
	var v uint32
	err := c.run(newOwner(), func(rw *regio) error {
		v = rw.readU32(SpaceSequencer, hw.SeqAddr+reg)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// NumUnprocessedCommands returns the number of commands stored in the
// command FIFO and not yet processed.
func (c *Coordinator) NumUnprocessedCommands() (int, error) {
	var n int
	err := c.run(newOwner(), func(rw *regio) error {
		n = numUnprocessed(rw)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func numUnprocessed(rw *regio) int {
	stored := rw.readU32(SpaceSequencer, hw.SeqAddr+hw.SeqNumStoredCmds)
	done := rw.readU32(SpaceSequencer, hw.SeqAddr+hw.SeqCmdCounter)
	return int(stored) - int(done)
}

// PushCommands appends commands to the sequencer command FIFO.
//
// Commands are validated and encoded before anything is sent.
// Command numbers must increase along the stream; numbering may only
// restart once all previously pushed commands were processed.
// A *hw.FifoFullError is returned, and nothing is sent, when the
// commands do not fit in the free space of the FIFO.
func (c *Coordinator) PushCommands(cmds ...seqcmd.Command) error {
	if len(cmds) == 0 {
		return nil
	}
	frames, err := seqcmd.EncodeAll(cmds)
	if err != nil {
		return fmt.Errorf("ctrl: could not encode commands: %w", err)
	}

	return c.run(newOwner(), func(rw *regio) error {
		c.mu.Lock()
		prev := c.seq.last
		c.mu.Unlock()

		for i, cmd := range cmds {
			no := int(cmd.No())
			if no > prev {
				prev = no
				continue
			}
			if i == 0 {
				// numbering restarts: the previous cycle must be drained.
				n := numUnprocessed(rw)
				if rw.err != nil {
					return rw.err
				}
				if n == 0 {
					prev = no
					continue
				}
				return fmt.Errorf(
					"ctrl: command #%d does not follow #%d with %d commands unprocessed: %w",
					no, prev, n, hw.ErrSequencing,
				)
			}
			return fmt.Errorf(
				"ctrl: command #%d does not follow #%d: %w",
				no, prev, hw.ErrSequencing,
			)
		}

		free := int(rw.readU32(SpaceSequencer, hw.SeqAddr+hw.SeqCmdFifoFreeSpace))
		if rw.err != nil {
			return rw.err
		}
		if len(frames) > free {
			return &hw.FifoFullError{Required: len(frames), Free: free}
		}

		err := c.tr.SendCommandFrame(frames)
		if err != nil {
			return fmt.Errorf("ctrl: could not send %d commands: %w", len(cmds), err)
		}

		c.mu.Lock()
		c.seq.last = prev
		c.mu.Unlock()
		return nil
	})
}

// StartSequencer starts processing the commands of the FIFO.
func (c *Coordinator) StartSequencer() error {
	return c.run(newOwner(), func(rw *regio) error {
		seqCtrl(rw).pulse(hw.SeqCtrlStart)
		return nil
	})
}

// TerminateSequencer forces the sequencer to stop.
func (c *Coordinator) TerminateSequencer() error {
	op := newOwner()
	err := c.run(op, func(rw *regio) error {
		ctrl := seqCtrl(rw)
		ctrl.setBit(hw.SeqCtrlTerminate, false)
		ctrl.setBit(hw.SeqCtrlTerminate, true)
		if rw.err != nil {
			return rw.err
		}
		idle, err := c.poll(context.Background(), op, c.cfg.settle, func(rw *regio) bool {
			return !seqStatus(rw).bit(hw.SeqStatusBusy)
		})
		if err != nil {
			return err
		}
		if !idle {
			return &hw.TimeoutError{Units: []string{"Sequencer"}}
		}
		ctrl.setBit(hw.SeqCtrlTerminate, false)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ctrl: could not terminate sequencer: %w", err)
	}
	return nil
}

// ClearCommands discards the commands of the FIFO and resets the
// command counter.
func (c *Coordinator) ClearCommands() error {
	return c.run(newOwner(), func(rw *regio) error {
		ctrl := seqCtrl(rw)
		ctrl.strobe(hw.SeqCtrlCmdClr, seqPulse)
		ctrl.pulse(hw.SeqCtrlCmdCounterReset)
		if rw.err != nil {
			return rw.err
		}
		c.mu.Lock()
		c.seq.last = -1
		c.mu.Unlock()
		return nil
	})
}

// ClearUnsentCmdErrReports discards the error reports not yet sent by
// the sequencer.
func (c *Coordinator) ClearUnsentCmdErrReports() error {
	return c.run(newOwner(), func(rw *regio) error {
		seqCtrl(rw).strobe(hw.SeqCtrlErrReportClr, seqPulse)
		return nil
	})
}

// ClearSequencerStopFlag clears the DONE flag of the sequencer.
func (c *Coordinator) ClearSequencerStopFlag() error {
	return c.run(newOwner(), func(rw *regio) error {
		seqCtrl(rw).pulse(hw.SeqCtrlDoneClr)
		return nil
	})
}

// EnableCmdErrReport lets the sequencer send command error reports.
func (c *Coordinator) EnableCmdErrReport() error {
	return c.setCmdErrReport(true)
}

// DisableCmdErrReport stops the sequencer from sending command error
// reports.
func (c *Coordinator) DisableCmdErrReport() error {
	return c.setCmdErrReport(false)
}

func (c *Coordinator) setCmdErrReport(enable bool) error {
	op := newOwner()
	return c.run(op, func(rw *regio) error {
		seqCtrl(rw).setBit(hw.SeqCtrlErrReportSendEnable, enable)
		if rw.err != nil {
			return rw.err
		}
		ok, err := c.poll(context.Background(), op, c.cfg.settle, func(rw *regio) bool {
			return seqStatus(rw).bit(hw.SeqStatusErrReportSendActive) == enable
		})
		if err != nil {
			return err
		}
		if !ok {
			return &hw.TimeoutError{Units: []string{"Sequencer"}}
		}
		return nil
	})
}

// WaitForSequencerToStop waits until the sequencer is done, or until
// the timeout expires.
func (c *Coordinator) WaitForSequencerToStop(ctx context.Context, timeout time.Duration) error {
	ok, err := c.poll(ctx, newOwner(), timeout, func(rw *regio) bool {
		return seqStatus(rw).bit(hw.SeqStatusDone)
	})
	if err != nil {
		return fmt.Errorf("ctrl: could not wait for sequencer: %w", err)
	}
	if !ok {
		return &hw.TimeoutError{Units: []string{"Sequencer"}}
	}
	return nil
}

// CheckSequencerErr returns the error flags raised by the sequencer.
func (c *Coordinator) CheckSequencerErr() (hw.Set[hw.SequencerErr], error) {
	var flags hw.Set[hw.SequencerErr]
	err := c.run(newOwner(), func(rw *regio) error {
		v := rw.readU32(SpaceSequencer, hw.SeqAddr+hw.SeqErr)
		if (v>>hw.SeqErrCmdFifoOverflowBit)&1 == 1 {
			flags = flags.With(hw.SeqErrCmdFifoOverflow)
		}
		if (v>>hw.SeqErrErrFifoOverflowBit)&1 == 1 {
			flags = flags.With(hw.SeqErrErrFifoOverflow)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ctrl: could not check sequencer errors: %w", err)
	}
	return flags, nil
}

// PopCmdErrReports returns the command error reports received since
// the last call, in arrival order.
// Reports of timing violations are logged. seqcmd.Violations extracts
// them from the returned reports.
func (c *Coordinator) PopCmdErrReports() ([]seqcmd.Report, error) {
	raw, err := c.tr.DrainReports()
	if err != nil {
		return nil, fmt.Errorf("ctrl: could not drain error reports: %w", err)
	}
	reps, err := seqcmd.DecodeReports(raw)
	if err != nil {
		return nil, fmt.Errorf("ctrl: could not decode error reports: %w", err)
	}
	for _, v := range seqcmd.Violations(reps) {
		c.msg.Printf("%+v", v)
	}
	return reps, nil
}

// BranchFlag returns the branch flag tested by BranchByFlag commands.
func (c *Coordinator) BranchFlag() (bool, error) {
	var neg bool
	err := c.run(newOwner(), func(rw *regio) error {
		neg = seqCtrl(rw).bit(hw.SeqCtrlBranchFlagNeg)
		return nil
	})
	return !neg, err
}

// SetBranchFlag sets the branch flag tested by BranchByFlag commands.
func (c *Coordinator) SetBranchFlag(v bool) error {
	return c.run(newOwner(), func(rw *regio) error {
		seqCtrl(rw).setBit(hw.SeqCtrlBranchFlagNeg, !v)
		return nil
	})
}

// ExternalBranchFlag returns the branch flag driven by the external
// branch input of the board.
func (c *Coordinator) ExternalBranchFlag() (bool, error) {
	var neg bool
	err := c.run(newOwner(), func(rw *regio) error {
		neg = seqStatus(rw).bit(hw.SeqStatusExtBranchFlagNeg)
		return nil
	})
	return !neg, err
}
