// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package seqcmd

import (
	"fmt"

	"github.com/go-lpc/e7awg/hw"
)

// Numberer hands out command numbers in strictly increasing order.
// After hw.MaxCmdNo, numbering restarts from 0 and the wrap is reported
// to the caller.
//
// Numberer is not safe for concurrent use.
type Numberer struct {
	next  int
	cycle int
}

// Next returns the next command number, and whether numbering wrapped
// around to return it.
func (n *Numberer) Next() (no uint16, wrapped bool) {
	if n.next > hw.MaxCmdNo {
		n.next = 0
		n.cycle++
		wrapped = true
	}
	no = uint16(n.next)
	n.next++
	return no, wrapped
}

// Cycle returns the number of times numbering wrapped around.
func (n *Numberer) Cycle() int { return n.cycle }

// Reset restarts numbering from 0.
func (n *Numberer) Reset() {
	n.next = 0
	n.cycle = 0
}

// CheckOrder checks that every FeedbackCalcOnClassification command of
// the stream only reads classification results of capture units that
// were fenced, with wait set, by a previous CaptureEndFence command.
func CheckOrder(cmds []Command) error {
	var fenced hw.Set[hw.CaptureUnit]
	for _, cmd := range cmds {
		switch cmd := cmd.(type) {
		case CaptureEndFence:
			if cmd.Wait {
				fenced = fenced.Union(cmd.Units)
			}
		case CaptureAddrSet:
			fenced = fenced &^ cmd.Units
		case CaptureParamSet:
			fenced = fenced &^ cmd.Units
		case FeedbackCalcOnClassification:
			if missing := cmd.Units &^ fenced; !missing.Empty() {
				return fmt.Errorf(
					"seqcmd: command #%d reads classification results of unfenced capture units %v: %w",
					cmd.No(), missing, hw.ErrSequencing,
				)
			}
		}
	}
	return nil
}
