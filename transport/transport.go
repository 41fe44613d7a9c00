// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport implements ctrl.Transport over UDP, using the UPL
// protocol of e7awg boards, and over memory-mapped windows.
package transport // import "github.com/go-lpc/e7awg/transport"

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-lpc/e7awg/ctrl"
	"github.com/go-lpc/e7awg/hw"
	"golang.org/x/time/rate"
)

// MaxTransferSize is the largest number of bytes read or written by a
// single UPL request. Larger transfers are split.
const MaxTransferSize = 1408

// Ports are the UDP ports of the board services.
type Ports struct {
	WaveRAM    int
	AwgReg     int
	CaptureReg int
	Sequencer  int // sequencer registers and commands
}

// DefaultPorts are the ports used by e7awg boards.
var DefaultPorts = Ports{
	WaveRAM:    hw.WaveRAMPort,
	AwgReg:     hw.AwgRegPort,
	CaptureReg: hw.CaptureRegPort,
	Sequencer:  hw.SequencerRegPort,
}

type config struct {
	msg     *log.Logger
	ports   Ports
	timeout time.Duration // per request
	dial    time.Duration // max time spent setting up sockets
	limit   rate.Limit
	burst   int
}

func newConfig() config {
	return config{
		msg:     log.New(os.Stdout, "transport: ", 0),
		ports:   DefaultPorts,
		timeout: 25 * time.Second,
		dial:    5 * time.Second,
		limit:   rate.Inf,
		burst:   1,
	}
}

// Option configures a UDP transport.
type Option func(*config)

// WithLogger sets the logger of the transport.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithPorts sets the UDP ports of the board.
func WithPorts(ports Ports) Option {
	return func(cfg *config) {
		cfg.ports = ports
	}
}

// WithTimeout sets how long a request waits for its reply.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// WithDialTimeout sets how long Dial retries setting up its sockets.
func WithDialTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.dial = d
	}
}

// WithRateLimit limits the rate of register requests sent to the board,
// allowing bursts of burst requests.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(cfg *config) {
		cfg.limit = r
		cfg.burst = burst
	}
}

// align returns the access granularity of an address space, in bytes.
func align(sp ctrl.Space) int {
	if sp == ctrl.SpaceWaveRAM {
		return hw.WaveRAMWordSize
	}
	return 4
}

// span returns the aligned range [beg, end) covering n bytes at addr.
func span(addr uint64, n, align int) (beg, end uint64) {
	a := uint64(align)
	beg = addr / a * a
	end = (addr + uint64(n) + a - 1) / a * a
	return beg, end
}

func checkSpace(sp ctrl.Space) error {
	switch sp {
	case ctrl.SpaceAWG, ctrl.SpaceCapture, ctrl.SpaceSequencer, ctrl.SpaceWaveRAM:
		return nil
	}
	return fmt.Errorf("transport: invalid address space %v: %w", sp, hw.ErrRange)
}
