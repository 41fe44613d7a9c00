// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ctrl coordinates the AWGs, capture units and sequencer of an
// e7awg board through its registers.
//
// Registers are reached through a Transport. Every operation touching
// registers runs while holding the board lock, shared with the other
// processes driving the same board.
package ctrl // import "github.com/go-lpc/e7awg/ctrl"

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-lpc/e7awg/flock"
	"github.com/go-lpc/e7awg/hw"
)

// Space is a register address space of an e7awg board.
type Space uint8

const (
	SpaceAWG Space = iota
	SpaceCapture
	SpaceSequencer
	SpaceWaveRAM
)

func (sp Space) String() string {
	switch sp {
	case SpaceAWG:
		return "awg"
	case SpaceCapture:
		return "capture"
	case SpaceSequencer:
		return "sequencer"
	case SpaceWaveRAM:
		return "wave-ram"
	}
	return fmt.Sprintf("Space(%d)", uint8(sp))
}

// Transport carries register accesses, command frames and error
// reports between the host and a board.
//
// Registers are 32-bit little-endian words.
type Transport interface {
	ReadRegister(sp Space, addr uint64, n int) ([]byte, error)
	WriteRegister(sp Space, addr uint64, p []byte) error

	// SendCommandFrame sends concatenated sequencer command frames.
	SendCommandFrame(p []byte) error

	// DrainReports returns the concatenated 16-byte command error
	// reports received since the last call, in arrival order.
	DrainReports() ([]byte, error)
}

type config struct {
	msg      *log.Logger
	poll     time.Duration
	settle   time.Duration // timeout of internal ready/idle waits
	lock     *flock.Lock
	lockDir  string
	lockName string
}

func newConfig() config {
	dir := os.Getenv("E7AWG_HW_LOCKDIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return config{
		msg:      log.New(os.Stdout, "ctrl: ", 0),
		poll:     10 * time.Millisecond,
		settle:   5 * time.Second,
		lockDir:  dir,
		lockName: "e7awg",
	}
}

// Option configures a Coordinator.
type Option func(*config)

// WithLogger sets the logger of the coordinator.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithPollInterval sets the interval between two polls of the
// hardware status while waiting for units.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *config) {
		cfg.poll = d
	}
}

// WithSettleTimeout sets how long the coordinator waits for units to
// become ready when starting or idle when terminating.
func WithSettleTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.settle = d
	}
}

// WithLock sets the board lock. The lock is not closed by the coordinator.
func WithLock(lock *flock.Lock) Option {
	return func(cfg *config) {
		cfg.lock = lock
	}
}

// WithLockDir sets the directory and name of the board lock file.
// The default directory is $E7AWG_HW_LOCKDIR, or the temporary
// directory if unset.
func WithLockDir(dir, name string) Option {
	return func(cfg *config) {
		cfg.lockDir = dir
		cfg.lockName = name
	}
}

// Coordinator drives the units of a board and tracks their state.
//
// A Coordinator is safe for concurrent use.
type Coordinator struct {
	msg  *log.Logger
	tr   Transport
	cfg  config
	lock *flock.Lock
	own  bool // whether the coordinator created the lock

	mu   sync.Mutex
	awgs [hw.NumAWGs]Status
	caps [hw.NumCaptureUnits]Status
	wave [hw.NumAWGs]waveRegistry
	nCap int // keys used in the capture parameter registry
	seq  struct {
		last int // number of the last pushed command, -1 if none
	}
}

type waveRegistry struct {
	keys int // keys used
	used int // bytes of wave RAM used by registered sequences
}

// New returns a coordinator driving the board reached through tr.
func New(tr Transport, opts ...Option) (*Coordinator, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Coordinator{
		msg:  cfg.msg,
		tr:   tr,
		cfg:  cfg,
		lock: cfg.lock,
	}
	c.seq.last = -1

	if c.lock == nil {
		fname := filepath.Join(cfg.lockDir, cfg.lockName+".lock")
		lock, err := flock.New(fname)
		if err != nil {
			return nil, fmt.Errorf("ctrl: could not create board lock: %w", err)
		}
		c.lock = lock
		c.own = true
	}

	return c, nil
}

// Close releases the resources held by the coordinator.
// The transport is not closed.
func (c *Coordinator) Close() error {
	if !c.own {
		return nil
	}
	err := c.lock.Close()
	if err != nil {
		return fmt.Errorf("ctrl: could not close board lock: %w", err)
	}
	return nil
}

// owner identifies one operation of a coordinator holding the lock.
type owner struct {
	id uint64
}

var owners uint64

func newOwner() *owner {
	return &owner{id: atomic.AddUint64(&owners, 1)}
}

// run runs f with the board lock held by op.
// Register access errors recorded during f are returned.
func (c *Coordinator) run(op *owner, f func(rw *regio) error) error {
	return c.lock.Do(op, func() error {
		rw := &regio{tr: c.tr}
		err := f(rw)
		if err != nil {
			return err
		}
		return rw.err
	})
}

func awgSet(ids []hw.AWG) (hw.Set[hw.AWG], error) {
	var set hw.Set[hw.AWG]
	for _, id := range ids {
		if !id.Valid() {
			return 0, fmt.Errorf("ctrl: invalid AWG %d: %w", uint8(id), hw.ErrRange)
		}
		set = set.With(id)
	}
	return set, nil
}

func unitSet(ids []hw.CaptureUnit) (hw.Set[hw.CaptureUnit], error) {
	var set hw.Set[hw.CaptureUnit]
	for _, id := range ids {
		if !id.Valid() {
			return 0, fmt.Errorf("ctrl: invalid capture unit %d: %w", uint8(id), hw.ErrRange)
		}
		set = set.With(id)
	}
	return set, nil
}

// Versions holds the firmware versions of a board.
type Versions struct {
	AWG       string `json:"awg"`
	Capture   string `json:"capture"`
	Sequencer string `json:"sequencer"`
}

// Versions returns the firmware versions of the AWG, capture and
// sequencer controllers.
func (c *Coordinator) Versions() (Versions, error) {
	var vs Versions
	err := c.run(newOwner(), func(rw *regio) error {
		vs.AWG = version(rw.readU32(SpaceAWG, hw.AwgMasterAddr+hw.AwgMasterVersion))
		vs.Capture = version(rw.readU32(SpaceCapture, hw.CaptureMasterAddr+hw.CaptureMasterVersion))
		vs.Sequencer = version(rw.readU32(SpaceSequencer, hw.SeqAddr+hw.SeqVersion))
		return nil
	})
	if err != nil {
		return Versions{}, fmt.Errorf("ctrl: could not read versions: %w", err)
	}
	return vs, nil
}

// version formats a version register as c:20yy/mm/dd-id.
func version(v uint32) string {
	var (
		char  = byte(v >> 24)
		year  = 0xff & (v >> 16)
		month = 0xf & (v >> 12)
		day   = 0xff & (v >> 4)
		id    = 0xf & v
	)
	return fmt.Sprintf("%c:20%02d/%02d/%02d-%d", char, year, month, day, id)
}
