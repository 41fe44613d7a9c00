// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command e7awg-tdaq starts a TDAQ node driving an e7awg board.
//
// The node reaches the board through an e7awg-srv server, whose address
// is read from $E7AWG_ADDR (default: localhost:9000).
// Each iteration of the run loop starts the configured capture units and
// AWGs, waits for them to stop and sends the captured samples of every
// unit on the /capture output.
//
// The /config command accepts an optional JSON body:
//
//	{"awgs": [0, 1], "units": [0, 1], "timeout": 5}
package main // import "github.com/go-lpc/e7awg/cmd/e7awg-tdaq"

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/server"
)

func main() {
	cmd := flags.New()

	addr := os.Getenv("E7AWG_ADDR")
	if addr == "" {
		addr = "localhost:9000"
	}

	board, err := boardName(cmd.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "e7awg-tdaq: %v\nusage: e7awg-tdaq [options] <board>\n", err)
		os.Exit(2)
	}

	dev := newDevice(board, addr)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/capture", dev.capture)

	srv.RunHandle(dev.run)

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func boardName(args []string) (string, error) {
	switch len(args) {
	case 0:
		return "", fmt.Errorf("missing board name")
	case 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("too many arguments %q", args)
	}
}

type config struct {
	AWGs    []int   `json:"awgs"`
	Units   []int   `json:"units"`
	Timeout float64 `json:"timeout"` // in seconds
}

type device struct {
	board string
	addr  string

	awgs    []hw.AWG
	units   []hw.CaptureUnit
	timeout time.Duration

	cli *server.Client

	n    int // number of acquired events
	data chan []byte
}

func newDevice(board, addr string) *device {
	return &device{
		board:   board,
		addr:    addr,
		awgs:    []hw.AWG{0},
		units:   []hw.CaptureUnit{0},
		timeout: 5 * time.Second,
	}
}

func (dev *device) configure(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var cfg config
	err := json.Unmarshal(raw, &cfg)
	if err != nil {
		return fmt.Errorf("could not decode configuration: %w", err)
	}

	awgs := make([]hw.AWG, 0, len(cfg.AWGs))
	for _, v := range cfg.AWGs {
		id, err := hw.ParseAWG(v)
		if err != nil {
			return err
		}
		awgs = append(awgs, id)
	}
	units := make([]hw.CaptureUnit, 0, len(cfg.Units))
	for _, v := range cfg.Units {
		id, err := hw.ParseCaptureUnit(v)
		if err != nil {
			return err
		}
		units = append(units, id)
	}

	if len(awgs) > 0 {
		dev.awgs = awgs
	}
	if len(units) > 0 {
		dev.units = units
	}
	if cfg.Timeout > 0 {
		dev.timeout = time.Duration(cfg.Timeout * float64(time.Second))
	}
	return nil
}

func (dev *device) connect() error {
	if dev.cli != nil {
		return nil
	}
	cli, err := server.Dial(dev.addr, dev.timeout)
	if err != nil {
		return err
	}
	err = cli.Open(dev.board)
	if err != nil {
		_ = cli.Close()
		return fmt.Errorf("could not open board %q: %w", dev.board, err)
	}
	dev.cli = cli
	return nil
}

func (dev *device) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	err := dev.configure(req.Body)
	if err != nil {
		ctx.Msg.Errorf("could not configure %q: %+v", dev.board, err)
		return err
	}
	err = dev.connect()
	if err != nil {
		ctx.Msg.Errorf("could not connect to %q: %+v", dev.board, err)
		return err
	}
	return nil
}

func (dev *device) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := dev.connect()
	if err != nil {
		return err
	}
	err = dev.cli.Initialize(dev.awgs, dev.units)
	if err != nil {
		ctx.Msg.Errorf("could not initialize %q: %+v", dev.board, err)
		return err
	}
	dev.data = make(chan []byte, 1024)
	dev.n = 0
	return nil
}

func (dev *device) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	if dev.cli != nil {
		err := dev.cli.ResetAwgs(dev.awgs...)
		if err != nil {
			return err
		}
		err = dev.cli.ResetCaptureUnits(dev.units...)
		if err != nil {
			return err
		}
	}
	dev.data = make(chan []byte, 1024)
	dev.n = 0
	return nil
}

func (dev *device) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	return nil
}

func (dev *device) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	n := dev.n
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)
	return nil
}

func (dev *device) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	if dev.cli == nil {
		return nil
	}
	err := dev.cli.Close()
	dev.cli = nil
	return err
}

func (dev *device) capture(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.data:
		dst.Body = data
	}
	return nil
}

func (dev *device) run(ctx tdaq.Context) error {
	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		default:
			evts, err := dev.acquire(uint32(dev.n))
			if err != nil {
				ctx.Msg.Errorf("could not acquire event %d: %+v", dev.n, err)
				return err
			}
			for _, evt := range evts {
				select {
				case dev.data <- evt:
				default:
					ctx.Msg.Warnf("dropping event %d", dev.n)
				}
			}
			dev.n++
		}
	}
}

// acquire runs the AWGs and capture units once and returns the encoded
// capture data of every unit.
func (dev *device) acquire(evt uint32) ([][]byte, error) {
	err := dev.cli.StartCaptureUnits(dev.units...)
	if err != nil {
		return nil, fmt.Errorf("could not start capture units: %w", err)
	}
	err = dev.cli.StartAwgs(dev.awgs...)
	if err != nil {
		return nil, fmt.Errorf("could not start AWGs: %w", err)
	}
	err = dev.cli.WaitForAll(dev.timeout, dev.awgs, dev.units)
	if err != nil {
		return nil, fmt.Errorf("could not wait for AWGs and capture units: %w", err)
	}

	o := make([][]byte, 0, len(dev.units))
	for _, unit := range dev.units {
		data, err := dev.cli.CaptureData(unit)
		if err != nil {
			return nil, fmt.Errorf("could not read capture data of %v: %w", unit, err)
		}
		o = append(o, encodeFrame(evt, unit, data))
	}
	return o, nil
}
