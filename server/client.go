// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-lpc/e7awg/capture"
	"github.com/go-lpc/e7awg/ctrl"
	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/seqcmd"
	"github.com/go-lpc/e7awg/wave"
)

// Client is a connection to a server. A client is bound to at most
// one board at a time.
//
// A Client is safe for concurrent use. Requests are serialized.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

// Dial connects to the server at addr, retrying for up to timeout.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	var conn net.Conn
	op := func() error {
		var err error
		conn, err = net.DialTimeout("tcp", addr, timeout)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = timeout

	err := backoff.Retry(op, bo)
	if err != nil {
		return nil, fmt.Errorf("server: could not dial %q: %w", addr, err)
	}

	return &Client{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}, nil
}

// Close closes the connection to the server.
func (cli *Client) Close() error {
	return cli.conn.Close()
}

// Call sends the named request and decodes the reply data into reply,
// unless reply is nil.
func (cli *Client) Call(name string, args *Args, reply interface{}) error {
	req := Request{Name: name}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("server: could not encode %q arguments: %w", name, err)
		}
		req.Args = raw
	}

	cli.mu.Lock()
	defer cli.mu.Unlock()

	err := cli.enc.Encode(req)
	if err != nil {
		return fmt.Errorf("server: could not send %q request: %w", name, err)
	}

	var rep Reply
	err = cli.dec.Decode(&rep)
	if err != nil {
		return fmt.Errorf("server: could not receive %q reply: %w", name, err)
	}
	if rep.Msg != "ok" {
		return &Error{Msg: rep.Msg, Code: rep.Code}
	}
	if reply == nil || len(rep.Data) == 0 {
		return nil
	}
	err = json.Unmarshal(rep.Data, reply)
	if err != nil {
		return fmt.Errorf("server: could not decode %q reply: %w", name, err)
	}
	return nil
}

// Open binds the connection to the named board.
func (cli *Client) Open(board string) error {
	return cli.Call("open", &Args{Board: board}, nil)
}

func awgIDs(ids []hw.AWG) []int {
	o := make([]int, len(ids))
	for i, id := range ids {
		o[i] = int(id)
	}
	return o
}

func unitIDs(ids []hw.CaptureUnit) []int {
	o := make([]int, len(ids))
	for i, id := range ids {
		o[i] = int(id)
	}
	return o
}

func seconds(d time.Duration) float64 { return d.Seconds() }

func (cli *Client) Versions() (ctrl.Versions, error) {
	var vs ctrl.Versions
	err := cli.Call("versions", nil, &vs)
	return vs, err
}

func (cli *Client) Initialize(awgs []hw.AWG, units []hw.CaptureUnit) error {
	return cli.Call("initialize", &Args{AWGs: awgIDs(awgs), Units: unitIDs(units)}, nil)
}

func (cli *Client) InitializeAwgs(ids ...hw.AWG) error {
	return cli.Call("initialize_awgs", &Args{AWGs: awgIDs(ids)}, nil)
}

func (cli *Client) StartAwgs(ids ...hw.AWG) error {
	return cli.Call("start_awgs", &Args{AWGs: awgIDs(ids)}, nil)
}

func (cli *Client) TerminateAwgs(ids ...hw.AWG) error {
	return cli.Call("terminate_awgs", &Args{AWGs: awgIDs(ids)}, nil)
}

func (cli *Client) ResetAwgs(ids ...hw.AWG) error {
	return cli.Call("reset_awgs", &Args{AWGs: awgIDs(ids)}, nil)
}

func (cli *Client) ClearAwgStopFlags(ids ...hw.AWG) error {
	return cli.Call("clear_awg_stop_flags", &Args{AWGs: awgIDs(ids)}, nil)
}

func (cli *Client) SetWaveSequence(awg hw.AWG, seq *wave.Sequence) error {
	return cli.Call("set_wave_sequence", &Args{AWG: int(awg), WaveSequence: seq}, nil)
}

func (cli *Client) RegisterWaveSequence(awg hw.AWG, seq *wave.Sequence) (int, error) {
	var key int
	err := cli.Call("register_wave_sequence", &Args{AWG: int(awg), WaveSequence: seq}, &key)
	return key, err
}

// WaitForAwgsToStop waits on the server side. The connection is busy
// until the AWGs stop or the timeout expires.
func (cli *Client) WaitForAwgsToStop(timeout time.Duration, ids ...hw.AWG) error {
	return cli.Call("wait_for_awgs_to_stop", &Args{AWGs: awgIDs(ids), Timeout: seconds(timeout)}, nil)
}

func (cli *Client) CheckAwgErr(ids ...hw.AWG) (map[hw.AWG]hw.Set[hw.AwgErr], error) {
	var o map[hw.AWG]hw.Set[hw.AwgErr]
	err := cli.Call("check_awg_err", &Args{AWGs: awgIDs(ids)}, &o)
	return o, err
}

func (cli *Client) SetWaveStartableBlockTiming(interval int, ids ...hw.AWG) error {
	return cli.Call("set_wave_startable_block_timing", &Args{AWGs: awgIDs(ids), Interval: interval}, nil)
}

func (cli *Client) WaveStartableBlockTiming(ids ...hw.AWG) (map[hw.AWG]int, error) {
	var o map[hw.AWG]int
	err := cli.Call("wave_startable_block_timing", &Args{AWGs: awgIDs(ids)}, &o)
	return o, err
}

func (cli *Client) AwgStatus(awg hw.AWG) (ctrl.Status, error) {
	var st ctrl.Status
	err := cli.Call("awg_status", &Args{AWG: int(awg)}, &st)
	return st, err
}

func (cli *Client) InitializeCaptureUnits(ids ...hw.CaptureUnit) error {
	return cli.Call("initialize_capture_units", &Args{Units: unitIDs(ids)}, nil)
}

func (cli *Client) StartCaptureUnits(ids ...hw.CaptureUnit) error {
	return cli.Call("start_capture_units", &Args{Units: unitIDs(ids)}, nil)
}

func (cli *Client) TerminateCaptureUnits(ids ...hw.CaptureUnit) error {
	return cli.Call("terminate_capture_units", &Args{Units: unitIDs(ids)}, nil)
}

func (cli *Client) ResetCaptureUnits(ids ...hw.CaptureUnit) error {
	return cli.Call("reset_capture_units", &Args{Units: unitIDs(ids)}, nil)
}

func (cli *Client) ClearCaptureStopFlags(ids ...hw.CaptureUnit) error {
	return cli.Call("clear_capture_stop_flags", &Args{Units: unitIDs(ids)}, nil)
}

func (cli *Client) EnableStartTrigger(ids ...hw.CaptureUnit) error {
	return cli.Call("enable_start_trigger", &Args{Units: unitIDs(ids)}, nil)
}

func (cli *Client) DisableStartTrigger(ids ...hw.CaptureUnit) error {
	return cli.Call("disable_start_trigger", &Args{Units: unitIDs(ids)}, nil)
}

func (cli *Client) SetCaptureParams(unit hw.CaptureUnit, p *capture.Param) error {
	return cli.Call("set_capture_params", &Args{Unit: int(unit), CaptureParam: p}, nil)
}

func (cli *Client) RegisterCaptureParams(unit hw.CaptureUnit, p *capture.Param) (int, error) {
	var key int
	err := cli.Call("register_capture_params", &Args{Unit: int(unit), CaptureParam: p}, &key)
	return key, err
}

func (cli *Client) WaitForCaptureUnitsToStop(timeout time.Duration, ids ...hw.CaptureUnit) error {
	return cli.Call("wait_for_capture_units_to_stop", &Args{Units: unitIDs(ids), Timeout: seconds(timeout)}, nil)
}

func (cli *Client) CheckCaptureErr(ids ...hw.CaptureUnit) (map[hw.CaptureUnit]hw.Set[hw.CaptureErr], error) {
	var o map[hw.CaptureUnit]hw.Set[hw.CaptureErr]
	err := cli.Call("check_capture_err", &Args{Units: unitIDs(ids)}, &o)
	return o, err
}

func (cli *Client) SelectTriggerAwg(mod hw.CaptureModule, awg hw.AWG) error {
	return cli.Call("select_trigger_awg", &Args{Module: int(mod), AWG: int(awg)}, nil)
}

func (cli *Client) DeselectTriggerAwg(mod hw.CaptureModule) error {
	return cli.Call("deselect_trigger_awg", &Args{Module: int(mod)}, nil)
}

func (cli *Client) TriggerAwg(mod hw.CaptureModule) (hw.AWG, bool, error) {
	var rep TriggerAwg
	err := cli.Call("trigger_awg", &Args{Module: int(mod)}, &rep)
	return hw.AWG(rep.AWG), rep.OK, err
}

func (cli *Client) NumCapturedSamples(unit hw.CaptureUnit) (int, error) {
	var n int
	err := cli.Call("num_captured_samples", &Args{Unit: int(unit)}, &n)
	return n, err
}

func (cli *Client) CaptureData(unit hw.CaptureUnit) ([]complex64, error) {
	var vs []Sample
	err := cli.Call("capture_data", &Args{Unit: int(unit)}, &vs)
	if err != nil {
		return nil, err
	}
	o := make([]complex64, len(vs))
	for i, v := range vs {
		o[i] = complex(v[0], v[1])
	}
	return o, nil
}

func (cli *Client) ClassificationResults(unit hw.CaptureUnit) ([]uint8, error) {
	var vs []int
	err := cli.Call("classification_results", &Args{Unit: int(unit)}, &vs)
	if err != nil {
		return nil, err
	}
	o := make([]uint8, len(vs))
	for i, v := range vs {
		o[i] = uint8(v)
	}
	return o, nil
}

func (cli *Client) CaptureUnitStatus(unit hw.CaptureUnit) (ctrl.Status, error) {
	var st ctrl.Status
	err := cli.Call("capture_unit_status", &Args{Unit: int(unit)}, &st)
	return st, err
}

func (cli *Client) WaitForAll(timeout time.Duration, awgs []hw.AWG, units []hw.CaptureUnit) error {
	return cli.Call("wait_for_all", &Args{
		AWGs:    awgIDs(awgs),
		Units:   unitIDs(units),
		Timeout: seconds(timeout),
	}, nil)
}

func (cli *Client) InitializeSequencer() error { return cli.Call("initialize_sequencer", nil, nil) }
func (cli *Client) StartSequencer() error      { return cli.Call("start_sequencer", nil, nil) }
func (cli *Client) TerminateSequencer() error  { return cli.Call("terminate_sequencer", nil, nil) }
func (cli *Client) ClearCommands() error       { return cli.Call("clear_commands", nil, nil) }
func (cli *Client) ClearUnsentCmdErrReports() error {
	return cli.Call("clear_unsent_cmd_err_reports", nil, nil)
}
func (cli *Client) ClearSequencerStopFlag() error {
	return cli.Call("clear_sequencer_stop_flag", nil, nil)
}
func (cli *Client) EnableCmdErrReport() error  { return cli.Call("enable_cmd_err_report", nil, nil) }
func (cli *Client) DisableCmdErrReport() error { return cli.Call("disable_cmd_err_report", nil, nil) }

func (cli *Client) count(name string) (int, error) {
	var n int
	err := cli.Call(name, nil, &n)
	return n, err
}

func (cli *Client) CmdFifoFreeSpace() (int, error) { return cli.count("cmd_fifo_free_space") }
func (cli *Client) NumUnprocessedCommands() (int, error) {
	return cli.count("num_unprocessed_commands")
}
func (cli *Client) NumSuccessfulCommands() (int, error) { return cli.count("num_successful_commands") }
func (cli *Client) NumErrCommands() (int, error)        { return cli.count("num_err_commands") }
func (cli *Client) NumUnsentCmdErrReports() (int, error) {
	return cli.count("num_unsent_cmd_err_reports")
}

func (cli *Client) PushCommands(cmds ...seqcmd.Command) error {
	p, err := seqcmd.EncodeAll(cmds)
	if err != nil {
		return err
	}
	return cli.Call("push_commands", &Args{Cmds: p}, nil)
}

func (cli *Client) WaitForSequencerToStop(timeout time.Duration) error {
	return cli.Call("wait_for_sequencer_to_stop", &Args{Timeout: seconds(timeout)}, nil)
}

func (cli *Client) CheckSequencerErr() (hw.Set[hw.SequencerErr], error) {
	var set hw.Set[hw.SequencerErr]
	err := cli.Call("check_sequencer_err", nil, &set)
	return set, err
}

func (cli *Client) PopCmdErrReports() ([]seqcmd.Report, error) {
	var p []byte
	err := cli.Call("pop_cmd_err_reports", nil, &p)
	if err != nil {
		return nil, err
	}
	return seqcmd.DecodeReports(p)
}

func (cli *Client) BranchFlag() (bool, error) {
	var v bool
	err := cli.Call("branch_flag", nil, &v)
	return v, err
}

func (cli *Client) SetBranchFlag(v bool) error {
	return cli.Call("set_branch_flag", &Args{Flag: v}, nil)
}

func (cli *Client) ExternalBranchFlag() (bool, error) {
	var v bool
	err := cli.Call("external_branch_flag", nil, &v)
	return v, err
}

// WaveSequenceSummary returns the summary of a wave sequence, as
// formatted by the server.
func (cli *Client) WaveSequenceSummary(seq *wave.Sequence) (string, error) {
	var s string
	err := cli.Call("wave_sequence.summary", &Args{WaveSequence: seq}, &s)
	return s, err
}

// CalcCaptureSamples returns the number of samples the server computes
// for the provided capture parameters.
func (cli *Client) CalcCaptureSamples(p *capture.Param) (int, error) {
	var n int
	err := cli.Call("capture_param.calc_capture_samples", &Args{CaptureParam: p}, &n)
	return n, err
}
