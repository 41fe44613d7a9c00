// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/go-lpc/e7awg/capture"
	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/wave"
)

var (
	// ErrNotOpen reports a request on a connection bound to no board.
	ErrNotOpen = errors.New("no board opened")
	// ErrRequest reports an unknown or malformed request.
	ErrRequest = errors.New("invalid request")
)

// Request is a request sent to a server.
type Request struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Reply is the answer of a server to a request.
type Reply struct {
	Msg  string          `json:"msg"`
	Code string          `json:"code,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Args are the arguments of a request. Each request reads the fields
// it needs.
type Args struct {
	Board string `json:"board,omitempty"`

	AWGs   []int `json:"awgs,omitempty"`
	Units  []int `json:"units,omitempty"`
	AWG    int   `json:"awg,omitempty"`
	Unit   int   `json:"unit,omitempty"`
	Module int   `json:"module,omitempty"`

	WaveSequence *wave.Sequence `json:"wave_sequence,omitempty"`
	CaptureParam *capture.Param `json:"capture_param,omitempty"`

	Cmds []byte `json:"cmds,omitempty"` // encoded command frames

	Timeout  float64 `json:"timeout,omitempty"` // in seconds
	Interval int     `json:"interval,omitempty"`
	Flag     bool    `json:"flag,omitempty"`
	Hex      bool    `json:"hex,omitempty"`
}

func (a Args) timeout() time.Duration {
	return time.Duration(a.Timeout * float64(time.Second))
}

func (a Args) awgs() ([]hw.AWG, error) {
	return parseAll(a.AWGs, hw.ParseAWG)
}

func (a Args) units() ([]hw.CaptureUnit, error) {
	return parseAll(a.Units, hw.ParseCaptureUnit)
}

func parseAll[T any](vs []int, parse func(int) (T, error)) ([]T, error) {
	o := make([]T, len(vs))
	for i, v := range vs {
		id, err := parse(v)
		if err != nil {
			return nil, err
		}
		o[i] = id
	}
	return o, nil
}

// Error is an error reported by a server.
// It wraps the hardware error of the same kind, if any.
type Error struct {
	Msg  string
	Code string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error {
	for _, c := range codes {
		if c.code == e.Code {
			return c.err
		}
	}
	return nil
}

// ErrTimeout and ErrFifoFull are wrapped by client errors for the
// timeouts and full command FIFOs reported by a server.
var (
	ErrTimeout  = errors.New("units did not stop in time")
	ErrFifoFull = errors.New("command FIFO full")
)

var codes = []struct {
	code string
	err  error
}{
	{"range", hw.ErrRange},
	{"capacity", hw.ErrCapacity},
	{"format", hw.ErrFormat},
	{"lock", hw.ErrLock},
	{"sequencing", hw.ErrSequencing},
	{"state", hw.ErrState},
	{"timeout", ErrTimeout},
	{"fifo-full", ErrFifoFull},
	{"not-open", ErrNotOpen},
	{"request", ErrRequest},
}

func codeOf(err error) string {
	var (
		terr *hw.TimeoutError
		ferr *hw.FifoFullError
	)
	switch {
	case errors.As(err, &terr):
		return "timeout"
	case errors.As(err, &ferr):
		return "fifo-full"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}
