// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"testing"
	"time"

	"github.com/go-lpc/e7awg/ctrl"
	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/internal/fakehw"
	"github.com/go-lpc/e7awg/server"
)

func TestBoardName(t *testing.T) {
	for _, tc := range []struct {
		args []string
		want string
		err  bool
	}{
		{nil, "", true},
		{[]string{"10.1.0.1"}, "10.1.0.1", false},
		{[]string{"a", "b"}, "", true},
	} {
		got, err := boardName(tc.args)
		if (err != nil) != tc.err {
			t.Fatalf("%q: invalid error: %v", tc.args, err)
		}
		if got != tc.want {
			t.Fatalf("%q: invalid board: got=%q, want=%q", tc.args, got, tc.want)
		}
	}
}

func TestFrame(t *testing.T) {
	data := []complex64{complex(1, -1), complex(0.5, 2.25), 0}
	p := encodeFrame(42, 3, data)
	if got, want := len(p), frameHeaderSize+8*len(data); got != want {
		t.Fatalf("invalid frame size: got=%d, want=%d", got, want)
	}

	evt, unit, got, err := decodeFrame(p)
	if err != nil {
		t.Fatalf("could not decode frame: %+v", err)
	}
	if evt != 42 || unit != 3 {
		t.Fatalf("invalid header: evt=%d, unit=%v", evt, unit)
	}
	if !reflect.DeepEqual(got, data) {
		t.Fatalf("invalid data:\ngot= %v\nwant=%v", got, data)
	}

	for _, tc := range []struct {
		name string
		p    []byte
		want error
	}{
		{"short", p[:4], hw.ErrFormat},
		{"truncated", p[:len(p)-1], hw.ErrFormat},
		{"unit", encodeFrame(0, 42, nil), hw.ErrRange},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, err := decodeFrame(tc.p)
			if !errors.Is(err, tc.want) {
				t.Fatalf("invalid error: got=%v, want=%v", err, tc.want)
			}
		})
	}
}

func TestConfigure(t *testing.T) {
	dev := newDevice("board", "localhost:0")
	err := dev.configure(nil)
	if err != nil {
		t.Fatalf("could not apply empty configuration: %+v", err)
	}

	err = dev.configure([]byte(`{"awgs": [1, 2], "units": [3], "timeout": 0.5}`))
	if err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	if got, want := dev.awgs, []hw.AWG{1, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid AWGs: got=%v, want=%v", got, want)
	}
	if got, want := dev.units, []hw.CaptureUnit{3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid units: got=%v, want=%v", got, want)
	}
	if got, want := dev.timeout, 500*time.Millisecond; got != want {
		t.Fatalf("invalid timeout: got=%v, want=%v", got, want)
	}

	err = dev.configure([]byte(`{"awgs": [99]}`))
	if !errors.Is(err, hw.ErrRange) {
		t.Fatalf("invalid error: got=%v, want=%v", err, hw.ErrRange)
	}

	err = dev.configure([]byte(`{`))
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestAcquire(t *testing.T) {
	dir := t.TempDir()
	open := func(name string) (*ctrl.Coordinator, io.Closer, error) {
		brd := fakehw.New()
		brd.AutoStop = true
		c, err := ctrl.New(brd,
			ctrl.WithLockDir(dir, name),
			ctrl.WithLogger(log.New(io.Discard, "", 0)),
			ctrl.WithPollInterval(time.Millisecond),
			ctrl.WithSettleTimeout(time.Second),
		)
		return c, nil, err
	}
	srv, err := server.New("localhost:0", open, server.WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("could not create server: %+v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()
	defer func() {
		_ = srv.Close()
		<-done
	}()

	dev := newDevice("board", srv.Addr().String())
	dev.timeout = time.Second
	err = dev.configure([]byte(`{"awgs": [0, 1], "units": [0, 1]}`))
	if err != nil {
		t.Fatal(err)
	}
	err = dev.connect()
	if err != nil {
		t.Fatalf("could not connect: %+v", err)
	}
	defer dev.cli.Close()

	err = dev.cli.Initialize(dev.awgs, dev.units)
	if err != nil {
		t.Fatalf("could not initialize: %+v", err)
	}

	for i := 0; i < 2; i++ {
		evts, err := dev.acquire(uint32(i))
		if err != nil {
			t.Fatalf("could not acquire event %d: %+v", i, err)
		}
		if got, want := len(evts), len(dev.units); got != want {
			t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
		}
		for j, p := range evts {
			evt, unit, _, err := decodeFrame(p)
			if err != nil {
				t.Fatalf("could not decode frame: %+v", err)
			}
			if evt != uint32(i) || unit != dev.units[j] {
				t.Fatalf("invalid frame header: evt=%d, unit=%v", evt, unit)
			}
		}
	}
}
