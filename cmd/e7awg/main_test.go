// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/e7awg/ctrl"
	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/internal/fakehw"
	"github.com/go-lpc/e7awg/server"
	"github.com/go-lpc/e7awg/wave"
)

func newSession(t *testing.T) *session {
	t.Helper()
	dir := t.TempDir()
	open := func(name string) (*ctrl.Coordinator, io.Closer, error) {
		c, err := ctrl.New(fakehw.New(),
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

	s := &session{
		addr:    srv.Addr().String(),
		board:   "board-1",
		timeout: time.Second,
	}
	t.Cleanup(func() {
		s.close()
		_ = srv.Close()
		<-done
	})
	return s
}

func exec(t *testing.T, s *session, line string) string {
	t.Helper()
	out := new(strings.Builder)
	err := execLine(s, out, line)
	if err != nil {
		t.Fatalf("could not run %q: %+v\n%s", line, err, out)
	}
	return out.String()
}

func TestParseIDs(t *testing.T) {
	ids, err := parseAWGs(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ids, hw.AllAWGs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid ids: got=%v, want=%v", got, want)
	}

	ids, err = parseAWGs([]string{"3", "1"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ids, []hw.AWG{3, 1}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid ids: got=%v, want=%v", got, want)
	}

	_, err = parseAWGs([]string{"x"})
	if err == nil {
		t.Fatalf("expected an error")
	}

	_, err = parseUnits([]string{"42"})
	if !errors.Is(err, hw.ErrRange) {
		t.Fatalf("invalid error: got=%v, want=%v", err, hw.ErrRange)
	}
}

func TestCommands(t *testing.T) {
	s := newSession(t)

	out := exec(t, s, "versions")
	if !strings.HasPrefix(out, "awg:       K:") {
		t.Fatalf("invalid versions output:\n%s", out)
	}

	out = exec(t, s, "awg status 0")
	if got, want := out, "AWG.U0     idle\n"; got != want {
		t.Fatalf("invalid status:\ngot= %q\nwant=%q", got, want)
	}

	exec(t, s, "awg init 0 1")
	out = exec(t, s, "awg status 0 1 2")
	for _, want := range []string{
		"AWG.U0     initialized\n",
		"AWG.U1     initialized\n",
		"AWG.U2     idle\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in status:\n%s", want, out)
		}
	}

	out = exec(t, s, "capture samples 0")
	if got, want := out, "0\n"; got != want {
		t.Fatalf("invalid number of samples: got=%q, want=%q", got, want)
	}

	exec(t, s, "seq flag 1")
	out = exec(t, s, "seq flag")
	if got, want := out, "branch=true external=true\n"; got != want {
		t.Fatalf("invalid branch flag: got=%q, want=%q", got, want)
	}

	err := execLine(s, io.Discard, "awg status 42")
	if !errors.Is(err, hw.ErrRange) {
		t.Fatalf("invalid error: got=%v, want=%v", err, hw.ErrRange)
	}

	err = execLine(s, io.Discard, "sh")
	if err == nil {
		t.Fatalf("expected an error for a nested shell")
	}
}

func TestSwitchBoard(t *testing.T) {
	s := newSession(t)

	exec(t, s, "awg init 0")
	exec(t, s, "-b board-2 versions")
	if got, want := s.open, "board-2"; got != want {
		t.Fatalf("invalid board: got=%q, want=%q", got, want)
	}
	out := exec(t, s, "awg status 0")
	if got, want := out, "AWG.U0     idle\n"; got != want {
		t.Fatalf("invalid status:\ngot= %q\nwant=%q", got, want)
	}
}

func TestWaveSummary(t *testing.T) {
	seq, err := wave.NewSequence(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	err = seq.AddChunk(make([]wave.Sample, hw.NumSamplesInWaveBlock), 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := seq.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	fname := filepath.Join(t.TempDir(), "seq.cbor")
	err = os.WriteFile(fname, raw, 0644)
	if err != nil {
		t.Fatal(err)
	}

	// no server needed.
	out := exec(t, &session{}, "awg summary "+fname)
	want := new(strings.Builder)
	err = seq.WriteSummary(want)
	if err != nil {
		t.Fatal(err)
	}
	if out != want.String() {
		t.Fatalf("invalid summary:\ngot:\n%s\nwant:\n%s", out, want)
	}
}

func TestCompleter(t *testing.T) {
	complete := completer(&session{})
	for _, tc := range []struct {
		line string
		want []string
	}{
		{"ver", []string{"versions"}},
		{"awg st", []string{"awg start", "awg status", "awg stop"}},
		{"seq f", []string{"seq flag"}},
		{"nope ", nil},
	} {
		t.Run(tc.line, func(t *testing.T) {
			got := complete(tc.line)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("invalid completion: got=%q, want=%q", got, tc.want)
			}
		})
	}
}
