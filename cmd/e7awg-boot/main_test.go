// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// sleepCmds returns commands running copies of the sleep program under
// unique names, so killall only ever targets them.
func sleepCmds(t *testing.T, n int, secs string) []*exec.Cmd {
	t.Helper()
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skipf("could not find sleep program: %+v", err)
	}

	dir := t.TempDir()
	cmds := make([]*exec.Cmd, n)
	for i := range cmds {
		name := filepath.Join(dir, fmt.Sprintf("e7awg-boot-test-%d-%d", os.Getpid(), i))
		err := copyFile(name, path)
		if err != nil {
			t.Fatalf("could not create test program: %+v", err)
		}
		cmds[i] = exec.Command(name, secs)
	}
	return cmds
}

func copyFile(dst, src string) error {
	r, err := os.Open(src)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY, 0755)
	if err != nil {
		return err
	}
	defer w.Close()

	_, err = io.Copy(w, r)
	if err != nil {
		return err
	}
	return w.Close()
}

func TestRun(t *testing.T) {
	for _, tc := range []struct {
		name string
		secs string
		mon  bool
		stop bool
	}{
		{name: "simple", secs: "1"},
		{name: "simple-pmon", secs: "2", mon: true},
		{name: "simple-stop", secs: "30", stop: true},
		{name: "simple-stop-pmon", secs: "30", stop: true, mon: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cmds := sleepCmds(t, 2, tc.secs)
			dir := t.TempDir()

			stop := make(chan os.Signal, 1)
			if tc.stop {
				go func() {
					time.Sleep(1 * time.Second)
					stop <- os.Interrupt
				}()
			}

			start := time.Now()
			err := run(tc.mon, 500*time.Millisecond, cmds, dir, stop)
			if err != nil {
				t.Fatalf("could not run processes: %+v", err)
			}
			if tc.stop && time.Since(start) > 20*time.Second {
				t.Fatalf("processes were not stopped")
			}

			for _, cmd := range cmds {
				name := filepath.Base(cmd.Path)
				_, err := os.Stat(filepath.Join(dir, name+".log"))
				if err != nil {
					t.Fatalf("missing log file for %q: %+v", name, err)
				}
			}
		})
	}
}

func TestRunMissingDir(t *testing.T) {
	cmds := sleepCmds(t, 1, "1")
	err := run(false, time.Second, cmds, filepath.Join(t.TempDir(), "missing"), make(chan os.Signal, 1))
	if err == nil {
		t.Fatalf("expected an error")
	}
}
