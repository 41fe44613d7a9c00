// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// e7awg-dump decodes and displays sequencer command frames and command
// error reports.
//
// Usage: e7awg-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> e7awg-dump ./testdata/cmds.raw
//	=== ./testdata/cmds.raw ===
//	cmd[000] AwgStart                       no=    0 stop=false {Header:{Num:0 Stop:false} AWGs:{AWG.U0, AWG.U1} StartTime:-1 Wait:false}
//	cmd[001] WaveGenEndFence                no=    1 stop=true  {Header:{Num:1 Stop:true} AWGs:{AWG.U0, AWG.U1} EndTime:1000 Wait:true Terminate:false}
//	[...]
//
//	$> e7awg-dump -reports ./testdata/reports.raw
//	=== ./testdata/reports.raw ===
//	rep[000] AwgStartCmdErr
//	  - command ID : 1
//	  - command No : 7
//	  - terminated : false
//	  - AWG IDs    : [1 2]
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/e7awg/seqcmd"
)

func main() {
	log.SetPrefix("e7awg-dump: ")
	log.SetFlags(0)

	reps := flag.Bool("reports", false, "decode command error reports instead of commands")

	flag.Usage = func() {
		fmt.Printf(`e7awg-dump decodes and displays sequencer command frames and command error reports.

Usage: e7awg-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> e7awg-dump ./testdata/cmds.raw
 $> e7awg-dump -reports ./testdata/reports.raw

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing path to input file")
	}

	for _, fname := range flag.Args() {
		err := process(os.Stdout, fname, *reps)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname string, reports bool) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	raw, err := os.ReadFile(fname)
	if err != nil {
		return fmt.Errorf("could not read %q: %w", fname, err)
	}

	fmt.Fprintf(wbuf, "=== %s ===\n", fname)
	if reports {
		return dumpReports(wbuf, raw)
	}
	return dumpCmds(wbuf, raw)
}

func dumpCmds(w io.Writer, raw []byte) error {
	cmds, err := seqcmd.DecodeAll(raw)
	if err != nil {
		return fmt.Errorf("could not decode commands: %w", err)
	}
	for i, cmd := range cmds {
		fmt.Fprintf(w, "cmd[%03d] %-30v no=%5d stop=%-5v %s\n",
			i, cmd.ID(), cmd.No(), cmd.StopSeq(), body(cmd),
		)
	}
	return nil
}

func dumpReports(w io.Writer, raw []byte) error {
	reps, err := seqcmd.DecodeReports(raw)
	if err != nil {
		return fmt.Errorf("could not decode reports: %w", err)
	}
	for i, rep := range reps {
		fmt.Fprintf(w, "rep[%03d] %s\n", i, seqcmd.Describe(rep))
	}
	return nil
}

func body(cmd seqcmd.Command) string {
	return fmt.Sprintf("%+v", cmd)
}
