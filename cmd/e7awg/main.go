// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command e7awg controls the boards served by an e7awg-srv server.
//
// Usage: e7awg [OPTIONS] COMMAND [ARGS]
//
// Example:
//
//	$> e7awg -a localhost:9000 -b 10.0.0.16 versions
//	awg:       K:2024/03/15-2
//	capture:   K:2024/03/15-2
//	sequencer: K:2024/03/15-2
//
//	$> e7awg -b 10.0.0.16 awg init 0 1
//	$> e7awg -b 10.0.0.16 awg set-wave 0 ./pulse.cbor
//	$> e7awg -b 10.0.0.16 awg start 0
//	$> e7awg -b 10.0.0.16 awg wait 0
//	$> e7awg -b 10.0.0.16 sh
//	e7awg> awg status
package main // import "github.com/go-lpc/e7awg/cmd/e7awg"

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-lpc/e7awg/capture"
	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/seqcmd"
	"github.com/go-lpc/e7awg/server"
	"github.com/go-lpc/e7awg/wave"
	"github.com/spf13/cobra"
)

func main() {
	log.SetPrefix("e7awg: ")
	log.SetFlags(0)

	sess := &session{}
	defer sess.close()

	err := newRootCmd(sess).Execute()
	if err != nil {
		sess.close()
		log.Fatalf("%+v", err)
	}
}

// session holds the connection shared by all the commands of a
// process, including the ones issued from the shell.
type session struct {
	addr    string
	board   string
	timeout time.Duration

	cli  *server.Client
	open string // board the connection is bound to
}

func (s *session) client() (*server.Client, error) {
	if s.cli == nil {
		cli, err := server.Dial(s.addr, s.timeout)
		if err != nil {
			return nil, err
		}
		s.cli = cli
	}
	if s.open != s.board {
		err := s.cli.Open(s.board)
		if err != nil {
			return nil, fmt.Errorf("could not open board %q: %w", s.board, err)
		}
		s.open = s.board
	}
	return s.cli, nil
}

func (s *session) close() {
	if s.cli == nil {
		return
	}
	_ = s.cli.Close()
	s.cli = nil
	s.open = ""
}

func newRootCmd(s *session) *cobra.Command {
	root := &cobra.Command{
		Use:           "e7awg",
		Short:         "control e7awg boards",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&s.addr, "addr", "a", orDefault(s.addr, "localhost:9000"), "address of the e7awg-srv server")
	root.PersistentFlags().StringVarP(&s.board, "board", "b", orDefault(s.board, "localhost"), "board to open")
	root.PersistentFlags().DurationVarP(&s.timeout, "timeout", "t", orDefaultDuration(s.timeout, 5*time.Second), "timeout of dial and wait operations")

	root.AddCommand(
		newVersionsCmd(s),
		newAwgCmd(s),
		newCaptureCmd(s),
		newSeqCmd(s),
		newWaitCmd(s),
		newShellCmd(s),
	)
	return root
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

// run adapts f into a cobra RunE, connecting to the board first.
func run(s *session, f func(cmd *cobra.Command, cli *server.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cli, err := s.client()
		if err != nil {
			return err
		}
		return f(cmd, cli, args)
	}
}

// parseIDs parses unit ids. No ids selects all units.
func parseIDs[T any](args []string, all func() []T, parse func(int) (T, error)) ([]T, error) {
	if len(args) == 0 {
		return all(), nil
	}
	ids := make([]T, 0, len(args))
	for _, arg := range args {
		i, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid unit id %q: %w", arg, err)
		}
		id, err := parse(i)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseAWGs(args []string) ([]hw.AWG, error) {
	return parseIDs(args, hw.AllAWGs, hw.ParseAWG)
}

func parseUnits(args []string) ([]hw.CaptureUnit, error) {
	return parseIDs(args, hw.AllCaptureUnits, hw.ParseCaptureUnit)
}

func newVersionsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "display the versions of the board controllers",
		Args:  cobra.NoArgs,
		RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
			vs, err := cli.Versions()
			if err != nil {
				return err
			}
			o := cmd.OutOrStdout()
			fmt.Fprintf(o, "awg:       %s\n", vs.AWG)
			fmt.Fprintf(o, "capture:   %s\n", vs.Capture)
			fmt.Fprintf(o, "sequencer: %s\n", vs.Sequencer)
			return nil
		}),
	}
}

func newWaitCmd(s *session) *cobra.Command {
	var (
		awgs  []int
		units []int
	)
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "wait for AWGs and capture units to stop",
		Args:  cobra.NoArgs,
		RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
			as, err := parseAll(awgs, hw.ParseAWG)
			if err != nil {
				return err
			}
			us, err := parseAll(units, hw.ParseCaptureUnit)
			if err != nil {
				return err
			}
			return cli.WaitForAll(s.timeout, as, us)
		}),
	}
	cmd.Flags().IntSliceVar(&awgs, "awgs", nil, "AWGs to wait for")
	cmd.Flags().IntSliceVar(&units, "units", nil, "capture units to wait for")
	return cmd
}

func parseAll[T any](vs []int, parse func(int) (T, error)) ([]T, error) {
	o := make([]T, 0, len(vs))
	for _, v := range vs {
		id, err := parse(v)
		if err != nil {
			return nil, err
		}
		o = append(o, id)
	}
	return o, nil
}

func newAwgCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "awg",
		Short: "drive AWGs",
	}

	op := func(use, short string, f func(cli *server.Client, ids ...hw.AWG) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " [AWG...]",
			Short: short,
			RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
				ids, err := parseAWGs(args)
				if err != nil {
					return err
				}
				return f(cli, ids...)
			}),
		}
	}

	cmd.AddCommand(
		op("init", "initialize AWGs", (*server.Client).InitializeAwgs),
		op("start", "start AWGs", (*server.Client).StartAwgs),
		op("stop", "terminate AWGs", (*server.Client).TerminateAwgs),
		op("reset", "reset AWGs", (*server.Client).ResetAwgs),
		op("clear", "clear the stop flags of AWGs", (*server.Client).ClearAwgStopFlags),
		op("wait", "wait for AWGs to stop", func(cli *server.Client, ids ...hw.AWG) error {
			return cli.WaitForAwgsToStop(s.timeout, ids...)
		}),
		&cobra.Command{
			Use:   "status [AWG...]",
			Short: "display the status of AWGs",
			RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
				ids, err := parseAWGs(args)
				if err != nil {
					return err
				}
				for _, id := range ids {
					st, err := cli.AwgStatus(id)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-10v %v\n", id, st)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "errors [AWG...]",
			Short: "display the errors of AWGs",
			RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
				ids, err := parseAWGs(args)
				if err != nil {
					return err
				}
				errs, err := cli.CheckAwgErr(ids...)
				if err != nil {
					return err
				}
				for _, id := range ids {
					if e, ok := errs[id]; ok {
						fmt.Fprintf(cmd.OutOrStdout(), "%-10v %v\n", id, e)
					}
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set-wave AWG FILE",
			Short: "set the wave sequence of an AWG from a CBOR file",
			Args:  cobra.ExactArgs(2),
			RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
				ids, err := parseAWGs(args[:1])
				if err != nil {
					return err
				}
				seq, err := loadWaveSequence(args[1])
				if err != nil {
					return err
				}
				return cli.SetWaveSequence(ids[0], seq)
			}),
		},
		&cobra.Command{
			Use:   "summary FILE",
			Short: "display the summary of a wave sequence CBOR file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				seq, err := loadWaveSequence(args[0])
				if err != nil {
					return err
				}
				return seq.WriteSummary(cmd.OutOrStdout())
			},
		},
	)
	return cmd
}

func loadWaveSequence(fname string) (*wave.Sequence, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return nil, fmt.Errorf("could not read wave sequence file: %w", err)
	}
	var seq wave.Sequence
	err = seq.UnmarshalBinary(raw)
	if err != nil {
		return nil, fmt.Errorf("could not decode wave sequence %q: %w", fname, err)
	}
	return &seq, nil
}

func newCaptureCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "drive capture units",
	}

	op := func(use, short string, f func(cli *server.Client, ids ...hw.CaptureUnit) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " [UNIT...]",
			Short: short,
			RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
				ids, err := parseUnits(args)
				if err != nil {
					return err
				}
				return f(cli, ids...)
			}),
		}
	}

	unit := func(use, short string, f func(w io.Writer, cli *server.Client, id hw.CaptureUnit) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " UNIT",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
				ids, err := parseUnits(args)
				if err != nil {
					return err
				}
				return f(cmd.OutOrStdout(), cli, ids[0])
			}),
		}
	}

	cmd.AddCommand(
		op("init", "initialize capture units", (*server.Client).InitializeCaptureUnits),
		op("start", "start capture units", (*server.Client).StartCaptureUnits),
		op("stop", "terminate capture units", (*server.Client).TerminateCaptureUnits),
		op("reset", "reset capture units", (*server.Client).ResetCaptureUnits),
		op("clear", "clear the stop flags of capture units", (*server.Client).ClearCaptureStopFlags),
		op("enable-trigger", "enable the start trigger of capture units", (*server.Client).EnableStartTrigger),
		op("disable-trigger", "disable the start trigger of capture units", (*server.Client).DisableStartTrigger),
		op("wait", "wait for capture units to stop", func(cli *server.Client, ids ...hw.CaptureUnit) error {
			return cli.WaitForCaptureUnitsToStop(s.timeout, ids...)
		}),
		&cobra.Command{
			Use:   "status [UNIT...]",
			Short: "display the status of capture units",
			RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
				ids, err := parseUnits(args)
				if err != nil {
					return err
				}
				for _, id := range ids {
					st, err := cli.CaptureUnitStatus(id)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-10v %v\n", id, st)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set-param UNIT FILE",
			Short: "set the capture parameters of a unit from a CBOR file",
			Args:  cobra.ExactArgs(2),
			RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
				ids, err := parseUnits(args[:1])
				if err != nil {
					return err
				}
				raw, err := os.ReadFile(args[1])
				if err != nil {
					return fmt.Errorf("could not read capture parameters file: %w", err)
				}
				var p capture.Param
				err = p.UnmarshalBinary(raw)
				if err != nil {
					return fmt.Errorf("could not decode capture parameters %q: %w", args[1], err)
				}
				return cli.SetCaptureParams(ids[0], &p)
			}),
		},
		unit("samples", "display the number of captured samples", func(w io.Writer, cli *server.Client, id hw.CaptureUnit) error {
			n, err := cli.NumCapturedSamples(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d\n", n)
			return nil
		}),
		unit("data", "display the captured samples", func(w io.Writer, cli *server.Client, id hw.CaptureUnit) error {
			data, err := cli.CaptureData(id)
			if err != nil {
				return err
			}
			for i, v := range data {
				fmt.Fprintf(w, "%d %g %g\n", i, real(v), imag(v))
			}
			return nil
		}),
		unit("classes", "display the classification results", func(w io.Writer, cli *server.Client, id hw.CaptureUnit) error {
			vs, err := cli.ClassificationResults(id)
			if err != nil {
				return err
			}
			for i, v := range vs {
				fmt.Fprintf(w, "%d %d\n", i, v)
			}
			return nil
		}),
	)
	return cmd
}

func newSeqCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seq",
		Short: "drive the sequencer",
	}

	op := func(use, short string, f func(cli *server.Client) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
				return f(cli)
			}),
		}
	}

	cmd.AddCommand(
		op("init", "initialize the sequencer", (*server.Client).InitializeSequencer),
		op("start", "start the sequencer", (*server.Client).StartSequencer),
		op("stop", "terminate the sequencer", (*server.Client).TerminateSequencer),
		op("clear", "clear the commands of the sequencer", (*server.Client).ClearCommands),
		op("wait", "wait for the sequencer to stop", func(cli *server.Client) error {
			return cli.WaitForSequencerToStop(s.timeout)
		}),
		&cobra.Command{
			Use:   "push FILE",
			Short: "push the sequencer commands of a raw file",
			Args:  cobra.ExactArgs(1),
			RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
				raw, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("could not read commands file: %w", err)
				}
				cmds, err := seqcmd.DecodeAll(raw)
				if err != nil {
					return fmt.Errorf("could not decode commands %q: %w", args[0], err)
				}
				return cli.PushCommands(cmds...)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "display the counters of the sequencer",
			Args:  cobra.NoArgs,
			RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
				o := cmd.OutOrStdout()
				for _, v := range []struct {
					name string
					f    func() (int, error)
				}{
					{"free space", cli.CmdFifoFreeSpace},
					{"unprocessed", cli.NumUnprocessedCommands},
					{"successful", cli.NumSuccessfulCommands},
					{"errors", cli.NumErrCommands},
					{"unsent reports", cli.NumUnsentCmdErrReports},
				} {
					n, err := v.f()
					if err != nil {
						return err
					}
					fmt.Fprintf(o, "%-15s %d\n", v.name+":", n)
				}
				errs, err := cli.CheckSequencerErr()
				if err != nil {
					return err
				}
				fmt.Fprintf(o, "%-15s %v\n", "errors:", errs)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "reports",
			Short: "display and drop the received command error reports",
			Args:  cobra.NoArgs,
			RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
				reps, err := cli.PopCmdErrReports()
				if err != nil {
					return err
				}
				o := cmd.OutOrStdout()
				for i, rep := range reps {
					fmt.Fprintf(o, "rep[%03d] %s\n", i, seqcmd.Describe(rep))
				}
				for _, v := range seqcmd.Violations(reps) {
					fmt.Fprintf(o, "%v\n", v)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "flag [0|1]",
			Short: "display or set the branch flag",
			Args:  cobra.MaximumNArgs(1),
			RunE: run(s, func(cmd *cobra.Command, cli *server.Client, args []string) error {
				if len(args) == 1 {
					v, err := strconv.ParseBool(args[0])
					if err != nil {
						return fmt.Errorf("invalid branch flag %q: %w", args[0], err)
					}
					return cli.SetBranchFlag(v)
				}
				v, err := cli.BranchFlag()
				if err != nil {
					return err
				}
				ext, err := cli.ExternalBranchFlag()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "branch=%v external=%v\n", v, ext)
				return nil
			}),
		},
	)
	return cmd
}
