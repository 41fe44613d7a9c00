// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

func newShellCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "sh",
		Short: "run an interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return shell(s, cmd.OutOrStdout())
		},
	}
}

func shell(s *session, w io.Writer) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(completer(s))

	hist := filepath.Join(os.TempDir(), ".e7awg_history")
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("e7awg> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(w)
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		term.AppendHistory(line)

		err = execLine(s, w, line)
		if err != nil {
			fmt.Fprintf(w, "error: %+v\n", err)
		}
	}
}

// execLine runs one shell line as a command line of e7awg.
func execLine(s *session, w io.Writer, line string) error {
	args := strings.Fields(line)
	if len(args) > 0 && args[0] == "sh" {
		return fmt.Errorf("already in a shell")
	}
	root := newRootCmd(s)
	root.SetOut(w)
	root.SetErr(w)
	root.SetArgs(args)
	return root.Execute()
}

func completer(s *session) liner.Completer {
	return func(line string) []string {
		root := newRootCmd(s)
		args := strings.Fields(line)
		if len(args) == 0 || strings.HasSuffix(line, " ") {
			args = append(args, "")
		}
		cmd := root
		prefix := ""
		for _, arg := range args[:len(args)-1] {
			sub := find(cmd, arg)
			if sub == nil {
				return nil
			}
			cmd = sub
			prefix += arg + " "
		}
		var o []string
		last := args[len(args)-1]
		for _, sub := range cmd.Commands() {
			if strings.HasPrefix(sub.Name(), last) {
				o = append(o, prefix+sub.Name())
			}
		}
		return o
	}
}

func find(cmd *cobra.Command, name string) *cobra.Command {
	for _, sub := range cmd.Commands() {
		if sub.Name() == name {
			return sub
		}
	}
	return nil
}
