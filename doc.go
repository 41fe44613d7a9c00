// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package e7awg holds code to control the AWG and capture units of
// e7awg FPGA boards, through their hardware sequencer.
//
// The building blocks are:
//   - hw: hardware enumerations, constants, memory map and errors,
//   - wire: binary codecs and UPL packets,
//   - wave and capture: wave sequences and capture parameters,
//   - seqcmd: sequencer commands and their error reports,
//   - ctrl: the hardware coordinator,
//   - flock: the reentrant lock guarding register access,
//   - transport: UDP and memory-mapped access to the boards,
//   - server: a JSON-over-TCP front to coordinators, with its client,
//   - confdb: a MySQL store of wave sequences and capture parameters.
package e7awg // import "github.com/go-lpc/e7awg"

import (
	"fmt"
	"runtime/debug"
)

const root = "github.com/go-lpc/e7awg"

// Version returns the version of e7awg and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}

	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
