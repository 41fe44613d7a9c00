// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"errors"
	"reflect"
	"testing"
)

func TestSet(t *testing.T) {
	s := SetOf[AWG](3, 0, 15)
	if got, want := s.Len(), 3; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}
	if got, want := s.Bits(), uint64(1<<0|1<<3|1<<15); got != want {
		t.Fatalf("invalid bits: got=0x%x, want=0x%x", got, want)
	}
	if got, want := s.Slice(), []AWG{0, 3, 15}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid slice: got=%v, want=%v", got, want)
	}
	if !s.Has(3) || s.Has(4) {
		t.Fatalf("invalid membership")
	}
	if got, want := s.String(), "{AWG.U0, AWG.U3, AWG.U15}"; got != want {
		t.Fatalf("invalid string: got=%q, want=%q", got, want)
	}

	u := s.Union(SetOf[AWG](4)).Without(0)
	if got, want := u.Slice(), []AWG{3, 4, 15}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid union: got=%v, want=%v", got, want)
	}
	if !s.Valid() {
		t.Fatalf("set should be valid")
	}
	if SetFromBits[CaptureUnit](1 << 12).Valid() {
		t.Fatalf("set should be invalid")
	}

	var empty Set[DspUnit]
	if !empty.Empty() || len(empty.Slice()) != 0 {
		t.Fatalf("invalid empty set")
	}
}

func TestEnums(t *testing.T) {
	if got, want := len(AllAWGs()), 16; got != want {
		t.Fatalf("invalid number of AWGs: got=%d, want=%d", got, want)
	}
	if got, want := len(AllCaptureUnits()), 10; got != want {
		t.Fatalf("invalid number of capture units: got=%d, want=%d", got, want)
	}
	if got, want := len(AllDspUnits()), 7; got != want {
		t.Fatalf("invalid number of DSP units: got=%d, want=%d", got, want)
	}
	if got, want := len(AllCaptureParamElems()), 11; got != want {
		t.Fatalf("invalid number of capture param elems: got=%d, want=%d", got, want)
	}
	if got, want := Classification.String(), "CLASSIFICATION"; got != want {
		t.Fatalf("invalid name: got=%q, want=%q", got, want)
	}
	if got, want := DspUnit(42).String(), "DspUnit(42)"; got != want {
		t.Fatalf("invalid name: got=%q, want=%q", got, want)
	}

	for _, tc := range []struct {
		v    int
		err  error
		want AWG
	}{
		{v: 0, want: 0},
		{v: 15, want: 15},
		{v: 16, err: ErrRange},
		{v: -1, err: ErrRange},
		{v: 256, err: ErrRange},
	} {
		got, err := ParseAWG(tc.v)
		if !errors.Is(err, tc.err) {
			t.Fatalf("invalid error for %d: got=%v, want=%v", tc.v, err, tc.err)
		}
		if got != tc.want {
			t.Fatalf("invalid value: got=%v, want=%v", got, tc.want)
		}
	}
}

func TestCaptureModules(t *testing.T) {
	for _, mod := range AllCaptureModules() {
		for _, unit := range mod.Units() {
			if got := unit.Module(); got != mod {
				t.Fatalf("invalid module for %v: got=%v, want=%v", unit, got, mod)
			}
		}
	}
	n := 0
	for _, mod := range AllCaptureModules() {
		n += len(mod.Units())
	}
	if n != NumCaptureUnits {
		t.Fatalf("invalid number of units: got=%d, want=%d", n, NumCaptureUnits)
	}
}

func TestMemoryMap(t *testing.T) {
	for _, tc := range []struct {
		name string
		got  uint64
		want uint64
	}{
		{"awg-ctrl-0", AwgCtrlAddr(0), 0x80},
		{"awg-ctrl-15", AwgCtrlAddr(15), 0x800},
		{"wave-param-2", WaveParamAddr(2), 0x1800},
		{"chunk-3", WaveParamChunkAddr(3), 0x70},
		{"capture-ctrl-9", CaptureCtrlAddr(9), 0xA00},
		{"capture-param-0", CaptureParamAddr(0), 0x10000},
		{"capture-data-8", CaptureDataAddr(8), 0x1_5000_0000},
		{"trig-sel-1", CaptureTrigAwgSelAddr(1), 0x08},
		{"cap-registry-1", CaptureParamRegistryEntry(1), 0x1_F001_0000},
		{"wave-registry", WaveParamRegistryEntry(1, 2), 0x1_F400_0000 + 0x400*514},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Fatalf("invalid address: got=0x%x, want=0x%x", tc.got, tc.want)
			}
		})
	}

	// wave data regions must not overlap capture data regions.
	for _, awg := range AllAWGs() {
		beg := WaveDataAddr(awg)
		end := beg + MaxWaveDataSize
		for _, unit := range AllCaptureUnits() {
			cbeg := CaptureDataAddr(unit)
			cend := cbeg + MaxCaptureSize
			if beg < cend && cbeg < end {
				t.Fatalf("%v and %v data regions overlap", awg, unit)
			}
		}
		if end > CaptureParamRegistryAddr {
			t.Fatalf("%v data region overlaps registries", awg)
		}
	}
}

func TestErrors(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want string
	}{
		{
			err:  &TimeoutError{Units: Names([]CaptureUnit{1, 3})},
			want: "timeout waiting for CaptureUnit.U1, CaptureUnit.U3 to stop",
		},
		{
			err:  &FifoFullError{Required: 32, Free: 16},
			want: "command FIFO full (required=32 bytes, free=16 bytes)",
		},
		{
			err:  &TimingViolation{CmdID: 1, CmdNo: 7, Units: []string{"AWG.U2"}},
			want: "timing violation (cmd-id=1, cmd-no=7): AWG.U2",
		},
	} {
		if got := tc.err.Error(); got != tc.want {
			t.Fatalf("invalid error message:\ngot= %q\nwant=%q", got, tc.want)
		}
	}
}
