// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-lpc/e7awg/confdb"
	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/internal/fakedb"
	"github.com/go-lpc/e7awg/wave"
)

func openDB(t *testing.T) *confdb.DB {
	t.Helper()
	db, err := sql.Open("fakedb", "")
	if err != nil {
		t.Fatalf("could not open fake db: %+v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return confdb.New(db)
}

func TestProcess(t *testing.T) {
	db := openDB(t)
	dir := t.TempDir()

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
	fname := filepath.Join(dir, "pulse.cbor")
	err = os.WriteFile(fname, raw, 0644)
	if err != nil {
		t.Fatal(err)
	}

	_ = fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
		out := new(strings.Builder)
		err := process(ctx, out, db, []string{"init"})
		if err != nil {
			t.Fatalf("could not create tables: %+v", err)
		}
		err = process(ctx, out, db, []string{"put", "wave", "pulse", fname})
		if err != nil {
			t.Fatalf("could not store wave sequence: %+v", err)
		}
		if got, want := len(fakedb.Execs()), 3; got != want {
			t.Fatalf("invalid number of statements: got=%d, want=%d", got, want)
		}
		return nil
	})

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names:  []string{"name"},
		Values: [][]driver.Value{{"pulse"}, {"ramp"}},
	}, func(ctx context.Context) error {
		out := new(strings.Builder)
		err := process(ctx, out, db, []string{"ls", "wave"})
		if err != nil {
			t.Fatalf("could not list wave sequences: %+v", err)
		}
		if got, want := out.String(), "pulse\nramp\n"; got != want {
			t.Fatalf("invalid listing: got=%q, want=%q", got, want)
		}
		return nil
	})

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names:  []string{"data"},
		Values: [][]driver.Value{{raw}},
	}, func(ctx context.Context) error {
		oname := filepath.Join(dir, "out.cbor")
		err := process(ctx, new(strings.Builder), db, []string{"get", "wave", "pulse", oname})
		if err != nil {
			t.Fatalf("could not export wave sequence: %+v", err)
		}
		var got wave.Sequence
		data, err := os.ReadFile(oname)
		if err != nil {
			t.Fatal(err)
		}
		err = got.UnmarshalBinary(data)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(seq) {
			t.Fatalf("invalid exported wave sequence")
		}
		return nil
	})

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names:  []string{"data"},
		Values: [][]driver.Value{{raw}},
	}, func(ctx context.Context) error {
		out := new(strings.Builder)
		err := process(ctx, out, db, []string{"show", "wave", "pulse"})
		if err != nil {
			t.Fatalf("could not show wave sequence: %+v", err)
		}
		want := new(strings.Builder)
		_ = seq.WriteSummary(want)
		if out.String() != want.String() {
			t.Fatalf("invalid summary:\ngot:\n%s\nwant:\n%s", out, want)
		}
		return nil
	})
}

func TestProcessErrors(t *testing.T) {
	db := openDB(t)
	for _, tc := range []struct {
		name string
		args []string
		want string
	}{
		{"empty", nil, "missing command"},
		{"unknown", []string{"rm", "wave"}, `unknown command "rm"`},
		{"nargs", []string{"ls"}, `invalid number of arguments for "ls"`},
		{"kind", []string{"ls", "dsp"}, `invalid entry kind "dsp"`},
		{"show-capture", []string{"show", "capture", "readout"}, "show only supports wave sequences"},
		{"put-missing", []string{"put", "capture", "readout", "/no/such/file"}, "could not read"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := process(context.Background(), new(strings.Builder), db, tc.args)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("invalid error: got=%v, want=%q", err, tc.want)
			}
		})
	}
}
