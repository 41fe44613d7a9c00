// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command e7awg-sql manages the wave sequences and capture parameters
// stored in the e7awg configuration database.
//
// Usage: e7awg-sql [OPTIONS] COMMAND [ARGS]
//
// Commands:
//
//	init                      create the database tables
//	ls  wave|capture          list the stored entries
//	put wave|capture NAME FILE  store the CBOR file under NAME
//	get wave|capture NAME FILE  export the entry NAME to a CBOR file
//	show wave NAME            display the summary of a wave sequence
//
// The database password is read from $E7AWG_DB_PASSWORD.
package main // import "github.com/go-lpc/e7awg/cmd/e7awg-sql"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/e7awg/capture"
	"github.com/go-lpc/e7awg/confdb"
	"github.com/go-lpc/e7awg/wave"
)

func main() {
	log.SetPrefix("e7awg-sql: ")
	log.SetFlags(0)

	var (
		host = flag.String("host", "localhost:3306", "address of the database server")
		usr  = flag.String("user", "e7awg", "database user")
		name = flag.String("db", "e7awg", "database name")
	)

	flag.Parse()

	db, err := confdb.Open(confdb.DSN(*usr, os.Getenv("E7AWG_DB_PASSWORD"), *host, *name))
	if err != nil {
		log.Fatalf("could not open e7awg db: %+v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = process(ctx, os.Stdout, db, flag.Args())
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func tableOf(kind string) (confdb.Table, error) {
	switch kind {
	case "wave":
		return confdb.WaveSequences, nil
	case "capture":
		return confdb.CaptureParams, nil
	}
	return "", fmt.Errorf("invalid entry kind %q (want wave or capture)", kind)
}

func process(ctx context.Context, w io.Writer, db *confdb.DB, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command")
	}
	cmd, args := args[0], args[1:]

	nargs := map[string]int{"init": 0, "ls": 1, "put": 3, "get": 3, "show": 2}
	n, ok := nargs[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q", cmd)
	}
	if len(args) != n {
		return fmt.Errorf("invalid number of arguments for %q: got=%d, want=%d", cmd, len(args), n)
	}

	if cmd == "init" {
		return db.CreateTables(ctx)
	}

	tbl, err := tableOf(args[0])
	if err != nil {
		return err
	}

	switch cmd {
	case "ls":
		names, err := db.Names(ctx, tbl)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(w, name)
		}
		return nil

	case "put":
		raw, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("could not read %q: %w", args[2], err)
		}
		switch tbl {
		case confdb.WaveSequences:
			var seq wave.Sequence
			err = seq.UnmarshalBinary(raw)
			if err != nil {
				return fmt.Errorf("could not decode wave sequence %q: %w", args[2], err)
			}
			return db.SaveWaveSequence(ctx, args[1], &seq)
		default:
			var p capture.Param
			err = p.UnmarshalBinary(raw)
			if err != nil {
				return fmt.Errorf("could not decode capture parameters %q: %w", args[2], err)
			}
			return db.SaveCaptureParam(ctx, args[1], &p)
		}

	case "get":
		var raw []byte
		switch tbl {
		case confdb.WaveSequences:
			seq, err := db.WaveSequence(ctx, args[1])
			if err != nil {
				return err
			}
			raw, err = seq.MarshalBinary()
			if err != nil {
				return err
			}
		default:
			p, err := db.CaptureParam(ctx, args[1])
			if err != nil {
				return err
			}
			raw, err = p.MarshalBinary()
			if err != nil {
				return err
			}
		}
		err = os.WriteFile(args[2], raw, 0644)
		if err != nil {
			return fmt.Errorf("could not write %q: %w", args[2], err)
		}
		return nil

	default: // show
		if tbl != confdb.WaveSequences {
			return fmt.Errorf("show only supports wave sequences")
		}
		seq, err := db.WaveSequence(ctx, args[1])
		if err != nil {
			return err
		}
		return seq.WriteSummary(w)
	}
}
