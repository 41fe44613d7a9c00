// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package confdb stores named wave sequences and capture parameters
// in a MySQL database.
//
// Wave sequences and capture parameters are stored as CBOR blobs, in
// the wave_sequences and capture_params tables.
package confdb // import "github.com/go-lpc/e7awg/confdb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/e7awg/capture"
	"github.com/go-lpc/e7awg/wave"
	"github.com/go-sql-driver/mysql"
)

var (
	drvName = "mysql"

	timeout = 5 * time.Second
)

// ErrNotFound reports a name absent from the database.
var ErrNotFound = errors.New("no such entry")

// Table is a table of named entries.
type Table string

const (
	WaveSequences Table = "wave_sequences"
	CaptureParams Table = "capture_params"
)

// DSN returns the data source name of a MySQL database.
func DSN(usr, pwd, host, dbname string) string {
	cfg := mysql.NewConfig()
	cfg.User = usr
	cfg.Passwd = pwd
	cfg.Net = "tcp"
	cfg.Addr = host
	cfg.DBName = dbname
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// DB exposes methods to save and retrieve wave sequences and capture
// parameters.
type DB struct {
	db *sql.DB
}

// Open opens a connection to the database described by dsn.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("confdb: could not open db: %w", err)
	}

	err = ping(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return New(db), nil
}

// New returns a DB wrapping an already opened database handle.
func New(db *sql.DB) *DB {
	return &DB{db: db}
}

func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("confdb: could not ping db: %w", err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// CreateTables creates the tables of the database, if needed.
func (db *DB) CreateTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, tbl := range []Table{WaveSequences, CaptureParams} {
		_, err := db.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name     VARCHAR(255) NOT NULL PRIMARY KEY,
	datetime DATETIME     NOT NULL,
	data     BLOB         NOT NULL
)`, tbl))
		if err != nil {
			return fmt.Errorf("confdb: could not create table %q: %w", tbl, err)
		}
	}
	return nil
}

// SaveWaveSequence stores seq under name, replacing any previous entry.
func (db *DB) SaveWaveSequence(ctx context.Context, name string, seq *wave.Sequence) error {
	blob, err := seq.MarshalBinary()
	if err != nil {
		return fmt.Errorf("confdb: could not encode wave sequence %q: %w", name, err)
	}
	return db.save(ctx, WaveSequences, name, blob)
}

// WaveSequence returns the wave sequence stored under name.
func (db *DB) WaveSequence(ctx context.Context, name string) (*wave.Sequence, error) {
	blob, err := db.load(ctx, WaveSequences, name)
	if err != nil {
		return nil, err
	}
	var seq wave.Sequence
	err = seq.UnmarshalBinary(blob)
	if err != nil {
		return nil, fmt.Errorf("confdb: could not decode wave sequence %q: %w", name, err)
	}
	return &seq, nil
}

// SaveCaptureParam stores p under name, replacing any previous entry.
func (db *DB) SaveCaptureParam(ctx context.Context, name string, p *capture.Param) error {
	blob, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("confdb: could not encode capture parameters %q: %w", name, err)
	}
	return db.save(ctx, CaptureParams, name, blob)
}

// CaptureParam returns the capture parameters stored under name.
func (db *DB) CaptureParam(ctx context.Context, name string) (*capture.Param, error) {
	blob, err := db.load(ctx, CaptureParams, name)
	if err != nil {
		return nil, err
	}
	var p capture.Param
	err = p.UnmarshalBinary(blob)
	if err != nil {
		return nil, fmt.Errorf("confdb: could not decode capture parameters %q: %w", name, err)
	}
	return &p, nil
}

// Names returns the names of the entries of a table, sorted.
func (db *DB) Names(ctx context.Context, tbl Table) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var names []string
	rows, err := db.db.QueryContext(
		ctx,
		fmt.Sprintf("SELECT name FROM %s ORDER BY name", tbl),
	)
	if err != nil {
		return nil, fmt.Errorf("confdb: could not query %s names: %w", tbl, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return nil, fmt.Errorf("confdb: could not get %s name: %w", tbl, err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("confdb: could not scan db for %s names: %w", tbl, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("confdb: context error while retrieving %s names: %w", tbl, err)
	}

	return names, nil
}

func (db *DB) save(ctx context.Context, tbl Table, name string, blob []byte) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		fmt.Sprintf("REPLACE INTO %s (name, datetime, data) VALUES (?, ?, ?)", tbl),
		name, time.Now().UTC(), blob,
	)
	if err != nil {
		return fmt.Errorf("confdb: could not save %q into %s: %w", name, tbl, err)
	}
	return nil
}

func (db *DB) load(ctx context.Context, tbl Table, name string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE name=?", tbl),
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("confdb: could not query %q from %s: %w", name, tbl, err)
	}
	defer rows.Close()

	var blob []byte
	found := false
	for rows.Next() {
		err = rows.Scan(&blob)
		if err != nil {
			return nil, fmt.Errorf("confdb: could not get %q from %s: %w", name, tbl, err)
		}
		found = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("confdb: could not scan db for %q in %s: %w", name, tbl, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("confdb: context error while retrieving %q from %s: %w", name, tbl, err)
	}

	if !found {
		return nil, fmt.Errorf("confdb: could not find %q in %s: %w", name, tbl, ErrNotFound)
	}
	return blob, nil
}
