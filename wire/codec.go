// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire holds the binary codecs used to talk to e7awg boards:
// fixed-width field encoders/decoders, 128-bit bitfield words and
// UPL packets.
package wire // import "github.com/go-lpc/e7awg/wire"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-lpc/e7awg/hw"
)

// Encoder writes fixed-width fields to an output stream, with a
// declared byte order.
// The first error encountered is sticky: subsequent writes are no-ops.
type Encoder struct {
	w   io.Writer
	bo  binary.ByteOrder
	buf []byte
	err error
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer, bo binary.ByteOrder) *Encoder {
	return &Encoder{
		w:   w,
		bo:  bo,
		buf: make([]byte, 8),
	}
}

// Err returns the first error encountered by the encoder.
func (enc *Encoder) Err() error { return enc.err }

func (enc *Encoder) Write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
}

func (enc *Encoder) U8(v uint8) {
	enc.buf[0] = v
	enc.Write(enc.buf[:1])
}

func (enc *Encoder) U16(v uint16) {
	enc.bo.PutUint16(enc.buf[:2], v)
	enc.Write(enc.buf[:2])
}

func (enc *Encoder) U32(v uint32) {
	enc.bo.PutUint32(enc.buf[:4], v)
	enc.Write(enc.buf[:4])
}

// U40 writes the 40 least significant bits of v.
func (enc *Encoder) U40(v uint64) {
	const n = 5
	putUint(enc.bo, enc.buf[:n], v)
	enc.Write(enc.buf[:n])
}

func (enc *Encoder) U64(v uint64) {
	enc.bo.PutUint64(enc.buf[:8], v)
	enc.Write(enc.buf[:8])
}

// Decoder reads fixed-width fields from an input stream, with a
// declared byte order.
// The first error encountered is sticky: subsequent reads return zero.
// Truncated input is reported as a hw.ErrFormat error.
type Decoder struct {
	r   io.Reader
	bo  binary.ByteOrder
	buf []byte
	err error
}

// NewDecoder returns a new Decoder that reads from r.
func NewDecoder(r io.Reader, bo binary.ByteOrder) *Decoder {
	return &Decoder{
		r:   r,
		bo:  bo,
		buf: make([]byte, 8),
	}
}

// Err returns the first error encountered by the decoder.
func (dec *Decoder) Err() error { return dec.err }

func (dec *Decoder) Read(p []byte) {
	if dec.err != nil {
		return
	}
	_, err := io.ReadFull(dec.r, p)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		dec.err = fmt.Errorf("wire: short input: %w (%v)", hw.ErrFormat, io.ErrUnexpectedEOF)
	default:
		dec.err = err
	}
}

func (dec *Decoder) U8() uint8 {
	dec.Read(dec.buf[:1])
	if dec.err != nil {
		return 0
	}
	return dec.buf[0]
}

func (dec *Decoder) U16() uint16 {
	dec.Read(dec.buf[:2])
	if dec.err != nil {
		return 0
	}
	return dec.bo.Uint16(dec.buf[:2])
}

func (dec *Decoder) U32() uint32 {
	dec.Read(dec.buf[:4])
	if dec.err != nil {
		return 0
	}
	return dec.bo.Uint32(dec.buf[:4])
}

// U40 reads a 40-bit unsigned integer.
func (dec *Decoder) U40() uint64 {
	const n = 5
	dec.Read(dec.buf[:n])
	if dec.err != nil {
		return 0
	}
	return getUint(dec.bo, dec.buf[:n])
}

func (dec *Decoder) U64() uint64 {
	dec.Read(dec.buf[:8])
	if dec.err != nil {
		return 0
	}
	return dec.bo.Uint64(dec.buf[:8])
}

func putUint(bo binary.ByteOrder, p []byte, v uint64) {
	n := len(p)
	for i := range p {
		shift := 8 * uint(i)
		if bo == binary.BigEndian {
			shift = 8 * uint(n-1-i)
		}
		p[i] = byte(v >> shift)
	}
}

func getUint(bo binary.ByteOrder, p []byte) uint64 {
	var (
		v uint64
		n = len(p)
	)
	for i, b := range p {
		shift := 8 * uint(i)
		if bo == binary.BigEndian {
			shift = 8 * uint(n-1-i)
		}
		v |= uint64(b) << shift
	}
	return v
}
