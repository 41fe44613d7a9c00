// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/go-lpc/e7awg/hw"
)

// WordSize is the size in bytes of a Word128.
const WordSize = 16

// Word128 is a 128-bit little-endian bitfield, the layout of sequencer
// commands and of their error reports.
type Word128 struct {
	Lo uint64 // bits 0..63
	Hi uint64 // bits 64..127
}

// Word128From decodes a word from exactly WordSize bytes.
func Word128From(p []byte) (Word128, error) {
	if len(p) != WordSize {
		return Word128{}, fmt.Errorf(
			"wire: invalid 128b word size (got=%d, want=%d): %w",
			len(p), WordSize, hw.ErrFormat,
		)
	}
	return Word128{
		Lo: binary.LittleEndian.Uint64(p[:8]),
		Hi: binary.LittleEndian.Uint64(p[8:]),
	}, nil
}

// Bytes returns the little-endian representation of the word.
func (w Word128) Bytes() [WordSize]byte {
	var p [WordSize]byte
	binary.LittleEndian.PutUint64(p[:8], w.Lo)
	binary.LittleEndian.PutUint64(p[8:], w.Hi)
	return p
}

func mask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return 1<<width - 1
}

// Set stores the width least significant bits of v at bit position pos.
// width must be in [1, 64] and pos+width must not exceed 128.
func (w *Word128) Set(pos, width uint, v uint64) {
	m := mask(width)
	v &= m
	if pos >= 64 {
		p := pos - 64
		w.Hi = w.Hi&^(m<<p) | v<<p
		return
	}
	w.Lo = w.Lo&^(m<<pos) | v<<pos
	if pos+width > 64 {
		shift := 64 - pos
		w.Hi = w.Hi&^(m>>shift) | v>>shift
	}
}

// SetBool stores a single bit at position pos.
func (w *Word128) SetBool(pos uint, v bool) {
	var b uint64
	if v {
		b = 1
	}
	w.Set(pos, 1, b)
}

// Get returns the width bits stored at bit position pos.
func (w Word128) Get(pos, width uint) uint64 {
	m := mask(width)
	if pos >= 64 {
		return (w.Hi >> (pos - 64)) & m
	}
	v := w.Lo >> pos
	if pos+width > 64 {
		v |= w.Hi << (64 - pos)
	}
	return v & m
}

// Bool returns the bit stored at position pos.
func (w Word128) Bool(pos uint) bool {
	return w.Get(pos, 1) == 1
}
