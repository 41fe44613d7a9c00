// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-lpc/e7awg/hw"
)

const frameHeaderSize = 4 + 1 + 4

// encodeFrame encodes the capture data of a unit as:
//
//	evt:u32 | unit:u8 | n:u32 | n x (i:f32, q:f32)
//
// in little-endian.
func encodeFrame(evt uint32, unit hw.CaptureUnit, data []complex64) []byte {
	p := make([]byte, frameHeaderSize+8*len(data))
	binary.LittleEndian.PutUint32(p[0:], evt)
	p[4] = byte(unit)
	binary.LittleEndian.PutUint32(p[5:], uint32(len(data)))
	for i, v := range data {
		j := frameHeaderSize + 8*i
		binary.LittleEndian.PutUint32(p[j:], math.Float32bits(real(v)))
		binary.LittleEndian.PutUint32(p[j+4:], math.Float32bits(imag(v)))
	}
	return p
}

func decodeFrame(p []byte) (evt uint32, unit hw.CaptureUnit, data []complex64, err error) {
	if len(p) < frameHeaderSize {
		return 0, 0, nil, fmt.Errorf("invalid frame size %d: %w", len(p), hw.ErrFormat)
	}
	evt = binary.LittleEndian.Uint32(p[0:])
	unit, err = hw.ParseCaptureUnit(int(p[4]))
	if err != nil {
		return 0, 0, nil, err
	}
	n := int(binary.LittleEndian.Uint32(p[5:]))
	if len(p) != frameHeaderSize+8*n {
		return 0, 0, nil, fmt.Errorf(
			"invalid frame size %d for %d samples: %w",
			len(p), n, hw.ErrFormat,
		)
	}
	data = make([]complex64, n)
	for i := range data {
		j := frameHeaderSize + 8*i
		data[i] = complex(
			math.Float32frombits(binary.LittleEndian.Uint32(p[j:])),
			math.Float32frombits(binary.LittleEndian.Uint32(p[j+4:])),
		)
	}
	return evt, unit, data, nil
}
