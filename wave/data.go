// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wave

import (
	"encoding/binary"
	"fmt"

	"github.com/go-lpc/e7awg/hw"
)

// Sample is an I/Q sample played by an AWG.
type Sample struct {
	I int16 `json:"i"`
	Q int16 `json:"q"`
}

// Data is an immutable list of samples.
type Data struct {
	samples []Sample
}

// NewData returns the wave data holding a copy of the provided samples.
func NewData(samples []Sample) Data {
	return Data{samples: append([]Sample(nil), samples...)}
}

// Len returns the number of samples.
func (d Data) Len() int { return len(d.samples) }

// NumBytes returns the size of the binary representation of the data.
func (d Data) NumBytes() int { return len(d.samples) * hw.WaveSampleSize }

// At returns the i-th sample.
func (d Data) At(i int) Sample { return d.samples[i] }

// Samples returns a copy of the samples.
func (d Data) Samples() []Sample { return append([]Sample(nil), d.samples...) }

// MarshalBinary returns the representation of the data stored in the
// wave RAM: I then Q, as little-endian int16, for each sample.
func (d Data) MarshalBinary() ([]byte, error) {
	buf := make([]byte, d.NumBytes())
	for i, s := range d.samples {
		binary.LittleEndian.PutUint16(buf[4*i:], uint16(s.I))
		binary.LittleEndian.PutUint16(buf[4*i+2:], uint16(s.Q))
	}
	return buf, nil
}

// DecodeData decodes wave data from its wave RAM representation.
func DecodeData(p []byte) (Data, error) {
	if len(p)%hw.WaveSampleSize != 0 {
		return Data{}, fmt.Errorf(
			"wave: invalid wave data size %d (not a multiple of %d): %w",
			len(p), hw.WaveSampleSize, hw.ErrFormat,
		)
	}
	samples := make([]Sample, len(p)/hw.WaveSampleSize)
	for i := range samples {
		samples[i] = Sample{
			I: int16(binary.LittleEndian.Uint16(p[4*i:])),
			Q: int16(binary.LittleEndian.Uint16(p[4*i+2:])),
		}
	}
	return Data{samples: samples}, nil
}
