// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wave

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-lpc/e7awg/hw"
)

type chunkSnapshot struct {
	Data          []byte `json:"data"` // wave RAM representation
	NumBlankWords int    `json:"num_blank_words"`
	NumRepeats    int    `json:"num_repeats"`
}

type snapshot struct {
	NumWaitWords int             `json:"num_wait_words"`
	NumRepeats   int             `json:"num_repeats"`
	Chunks       []chunkSnapshot `json:"chunks"`
}

func (seq *Sequence) snapshot() snapshot {
	s := snapshot{
		NumWaitWords: seq.numWaitWords,
		NumRepeats:   seq.numRepeats,
		Chunks:       make([]chunkSnapshot, len(seq.chunks)),
	}
	for i, c := range seq.chunks {
		raw, _ := c.data.MarshalBinary()
		s.Chunks[i] = chunkSnapshot{
			Data:          raw,
			NumBlankWords: c.numBlankWords,
			NumRepeats:    c.numRepeats,
		}
	}
	return s
}

func fromSnapshot(s snapshot) (*Sequence, error) {
	seq, err := NewSequence(s.NumWaitWords, s.NumRepeats)
	if err != nil {
		return nil, err
	}
	for i, c := range s.Chunks {
		data, err := DecodeData(c.Data)
		if err != nil {
			return nil, fmt.Errorf("wave: could not decode chunk #%d: %w", i, err)
		}
		err = seq.AddChunk(data.samples, c.NumBlankWords, c.NumRepeats)
		if err != nil {
			return nil, err
		}
	}
	return seq, nil
}

func (seq *Sequence) MarshalJSON() ([]byte, error) {
	return json.Marshal(seq.snapshot())
}

func (seq *Sequence) UnmarshalJSON(data []byte) error {
	var s snapshot
	err := json.Unmarshal(data, &s)
	if err != nil {
		return fmt.Errorf("wave: could not decode JSON sequence: %w", err)
	}
	v, err := fromSnapshot(s)
	if err != nil {
		return fmt.Errorf("wave: invalid JSON sequence: %w", err)
	}
	*seq = *v
	return nil
}

// MarshalBinary returns the CBOR representation of the sequence.
func (seq *Sequence) MarshalBinary() ([]byte, error) {
	return cbor.Marshal(seq.snapshot())
}

// UnmarshalBinary decodes a sequence from its CBOR representation.
func (seq *Sequence) UnmarshalBinary(data []byte) error {
	var s snapshot
	err := cbor.Unmarshal(data, &s)
	if err != nil {
		return fmt.Errorf("wave: could not decode CBOR sequence: %w: %v", hw.ErrFormat, err)
	}
	v, err := fromSnapshot(s)
	if err != nil {
		return fmt.Errorf("wave: invalid CBOR sequence: %w", err)
	}
	*seq = *v
	return nil
}
