// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wave describes the wave sequences played by e7awg AWGs.
//
// A sequence starts with wait words of zeros, followed by its chunks
// played in order, the whole being repeated.
// Each chunk is made of wave data followed by blank words of zeros,
// the whole being repeated.
package wave // import "github.com/go-lpc/e7awg/wave"

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-lpc/e7awg/hw"
)

// Chunk is a piece of wave data followed by blank words, repeated.
type Chunk struct {
	data          Data
	numBlankWords int
	numRepeats    int
}

func (c Chunk) Data() Data         { return c.data }
func (c Chunk) NumBlankWords() int { return c.numBlankWords }
func (c Chunk) NumRepeats() int    { return c.numRepeats }

// NumWaveWords returns the number of AWG words of the wave data.
func (c Chunk) NumWaveWords() int { return c.data.Len() / hw.NumSamplesInAwgWord }

// NumWords returns the number of AWG words of one repetition of the chunk.
func (c Chunk) NumWords() int { return c.NumWaveWords() + c.numBlankWords }

// NumSamples returns the number of samples of one repetition of the chunk.
func (c Chunk) NumSamples() int { return c.NumWords() * hw.NumSamplesInAwgWord }

// Sequence is a wave sequence.
type Sequence struct {
	numWaitWords int
	numRepeats   int
	chunks       []Chunk
}

// NewSequence returns an empty sequence.
func NewSequence(numWaitWords, numRepeats int) (*Sequence, error) {
	if numWaitWords < 0 || int64(numWaitWords) > hw.MaxWaitWords {
		return nil, fmt.Errorf(
			"wave: invalid number of wait words %d (want 0..%d): %w",
			numWaitWords, int64(hw.MaxWaitWords), hw.ErrRange,
		)
	}
	if numRepeats < 1 || int64(numRepeats) > hw.MaxSequenceRepeats {
		return nil, fmt.Errorf(
			"wave: invalid number of sequence repeats %d (want 1..%d): %w",
			numRepeats, int64(hw.MaxSequenceRepeats), hw.ErrRange,
		)
	}
	return &Sequence{
		numWaitWords: numWaitWords,
		numRepeats:   numRepeats,
	}, nil
}

// AddChunk appends a chunk to the sequence.
// The number of samples must be a non-zero multiple of
// hw.NumSamplesInWaveBlock.
func (seq *Sequence) AddChunk(samples []Sample, numBlankWords, numRepeats int) error {
	if len(seq.chunks) >= hw.MaxChunks {
		return fmt.Errorf(
			"wave: no more chunks can be added (max=%d): %w",
			hw.MaxChunks, hw.ErrCapacity,
		)
	}
	if n := len(samples); n == 0 || n%hw.NumSamplesInWaveBlock != 0 {
		return fmt.Errorf(
			"wave: invalid number of samples %d (want a non-zero multiple of %d): %w",
			n, hw.NumSamplesInWaveBlock, hw.ErrRange,
		)
	}
	if numBlankWords < 0 || int64(numBlankWords) > hw.MaxBlankWords {
		return fmt.Errorf(
			"wave: invalid number of blank words %d (want 0..%d): %w",
			numBlankWords, int64(hw.MaxBlankWords), hw.ErrRange,
		)
	}
	if numRepeats < 1 || int64(numRepeats) > hw.MaxChunkRepeats {
		return fmt.Errorf(
			"wave: invalid number of chunk repeats %d (want 1..%d): %w",
			numRepeats, int64(hw.MaxChunkRepeats), hw.ErrRange,
		)
	}
	seq.chunks = append(seq.chunks, Chunk{
		data:          NewData(samples),
		numBlankWords: numBlankWords,
		numRepeats:    numRepeats,
	})
	return nil
}

// DelChunk removes the i-th chunk.
// Out of range indices are ignored.
func (seq *Sequence) DelChunk(i int) {
	if i < 0 || i >= len(seq.chunks) {
		return
	}
	chunks := make([]Chunk, 0, len(seq.chunks)-1)
	chunks = append(chunks, seq.chunks[:i]...)
	chunks = append(chunks, seq.chunks[i+1:]...)
	seq.chunks = chunks
}

func (seq *Sequence) NumChunks() int    { return len(seq.chunks) }
func (seq *Sequence) NumWaitWords() int { return seq.numWaitWords }
func (seq *Sequence) NumRepeats() int   { return seq.numRepeats }

// Chunk returns the i-th chunk.
func (seq *Sequence) Chunk(i int) (Chunk, error) {
	if i < 0 || i >= len(seq.chunks) {
		return Chunk{}, fmt.Errorf(
			"wave: invalid chunk index %d (chunks=%d): %w",
			i, len(seq.chunks), hw.ErrRange,
		)
	}
	return seq.chunks[i], nil
}

// Chunks returns a copy of the list of chunks.
func (seq *Sequence) Chunks() []Chunk {
	return append([]Chunk(nil), seq.chunks...)
}

// NumWaitSamples returns the number of zero samples played before the
// first chunk.
func (seq *Sequence) NumWaitSamples() int {
	return seq.numWaitWords * hw.NumSamplesInAwgWord
}

// NumAllWords returns the number of AWG words of the sequence,
// wait words and repetitions included.
func (seq *Sequence) NumAllWords() int {
	n := 0
	for _, c := range seq.chunks {
		n += c.NumWords() * c.numRepeats
	}
	return n*seq.numRepeats + seq.numWaitWords
}

// NumAllSamples returns the number of samples of the sequence,
// wait words and repetitions included.
func (seq *Sequence) NumAllSamples() int {
	return seq.NumAllWords() * hw.NumSamplesInAwgWord
}

// AllSamples returns the fully expanded list of samples of the sequence.
func (seq *Sequence) AllSamples(includeWait bool) []Sample {
	var chunks []Sample
	for _, c := range seq.chunks {
		one := make([]Sample, 0, c.NumSamples())
		one = append(one, c.data.samples...)
		one = append(one, make([]Sample, c.numBlankWords*hw.NumSamplesInAwgWord)...)
		for i := 0; i < c.numRepeats; i++ {
			chunks = append(chunks, one...)
		}
	}

	var out []Sample
	if includeWait {
		out = make([]Sample, seq.NumWaitSamples(), seq.NumWaitSamples()+len(chunks)*seq.numRepeats)
	}
	for i := 0; i < seq.numRepeats; i++ {
		out = append(out, chunks...)
	}
	return out
}

// Clone returns a copy of the sequence.
func (seq *Sequence) Clone() *Sequence {
	o := *seq
	o.chunks = seq.Chunks()
	return &o
}

// Equal reports whether seq and o describe the same sequence.
func (seq *Sequence) Equal(o *Sequence) bool {
	if seq == nil || o == nil {
		return seq == o
	}
	if seq.numWaitWords != o.numWaitWords ||
		seq.numRepeats != o.numRepeats ||
		len(seq.chunks) != len(o.chunks) {
		return false
	}
	for i, c := range seq.chunks {
		oc := o.chunks[i]
		if c.numBlankWords != oc.numBlankWords ||
			c.numRepeats != oc.numRepeats ||
			c.data.Len() != oc.data.Len() {
			return false
		}
		for j, s := range c.data.samples {
			if s != oc.data.samples[j] {
				return false
			}
		}
	}
	return true
}

// SaveAsText writes one line per sample of the expanded sequence,
// wait words included, in decimal or hexadecimal.
func (seq *Sequence) SaveAsText(w io.Writer, hex bool) error {
	format := "%7d, %7d\n"
	if hex {
		format = "%04x, %04x\n"
	}
	var err error
	line := func(s Sample) {
		if err != nil {
			return
		}
		if hex {
			_, err = fmt.Fprintf(w, format, uint16(s.I), uint16(s.Q))
			return
		}
		_, err = fmt.Fprintf(w, format, s.I, s.Q)
	}

	it := seq.Samples(true).Iter()
	for it.Next() && err == nil {
		line(it.Sample())
	}
	if err != nil {
		return fmt.Errorf("wave: could not save sequence as text: %w", err)
	}
	return nil
}

// WriteSummary writes one line per chunk, with its repeat count,
// its blank words and its sample values.
func (seq *Sequence) WriteSummary(w io.Writer) error {
	o := new(strings.Builder)
	for i, c := range seq.chunks {
		fmt.Fprintf(o, "chunk %d: repeats=%d, blank-words=%d, samples=[", i, c.numRepeats, c.numBlankWords)
		for j, s := range c.data.samples {
			if j > 0 {
				o.WriteString(" ")
			}
			fmt.Fprintf(o, "(%d,%d)", s.I, s.Q)
		}
		o.WriteString("]\n")
	}
	_, err := io.WriteString(w, o.String())
	if err != nil {
		return fmt.Errorf("wave: could not write sequence summary: %w", err)
	}
	return nil
}

func (seq *Sequence) String() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "num wait words : %d\n", seq.numWaitWords)
	fmt.Fprintf(o, "num sequence repeats : %d\n", seq.numRepeats)
	fmt.Fprintf(o, "num chunks : %d\n", len(seq.chunks))
	fmt.Fprintf(o, "num all samples : %d\n\n", seq.NumAllSamples())
	for i, c := range seq.chunks {
		fmt.Fprintf(o, "chunk %d\n", i)
		fmt.Fprintf(o, "    num wave samples : %d\n", c.data.Len())
		fmt.Fprintf(o, "    num blank words : %d\n", c.numBlankWords)
		fmt.Fprintf(o, "    num repeats : %d\n", c.numRepeats)
	}
	return o.String()
}
