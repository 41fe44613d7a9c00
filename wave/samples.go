// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wave

import (
	"fmt"
	"sort"

	"github.com/go-lpc/e7awg/hw"
)

// Samples is a lazy view of the expanded samples of a sequence.
// Samples are computed on demand from the chunk, repeat and blank
// indices; the expanded sequence is never materialized.
//
// Samples is immutable and safe for concurrent use.
type Samples struct {
	chunks []Chunk
	starts []int // index of the first sample of each chunk, repeats included
	nwait  int   // number of leading wait samples
	perSeq int   // number of samples of one repetition of the sequence
	n      int
}

// Samples returns a lazy view of the expanded samples of the sequence.
// The view is not affected by later modifications of the sequence.
func (seq *Sequence) Samples(includeWait bool) *Samples {
	s := &Samples{
		chunks: seq.Chunks(),
		starts: make([]int, len(seq.chunks)),
	}
	beg := 0
	for i, c := range s.chunks {
		s.starts[i] = beg
		beg += c.numRepeats * c.NumSamples()
	}
	s.perSeq = beg
	s.n = s.perSeq * seq.numRepeats
	if includeWait {
		s.nwait = seq.NumWaitSamples()
		s.n += s.nwait
	}
	return s
}

// Len returns the number of samples.
func (s *Samples) Len() int { return s.n }

// At returns the i-th sample.
// Negative indices count from the end.
func (s *Samples) At(i int) (Sample, error) {
	if i < 0 {
		i += s.n
	}
	if i < 0 || i >= s.n {
		return Sample{}, fmt.Errorf("wave: sample index %d out of range (len=%d): %w", i, s.n, hw.ErrRange)
	}
	return s.at(i), nil
}

func (s *Samples) at(i int) Sample {
	if i < s.nwait {
		return Sample{}
	}
	i = (i - s.nwait) % s.perSeq
	ic := sort.Search(len(s.starts), func(j int) bool { return s.starts[j] > i }) - 1
	c := s.chunks[ic]
	i = (i - s.starts[ic]) % c.NumSamples()
	if i < c.data.Len() {
		return c.data.samples[i]
	}
	return Sample{}
}

// Slice returns the samples in [beg, end).
func (s *Samples) Slice(beg, end int) ([]Sample, error) {
	if beg < 0 || end > s.n || beg > end {
		return nil, fmt.Errorf("wave: invalid sample range [%d, %d) (len=%d): %w", beg, end, s.n, hw.ErrRange)
	}
	out := make([]Sample, 0, end-beg)
	for i := beg; i < end; i++ {
		out = append(out, s.at(i))
	}
	return out, nil
}

// Iter returns a new iterator over the samples.
// Iterators are independent from each other.
func (s *Samples) Iter() *Iter {
	return &Iter{s: s, i: -1}
}

// Iter iterates over the samples of a sequence.
//
//	it := samples.Iter()
//	for it.Next() {
//		s := it.Sample()
//	}
type Iter struct {
	s *Samples
	i int
}

// Next advances the iterator, and reports whether a sample is available.
func (it *Iter) Next() bool {
	if it.i+1 >= it.s.n {
		it.i = it.s.n
		return false
	}
	it.i++
	return true
}

// Sample returns the current sample.
func (it *Iter) Sample() Sample { return it.s.at(it.i) }

// Index returns the index of the current sample.
func (it *Iter) Index() int { return it.i }
