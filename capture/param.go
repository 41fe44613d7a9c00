// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package capture describes the parameters of the DSP pipeline of
// e7awg capture units.
package capture // import "github.com/go-lpc/e7awg/capture"

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-lpc/e7awg/hw"
)

// Complex is a complex filter coefficient.
type Complex struct {
	Re int64 `json:"re"`
	Im int64 `json:"im"`
}

// SumSection is a sum section followed by its post-blank.
// Lengths are in capture words.
type SumSection struct {
	CaptureWords   int `json:"capture_words"`
	PostBlankWords int `json:"post_blank_words"`
}

// DecisionFuncParams are the parameters of a decision function
// of the classification stage:
//
//	f(I, Q) = A*I + B*Q + C
type DecisionFuncParams struct {
	A float32 `json:"a"`
	B float32 `json:"b"`
	C float32 `json:"c"`
}

// Param holds the configuration of the DSP pipeline of a capture unit.
//
// Setters validate their arguments and leave the parameters untouched
// on error.
type Param struct {
	numIntegSections int
	sections         []SumSection
	dspUnits         hw.Set[hw.DspUnit]
	captureDelay     int
	complexFir       [hw.NumComplexFirCoefs]Complex
	realFirI         [hw.NumRealFirCoefs]int64
	realFirQ         [hw.NumRealFirCoefs]int64
	window           [hw.NumComplexWindowCoefs]Complex
	sumStartWordNo   int64
	numWordsToSum    int64
	decisionFuncs    [hw.NumDecisionFuncs]DecisionFuncParams
}

// NewParam returns capture parameters with their default values:
// one integration section, no sum section, no DSP stage enabled,
// null coefficients and a sum range spanning whole sum sections.
func NewParam() *Param {
	return &Param{
		numIntegSections: 1,
		numWordsToSum:    hw.MaxSumSectionLen,
	}
}

func (p *Param) NumIntegSections() int { return p.numIntegSections }

// SetNumIntegSections sets the number of integration sections.
func (p *Param) SetNumIntegSections(n int) error {
	if n < 1 || n > hw.MaxIntegSections {
		return fmt.Errorf(
			"capture: invalid number of integration sections %d (want 1..%d): %w",
			n, hw.MaxIntegSections, hw.ErrRange,
		)
	}
	if err := checkCapacity(p.sections, n); err != nil {
		return err
	}
	p.numIntegSections = n
	return nil
}

// AddSumSection appends a sum section and its post-blank.
// Lengths are in capture words.
func (p *Param) AddSumSection(captureWords, postBlankWords int) error {
	if len(p.sections) >= hw.MaxSumSections {
		return fmt.Errorf(
			"capture: no more sum sections can be added (max=%d): %w",
			hw.MaxSumSections, hw.ErrCapacity,
		)
	}
	if captureWords < 1 || int64(captureWords) > hw.MaxSumSectionLen {
		return fmt.Errorf(
			"capture: invalid sum section length %d (want 1..%d): %w",
			captureWords, int64(hw.MaxSumSectionLen), hw.ErrRange,
		)
	}
	if postBlankWords < 1 || int64(postBlankWords) > hw.MaxPostBlankLen {
		return fmt.Errorf(
			"capture: invalid post-blank length %d (want 1..%d): %w",
			postBlankWords, int64(hw.MaxPostBlankLen), hw.ErrRange,
		)
	}

	sec := SumSection{CaptureWords: captureWords, PostBlankWords: postBlankWords}
	secs := append(p.sections[:len(p.sections):len(p.sections)], sec)
	if err := checkCapacity(secs, p.numIntegSections); err != nil {
		return err
	}
	p.sections = secs
	return nil
}

// DelSumSection removes the i-th sum section.
func (p *Param) DelSumSection(i int) error {
	if i < 0 || i >= len(p.sections) {
		return fmt.Errorf(
			"capture: invalid sum section index %d (sections=%d): %w",
			i, len(p.sections), hw.ErrRange,
		)
	}
	secs := make([]SumSection, 0, len(p.sections)-1)
	secs = append(secs, p.sections[:i]...)
	secs = append(secs, p.sections[i+1:]...)
	p.sections = secs
	return nil
}

// ClearSumSections removes all the sum sections.
func (p *Param) ClearSumSections() { p.sections = nil }

func (p *Param) NumSumSections() int { return len(p.sections) }

// SumSection returns the i-th sum section.
func (p *Param) SumSection(i int) (SumSection, error) {
	if i < 0 || i >= len(p.sections) {
		return SumSection{}, fmt.Errorf(
			"capture: invalid sum section index %d (sections=%d): %w",
			i, len(p.sections), hw.ErrRange,
		)
	}
	return p.sections[i], nil
}

// SumSections returns a copy of the sum sections.
func (p *Param) SumSections() []SumSection {
	return append([]SumSection(nil), p.sections...)
}

func checkCapacity(secs []SumSection, integ int) error {
	n := numSamplesToProcess(secs, integ)
	if n > hw.MaxCaptureSamples {
		return fmt.Errorf(
			"capture: too many samples to process (got=%d, max=%d): %w",
			n, hw.MaxCaptureSamples, hw.ErrCapacity,
		)
	}
	return nil
}

func numSamplesToProcess(secs []SumSection, integ int) int {
	n := 0
	for _, sec := range secs {
		n += (sec.CaptureWords + sec.PostBlankWords) * hw.NumSamplesInAdcWord
	}
	return n * integ
}

// NumSamplesToProcess returns the number of ADC samples processed by
// the pipeline, post-blanks included.
func (p *Param) NumSamplesToProcess() int {
	return numSamplesToProcess(p.sections, p.numIntegSections)
}

// SelDspUnitsToEnable selects the DSP stages to enable.
// Stages not listed are disabled.
// Stages are run in pipeline order, whatever the order of the arguments.
func (p *Param) SelDspUnitsToEnable(units ...hw.DspUnit) error {
	for _, u := range units {
		if !u.Valid() {
			return fmt.Errorf("capture: invalid DSP unit %d: %w", uint8(u), hw.ErrRange)
		}
	}
	p.dspUnits = hw.SetOf(units...)
	return nil
}

// DspUnitsEnabled returns the enabled DSP stages, in pipeline order.
func (p *Param) DspUnitsEnabled() []hw.DspUnit { return p.dspUnits.Slice() }

// DspUnits returns the set of enabled DSP stages.
func (p *Param) DspUnits() hw.Set[hw.DspUnit] { return p.dspUnits }

func (p *Param) CaptureDelay() int { return p.captureDelay }

// SetCaptureDelay sets the number of capture words to wait for, after
// a start trigger, before capturing.
func (p *Param) SetCaptureDelay(n int) error {
	if n < 0 || int64(n) > hw.MaxCaptureDelay {
		return fmt.Errorf(
			"capture: invalid capture delay %d (want 0..%d): %w",
			n, int64(hw.MaxCaptureDelay), hw.ErrRange,
		)
	}
	p.captureDelay = n
	return nil
}

func (p *Param) SumStartWordNo() int64 { return p.sumStartWordNo }

// SetSumStartWordNo sets the index of the first capture word summed
// in each sum section.
func (p *Param) SetSumStartWordNo(n int64) error {
	if n < 0 || n > hw.MaxSumSectionLen {
		return fmt.Errorf(
			"capture: invalid sum start word %d (want 0..%d): %w",
			n, hw.MaxSumSectionLen, hw.ErrRange,
		)
	}
	p.sumStartWordNo = n
	return nil
}

func (p *Param) NumWordsToSum() int64 { return p.numWordsToSum }

// SetNumWordsToSum sets the number of capture words summed in each
// sum section.
func (p *Param) SetNumWordsToSum(n int64) error {
	if n < 1 || n > math.MaxUint32 {
		return fmt.Errorf(
			"capture: invalid number of words to sum %d (want 1..%d): %w",
			n, uint32(math.MaxUint32), hw.ErrRange,
		)
	}
	p.numWordsToSum = n
	return nil
}

// ComplexFirCoefs returns the coefficients of the complex FIR filter.
func (p *Param) ComplexFirCoefs() []Complex {
	return append([]Complex(nil), p.complexFir[:]...)
}

// SetComplexFirCoefs sets the coefficients of the complex FIR filter.
// Missing coefficients are set to zero.
func (p *Param) SetComplexFirCoefs(coefs []Complex) error {
	if err := checkComplex("complex FIR", coefs, hw.NumComplexFirCoefs, hw.MinFirCoef, hw.MaxFirCoef); err != nil {
		return err
	}
	p.complexFir = [hw.NumComplexFirCoefs]Complex{}
	copy(p.complexFir[:], coefs)
	return nil
}

// RealFirCoefs returns the coefficients of the real FIR filters
// applied to I and Q data.
func (p *Param) RealFirCoefs() (i, q []int64) {
	i = append([]int64(nil), p.realFirI[:]...)
	q = append([]int64(nil), p.realFirQ[:]...)
	return i, q
}

// SetRealFirCoefs sets the coefficients of the real FIR filters
// applied to I and Q data.
// Missing coefficients are set to zero.
func (p *Param) SetRealFirCoefs(i, q []int64) error {
	for _, v := range []struct {
		name  string
		coefs []int64
	}{{"real FIR I", i}, {"real FIR Q", q}} {
		if err := checkReal(v.name, v.coefs, hw.NumRealFirCoefs, hw.MinFirCoef, hw.MaxFirCoef); err != nil {
			return err
		}
	}
	p.realFirI = [hw.NumRealFirCoefs]int64{}
	p.realFirQ = [hw.NumRealFirCoefs]int64{}
	copy(p.realFirI[:], i)
	copy(p.realFirQ[:], q)
	return nil
}

// ComplexWindowCoefs returns the coefficients of the complex window.
func (p *Param) ComplexWindowCoefs() []Complex {
	return append([]Complex(nil), p.window[:]...)
}

// SetComplexWindowCoefs sets the coefficients of the complex window.
// Missing coefficients are set to zero.
func (p *Param) SetComplexWindowCoefs(coefs []Complex) error {
	if err := checkComplex("complex window", coefs, hw.NumComplexWindowCoefs, hw.MinWindowCoef, hw.MaxWindowCoef); err != nil {
		return err
	}
	p.window = [hw.NumComplexWindowCoefs]Complex{}
	copy(p.window[:], coefs)
	return nil
}

func checkComplex(name string, coefs []Complex, n int, min, max int64) error {
	if len(coefs) == 0 || len(coefs) > n {
		return fmt.Errorf(
			"capture: invalid number of %s coefficients %d (want 1..%d): %w",
			name, len(coefs), n, hw.ErrRange,
		)
	}
	for i, c := range coefs {
		if c.Re < min || c.Re > max || c.Im < min || c.Im > max {
			return fmt.Errorf(
				"capture: %s coefficient #%d (%d%+di) out of range [%d, %d]: %w",
				name, i, c.Re, c.Im, min, max, hw.ErrRange,
			)
		}
	}
	return nil
}

func checkReal(name string, coefs []int64, n int, min, max int64) error {
	if len(coefs) == 0 || len(coefs) > n {
		return fmt.Errorf(
			"capture: invalid number of %s coefficients %d (want 1..%d): %w",
			name, len(coefs), n, hw.ErrRange,
		)
	}
	for i, c := range coefs {
		if c < min || c > max {
			return fmt.Errorf(
				"capture: %s coefficient #%d (%d) out of range [%d, %d]: %w",
				name, i, c, min, max, hw.ErrRange,
			)
		}
	}
	return nil
}

// DecisionFuncParams returns the parameters of a decision function.
func (p *Param) DecisionFuncParams(fn hw.DecisionFunc) (DecisionFuncParams, error) {
	if !fn.Valid() {
		return DecisionFuncParams{}, fmt.Errorf("capture: invalid decision function %d: %w", uint8(fn), hw.ErrRange)
	}
	return p.decisionFuncs[fn], nil
}

// SetDecisionFuncParams sets the parameters of a decision function:
//
//	f(I, Q) = a*I + b*Q + c
func (p *Param) SetDecisionFuncParams(fn hw.DecisionFunc, a, b, c float32) error {
	if !fn.Valid() {
		return fmt.Errorf("capture: invalid decision function %d: %w", uint8(fn), hw.ErrRange)
	}
	for _, coef := range []struct {
		name string
		v    float32
	}{{"a", a}, {"b", b}} {
		if !(coef.v >= hw.MinDecisionFuncCoef && coef.v <= hw.MaxDecisionFuncCoef) {
			return fmt.Errorf(
				"capture: decision function coefficient %s=%v out of range [%d, %d]: %w",
				coef.name, coef.v, hw.MinDecisionFuncCoef, hw.MaxDecisionFuncCoef, hw.ErrRange,
			)
		}
	}
	if !(c >= hw.MinDecisionFuncConst && c < hw.MaxDecisionFuncConstExc) {
		return fmt.Errorf(
			"capture: decision function constant c=%v out of range [-2^95, 2^95): %w",
			c, hw.ErrRange,
		)
	}
	p.decisionFuncs[fn] = DecisionFuncParams{A: a, B: b, C: c}
	return nil
}

// NumSamplesToSum returns the number of capture words summed in the
// i-th sum section.
func (p *Param) NumSamplesToSum(i int) (int, error) {
	sec, err := p.SumSection(i)
	if err != nil {
		return 0, err
	}
	words := sec.CaptureWords
	if p.dspUnits.Has(hw.Decimation) {
		words /= 4
	}
	end := min(p.sumStartWordNo+p.numWordsToSum-1, int64(words)-1)
	n := end - max(0, p.sumStartWordNo) + 1
	return int(max(n, 0)), nil
}

// CalcCaptureSamples returns the number of samples stored by a capture
// with these parameters, or the number of classification results when
// the classification stage is enabled.
func (p *Param) CalcCaptureSamples() int {
	n := 0
	for _, sec := range p.sections {
		words := sec.CaptureWords
		if p.dspUnits.Has(hw.Decimation) {
			words /= 4
		}
		samples := words * hw.NumSamplesInAdcWord
		if p.dspUnits.Has(hw.Sum) && samples > 0 {
			n++
			continue
		}
		n += samples
	}
	if p.dspUnits.Has(hw.Integration) {
		return n
	}
	return n * p.numIntegSections
}

// CalcRequiredCaptureMemSize returns the size in bytes of the memory
// needed to store a capture with these parameters.
// The size is a multiple of hw.CaptureDataAlignmentSize.
func (p *Param) CalcRequiredCaptureMemSize() int {
	const align = hw.CaptureDataAlignmentSize
	n := p.CalcCaptureSamples()
	if p.dspUnits.Has(hw.Classification) {
		bits := n * hw.ClassificationResultSize
		return ceilDiv(bits, align*8) * align
	}
	return ceilDiv(n*hw.CapturedSampleSize, align) * align
}

// Clone returns a deep copy of p.
func (p *Param) Clone() *Param {
	o := *p
	o.sections = p.SumSections()
	return &o
}

// Equal reports whether p and o hold the same parameters.
func (p *Param) Equal(o *Param) bool {
	if p == nil || o == nil {
		return p == o
	}
	if len(p.sections) != len(o.sections) {
		return false
	}
	for i := range p.sections {
		if p.sections[i] != o.sections[i] {
			return false
		}
	}
	return p.numIntegSections == o.numIntegSections &&
		p.dspUnits == o.dspUnits &&
		p.captureDelay == o.captureDelay &&
		p.complexFir == o.complexFir &&
		p.realFirI == o.realFirI &&
		p.realFirQ == o.realFirQ &&
		p.window == o.window &&
		p.sumStartWordNo == o.sumStartWordNo &&
		p.numWordsToSum == o.numWordsToSum &&
		p.decisionFuncs == o.decisionFuncs
}

func (p *Param) String() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "num integration sections : %d\n", p.numIntegSections)
	fmt.Fprintf(o, "num sum sections : %d\n", len(p.sections))
	fmt.Fprintf(o, "capture delay : %d\n", p.captureDelay)
	fmt.Fprintf(o, "sum start word no : %d\n", p.sumStartWordNo)
	fmt.Fprintf(o, "num words to sum : %d\n\n", p.numWordsToSum)
	fmt.Fprintf(o, "num samples to be processed : %d\n", p.NumSamplesToProcess())
	fmt.Fprintf(o, "num samples to be captured : %d\n\n", p.CalcCaptureSamples())

	fmt.Fprintf(o, "sum sections\n")
	for i, sec := range p.sections {
		fmt.Fprintf(o, "    section %d\n", i)
		fmt.Fprintf(o, "        num capture words : %d   (%d)\n", sec.CaptureWords, sec.CaptureWords*hw.NumSamplesInAdcWord)
		fmt.Fprintf(o, "        num blank words : %d   (%d)\n", sec.PostBlankWords, sec.PostBlankWords*hw.NumSamplesInAdcWord)
	}

	fmt.Fprintf(o, "\nDSP units enabled\n")
	for _, u := range p.DspUnitsEnabled() {
		fmt.Fprintf(o, "    %v\n", u)
	}

	fmt.Fprintf(o, "\ndecision functions\n")
	for i, fn := range p.decisionFuncs {
		fmt.Fprintf(o, "    %d : a=%v b=%v c=%v\n", i, fn.A, fn.B, fn.C)
	}
	return o.String()
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
