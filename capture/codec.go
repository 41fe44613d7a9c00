// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-lpc/e7awg/hw"
)

type snapshot struct {
	NumIntegSections int                  `json:"num_integ_sections"`
	SumSections      []SumSection         `json:"sum_sections"`
	DspUnits         []hw.DspUnit         `json:"dsp_units"`
	CaptureDelay     int                  `json:"capture_delay"`
	ComplexFirCoefs  []Complex            `json:"complex_fir_coefs"`
	RealFirICoefs    []int64              `json:"real_fir_i_coefs"`
	RealFirQCoefs    []int64              `json:"real_fir_q_coefs"`
	WindowCoefs      []Complex            `json:"complex_window_coefs"`
	SumStartWordNo   int64                `json:"sum_start_word_no"`
	NumWordsToSum    int64                `json:"num_words_to_sum"`
	DecisionFuncs    []DecisionFuncParams `json:"decision_funcs"`
}

func (p *Param) snapshot() snapshot {
	i, q := p.RealFirCoefs()
	return snapshot{
		NumIntegSections: p.numIntegSections,
		SumSections:      p.SumSections(),
		DspUnits:         p.DspUnitsEnabled(),
		CaptureDelay:     p.captureDelay,
		ComplexFirCoefs:  p.ComplexFirCoefs(),
		RealFirICoefs:    i,
		RealFirQCoefs:    q,
		WindowCoefs:      p.ComplexWindowCoefs(),
		SumStartWordNo:   p.sumStartWordNo,
		NumWordsToSum:    p.numWordsToSum,
		DecisionFuncs:    append([]DecisionFuncParams(nil), p.decisionFuncs[:]...),
	}
}

// fromSnapshot replays all setters on a default parameter set, so that
// invalid snapshots are rejected.
func fromSnapshot(s snapshot) (*Param, error) {
	p := NewParam()
	for _, sec := range s.SumSections {
		err := p.AddSumSection(sec.CaptureWords, sec.PostBlankWords)
		if err != nil {
			return nil, err
		}
	}

	setters := []func() error{
		func() error { return p.SetNumIntegSections(s.NumIntegSections) },
		func() error { return p.SelDspUnitsToEnable(s.DspUnits...) },
		func() error { return p.SetCaptureDelay(s.CaptureDelay) },
		func() error { return p.SetSumStartWordNo(s.SumStartWordNo) },
		func() error { return p.SetNumWordsToSum(s.NumWordsToSum) },
		func() error {
			if len(s.ComplexFirCoefs) == 0 {
				return nil
			}
			return p.SetComplexFirCoefs(s.ComplexFirCoefs)
		},
		func() error {
			if len(s.RealFirICoefs) == 0 && len(s.RealFirQCoefs) == 0 {
				return nil
			}
			return p.SetRealFirCoefs(s.RealFirICoefs, s.RealFirQCoefs)
		},
		func() error {
			if len(s.WindowCoefs) == 0 {
				return nil
			}
			return p.SetComplexWindowCoefs(s.WindowCoefs)
		},
		func() error {
			if len(s.DecisionFuncs) > hw.NumDecisionFuncs {
				return fmt.Errorf(
					"capture: too many decision functions (got=%d, max=%d): %w",
					len(s.DecisionFuncs), hw.NumDecisionFuncs, hw.ErrRange,
				)
			}
			for i, fn := range s.DecisionFuncs {
				err := p.SetDecisionFuncParams(hw.DecisionFunc(i), fn.A, fn.B, fn.C)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	for _, set := range setters {
		if err := set(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Param) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.snapshot())
}

func (p *Param) UnmarshalJSON(data []byte) error {
	var s snapshot
	err := json.Unmarshal(data, &s)
	if err != nil {
		return fmt.Errorf("capture: could not decode JSON parameters: %w", err)
	}
	v, err := fromSnapshot(s)
	if err != nil {
		return fmt.Errorf("capture: invalid JSON parameters: %w", err)
	}
	*p = *v
	return nil
}

// MarshalBinary returns the CBOR representation of the parameters.
func (p *Param) MarshalBinary() ([]byte, error) {
	return cbor.Marshal(p.snapshot())
}

// UnmarshalBinary decodes parameters from their CBOR representation.
func (p *Param) UnmarshalBinary(data []byte) error {
	var s snapshot
	err := cbor.Unmarshal(data, &s)
	if err != nil {
		return fmt.Errorf("capture: could not decode CBOR parameters: %w: %v", hw.ErrFormat, err)
	}
	v, err := fromSnapshot(s)
	if err != nil {
		return fmt.Errorf("capture: invalid CBOR parameters: %w", err)
	}
	*p = *v
	return nil
}
