// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-lpc/e7awg/capture"
	"github.com/go-lpc/e7awg/ctrl"
	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/seqcmd"
)

type handler func(ctx context.Context, c *ctrl.Coordinator, a Args) (interface{}, error)

// TriggerAwg is the AWG selected as the start trigger of a capture module.
type TriggerAwg struct {
	AWG int  `json:"awg"`
	OK  bool `json:"ok"`
}

// Sample is a captured I/Q sample.
type Sample [2]float32

var handlers = map[string]handler{
	"versions": func(_ context.Context, c *ctrl.Coordinator, _ Args) (interface{}, error) {
		return c.Versions()
	},
	"initialize": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		awgs, err := a.awgs()
		if err != nil {
			return nil, err
		}
		units, err := a.units()
		if err != nil {
			return nil, err
		}
		return nil, c.Initialize(awgs, units)
	},

	// AWGs.
	"initialize_awgs":        awgsOp((*ctrl.Coordinator).InitializeAwgs),
	"start_awgs":             awgsOp((*ctrl.Coordinator).StartAwgs),
	"terminate_awgs":         awgsOp((*ctrl.Coordinator).TerminateAwgs),
	"reset_awgs":             awgsOp((*ctrl.Coordinator).ResetAwgs),
	"clear_awg_stop_flags":   awgsOp((*ctrl.Coordinator).ClearAwgStopFlags),
	"set_wave_sequence":      setWaveSequence,
	"register_wave_sequence": registerWaveSequence,
	"wait_for_awgs_to_stop": func(ctx context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		ids, err := a.awgs()
		if err != nil {
			return nil, err
		}
		return nil, c.WaitForAwgsToStop(ctx, a.timeout(), ids...)
	},
	"check_awg_err": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		ids, err := a.awgs()
		if err != nil {
			return nil, err
		}
		return c.CheckAwgErr(ids...)
	},
	"set_wave_startable_block_timing": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		ids, err := a.awgs()
		if err != nil {
			return nil, err
		}
		return nil, c.SetWaveStartableBlockTiming(a.Interval, ids...)
	},
	"wave_startable_block_timing": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		ids, err := a.awgs()
		if err != nil {
			return nil, err
		}
		return c.WaveStartableBlockTiming(ids...)
	},
	"awg_status": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		id, err := hw.ParseAWG(a.AWG)
		if err != nil {
			return nil, err
		}
		return c.AwgStatus(id), nil
	},

	// Capture units.
	"initialize_capture_units": unitsOp((*ctrl.Coordinator).InitializeCaptureUnits),
	"start_capture_units":      unitsOp((*ctrl.Coordinator).StartCaptureUnits),
	"terminate_capture_units":  unitsOp((*ctrl.Coordinator).TerminateCaptureUnits),
	"reset_capture_units":      unitsOp((*ctrl.Coordinator).ResetCaptureUnits),
	"clear_capture_stop_flags": unitsOp((*ctrl.Coordinator).ClearCaptureStopFlags),
	"enable_start_trigger":     unitsOp((*ctrl.Coordinator).EnableStartTrigger),
	"disable_start_trigger":    unitsOp((*ctrl.Coordinator).DisableStartTrigger),
	"set_capture_params":       setCaptureParams,
	"register_capture_params":  registerCaptureParams,
	"wait_for_capture_units_to_stop": func(ctx context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		ids, err := a.units()
		if err != nil {
			return nil, err
		}
		return nil, c.WaitForCaptureUnitsToStop(ctx, a.timeout(), ids...)
	},
	"check_capture_err": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		ids, err := a.units()
		if err != nil {
			return nil, err
		}
		return c.CheckCaptureErr(ids...)
	},
	"select_trigger_awg": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		mod, err := parseModule(a.Module)
		if err != nil {
			return nil, err
		}
		awg, err := hw.ParseAWG(a.AWG)
		if err != nil {
			return nil, err
		}
		return nil, c.SelectTriggerAwg(mod, awg)
	},
	"deselect_trigger_awg": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		mod, err := parseModule(a.Module)
		if err != nil {
			return nil, err
		}
		return nil, c.DeselectTriggerAwg(mod)
	},
	"trigger_awg": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		mod, err := parseModule(a.Module)
		if err != nil {
			return nil, err
		}
		awg, ok, err := c.TriggerAwg(mod)
		if err != nil {
			return nil, err
		}
		return TriggerAwg{AWG: int(awg), OK: ok}, nil
	},
	"num_captured_samples": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		unit, err := hw.ParseCaptureUnit(a.Unit)
		if err != nil {
			return nil, err
		}
		return c.NumCapturedSamples(unit)
	},
	"capture_data": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		unit, err := hw.ParseCaptureUnit(a.Unit)
		if err != nil {
			return nil, err
		}
		vs, err := c.CaptureData(unit)
		if err != nil {
			return nil, err
		}
		o := make([]Sample, len(vs))
		for i, v := range vs {
			o[i] = Sample{real(v), imag(v)}
		}
		return o, nil
	},
	"classification_results": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		unit, err := hw.ParseCaptureUnit(a.Unit)
		if err != nil {
			return nil, err
		}
		vs, err := c.ClassificationResults(unit)
		if err != nil {
			return nil, err
		}
		o := make([]int, len(vs))
		for i, v := range vs {
			o[i] = int(v)
		}
		return o, nil
	},
	"capture_unit_status": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		unit, err := hw.ParseCaptureUnit(a.Unit)
		if err != nil {
			return nil, err
		}
		return c.CaptureUnitStatus(unit), nil
	},
	"wait_for_all": func(ctx context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		awgs, err := a.awgs()
		if err != nil {
			return nil, err
		}
		units, err := a.units()
		if err != nil {
			return nil, err
		}
		return nil, c.WaitForAll(ctx, a.timeout(), awgs, units)
	},

	// Sequencer.
	"initialize_sequencer":         seqOp((*ctrl.Coordinator).InitializeSequencer),
	"start_sequencer":              seqOp((*ctrl.Coordinator).StartSequencer),
	"terminate_sequencer":          seqOp((*ctrl.Coordinator).TerminateSequencer),
	"clear_commands":               seqOp((*ctrl.Coordinator).ClearCommands),
	"clear_unsent_cmd_err_reports": seqOp((*ctrl.Coordinator).ClearUnsentCmdErrReports),
	"clear_sequencer_stop_flag":    seqOp((*ctrl.Coordinator).ClearSequencerStopFlag),
	"enable_cmd_err_report":        seqOp((*ctrl.Coordinator).EnableCmdErrReport),
	"disable_cmd_err_report":       seqOp((*ctrl.Coordinator).DisableCmdErrReport),
	"cmd_fifo_free_space":          seqCount((*ctrl.Coordinator).CmdFifoFreeSpace),
	"num_unprocessed_commands":     seqCount((*ctrl.Coordinator).NumUnprocessedCommands),
	"num_successful_commands":      seqCount((*ctrl.Coordinator).NumSuccessfulCommands),
	"num_err_commands":             seqCount((*ctrl.Coordinator).NumErrCommands),
	"num_unsent_cmd_err_reports":   seqCount((*ctrl.Coordinator).NumUnsentCmdErrReports),
	"push_commands": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		cmds, err := seqcmd.DecodeAll(a.Cmds)
		if err != nil {
			return nil, err
		}
		return nil, c.PushCommands(cmds...)
	},
	"wait_for_sequencer_to_stop": func(ctx context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		return nil, c.WaitForSequencerToStop(ctx, a.timeout())
	},
	"check_sequencer_err": func(_ context.Context, c *ctrl.Coordinator, _ Args) (interface{}, error) {
		return c.CheckSequencerErr()
	},
	"pop_cmd_err_reports": func(_ context.Context, c *ctrl.Coordinator, _ Args) (interface{}, error) {
		reps, err := c.PopCmdErrReports()
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 0, len(reps)*hw.CmdErrReportSize)
		for _, rep := range reps {
			p, err := seqcmd.EncodeReport(rep)
			if err != nil {
				return nil, err
			}
			buf = append(buf, p...)
		}
		return buf, nil
	},
	"branch_flag": func(_ context.Context, c *ctrl.Coordinator, _ Args) (interface{}, error) {
		return c.BranchFlag()
	},
	"set_branch_flag": func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		return nil, c.SetBranchFlag(a.Flag)
	},
	"external_branch_flag": func(_ context.Context, c *ctrl.Coordinator, _ Args) (interface{}, error) {
		return c.ExternalBranchFlag()
	},
}

func awgsOp(f func(c *ctrl.Coordinator, ids ...hw.AWG) error) handler {
	return func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		ids, err := a.awgs()
		if err != nil {
			return nil, err
		}
		return nil, f(c, ids...)
	}
}

func unitsOp(f func(c *ctrl.Coordinator, ids ...hw.CaptureUnit) error) handler {
	return func(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
		ids, err := a.units()
		if err != nil {
			return nil, err
		}
		return nil, f(c, ids...)
	}
}

func seqOp(f func(c *ctrl.Coordinator) error) handler {
	return func(_ context.Context, c *ctrl.Coordinator, _ Args) (interface{}, error) {
		return nil, f(c)
	}
}

func seqCount(f func(c *ctrl.Coordinator) (int, error)) handler {
	return func(_ context.Context, c *ctrl.Coordinator, _ Args) (interface{}, error) {
		return f(c)
	}
}

func parseModule(i int) (hw.CaptureModule, error) {
	mod := hw.CaptureModule(i)
	if i < 0 || !mod.Valid() {
		return 0, fmt.Errorf("server: invalid capture module %d: %w", i, hw.ErrRange)
	}
	return mod, nil
}

func setWaveSequence(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
	awg, err := hw.ParseAWG(a.AWG)
	if err != nil {
		return nil, err
	}
	if a.WaveSequence == nil {
		return nil, fmt.Errorf("server: missing wave sequence: %w", ErrRequest)
	}
	return nil, c.SetWaveSequence(awg, a.WaveSequence)
}

func registerWaveSequence(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
	awg, err := hw.ParseAWG(a.AWG)
	if err != nil {
		return nil, err
	}
	if a.WaveSequence == nil {
		return nil, fmt.Errorf("server: missing wave sequence: %w", ErrRequest)
	}
	return c.RegisterWaveSequence(awg, a.WaveSequence)
}

func setCaptureParams(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
	unit, err := hw.ParseCaptureUnit(a.Unit)
	if err != nil {
		return nil, err
	}
	if a.CaptureParam == nil {
		return nil, fmt.Errorf("server: missing capture parameters: %w", ErrRequest)
	}
	return nil, c.SetCaptureParams(unit, a.CaptureParam)
}

func registerCaptureParams(_ context.Context, c *ctrl.Coordinator, a Args) (interface{}, error) {
	unit, err := hw.ParseCaptureUnit(a.Unit)
	if err != nil {
		return nil, err
	}
	if a.CaptureParam == nil {
		return nil, fmt.Errorf("server: missing capture parameters: %w", ErrRequest)
	}
	return c.RegisterCaptureParams(unit, a.CaptureParam)
}

// helpers are requests computing values from their arguments only.
// They do not need an opened board.
var helpers = map[string]func(a Args) (interface{}, error){
	"capture_param.new": func(Args) (interface{}, error) {
		return capture.NewParam(), nil
	},
	"capture_param.num_samples_to_process": func(a Args) (interface{}, error) {
		p, err := captureParam(a)
		if err != nil {
			return nil, err
		}
		return p.NumSamplesToProcess(), nil
	},
	"capture_param.calc_capture_samples": func(a Args) (interface{}, error) {
		p, err := captureParam(a)
		if err != nil {
			return nil, err
		}
		return p.CalcCaptureSamples(), nil
	},
	"capture_param.calc_required_capture_mem_size": func(a Args) (interface{}, error) {
		p, err := captureParam(a)
		if err != nil {
			return nil, err
		}
		return p.CalcRequiredCaptureMemSize(), nil
	},
	"wave_sequence.num_all_samples": func(a Args) (interface{}, error) {
		if a.WaveSequence == nil {
			return nil, fmt.Errorf("server: missing wave sequence: %w", ErrRequest)
		}
		return a.WaveSequence.NumAllSamples(), nil
	},
	"wave_sequence.summary": func(a Args) (interface{}, error) {
		if a.WaveSequence == nil {
			return nil, fmt.Errorf("server: missing wave sequence: %w", ErrRequest)
		}
		buf := new(bytes.Buffer)
		err := a.WaveSequence.WriteSummary(buf)
		if err != nil {
			return nil, err
		}
		return buf.String(), nil
	},
	"wave_sequence.text": func(a Args) (interface{}, error) {
		if a.WaveSequence == nil {
			return nil, fmt.Errorf("server: missing wave sequence: %w", ErrRequest)
		}
		buf := new(bytes.Buffer)
		err := a.WaveSequence.SaveAsText(buf, a.Hex)
		if err != nil {
			return nil, err
		}
		return buf.String(), nil
	},
}

func captureParam(a Args) (*capture.Param, error) {
	if a.CaptureParam == nil {
		return nil, fmt.Errorf("server: missing capture parameters: %w", ErrRequest)
	}
	return a.CaptureParam, nil
}
