// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

// AWG sizes.
const (
	WaveSampleSize        = 4  // bytes (I: int16, Q: int16)
	AwgWordSize           = 16 // bytes
	NumSamplesInAwgWord   = AwgWordSize / WaveSampleSize
	NumSamplesInWaveBlock = NumSamplesInAwgWord * 16
	WaveRAMWordSize       = 32 // bytes
)

// Capture sizes.
const (
	AdcWordSize              = 16 // bytes
	AdcSampleSize            = 4  // bytes
	NumSamplesInAdcWord      = AdcWordSize / AdcSampleSize
	CapturedSampleSize       = 8 // bytes (I: float32, Q: float32)
	ClassificationResultSize = 2 // bits
	CaptureRAMWordSize       = 32
	CaptureDataAlignmentSize = 512
	MaxCaptureSize           = 256 * 1024 * 1024 // bytes, per capture unit
	MaxCaptureSamples        = MaxCaptureSize / CapturedSampleSize
	MaxIntegVecElems         = 4096
)

// Wave sequence bounds.
const (
	MaxChunks          = 16
	MaxChunkRepeats    = 0xFFFF_FFFF
	MaxSequenceRepeats = 0xFFFF_FFFF
	MaxWaitWords       = 0xFFFF_FFFF
	MaxBlankWords      = 0xFFFF_FFFF
	MaxWaveDataSize    = 256 * 1024 * 1024 // bytes, per AWG
)

// Capture parameter bounds.
const (
	MaxIntegSections        = 1048576
	MaxSumSections          = MaxIntegVecElems
	NumComplexFirCoefs      = 16
	NumRealFirCoefs         = 8
	NumComplexWindowCoefs   = 2048
	MinFirCoef              = -32768
	MaxFirCoef              = 32767
	MinWindowCoef           = -2147483648
	MaxWindowCoef           = 2147483647
	MaxCaptureDelay         = 0xFFFF_FFFE
	MaxSumSectionLen        = 0xFFFF_FFFE
	MaxPostBlankLen         = 0xFFFF_FFFF
	MaxSumRangeLen          = 1024
	MinDecisionFuncCoef     = -32768
	MaxDecisionFuncCoef     = 32768
	MinDecisionFuncConst    = -0x8000_0000_0000_0000_0000_0000 // -2^95
	MaxDecisionFuncConstExc = 0x8000_0000_0000_0000_0000_0000  // 2^95, exclusive
)

// Registries.
const (
	MaxWaveRegistryEntries         = 512 // per AWG
	MaxCaptureParamRegistryEntries = 512 // shared by all capture units
)

// Sequencer commands.
const (
	CmdSize          = 16 // bytes
	CmdErrReportSize = 16 // bytes
	MaxCmdNo         = 0xFFFF
	MaxStartTime     = 0x7FFF_FFFF_FFFF_FFFF
	MaxEndTime       = 0x7FFF_FFFF_FFFF_FFFF
	MaxCmdKey        = 511
)

// UDP ports.
const (
	WaveRAMPort      = 0x4000
	AwgRegPort       = 0x4001
	CaptureRegPort   = 0x4001
	SequencerRegPort = 0x4000
	SequencerCmdPort = 0x4000
)
