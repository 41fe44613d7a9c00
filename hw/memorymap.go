// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

// AWG register space.
const (
	AwgMasterAddr = 0x0

	AwgMasterVersion           = 0x00
	AwgMasterCtrlTargetSel     = 0x04
	AwgMasterCtrl              = 0x08
	AwgMasterWakeup            = 0x0C
	AwgMasterBusy              = 0x10
	AwgMasterReady             = 0x14
	AwgMasterDone              = 0x18
	AwgMasterReadErr           = 0x1C
	AwgMasterSampleShortageErr = 0x20

	AwgMasterCtrlReset     = 0
	AwgMasterCtrlPrepare   = 1
	AwgMasterCtrlStart     = 2
	AwgMasterCtrlTerminate = 3
	AwgMasterCtrlDoneClr   = 4

	AwgCtrlCtrl   = 0x0
	AwgCtrlStatus = 0x4
	AwgCtrlErr    = 0x8

	AwgCtrlCtrlReset     = 0
	AwgCtrlCtrlPrepare   = 1
	AwgCtrlCtrlStart     = 2
	AwgCtrlCtrlTerminate = 3
	AwgCtrlCtrlDoneClr   = 4

	AwgCtrlStatusWakeup = 0
	AwgCtrlStatusBusy   = 1
	AwgCtrlStatusReady  = 2
	AwgCtrlStatusDone   = 3

	AwgCtrlErrRead           = 0
	AwgCtrlErrSampleShortage = 1

	WaveParamNumWaitWords               = 0x00
	WaveParamNumRepeats                 = 0x04
	WaveParamNumChunks                  = 0x08
	WaveParamWaveStartableBlockInterval = 0x0C

	WaveParamChunkStartAddr        = 0x0
	WaveParamChunkNumWavePartWords = 0x4
	WaveParamChunkNumBlankWords    = 0x8
	WaveParamChunkNumChunkRepeats  = 0xC

	// WaveParamSize is the size of a wave parameter block.
	WaveParamSize = 0x400
)

// AwgCtrlAddr returns the address of the control registers of an AWG.
func AwgCtrlAddr(awg AWG) uint64 { return 0x80 * (uint64(awg) + 1) }

// WaveParamAddr returns the address of the wave parameters of an AWG.
func WaveParamAddr(awg AWG) uint64 { return 0x1000 + WaveParamSize*uint64(awg) }

// WaveParamChunkAddr returns the offset of the parameters of the i-th
// chunk, relative to a wave parameter block.
func WaveParamChunkAddr(i int) uint64 { return 0x40 + 0x10*uint64(i) }

// Capture register space.
const (
	CaptureMasterAddr = 0x0

	CaptureMasterVersion       = 0x00
	CaptureMasterTrigAwgSel0   = 0x04
	CaptureMasterTrigAwgSel1   = 0x08
	CaptureMasterAwgTrigMask   = 0x0C
	CaptureMasterCtrlTargetSel = 0x10
	CaptureMasterCtrl          = 0x14
	CaptureMasterWakeup        = 0x18
	CaptureMasterBusy          = 0x1C
	CaptureMasterDone          = 0x20
	CaptureMasterOverflowErr   = 0x24
	CaptureMasterWriteErr      = 0x28
	CaptureMasterTrigAwgSel2   = 0x2C
	CaptureMasterTrigAwgSel3   = 0x30

	CaptureMasterCtrlReset     = 0
	CaptureMasterCtrlStart     = 1
	CaptureMasterCtrlTerminate = 2
	CaptureMasterCtrlDoneClr   = 3

	CaptureCtrlCtrl   = 0x0
	CaptureCtrlStatus = 0x4
	CaptureCtrlErr    = 0x8

	CaptureCtrlCtrlReset     = 0
	CaptureCtrlCtrlStart     = 1
	CaptureCtrlCtrlTerminate = 2
	CaptureCtrlCtrlDoneClr   = 3

	CaptureCtrlStatusWakeup = 0
	CaptureCtrlStatusBusy   = 1
	CaptureCtrlStatusDone   = 2

	CaptureCtrlErrOverflow = 0
	CaptureCtrlErrWrite    = 1

	CaptureParamDspModuleEnable  = 0x00
	CaptureParamCaptureDelay     = 0x04
	CaptureParamCaptureAddr      = 0x08
	CaptureParamNumCapturedSamps = 0x0C
	CaptureParamNumIntegSections = 0x10
	CaptureParamNumSumSections   = 0x14
	CaptureParamSumStartTime     = 0x18
	CaptureParamSumEndTime       = 0x1C
	CaptureParamSumSectionLen    = 0x1000
	CaptureParamPostBlankLen     = 0x5000
	CaptureParamComplexFirRe     = 0x9000
	CaptureParamComplexFirIm     = 0x9040
	CaptureParamRealFirI         = 0xA000
	CaptureParamRealFirQ         = 0xA020
	CaptureParamComplexWindowRe  = 0xB000
	CaptureParamComplexWindowIm  = 0xD000
	CaptureParamDecisionFunc     = 0xF000

	// CaptureParamSize is the size of a capture parameter block.
	CaptureParamSize = 0x10000
)

// CaptureCtrlAddr returns the address of the control registers of a capture unit.
func CaptureCtrlAddr(unit CaptureUnit) uint64 { return 0x100 * (uint64(unit) + 1) }

// CaptureParamAddr returns the address of the parameters of a capture unit.
func CaptureParamAddr(unit CaptureUnit) uint64 { return CaptureParamSize * (uint64(unit) + 1) }

// CaptureTrigAwgSelAddr returns the address of the start trigger
// selector of a capture module.
func CaptureTrigAwgSelAddr(mod CaptureModule) uint64 {
	switch mod {
	case 0:
		return CaptureMasterTrigAwgSel0
	case 1:
		return CaptureMasterTrigAwgSel1
	case 2:
		return CaptureMasterTrigAwgSel2
	default:
		return CaptureMasterTrigAwgSel3
	}
}

// Sequencer register space.
const (
	SeqAddr = 0x0

	SeqVersion           = 0x00
	SeqCtrl              = 0x04
	SeqStatus            = 0x08
	SeqErr               = 0x0C
	SeqCmdFifoFreeSpace  = 0x10
	SeqNumStoredCmds     = 0x14
	SeqCmdCounter        = 0x18
	SeqNumSuccessfulCmds = 0x1C
	SeqNumErrCmds        = 0x20
	SeqNumErrReports     = 0x24
	SeqDestUDPPort       = 0x28
	SeqDestIPAddr        = 0x2C

	SeqCtrlReset               = 0
	SeqCtrlStart               = 1
	SeqCtrlTerminate           = 2
	SeqCtrlDoneClr             = 3
	SeqCtrlCmdClr              = 4
	SeqCtrlErrReportClr        = 5
	SeqCtrlErrReportSendEnable = 6
	SeqCtrlCmdCounterReset     = 7
	SeqCtrlBranchFlagNeg       = 8

	SeqStatusWakeup              = 0
	SeqStatusBusy                = 1
	SeqStatusDone                = 2
	SeqStatusErrReportSendActive = 3
	SeqStatusExtBranchFlagNeg    = 4

	SeqErrCmdFifoOverflowBit = 0
	SeqErrErrFifoOverflowBit = 1
)

// DRAM (wave RAM space) layout.
const (
	// WaveDataRegionSize is the size of the wave data region of an AWG.
	WaveDataRegionSize = 0x2000_0000

	// CaptureParamRegistryAddr is the base address of the capture
	// parameter registry, indexed by key.
	CaptureParamRegistryAddr = 0x1_F000_0000
	// WaveParamRegistryAddr is the base address of the wave parameter
	// registry, indexed by AWG and key.
	WaveParamRegistryAddr = 0x1_F400_0000
)

var captureDataAddrs = [NumCaptureUnits]uint64{
	0x1000_0000, 0x3000_0000, 0x5000_0000, 0x7000_0000, 0x9000_0000,
	0xB000_0000, 0xD000_0000, 0xF000_0000, 0x1_5000_0000, 0x1_7000_0000,
}

// WaveDataAddr returns the address of the wave data region of an AWG.
func WaveDataAddr(awg AWG) uint64 { return WaveDataRegionSize * uint64(awg) }

// CaptureDataAddr returns the address of the captured data of a unit.
func CaptureDataAddr(unit CaptureUnit) uint64 { return captureDataAddrs[unit] }

// CaptureParamRegistryEntry returns the address of a capture parameter
// registry entry.
func CaptureParamRegistryEntry(key int) uint64 {
	return CaptureParamRegistryAddr + CaptureParamSize*uint64(key)
}

// WaveParamRegistryEntry returns the address of a wave parameter
// registry entry.
func WaveParamRegistryEntry(awg AWG, key int) uint64 {
	return WaveParamRegistryAddr + WaveParamSize*(uint64(awg)*MaxWaveRegistryEntries+uint64(key))
}
