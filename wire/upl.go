// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/go-lpc/e7awg/hw"
)

// Mode is the operation carried by a UPL packet.
type Mode uint8

const (
	ModeWaveRAMRead      Mode = 0x00
	ModeWaveRAMReadReply Mode = 0x01
	ModeWaveRAMWrite     Mode = 0x02
	ModeWaveRAMWriteAck  Mode = 0x03

	ModeAwgRegRead      Mode = 0x10
	ModeAwgRegReadReply Mode = 0x11
	ModeAwgRegWrite     Mode = 0x12
	ModeAwgRegWriteAck  Mode = 0x13

	ModeSeqRegRead      Mode = 0x20
	ModeSeqRegReadReply Mode = 0x21
	ModeSeqRegWrite     Mode = 0x22
	ModeSeqRegWriteAck  Mode = 0x23
	ModeSeqCmdWrite     Mode = 0x24
	ModeSeqCmdWriteAck  Mode = 0x25
	ModeSeqCmdErrReport Mode = 0x27

	ModeCaptureRegRead      Mode = 0x40
	ModeCaptureRegReadReply Mode = 0x41
	ModeCaptureRegWrite     Mode = 0x42
	ModeCaptureRegWriteAck  Mode = 0x43

	ModeOthers Mode = 0xFF
)

var modeNames = map[Mode]string{
	ModeWaveRAMRead:         "WAVE RAM READ",
	ModeWaveRAMReadReply:    "WAVE RAM READ-REPLY",
	ModeWaveRAMWrite:        "WAVE RAM WRITE",
	ModeWaveRAMWriteAck:     "WAVE RAM WRITE-ACK",
	ModeAwgRegRead:          "AWG REG READ",
	ModeAwgRegReadReply:     "AWG REG READ-REPLY",
	ModeAwgRegWrite:         "AWG REG WRITE",
	ModeAwgRegWriteAck:      "AWG REG WRITE-ACK",
	ModeSeqRegRead:          "SEQUENCER REG READ",
	ModeSeqRegReadReply:     "SEQUENCER REG READ-REPLY",
	ModeSeqRegWrite:         "SEQUENCER REG WRITE",
	ModeSeqRegWriteAck:      "SEQUENCER REG WRITE-ACK",
	ModeSeqCmdWrite:         "SEQUENCER CMD WRITE",
	ModeSeqCmdWriteAck:      "SEQUENCER CMD WRITE-ACK",
	ModeSeqCmdErrReport:     "SEQUENCER CMD ERR REPORT",
	ModeCaptureRegRead:      "CAPTURE REG READ",
	ModeCaptureRegReadReply: "CAPTURE REG READ-REPLY",
	ModeCaptureRegWrite:     "CAPTURE REG WRITE",
	ModeCaptureRegWriteAck:  "CAPTURE REG WRITE-ACK",
	ModeOthers:              "OTHERS",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(0x%02x)", uint8(m))
}

// HasPayload reports whether packets of this mode carry a payload.
func (m Mode) HasPayload() bool {
	switch m {
	case ModeWaveRAMReadReply, ModeWaveRAMWrite,
		ModeAwgRegReadReply, ModeAwgRegWrite,
		ModeSeqRegReadReply, ModeSeqRegWrite,
		ModeSeqCmdWrite, ModeSeqCmdErrReport,
		ModeCaptureRegReadReply, ModeCaptureRegWrite:
		return true
	}
	return false
}

const (
	// HeaderSize is the size of a UPL packet header.
	HeaderSize = 8
	// MaxAddr is the largest address a UPL packet can carry.
	MaxAddr = 1<<40 - 1
	// MaxPayloadSize is the largest payload sent in a single packet.
	MaxPayloadSize = 1440
)

// Packet is a UPL packet:
//
//	mode(1) | addr(5, big-endian) | num_bytes(2, big-endian) | payload
//
// NumBytes is the size of the payload, or the number of bytes to read
// for read requests.
type Packet struct {
	Mode     Mode
	Addr     uint64
	NumBytes uint16
	Payload  []byte
}

// Encode returns the binary representation of the packet.
func (pkt Packet) Encode() ([]byte, error) {
	if pkt.Addr > MaxAddr {
		return nil, fmt.Errorf("wire: UPL address 0x%x out of range: %w", pkt.Addr, hw.ErrRange)
	}
	buf := make([]byte, HeaderSize+len(pkt.Payload))
	buf[0] = byte(pkt.Mode)
	putUint(binary.BigEndian, buf[1:6], pkt.Addr)
	binary.BigEndian.PutUint16(buf[6:8], pkt.NumBytes)
	copy(buf[HeaderSize:], pkt.Payload)
	return buf, nil
}

// DecodePacket decodes a UPL packet.
// The payload of the returned packet aliases p.
func DecodePacket(p []byte) (Packet, error) {
	if len(p) < HeaderSize {
		return Packet{}, fmt.Errorf(
			"wire: short UPL header (got=%d bytes): %w", len(p), hw.ErrFormat,
		)
	}
	pkt := Packet{
		Mode:     Mode(p[0]),
		Addr:     getUint(binary.BigEndian, p[1:6]),
		NumBytes: binary.BigEndian.Uint16(p[6:8]),
	}
	if pkt.NumBytes == 0 || !pkt.Mode.HasPayload() {
		return pkt, nil
	}
	end := HeaderSize + int(pkt.NumBytes)
	if len(p) < end {
		return Packet{}, fmt.Errorf(
			"wire: short UPL payload (got=%d bytes, want=%d): %w",
			len(p)-HeaderSize, pkt.NumBytes, hw.ErrFormat,
		)
	}
	pkt.Payload = p[HeaderSize:end]
	return pkt, nil
}

// CmdWritePayload returns the payload of a sequencer command write:
// the number of commands as a little-endian uint64, followed by the
// command frames.
func CmdWritePayload(n int, frames []byte) []byte {
	buf := make([]byte, 8+len(frames))
	binary.LittleEndian.PutUint64(buf[:8], uint64(n))
	copy(buf[8:], frames)
	return buf
}

// CmdErrReports returns the concatenated error reports carried by the
// payload of a sequencer error report packet.
func CmdErrReports(payload []byte) ([]byte, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf(
			"wire: short error report payload (got=%d bytes): %w", len(payload), hw.ErrFormat,
		)
	}
	reps := payload[8:]
	n := len(reps) / hw.CmdErrReportSize
	return reps[:n*hw.CmdErrReportSize], nil
}
