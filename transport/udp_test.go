// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-lpc/e7awg/ctrl"
	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/wire"
)

// board serves UPL requests on loopback sockets, storing memory by
// byte address for each request mode family.
type board struct {
	t     *testing.T
	conns []*net.UDPConn

	mu      sync.Mutex
	mem     map[wire.Mode]map[uint64]byte
	cmds    []byte
	reqs    []wire.Packet
	mute    bool // do not reply
	maxSize int  // largest request payload seen
}

func newBoard(t *testing.T) (*board, Ports) {
	t.Helper()
	b := &board{
		t:   t,
		mem: make(map[wire.Mode]map[uint64]byte),
	}
	var ports [2]int
	for i := range ports {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		if err != nil {
			t.Fatalf("could not create board socket: %+v", err)
		}
		b.conns = append(b.conns, conn)
		ports[i] = conn.LocalAddr().(*net.UDPAddr).Port
		go b.serve(conn)
	}
	t.Cleanup(func() {
		for _, conn := range b.conns {
			_ = conn.Close()
		}
	})
	return b, Ports{
		WaveRAM:    ports[0],
		Sequencer:  ports[0],
		AwgReg:     ports[1],
		CaptureReg: ports[1],
	}
}

func (b *board) space(m wire.Mode) map[uint64]byte {
	family := m &^ 0x3
	mem, ok := b.mem[family]
	if !ok {
		mem = make(map[uint64]byte)
		b.mem[family] = mem
	}
	return mem
}

func (b *board) serve(conn *net.UDPConn) {
	buf := make([]byte, bufSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		req, err := wire.DecodePacket(buf[:n])
		if err != nil {
			b.t.Errorf("could not decode request: %+v", err)
			return
		}
		rep, ok := b.handle(req)
		if !ok {
			continue
		}
		raw, err := rep.Encode()
		if err != nil {
			b.t.Errorf("could not encode reply: %+v", err)
			return
		}
		_, _ = conn.WriteToUDP(raw, addr)
	}
}

func (b *board) handle(req wire.Packet) (wire.Packet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	req.Payload = append([]byte(nil), req.Payload...)
	b.reqs = append(b.reqs, req)
	if len(req.Payload) > b.maxSize {
		b.maxSize = len(req.Payload)
	}
	if b.mute {
		return wire.Packet{}, false
	}

	rep := wire.Packet{Mode: req.Mode + 1, Addr: req.Addr, NumBytes: req.NumBytes}
	switch req.Mode {
	case wire.ModeSeqCmdWrite:
		b.cmds = append(b.cmds, req.Payload[8:]...)
	case wire.ModeWaveRAMWrite, wire.ModeAwgRegWrite, wire.ModeCaptureRegWrite, wire.ModeSeqRegWrite:
		mem := b.space(req.Mode)
		for i, v := range req.Payload {
			mem[req.Addr+uint64(i)] = v
		}
	case wire.ModeWaveRAMRead, wire.ModeAwgRegRead, wire.ModeCaptureRegRead, wire.ModeSeqRegRead:
		mem := b.space(req.Mode)
		rep.Payload = make([]byte, req.NumBytes)
		for i := range rep.Payload {
			rep.Payload[i] = mem[req.Addr+uint64(i)]
		}
	default:
		b.t.Errorf("unexpected request mode %v", req.Mode)
		return wire.Packet{}, false
	}
	return rep, true
}

func (b *board) requests() []wire.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]wire.Packet(nil), b.reqs...)
}

func dialBoard(t *testing.T, opts ...Option) (*UDP, *board) {
	t.Helper()
	b, ports := newBoard(t)
	opts = append([]Option{
		WithPorts(ports),
		WithTimeout(time.Second),
		WithLogger(log.New(io.Discard, "transport: ", 0)),
	}, opts...)
	tr, err := Dial("127.0.0.1", opts...)
	if err != nil {
		t.Fatalf("could not dial board: %+v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr, b
}

func TestUDPRegisters(t *testing.T) {
	tr, b := dialBoard(t)

	for _, tc := range []struct {
		sp   ctrl.Space
		mode wire.Mode
	}{
		{ctrl.SpaceAWG, wire.ModeAwgRegWrite},
		{ctrl.SpaceCapture, wire.ModeCaptureRegWrite},
		{ctrl.SpaceSequencer, wire.ModeSeqRegWrite},
		{ctrl.SpaceWaveRAM, wire.ModeWaveRAMWrite},
	} {
		t.Run(tc.sp.String(), func(t *testing.T) {
			want := make([]byte, 64)
			for i := range want {
				want[i] = byte(i + 1)
			}
			err := tr.WriteRegister(tc.sp, 0x100, want)
			if err != nil {
				t.Fatalf("could not write: %+v", err)
			}
			got, err := tr.ReadRegister(tc.sp, 0x100, len(want))
			if err != nil {
				t.Fatalf("could not read: %+v", err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("invalid read-back:\ngot= %v\nwant=%v", got, want)
			}

			reqs := b.requests()
			var found bool
			for _, req := range reqs {
				if req.Mode == tc.mode && req.Addr == 0x100 {
					found = true
				}
			}
			if !found {
				t.Fatalf("no %v request seen", tc.mode)
			}
		})
	}

	// the AWG and capture spaces are distinct.
	awg, err := tr.ReadRegister(ctrl.SpaceAWG, 0x100, 4)
	if err != nil {
		t.Fatal(err)
	}
	b.mu.Lock()
	b.space(wire.ModeCaptureRegWrite)[0x100] = 0xff
	b.mu.Unlock()
	again, err := tr.ReadRegister(ctrl.SpaceAWG, 0x100, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(awg, again) {
		t.Fatalf("capture write leaked into AWG space")
	}
}

func TestUDPLargeTransfer(t *testing.T) {
	tr, b := dialBoard(t)

	want := make([]byte, 4*MaxTransferSize+96)
	for i := range want {
		want[i] = byte(i % 251)
	}
	err := tr.WriteRegister(ctrl.SpaceWaveRAM, 0x2000, want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := tr.ReadRegister(ctrl.SpaceWaveRAM, 0x2000, len(want))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("invalid read-back of large transfer")
	}
	b.mu.Lock()
	size := b.maxSize
	b.mu.Unlock()
	if size > MaxTransferSize {
		t.Fatalf("request payload too large: %d > %d", size, MaxTransferSize)
	}
}

func TestUDPUnaligned(t *testing.T) {
	tr, b := dialBoard(t)

	base := make([]byte, 64)
	for i := range base {
		base[i] = 0xaa
	}
	err := tr.WriteRegister(ctrl.SpaceWaveRAM, 0, base)
	if err != nil {
		t.Fatal(err)
	}

	// a single register in the wave RAM.
	err = tr.WriteRegister(ctrl.SpaceWaveRAM, 36, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	for _, req := range b.requests() {
		if req.Mode != wire.ModeWaveRAMWrite && req.Mode != wire.ModeWaveRAMRead {
			continue
		}
		if req.Addr%hw.WaveRAMWordSize != 0 || int(req.NumBytes)%hw.WaveRAMWordSize != 0 {
			t.Fatalf("unaligned wave RAM request: %v addr=0x%x n=%d", req.Mode, req.Addr, req.NumBytes)
		}
	}

	got, err := tr.ReadRegister(ctrl.SpaceWaveRAM, 30, 12)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 1, 2, 3, 4, 0xaa, 0xaa}
	if !bytes.Equal(got, want) {
		t.Fatalf("invalid read-back:\ngot= %x\nwant=%x", got, want)
	}
}

func TestUDPCommands(t *testing.T) {
	tr, b := dialBoard(t)

	const n = 200
	frames := make([]byte, n*hw.CmdSize)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(frames[i*hw.CmdSize+1:], uint16(i))
	}
	err := tr.SendCommandFrame(frames)
	if err != nil {
		t.Fatal(err)
	}

	b.mu.Lock()
	got := append([]byte(nil), b.cmds...)
	b.mu.Unlock()
	if !bytes.Equal(got, frames) {
		t.Fatalf("invalid command frames received")
	}

	var npkts int
	for _, req := range b.requests() {
		if req.Mode != wire.ModeSeqCmdWrite {
			continue
		}
		npkts++
		if len(req.Payload) > wire.MaxPayloadSize {
			t.Fatalf("command packet too large: %d bytes", len(req.Payload))
		}
		cnt := binary.LittleEndian.Uint64(req.Payload[:8])
		if int(cnt)*hw.CmdSize != len(req.Payload)-8 {
			t.Fatalf("invalid command count %d for %d bytes", cnt, len(req.Payload)-8)
		}
	}
	if want := 3; npkts != want {
		t.Fatalf("invalid number of command packets: got=%d, want=%d", npkts, want)
	}

	err = tr.SendCommandFrame(frames[:10])
	if !errors.Is(err, hw.ErrFormat) {
		t.Fatalf("invalid error: got=%v, want=%v", err, hw.ErrFormat)
	}
}

func TestUDPReports(t *testing.T) {
	tr, _ := dialBoard(t)

	conn, err := net.DialUDP("udp4", nil, tr.ReportAddr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	reps := make([]byte, 3*hw.CmdErrReportSize)
	for i := range reps {
		reps[i] = byte(i)
	}
	for _, p := range [][]byte{reps[:hw.CmdErrReportSize], reps[hw.CmdErrReportSize:]} {
		payload := wire.CmdWritePayload(len(p)/hw.CmdErrReportSize, p)
		raw, err := wire.Packet{
			Mode:     wire.ModeSeqCmdErrReport,
			NumBytes: uint16(len(payload)),
			Payload:  payload,
		}.Encode()
		if err != nil {
			t.Fatal(err)
		}
		_, err = conn.Write(raw)
		if err != nil {
			t.Fatal(err)
		}
	}

	var got []byte
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < len(reps) && time.Now().Before(deadline) {
		p, err := tr.DrainReports()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, p...)
		time.Sleep(time.Millisecond)
	}
	if !bytes.Equal(got, reps) {
		t.Fatalf("invalid reports:\ngot= %x\nwant=%x", got, reps)
	}
}

func TestUDPTimeout(t *testing.T) {
	tr, b := dialBoard(t, WithTimeout(20*time.Millisecond))
	b.mu.Lock()
	b.mute = true
	b.mu.Unlock()

	_, err := tr.ReadRegister(ctrl.SpaceAWG, 0, 4)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("invalid error: got=%v, want=%v", err, os.ErrDeadlineExceeded)
	}
	_, err = tr.ReadRegister(ctrl.SpaceSequencer, 0, 4)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("invalid error: got=%v, want=%v", err, os.ErrDeadlineExceeded)
	}
}

func TestUDPCoordinator(t *testing.T) {
	tr, b := dialBoard(t)
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], uint32('K')<<24|24<<16|3<<12|15<<4|2)
	b.mu.Lock()
	mem := b.space(wire.ModeSeqRegRead)
	for i, v := range raw {
		mem[hw.SeqAddr+hw.SeqVersion+uint64(i)] = v
	}
	b.mu.Unlock()

	c, err := ctrl.New(tr,
		ctrl.WithLockDir(t.TempDir(), "board"),
		ctrl.WithLogger(log.New(io.Discard, "", 0)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	vs, err := c.Versions()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := vs.Sequencer, "K:2024/03/15-2"; got != want {
		t.Fatalf("invalid sequencer version: got=%q, want=%q", got, want)
	}
}

func TestSpan(t *testing.T) {
	for _, tc := range []struct {
		addr     uint64
		n, align int
		beg, end uint64
	}{
		{0, 4, 4, 0, 4},
		{2, 4, 4, 0, 8},
		{36, 4, 32, 32, 64},
		{64, 64, 32, 64, 128},
		{65, 0, 32, 64, 96},
	} {
		beg, end := span(tc.addr, tc.n, tc.align)
		if beg != tc.beg || end != tc.end {
			t.Fatalf("span(%d, %d, %d): got=[%d, %d), want=[%d, %d)",
				tc.addr, tc.n, tc.align, beg, end, tc.beg, tc.end,
			)
		}
	}
}
