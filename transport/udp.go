// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-lpc/e7awg/ctrl"
	"github.com/go-lpc/e7awg/hw"
	"github.com/go-lpc/e7awg/wire"
	"golang.org/x/time/rate"
)

const bufSize = 16384

// UDP is a transport to a board reached over UDP.
//
// The AWG, capture and wave RAM spaces each use their own socket.
// The sequencer sends every packet, including command error reports,
// to the address it was configured with: a single socket serves the
// sequencer and a goroutine dispatches what it receives.
type UDP struct {
	msg *log.Logger
	cfg config
	lim *rate.Limiter

	awg *endpoint
	cap *endpoint
	ram *endpoint

	seq struct {
		sync.Mutex // serializes sequencer requests
		conn       *net.UDPConn
		addr       *net.UDPAddr
		replies    chan wire.Packet
	}

	mu      sync.Mutex
	reports []byte

	quit chan struct{}
	done chan struct{}
}

// endpoint is a request/reply channel to one board service.
type endpoint struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	rd, wr  wire.Mode
	timeout time.Duration
	buf     []byte
}

// Dial connects to the board at host.
// Socket setup is retried until the dial timeout expires.
func Dial(host string, opts ...Option) (*UDP, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	tr := &UDP{
		msg:  cfg.msg,
		cfg:  cfg,
		lim:  rate.NewLimiter(cfg.limit, cfg.burst),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	tr.seq.replies = make(chan wire.Packet, 1)

	op := func() error {
		err := tr.open(host)
		if err != nil {
			tr.closeConns()
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = cfg.dial
	err := backoff.Retry(op, bo)
	if err != nil {
		return nil, fmt.Errorf("transport: could not dial board %q: %w", host, err)
	}

	go tr.recv()
	return tr, nil
}

func (tr *UDP) open(host string) error {
	var err error
	dial := func(port int, rd, wr wire.Mode) *endpoint {
		if err != nil {
			return nil
		}
		var raddr *net.UDPAddr
		raddr, err = net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return nil
		}
		var conn *net.UDPConn
		conn, err = net.DialUDP("udp4", nil, raddr)
		if err != nil {
			return nil
		}
		return &endpoint{
			conn:    conn,
			rd:      rd,
			wr:      wr,
			timeout: tr.cfg.timeout,
			buf:     make([]byte, bufSize),
		}
	}
	tr.awg = dial(tr.cfg.ports.AwgReg, wire.ModeAwgRegRead, wire.ModeAwgRegWrite)
	tr.cap = dial(tr.cfg.ports.CaptureReg, wire.ModeCaptureRegRead, wire.ModeCaptureRegWrite)
	tr.ram = dial(tr.cfg.ports.WaveRAM, wire.ModeWaveRAMRead, wire.ModeWaveRAMWrite)
	if err != nil {
		return err
	}

	tr.seq.addr, err = net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(tr.cfg.ports.Sequencer)))
	if err != nil {
		return err
	}
	// the sequencer replies on the interface used to reach the board.
	laddr := tr.awg.conn.LocalAddr().(*net.UDPAddr)
	tr.seq.conn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: laddr.IP})
	if err != nil {
		return err
	}
	return nil
}

func (tr *UDP) closeConns() error {
	var errs []error
	for _, ep := range []*endpoint{tr.awg, tr.cap, tr.ram} {
		if ep == nil {
			continue
		}
		errs = append(errs, ep.conn.Close())
	}
	if tr.seq.conn != nil {
		errs = append(errs, tr.seq.conn.Close())
	}
	tr.awg, tr.cap, tr.ram = nil, nil, nil
	tr.seq.conn = nil
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close closes the sockets of the transport and stops receiving
// error reports.
func (tr *UDP) Close() error {
	select {
	case <-tr.quit:
		return nil
	default:
	}
	close(tr.quit)
	conn := tr.seq.conn
	var err error
	for _, ep := range []*endpoint{tr.awg, tr.cap, tr.ram} {
		if e := ep.conn.Close(); e != nil && err == nil {
			err = e
		}
	}
	if e := conn.Close(); e != nil && err == nil {
		err = e
	}
	<-tr.done
	if err != nil {
		return fmt.Errorf("transport: could not close sockets: %w", err)
	}
	return nil
}

// ReportAddr returns the address receiving the packets of the sequencer.
func (tr *UDP) ReportAddr() *net.UDPAddr {
	return tr.seq.conn.LocalAddr().(*net.UDPAddr)
}

func (tr *UDP) recv() {
	defer close(tr.done)
	buf := make([]byte, bufSize)
	for {
		n, _, err := tr.seq.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-tr.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			tr.msg.Printf("could not receive sequencer packet: %+v", err)
			continue
		}
		pkt, err := wire.DecodePacket(buf[:n])
		if err != nil {
			tr.msg.Printf("could not decode sequencer packet: %+v", err)
			continue
		}

		switch pkt.Mode {
		case wire.ModeSeqCmdErrReport:
			reps, err := wire.CmdErrReports(pkt.Payload)
			if err != nil {
				tr.msg.Printf("invalid error report packet: %+v", err)
				continue
			}
			tr.mu.Lock()
			tr.reports = append(tr.reports, reps...)
			tr.mu.Unlock()
		default:
			pkt.Payload = append([]byte(nil), pkt.Payload...)
			select {
			case tr.seq.replies <- pkt:
			default:
				tr.msg.Printf("dropping unexpected %v packet (addr=0x%x)", pkt.Mode, pkt.Addr)
			}
		}
	}
}

// DrainReports returns the command error reports received since the
// last call.
func (tr *UDP) DrainReports() ([]byte, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	o := tr.reports
	tr.reports = nil
	return o, nil
}

func (tr *UDP) endpoint(sp ctrl.Space) *endpoint {
	switch sp {
	case ctrl.SpaceAWG:
		return tr.awg
	case ctrl.SpaceCapture:
		return tr.cap
	case ctrl.SpaceWaveRAM:
		return tr.ram
	}
	return nil
}

func (tr *UDP) ReadRegister(sp ctrl.Space, addr uint64, n int) ([]byte, error) {
	if err := checkSpace(sp); err != nil {
		return nil, err
	}
	beg, end := span(addr, n, align(sp))
	p := make([]byte, 0, end-beg)
	for cur := beg; cur < end; {
		size := int(end - cur)
		if size > MaxTransferSize {
			size = MaxTransferSize
		}
		chunk, err := tr.read(sp, cur, size)
		if err != nil {
			return nil, fmt.Errorf("transport: could not read %d bytes of %v at 0x%x: %w", n, sp, addr, err)
		}
		p = append(p, chunk...)
		cur += uint64(size)
	}
	off := addr - beg
	return p[off : off+uint64(n)], nil
}

func (tr *UDP) WriteRegister(sp ctrl.Space, addr uint64, p []byte) error {
	if err := checkSpace(sp); err != nil {
		return err
	}
	beg, end := span(addr, len(p), align(sp))
	if beg != addr || end != addr+uint64(len(p)) {
		// complete partial words with the current content.
		buf, err := tr.ReadRegister(sp, beg, int(end-beg))
		if err != nil {
			return err
		}
		copy(buf[addr-beg:], p)
		p = buf
	}
	for cur := 0; cur < len(p); {
		size := len(p) - cur
		if size > MaxTransferSize {
			size = MaxTransferSize
		}
		err := tr.write(sp, beg+uint64(cur), p[cur:cur+size])
		if err != nil {
			return fmt.Errorf("transport: could not write %d bytes of %v at 0x%x: %w", len(p), sp, addr, err)
		}
		cur += size
	}
	return nil
}

func (tr *UDP) read(sp ctrl.Space, addr uint64, n int) ([]byte, error) {
	err := tr.lim.Wait(context.Background())
	if err != nil {
		return nil, err
	}
	req := wire.Packet{Mode: wire.ModeSeqRegRead, Addr: addr, NumBytes: uint16(n)}
	if sp == ctrl.SpaceSequencer {
		rep, err := tr.seqRoundTrip(req, wire.ModeSeqRegReadReply)
		if err != nil {
			return nil, err
		}
		return rep.Payload, nil
	}
	ep := tr.endpoint(sp)
	req.Mode = ep.rd
	rep, err := ep.roundTrip(req, ep.rd+1)
	if err != nil {
		return nil, err
	}
	return rep.Payload, nil
}

func (tr *UDP) write(sp ctrl.Space, addr uint64, p []byte) error {
	err := tr.lim.Wait(context.Background())
	if err != nil {
		return err
	}
	req := wire.Packet{Mode: wire.ModeSeqRegWrite, Addr: addr, NumBytes: uint16(len(p)), Payload: p}
	if sp == ctrl.SpaceSequencer {
		_, err = tr.seqRoundTrip(req, wire.ModeSeqRegWriteAck)
		return err
	}
	ep := tr.endpoint(sp)
	req.Mode = ep.wr
	_, err = ep.roundTrip(req, ep.wr+1)
	return err
}

// SendCommandFrame sends sequencer command frames, packing as many
// commands as fit in each packet.
func (tr *UDP) SendCommandFrame(p []byte) error {
	if len(p)%hw.CmdSize != 0 {
		return fmt.Errorf("transport: invalid command frames size %d: %w", len(p), hw.ErrFormat)
	}
	const maxFrames = (wire.MaxPayloadSize - 8) / hw.CmdSize * hw.CmdSize
	for len(p) > 0 {
		n := len(p)
		if n > maxFrames {
			n = maxFrames
		}
		payload := wire.CmdWritePayload(n/hw.CmdSize, p[:n])
		req := wire.Packet{
			Mode:     wire.ModeSeqCmdWrite,
			NumBytes: uint16(len(payload)),
			Payload:  payload,
		}
		_, err := tr.seqRoundTrip(req, wire.ModeSeqCmdWriteAck)
		if err != nil {
			return fmt.Errorf("transport: could not send %d commands: %w", n/hw.CmdSize, err)
		}
		p = p[n:]
	}
	return nil
}

func (tr *UDP) seqRoundTrip(req wire.Packet, mode wire.Mode) (wire.Packet, error) {
	raw, err := req.Encode()
	if err != nil {
		return wire.Packet{}, err
	}

	tr.seq.Lock()
	defer tr.seq.Unlock()

	// discard replies to requests that timed out.
	select {
	case <-tr.seq.replies:
	default:
	}

	_, err = tr.seq.conn.WriteToUDP(raw, tr.seq.addr)
	if err != nil {
		return wire.Packet{}, fmt.Errorf("could not send %v request: %w", req.Mode, err)
	}

	tmr := time.NewTimer(tr.cfg.timeout)
	defer tmr.Stop()
	select {
	case rep := <-tr.seq.replies:
		return rep, checkReply(req, rep, mode)
	case <-tmr.C:
		return wire.Packet{}, fmt.Errorf("no reply to %v request (addr=0x%x): %w", req.Mode, req.Addr, os.ErrDeadlineExceeded)
	case <-tr.quit:
		return wire.Packet{}, net.ErrClosed
	}
}

func (ep *endpoint) roundTrip(req wire.Packet, mode wire.Mode) (wire.Packet, error) {
	raw, err := req.Encode()
	if err != nil {
		return wire.Packet{}, err
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	err = ep.conn.SetDeadline(time.Now().Add(ep.timeout))
	if err != nil {
		return wire.Packet{}, fmt.Errorf("could not set deadline: %w", err)
	}
	_, err = ep.conn.Write(raw)
	if err != nil {
		return wire.Packet{}, fmt.Errorf("could not send %v request: %w", req.Mode, err)
	}
	n, err := ep.conn.Read(ep.buf)
	if err != nil {
		return wire.Packet{}, fmt.Errorf("no reply to %v request (addr=0x%x): %w", req.Mode, req.Addr, err)
	}
	rep, err := wire.DecodePacket(ep.buf[:n])
	if err != nil {
		return wire.Packet{}, err
	}
	rep.Payload = append([]byte(nil), rep.Payload...)
	return rep, checkReply(req, rep, mode)
}

func checkReply(req, rep wire.Packet, mode wire.Mode) error {
	if rep.Mode != mode || rep.Addr != req.Addr || rep.NumBytes != req.NumBytes {
		return fmt.Errorf(
			"invalid reply to %v request (mode=%v, addr=0x%x, bytes=%d), got (mode=%v, addr=0x%x, bytes=%d): %w",
			req.Mode, mode, req.Addr, req.NumBytes,
			rep.Mode, rep.Addr, rep.NumBytes,
			hw.ErrFormat,
		)
	}
	return nil
}

var (
	_ ctrl.Transport    = (*UDP)(nil)
	_ ctrl.ReportRouter = (*UDP)(nil)
)
