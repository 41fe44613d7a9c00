// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server exposes board coordinators over a JSON-over-TCP
// control protocol.
//
// A request is a JSON object {"name": ..., "args": ...}. The server
// answers each request with {"msg": "ok", "data": ...} or, on failure,
// with {"msg": <error>, "code": <error kind>}.
//
// A connection first binds itself to a board with the "open" request.
// All the connections opened on the same board share its coordinator.
package server // import "github.com/go-lpc/e7awg/server"

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/go-lpc/e7awg/ctrl"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Opener creates the coordinator of a board.
// The returned closer, if any, is called when the server is closed.
type Opener func(board string) (*ctrl.Coordinator, io.Closer, error)

type config struct {
	msg *log.Logger
}

// Option configures a server.
type Option func(*config)

// WithLogger sets the logger of the server.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

type board struct {
	c   *ctrl.Coordinator
	cls io.Closer
}

// Server serves board coordinators to remote clients.
type Server struct {
	ln   net.Listener
	msg  *log.Logger
	open Opener

	quit chan struct{}
	once sync.Once

	opening singleflight.Group // boards being opened

	mu     sync.Mutex
	boards map[string]board
	conns  map[net.Conn]string // board bound to each connection
}

// New creates a server listening on the provided TCP address.
func New(addr string, open Opener, opts ...Option) (*Server, error) {
	cfg := config{
		msg: log.New(os.Stdout, "server: ", 0),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: could not listen on %q: %w", addr, err)
	}

	srv := &Server{
		ln:     ln,
		msg:    cfg.msg,
		open:   open,
		quit:   make(chan struct{}),
		boards: make(map[string]board),
		conns:  make(map[net.Conn]string),
	}
	return srv, nil
}

// Addr returns the address the server listens on.
func (srv *Server) Addr() net.Addr {
	return srv.ln.Addr()
}

// Serve accepts and serves connections until ctx is done or the server
// is closed.
func (srv *Server) Serve(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		select {
		case <-ctx.Done():
		case <-srv.quit:
		}
		srv.shutdown()
		return nil
	})
	grp.Go(func() error {
		for {
			conn, err := srv.ln.Accept()
			if err != nil {
				select {
				case <-srv.quit:
					return nil
				case <-ctx.Done():
					return nil
				default:
				}
				return fmt.Errorf("server: could not accept connection: %w", err)
			}
			grp.Go(func() error {
				srv.handle(ctx, conn)
				return nil
			})
		}
	})
	return grp.Wait()
}

// Close stops the server and closes the boards it opened.
func (srv *Server) Close() error {
	srv.once.Do(func() { close(srv.quit) })
	srv.shutdown()

	srv.mu.Lock()
	defer srv.mu.Unlock()

	var err error
	for name, brd := range srv.boards {
		if e := brd.c.Close(); e != nil && err == nil {
			err = fmt.Errorf("server: could not close coordinator of board %q: %w", name, e)
		}
		if brd.cls == nil {
			continue
		}
		if e := brd.cls.Close(); e != nil && err == nil {
			err = fmt.Errorf("server: could not close board %q: %w", name, e)
		}
	}
	srv.boards = make(map[string]board)
	return err
}

func (srv *Server) shutdown() {
	_ = srv.ln.Close()

	srv.mu.Lock()
	defer srv.mu.Unlock()
	for conn := range srv.conns {
		_ = conn.Close()
	}
}

// Boards returns the names of the boards opened by clients.
func (srv *Server) Boards() []string {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	names := make([]string, 0, len(srv.boards))
	for name := range srv.boards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Coordinator returns the coordinator of an opened board.
func (srv *Server) Coordinator(name string) (*ctrl.Coordinator, bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	brd, ok := srv.boards[name]
	return brd.c, ok
}

// bind binds conn to the named board, opening it on first use.
// Boards are opened without holding srv.mu, so that a slow board does
// not stall the other connections.
func (srv *Server) bind(conn net.Conn, name string) error {
	_, err, _ := srv.opening.Do(name, func() (interface{}, error) {
		srv.mu.Lock()
		_, ok := srv.boards[name]
		srv.mu.Unlock()
		if ok {
			return nil, nil
		}

		c, cls, err := srv.open(name)
		if err != nil {
			return nil, fmt.Errorf("server: could not open board %q: %w", name, err)
		}

		srv.mu.Lock()
		defer srv.mu.Unlock()
		select {
		case <-srv.quit:
			_ = c.Close()
			if cls != nil {
				_ = cls.Close()
			}
			return nil, fmt.Errorf("server: could not open board %q: %w", name, net.ErrClosed)
		default:
		}
		srv.boards[name] = board{c: c, cls: cls}
		return nil, nil
	})
	if err != nil {
		return err
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.conns[conn] = name
	return nil
}

func (srv *Server) coordinator(conn net.Conn) (*ctrl.Coordinator, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	name, ok := srv.conns[conn]
	if !ok || name == "" {
		return nil, fmt.Errorf("server: no board opened on this connection: %w", ErrNotOpen)
	}
	return srv.boards[name].c, nil
}

func (srv *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	srv.mu.Lock()
	srv.conns[conn] = ""
	srv.mu.Unlock()

	defer func() {
		srv.mu.Lock()
		delete(srv.conns, conn)
		srv.mu.Unlock()
	}()

	var (
		dec = json.NewDecoder(conn)
		enc = json.NewEncoder(conn)
	)
	for {
		var req Request
		err := dec.Decode(&req)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			srv.msg.Printf("could not decode request: %+v", err)
			srv.reply(enc, nil, err)
			return
		}

		name := strings.ToLower(req.Name)
		data, err := srv.dispatch(ctx, conn, name, req.Args)
		if err != nil {
			srv.msg.Printf("could not run %q: %+v", name, err)
		}
		srv.reply(enc, data, err)
	}
}

func (srv *Server) dispatch(ctx context.Context, conn net.Conn, name string, raw json.RawMessage) (interface{}, error) {
	var args Args
	if len(raw) != 0 && string(raw) != "null" {
		err := json.Unmarshal(raw, &args)
		if err != nil {
			return nil, fmt.Errorf("server: could not decode %q arguments: %w", name, err)
		}
	}

	if name == "open" {
		if args.Board == "" {
			return nil, fmt.Errorf("server: missing board name: %w", ErrRequest)
		}
		return nil, srv.bind(conn, args.Board)
	}

	if h, ok := helpers[name]; ok {
		return h(args)
	}

	h, ok := handlers[name]
	if !ok {
		return nil, fmt.Errorf("server: unknown request %q: %w", name, ErrRequest)
	}
	c, err := srv.coordinator(conn)
	if err != nil {
		return nil, err
	}
	return h(ctx, c, args)
}

func (srv *Server) reply(enc *json.Encoder, data interface{}, err error) {
	rep := Reply{Msg: "ok"}
	switch err {
	case nil:
		if data != nil {
			raw, err := json.Marshal(data)
			if err != nil {
				rep.Msg = fmt.Sprintf("server: could not encode reply: %+v", err)
				rep.Code = codeOf(err)
				break
			}
			rep.Data = raw
		}
	default:
		rep.Msg = err.Error()
		rep.Code = codeOf(err)
	}

	err = enc.Encode(rep)
	if err != nil {
		srv.msg.Printf("could not send reply: %+v", err)
	}
}
