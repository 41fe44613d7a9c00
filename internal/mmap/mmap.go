// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides memory-mapped windows onto the register and
// memory spaces of an e7awg board.
package mmap // import "github.com/go-lpc/e7awg/internal/mmap"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is a memory-mapped window.
// Handle is safe for concurrent use.
type Handle struct {
	mu    sync.RWMutex
	data  []byte
	unmap bool // whether data was obtained from mmap(2)
}

// HandleFrom returns a window over the provided bytes.
func HandleFrom(data []byte) *Handle {
	return &Handle{data: data}
}

// Open maps size bytes of the named file, starting at offset.
// The file is typically /dev/mem or a /dev/uio device.
func Open(fname string, offset int64, size int) (*Handle, error) {
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not open %q: %w", fname, err)
	}
	defer f.Close()

	data, err := unix.Mmap(
		int(f.Fd()), offset, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not map %q (off=0x%x, size=%d): %w", fname, offset, size, err)
	}
	return newHandle(data), nil
}

// Anon returns a zeroed anonymous mapping of size bytes.
func Anon(size int) (*Handle, error) {
	data, err := unix.Mmap(
		-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not create anonymous mapping (size=%d): %w", size, err)
	}
	return newHandle(data), nil
}

func newHandle(data []byte) *Handle {
	h := &Handle{data: data, unmap: true}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h
}

// Close closes the mmap handle.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	if !h.unmap {
		return nil
	}
	runtime.SetFinalizer(h, nil)

	return unix.Munmap(data)
}

// Len returns the length of the window.
func (h *Handle) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.data)
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid WriteAt offset %d", off)
	}
	n := copy(h.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Uint32At returns the little-endian 32b register at offset off.
func (h *Handle) Uint32At(off int64) (uint32, error) {
	var p [4]byte
	_, err := h.ReadAt(p[:], off)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p[:]), nil
}

// PutUint32At writes v as a little-endian 32b register at offset off.
func (h *Handle) PutUint32At(off int64, v uint32) error {
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], v)
	_, err := h.WriteAt(p[:], off)
	return err
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
