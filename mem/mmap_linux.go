// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build linux
// +build linux

package mem

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Mapped is a kernel CPU memory window shared through a memory mapped file
// (e.g. a UIO device or a shared memory object).
type Mapped struct {
	sync.Mutex

	base uint32
	data []byte
}

// Map maps size bytes of f, starting at the file offset, as the kernel CPU
// memory window starting at base.
func Map(f *os.File, offset int64, base uint32, size int) (m *Mapped, err error) {
	if size <= 0 || uint64(base)+uint64(size) > 1<<32 {
		return nil, fmt.Errorf("invalid window %#x+%d", base, size)
	}

	data, err := unix.Mmap(int(f.Fd()), offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)

	if err != nil {
		return nil, fmt.Errorf("could not map %s, %w", f.Name(), err)
	}

	return &Mapped{
		base: base,
		data: data,
	}, nil
}

// MapFile opens (creating it if necessary) the file at path, sizes it to
// cover the window and maps it at base.
func MapFile(path string, base uint32, size int) (m *Mapped, err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)

	if err != nil {
		return
	}

	defer f.Close()

	fi, err := f.Stat()

	if err != nil {
		return
	}

	if fi.Mode().IsRegular() && fi.Size() < int64(size) {
		if err = f.Truncate(int64(size)); err != nil {
			return
		}
	}

	return Map(f, 0, base, size)
}

func (m *Mapped) window(addr Addr, n int) (off int, err error) {
	if !addr.valid {
		return 0, fmt.Errorf("%w (%s)", ErrOutOfRange, addr)
	}

	if addr.addr < m.base || uint64(addr.addr-m.base)+uint64(n) > uint64(len(m.data)) {
		return 0, fmt.Errorf("%w (%s+%d)", ErrUnmapped, addr, n)
	}

	return int(addr.addr - m.base), nil
}

// Read copies kernel CPU memory starting at addr into buf.
func (m *Mapped) Read(addr Addr, buf []byte) error {
	m.Lock()
	defer m.Unlock()

	off, err := m.window(addr, len(buf))

	if err != nil {
		return err
	}

	copy(buf, m.data[off:])

	return nil
}

// Write copies buf into kernel CPU memory starting at addr.
func (m *Mapped) Write(addr Addr, buf []byte) error {
	m.Lock()
	defer m.Unlock()

	off, err := m.window(addr, len(buf))

	if err != nil {
		return err
	}

	copy(m.data[off:], buf)

	return nil
}

// Close unmaps the window.
func (m *Mapped) Close() error {
	m.Lock()
	defer m.Unlock()

	if m.data == nil {
		return nil
	}

	err := unix.Munmap(m.data)
	m.data = nil

	return err
}
