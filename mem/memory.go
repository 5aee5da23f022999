// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnmapped is returned by memory backends for accesses outside of their
// window.
var ErrUnmapped = errors.New("address not mapped")

// Memory represents the kernel CPU memory as seen by the host, accesses are
// only possible through validated addresses.
type Memory interface {
	Read(addr Addr, buf []byte) error
	Write(addr Addr, buf []byte) error
}

const pageSize = 4096

// Buffer is a sparse, page granular, in-process kernel CPU memory.
type Buffer struct {
	sync.RWMutex
	pages map[uint32][]byte
}

// NewBuffer returns an empty memory buffer, unwritten memory reads as zero.
func NewBuffer() *Buffer {
	return &Buffer{
		pages: make(map[uint32][]byte),
	}
}

func (b *Buffer) access(addr Addr, buf []byte, write bool) error {
	if !addr.valid {
		return fmt.Errorf("%w (%s)", ErrOutOfRange, addr)
	}

	if uint64(addr.addr)+uint64(len(buf)) > 1<<32 {
		return fmt.Errorf("%w (%s+%d)", ErrUnmapped, addr, len(buf))
	}

	a := addr.addr

	for len(buf) > 0 {
		base := a &^ (pageSize - 1)
		off := a - base
		page, ok := b.pages[base]

		if !ok && write {
			page = make([]byte, pageSize)
			b.pages[base] = page
		}

		var n int

		switch {
		case write:
			n = copy(page[off:], buf)
		case ok:
			n = copy(buf, page[off:])
		default:
			n = len(buf)

			if rem := int(pageSize - off); n > rem {
				n = rem
			}

			clear(buf[:n])
		}

		buf = buf[n:]
		a += uint32(n)
	}

	return nil
}

// Read copies kernel CPU memory starting at addr into buf.
func (b *Buffer) Read(addr Addr, buf []byte) error {
	b.RLock()
	defer b.RUnlock()

	return b.access(addr, buf, false)
}

// Write copies buf into kernel CPU memory starting at addr.
func (b *Buffer) Write(addr Addr, buf []byte) error {
	b.Lock()
	defer b.Unlock()

	return b.access(addr, buf, true)
}
