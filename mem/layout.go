// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mem describes the kernel CPU address space and validates every
// address value received from it before the host acts on it.
package mem

import (
	"errors"
	"fmt"
)

// Default kernel CPU memory layout.
const (
	// Kernel support runtime (and bridge) entry
	ExecStart = 0x40400000

	// Kernel image payload
	PayloadStart = 0x40420000

	// Last valid kernel CPU address, the top 1MB is reserved
	LastAddress = 0x4fffffff - 0x00100000

	// Payload span owned by the resident kernel support runtime
	HeaderSize = 0x80
)

// ErrInvalidLayout is returned when a layout violates its region invariants.
var ErrInvalidLayout = errors.New("invalid memory layout")

// Region represents the address range [Base, Limit).
type Region struct {
	Base  uint32
	Limit uint32
}

// Contains returns whether addr falls within the region.
func (r Region) Contains(addr uint32) bool {
	return addr >= r.Base && addr < r.Limit
}

// Size returns the region length in bytes.
func (r Region) Size() uint32 {
	return r.Limit - r.Base
}

func (r Region) String() string {
	return fmt.Sprintf("%#.8x-%#.8x", r.Base, r.Limit)
}

// Layout represents the kernel CPU memory map, it is published once at
// initialization and must not be modified afterwards.
type Layout struct {
	// ExecBase is the start of the executable region
	ExecBase uint32
	// ExecSize is the executable region length
	ExecSize uint32
	// PayloadBase is the start of the payload region
	PayloadBase uint32
	// LastAddress is the (exclusive) end of the payload region
	LastAddress uint32
	// HeaderSize is the payload span reserved to the kernel support runtime
	HeaderSize uint32
}

// Default is the layout of the reference kernel CPU.
var Default = &Layout{
	ExecBase:    ExecStart,
	ExecSize:    PayloadStart - ExecStart,
	PayloadBase: PayloadStart,
	LastAddress: LastAddress,
	HeaderSize:  HeaderSize,
}

// NewLayout returns a validated layout, the executable region spans from
// exec to payload.
func NewLayout(exec, payload, last, header uint32) (l *Layout, err error) {
	l = &Layout{
		ExecBase:    exec,
		PayloadBase: payload,
		LastAddress: last,
		HeaderSize:  header,
	}

	if payload > exec {
		l.ExecSize = payload - exec
	}

	if err = l.Check(); err != nil {
		return nil, err
	}

	return
}

// Check verifies the region invariants.
func (l *Layout) Check() error {
	switch {
	case l.ExecSize == 0 || l.ExecBase+l.ExecSize < l.ExecBase:
		return fmt.Errorf("%w, empty executable region", ErrInvalidLayout)
	case l.PayloadBase >= l.LastAddress:
		return fmt.Errorf("%w, empty payload region", ErrInvalidLayout)
	case l.PayloadBase < l.ExecBase:
		return fmt.Errorf("%w, payload below executable region", ErrInvalidLayout)
	case l.HeaderSize >= l.LastAddress-l.PayloadBase:
		return fmt.Errorf("%w, header exceeds payload region", ErrInvalidLayout)
	}

	return nil
}

// Executable returns the region the kernel CPU may jump into.
func (l *Layout) Executable() Region {
	return Region{Base: l.ExecBase, Limit: l.ExecBase + l.ExecSize}
}

// Payload returns the region kernel images are loaded into.
func (l *Layout) Payload() Region {
	return Region{Base: l.PayloadBase, Limit: l.LastAddress}
}

// Header returns the reserved span at the start of the payload region.
func (l *Layout) Header() Region {
	return Region{Base: l.PayloadBase, Limit: l.PayloadBase + l.HeaderSize}
}

// Load returns the payload region available to kernel images.
func (l *Layout) Load() Region {
	return Region{Base: l.PayloadBase + l.HeaderSize, Limit: l.LastAddress}
}

// ContainsExecutable returns whether addr lies in the executable region.
func (l *Layout) ContainsExecutable(addr uint32) bool {
	return l.Executable().Contains(addr)
}

// ContainsPayload returns whether addr lies in the payload region.
func (l *Layout) ContainsPayload(addr uint32) bool {
	return l.Payload().Contains(addr)
}

func (l *Layout) String() string {
	return fmt.Sprintf("exec:%s payload:%s header:%#x", l.Executable(), l.Payload(), l.HeaderSize)
}
