// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned for kernel CPU addresses outside of the permitted
// regions, it must be treated as fatal to the current kernel session.
var ErrOutOfRange = errors.New("address out of range")

// Addr represents a kernel CPU address which passed validation, its zero
// value is not a valid address.
type Addr struct {
	addr  uint32
	valid bool
}

// Uint32 returns the raw address value.
func (a Addr) Uint32() uint32 {
	return a.addr
}

// Valid returns whether the address was produced by validation.
func (a Addr) Valid() bool {
	return a.valid
}

func (a Addr) String() string {
	if !a.valid {
		return "invalid"
	}

	return fmt.Sprintf("%#.8x", a.addr)
}

// Validate checks an address received from the kernel CPU, it succeeds only
// for payload region addresses or, when exec is set, for executable region
// addresses.
func (l *Layout) Validate(addr uint32, exec bool) (Addr, error) {
	if l.ContainsPayload(addr) || (exec && l.ContainsExecutable(addr)) {
		return Addr{addr: addr, valid: true}, nil
	}

	return Addr{}, fmt.Errorf("%w (%#.8x)", ErrOutOfRange, addr)
}

// ValidateRange checks that the whole span [addr, addr+size) lies within a
// single permitted region.
func (l *Layout) ValidateRange(addr uint32, size uint32, exec bool) (Addr, error) {
	if size == 0 {
		return l.Validate(addr, exec)
	}

	end := addr + size

	if end < addr {
		return Addr{}, fmt.Errorf("%w (%#.8x+%d)", ErrOutOfRange, addr, size)
	}

	for _, r := range l.regions(exec) {
		if r.Contains(addr) && end <= r.Limit {
			return Addr{addr: addr, valid: true}, nil
		}
	}

	return Addr{}, fmt.Errorf("%w (%#.8x+%d)", ErrOutOfRange, addr, size)
}

// Offset validates the address off bytes after base, within the payload
// region.
func (l *Layout) Offset(base uint32, off uint32) (Addr, error) {
	if base+off < base {
		return Addr{}, fmt.Errorf("%w (%#.8x+%#x)", ErrOutOfRange, base, off)
	}

	return l.Validate(base+off, false)
}

func (l *Layout) regions(exec bool) []Region {
	if exec {
		return []Region{l.Payload(), l.Executable()}
	}

	return []Region{l.Payload()}
}
