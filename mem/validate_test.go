// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"errors"
	"math/rand"
	"testing"
)

func TestDefaultLayout(t *testing.T) {
	if err := Default.Check(); err != nil {
		t.Fatalf("Default.Check() = %v", err)
	}

	if got, want := Default.Executable(), (Region{Base: 0x40400000, Limit: 0x40420000}); got != want {
		t.Errorf("Executable() = %v, want %v", got, want)
	}

	if got, want := Default.Load().Base, uint32(0x40420080); got != want {
		t.Errorf("Load().Base = %#x, want %#x", got, want)
	}

	if got, want := Default.LastAddress, uint32(0x4fefffff); got != want {
		t.Errorf("LastAddress = %#x, want %#x", got, want)
	}
}

func TestNewLayout(t *testing.T) {
	for _, tc := range []struct {
		name    string
		exec    uint32
		payload uint32
		last    uint32
		header  uint32
		ok      bool
	}{
		{name: "default", exec: ExecStart, payload: PayloadStart, last: LastAddress, header: HeaderSize, ok: true},
		{name: "no exec region", exec: 0x1000, payload: 0x1000, last: 0x2000, header: 0x10},
		{name: "payload below exec", exec: 0x2000, payload: 0x1000, last: 0x3000, header: 0x10},
		{name: "empty payload", exec: 0x1000, payload: 0x2000, last: 0x2000, header: 0},
		{name: "header too large", exec: 0x1000, payload: 0x2000, last: 0x2100, header: 0x100},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l, err := NewLayout(tc.exec, tc.payload, tc.last, tc.header)

			if tc.ok {
				if err != nil {
					t.Fatalf("NewLayout() = %v", err)
				}

				if l.ExecSize != tc.payload-tc.exec {
					t.Errorf("ExecSize = %#x, want %#x", l.ExecSize, tc.payload-tc.exec)
				}

				return
			}

			if !errors.Is(err, ErrInvalidLayout) {
				t.Fatalf("NewLayout() = %v, want %v", err, ErrInvalidLayout)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	l := Default

	for _, tc := range []struct {
		addr uint32
		exec bool
		ok   bool
	}{
		{addr: 0, ok: false},
		{addr: ExecStart - 1, exec: true, ok: false},
		{addr: ExecStart, ok: false},
		{addr: ExecStart, exec: true, ok: true},
		{addr: PayloadStart - 1, exec: true, ok: true},
		{addr: PayloadStart - 1, ok: false},
		{addr: PayloadStart, ok: true},
		{addr: PayloadStart + HeaderSize, ok: true},
		{addr: LastAddress - 1, ok: true},
		{addr: LastAddress, ok: false},
		{addr: LastAddress, exec: true, ok: false},
		{addr: 0xffffffff, exec: true, ok: false},
	} {
		a, err := l.Validate(tc.addr, tc.exec)

		if tc.ok {
			if err != nil {
				t.Errorf("Validate(%#x, %v) = %v", tc.addr, tc.exec, err)
				continue
			}

			if !a.Valid() || a.Uint32() != tc.addr {
				t.Errorf("Validate(%#x, %v) = %v", tc.addr, tc.exec, a)
			}

			continue
		}

		if !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Validate(%#x, %v) = %v, want %v", tc.addr, tc.exec, err, ErrOutOfRange)
		}

		if a.Valid() {
			t.Errorf("Validate(%#x, %v) returned valid address on failure", tc.addr, tc.exec)
		}
	}
}

func TestValidateProperty(t *testing.T) {
	l := Default
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 100000; i++ {
		addr := r.Uint32()
		exec := r.Intn(2) == 0

		_, err := l.Validate(addr, exec)
		want := l.ContainsPayload(addr) || (exec && l.ContainsExecutable(addr))

		if (err == nil) != want {
			t.Fatalf("Validate(%#x, %v) = %v, want success %v", addr, exec, err, want)
		}

		if (addr < l.ExecBase || addr >= l.LastAddress) && err == nil {
			t.Fatalf("Validate(%#x, %v) accepted address outside of kernel CPU memory", addr, exec)
		}
	}
}

func TestValidateRange(t *testing.T) {
	l := Default

	for _, tc := range []struct {
		name string
		addr uint32
		size uint32
		exec bool
		ok   bool
	}{
		{name: "payload span", addr: PayloadStart, size: 64, ok: true},
		{name: "ends at last address", addr: LastAddress - 16, size: 16, ok: true},
		{name: "crosses last address", addr: LastAddress - 16, size: 17},
		{name: "overflow", addr: PayloadStart, size: 0xffffffff},
		{name: "exec span denied", addr: ExecStart, size: 4},
		{name: "exec span allowed", addr: ExecStart, size: 4, exec: true, ok: true},
		{name: "crosses exec into payload", addr: PayloadStart - 2, size: 4, exec: true},
		{name: "empty span", addr: PayloadStart, size: 0, ok: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.ValidateRange(tc.addr, tc.size, tc.exec)

			if tc.ok && err != nil {
				t.Fatalf("ValidateRange() = %v", err)
			}

			if !tc.ok && !errors.Is(err, ErrOutOfRange) {
				t.Fatalf("ValidateRange() = %v, want %v", err, ErrOutOfRange)
			}
		})
	}
}

func TestZeroAddrIsInvalid(t *testing.T) {
	var a Addr

	if a.Valid() {
		t.Fatalf("zero Addr is valid")
	}

	if err := NewBuffer().Read(a, make([]byte, 1)); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Read(zero Addr) = %v, want %v", err, ErrOutOfRange)
	}
}
