// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build linux
// +build linux

package mem

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernel.mem")
	size := 2 * pageSize

	m, err := MapFile(path, PayloadStart, size)

	if err != nil {
		t.Fatalf("MapFile() = %v", err)
	}

	data := []byte{0xde, 0xad, 0xbe, 0xef}
	addr, _ := Default.Validate(PayloadStart+HeaderSize, false)

	if err := m.Write(addr, data); err != nil {
		t.Fatalf("Write() = %v", err)
	}

	got := make([]byte, len(data))

	if err := m.Read(addr, got); err != nil {
		t.Fatalf("Read() = %v", err)
	}

	if diff := cmp.Diff(data, got); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}

	// outside of the mapped window, but still a valid payload address
	far, _ := Default.Validate(PayloadStart+uint32(size), false)

	if err := m.Write(far, data); !errors.Is(err, ErrUnmapped) {
		t.Errorf("Write() outside of window = %v, want %v", err, ErrUnmapped)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	raw, err := os.ReadFile(path)

	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(data, raw[HeaderSize:HeaderSize+len(data)]); diff != "" {
		t.Errorf("file contents mismatch (-want +got):\n%s", diff)
	}
}
