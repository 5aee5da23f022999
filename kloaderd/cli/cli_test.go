// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/usbarmory/kloader/loader"
	"github.com/usbarmory/kloader/mem"
	"github.com/usbarmory/kloader/store"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestPackInspect(t *testing.T) {
	dir := t.TempDir()

	idle := writeFile(t, dir, "idle.bin", bytes.Repeat([]byte{1}, 16))
	main := writeFile(t, dir, "main.bin", bytes.Repeat([]byte{2}, 8))

	blob, err := pack([]string{"idle=" + idle, "main=" + main})

	if err != nil {
		t.Fatalf("pack() = %v", err)
	}

	img, err := loader.Parse(blob, mem.Default.Load())

	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}

	if diff := cmp.Diff(map[string]uint32{"idle": 0, "main": 16}, img.Entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	var out bytes.Buffer

	if err = (&Inspect{}).inspect(&out, writeFile(t, dir, "demo.kimg", blob)); err != nil {
		t.Fatalf("inspect() = %v", err)
	}

	want := "table image base:0x40420080 size:24\n" +
		"idle             0x40420080\n" +
		"main             0x40420090\n"

	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("inspect() mismatch (-want +got):\n%s", diff)
	}
}

func TestPackInvalid(t *testing.T) {
	dir := t.TempDir()
	code := writeFile(t, dir, "k.bin", []byte{1})
	empty := writeFile(t, dir, "e.bin", nil)

	for _, args := range [][]string{
		{"nofile"},
		{"=" + code},
		{"a=" + code, "a=" + code},
		{"a=" + empty},
		{"a=" + filepath.Join(dir, "missing")},
	} {
		if _, err := pack(args); err == nil {
			t.Errorf("pack(%v) = nil", args)
		}
	}
}

func TestInspectTooLarge(t *testing.T) {
	dir := t.TempDir()
	conf := writeFile(t, dir, "kloader.toml", []byte("[layout]\nexec_start = 0x1000\npayload_start = 0x2000\nlast_address = 0x2100\nheader_size = 0x80\n"))

	blob, err := loader.Encode(map[string]uint32{"big": 0}, make([]byte, 0x100))

	if err != nil {
		t.Fatal(err)
	}

	err = (&Inspect{configPath: conf}).inspect(&bytes.Buffer{}, writeFile(t, dir, "big.kimg", blob))

	if !errors.Is(err, loader.ErrImageTooLarge) {
		t.Fatalf("inspect() = %v, want %v", err, loader.ErrImageTooLarge)
	}
}

func TestCheck(t *testing.T) {
	var out bytes.Buffer

	invalid, err := (&Check{}).check(&out, []string{"40420000", "0x40400000", "4fefffff"})

	if err != nil {
		t.Fatalf("check() = %v", err)
	}

	if invalid != 2 {
		t.Errorf("check() = %d invalid, want 2\n%s", invalid, out.String())
	}

	if !strings.HasPrefix(out.String(), "0x40420000 valid\n") {
		t.Errorf("check() output = %q", out.String())
	}

	if invalid, _ = (&Check{exec: true}).check(&out, []string{"40400000"}); invalid != 0 {
		t.Errorf("check(exec) = %d invalid, want 0", invalid)
	}

	if _, err = (&Check{}).check(&out, []string{"zz"}); err == nil {
		t.Errorf("check() of malformed address = nil")
	}
}

func TestServeMissingImage(t *testing.T) {
	dir := t.TempDir()
	conf := fmt.Sprintf("[console]\nlisten = \"\"\n\n[store]\ndir = %q\n", filepath.Join(dir, "images"))

	s := &Serve{
		configPath: writeFile(t, dir, "kloader.toml", []byte(conf)),
		load:       "missing",
	}

	if err := s.serve(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("serve() = %v, want %v", err, store.ErrNotFound)
	}
}
