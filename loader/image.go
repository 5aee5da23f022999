// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package loader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/usbarmory/kloader/mem"
)

// Kernel image table format (little endian):
//
//	magic   [4]byte "KIMG"
//	version uint16
//	count   uint16
//	count * { length uint8, name [length]byte, offset uint32 }
//	code    []byte
//
// Entry offsets are relative to the first code byte.
const (
	Magic   = "KIMG"
	Version = 1

	headerLen = 8
	entryLen  = 1 + 4
)

var (
	ErrImageTooLarge   = errors.New("image too large")
	ErrMalformedHeader = errors.New("malformed image header")
	ErrWriteFailed     = errors.New("image write failed")
	ErrNoSuchKernel    = errors.New("no such kernel")
)

// Image represents a kernel image resident in the payload region, it must
// not be modified once returned by the loader.
type Image struct {
	// Base is the kernel CPU address of the first code byte
	Base uint32
	// Code is the payload written to the kernel CPU
	Code []byte
	// Entries maps kernel names to code offsets
	Entries map[string]uint32
	// ELF is set for images parsed from ELF files
	ELF bool
}

// Names returns the sorted entry point names.
func (img *Image) Names() (names []string) {
	for name := range img.Entries {
		names = append(names, name)
	}

	sort.Strings(names)

	return
}

// Lookup returns the entry point which most closely precedes addr, and the
// distance from it.
func (img *Image) Lookup(addr uint32) (name string, off uint32, ok bool) {
	if addr < img.Base || addr-img.Base >= uint32(len(img.Code)) {
		return
	}

	rel := addr - img.Base

	for n, o := range img.Entries {
		if o > rel {
			continue
		}

		if !ok || o > rel-off || (o == rel-off && n < name) {
			name = n
			off = rel - o
			ok = true
		}
	}

	return
}

// Encode returns a table image with the given entry points and code.
func Encode(entries map[string]uint32, code []byte) ([]byte, error) {
	if len(entries) > 0xffff {
		return nil, fmt.Errorf("%w, too many entries", ErrMalformedHeader)
	}

	buf := new(bytes.Buffer)
	buf.WriteString(Magic)

	binary.Write(buf, binary.LittleEndian, uint16(Version))
	binary.Write(buf, binary.LittleEndian, uint16(len(entries)))

	img := &Image{Entries: entries}

	for _, name := range img.Names() {
		off := entries[name]

		if len(name) == 0 || len(name) > 0xff {
			return nil, fmt.Errorf("%w, invalid name %q", ErrMalformedHeader, name)
		}

		if int(off) >= len(code) {
			return nil, fmt.Errorf("%w, %s offset %#x outside of code", ErrMalformedHeader, name, off)
		}

		buf.WriteByte(byte(len(name)))
		buf.WriteString(name)
		binary.Write(buf, binary.LittleEndian, off)
	}

	buf.Write(code)

	return buf.Bytes(), nil
}

func parseTable(blob []byte) (entries map[string]uint32, code []byte, err error) {
	if len(blob) < headerLen || string(blob[0:4]) != Magic {
		return nil, nil, fmt.Errorf("%w, invalid magic", ErrMalformedHeader)
	}

	if v := binary.LittleEndian.Uint16(blob[4:6]); v != Version {
		return nil, nil, fmt.Errorf("%w, unsupported version %d", ErrMalformedHeader, v)
	}

	count := int(binary.LittleEndian.Uint16(blob[6:8]))
	entries = make(map[string]uint32, count)
	off := headerLen

	for i := 0; i < count; i++ {
		if off >= len(blob) {
			return nil, nil, fmt.Errorf("%w, truncated entry %d", ErrMalformedHeader, i)
		}

		n := int(blob[off])
		off += 1

		if n == 0 || off+n+4 > len(blob) {
			return nil, nil, fmt.Errorf("%w, truncated entry %d", ErrMalformedHeader, i)
		}

		name := string(blob[off : off+n])
		off += n

		if _, ok := entries[name]; ok {
			return nil, nil, fmt.Errorf("%w, duplicate entry %s", ErrMalformedHeader, name)
		}

		entries[name] = binary.LittleEndian.Uint32(blob[off : off+4])
		off += 4
	}

	code = blob[off:]

	for name, o := range entries {
		if int(o) >= len(code) {
			return nil, nil, fmt.Errorf("%w, %s offset %#x outside of code", ErrMalformedHeader, name, o)
		}
	}

	return
}

// Parse decodes a table or ELF kernel image, to be loaded in the given region.
func Parse(blob []byte, region mem.Region) (img *Image, err error) {
	if isELF(blob) {
		return parseELF(blob, region)
	}

	entries, code, err := parseTable(blob)

	if err != nil {
		return
	}

	if uint64(len(code)) > uint64(region.Size()) {
		return nil, fmt.Errorf("%w (%d > %d)", ErrImageTooLarge, len(code), region.Size())
	}

	return &Image{
		Base:    region.Base,
		Code:    append([]byte(nil), code...),
		Entries: entries,
	}, nil
}
