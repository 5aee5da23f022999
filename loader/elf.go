// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package loader

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/usbarmory/kloader/mem"
)

func isELF(blob []byte) bool {
	return len(blob) >= len(elf.ELFMAG) && string(blob[:len(elf.ELFMAG)]) == elf.ELFMAG
}

// parseELF flattens the loadable segments of a pre-relocated ELF image, all
// of which must lie within the region, and exports its global functions as
// entry points.
func parseELF(blob []byte, region mem.Region) (img *Image, err error) {
	f, err := elf.NewFile(bytes.NewReader(blob))

	if err != nil {
		return nil, fmt.Errorf("%w, %v", ErrMalformedHeader, err)
	}

	var end uint64

	for _, prg := range f.Progs {
		if prg.Type != elf.PT_LOAD {
			continue
		}

		if prg.Vaddr < uint64(region.Base) || prg.Filesz > prg.Memsz {
			return nil, fmt.Errorf("%w, segment at %#x outside of payload", ErrMalformedHeader, prg.Vaddr)
		}

		if prg.Vaddr+prg.Memsz > uint64(region.Limit) {
			return nil, fmt.Errorf("%w, segment at %#x+%d", ErrImageTooLarge, prg.Vaddr, prg.Memsz)
		}

		if e := prg.Vaddr + prg.Memsz; e > end {
			end = e
		}
	}

	if end == 0 {
		return nil, fmt.Errorf("%w, no loadable segments", ErrMalformedHeader)
	}

	code := make([]byte, end-uint64(region.Base))

	for idx, prg := range f.Progs {
		if prg.Type != elf.PT_LOAD || prg.Filesz == 0 {
			continue
		}

		off := prg.Vaddr - uint64(region.Base)

		if _, err = prg.ReadAt(code[off:off+prg.Filesz], 0); err != nil {
			return nil, fmt.Errorf("%w, could not read segment %d, %v", ErrMalformedHeader, idx, err)
		}
	}

	syms, err := f.Symbols()

	if err != nil {
		return nil, fmt.Errorf("%w, %v", ErrMalformedHeader, err)
	}

	entries := make(map[string]uint32)

	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || elf.ST_BIND(sym.Info) != elf.STB_GLOBAL {
			continue
		}

		if sym.Value < uint64(region.Base) || sym.Value >= end {
			return nil, fmt.Errorf("%w, symbol %s at %#x outside of image", ErrMalformedHeader, sym.Name, sym.Value)
		}

		entries[sym.Name] = uint32(sym.Value - uint64(region.Base))
	}

	return &Image{
		Base:    region.Base,
		Code:    code,
		Entries: entries,
		ELF:     true,
	}, nil
}
