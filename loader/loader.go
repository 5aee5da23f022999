// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package loader places kernel images in the kernel CPU payload region and
// resolves their entry points.
package loader

import (
	"fmt"
	"log"
	"sync"

	"github.com/usbarmory/kloader/mem"
)

// Loader represents the owner of the kernel CPU payload region.
type Loader struct {
	sync.Mutex

	layout *mem.Layout
	memory mem.Memory

	image *Image
	// set when a failed write clobbered the resident image
	stale bool
}

// New returns a loader for the given layout and memory backend.
func New(layout *mem.Layout, memory mem.Memory) *Loader {
	return &Loader{
		layout: layout,
		memory: memory,
	}
}

// Layout returns the loader memory layout.
func (l *Loader) Layout() *mem.Layout {
	return l.layout
}

// Load parses a kernel image and writes it right after the reserved header
// span of the payload region. On success the new image replaces the resident
// one, on failure the resident image remains authoritative.
func (l *Loader) Load(blob []byte) (img *Image, err error) {
	l.Lock()
	defer l.Unlock()

	region := l.layout.Load()

	if uint64(len(blob)) > uint64(region.Size()) {
		return nil, fmt.Errorf("%w (%d > %d)", ErrImageTooLarge, len(blob), region.Size())
	}

	if img, err = Parse(blob, region); err != nil {
		return nil, err
	}

	if err = l.write(img); err != nil {
		l.stale = l.image != nil
		return nil, err
	}

	l.image = img
	l.stale = false

	log.Printf("kloader loaded image addr:%#x size:%d entries:%v", img.Base, len(img.Code), img.Names())

	return
}

func (l *Loader) write(img *Image) (err error) {
	addr, err := l.layout.ValidateRange(img.Base, uint32(len(img.Code)), false)

	if err != nil {
		return fmt.Errorf("%w: %w", ErrImageTooLarge, err)
	}

	if err = l.memory.Write(addr, img.Code); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	return
}

// Restore rewrites the resident image if a failed load clobbered it.
func (l *Loader) Restore() (err error) {
	l.Lock()
	defer l.Unlock()

	if !l.stale || l.image == nil {
		return
	}

	log.Printf("kloader restoring image addr:%#x size:%d", l.image.Base, len(l.image.Code))

	if err = l.write(l.image); err != nil {
		return
	}

	l.stale = false

	return
}

// Stale returns whether the resident image needs to be restored.
func (l *Loader) Stale() bool {
	l.Lock()
	defer l.Unlock()

	return l.stale
}

// Image returns the resident image, nil if none was loaded.
func (l *Loader) Image() *Image {
	l.Lock()
	defer l.Unlock()

	return l.image
}

// Resolve returns the address of the named entry point in the resident
// image.
func (l *Loader) Resolve(name string) (addr mem.Addr, err error) {
	l.Lock()
	defer l.Unlock()

	if l.image == nil {
		return mem.Addr{}, fmt.Errorf("%w (%s), no image loaded", ErrNoSuchKernel, name)
	}

	off, ok := l.image.Entries[name]

	if !ok {
		return mem.Addr{}, fmt.Errorf("%w (%s)", ErrNoSuchKernel, name)
	}

	return l.layout.Offset(l.image.Base, off)
}
