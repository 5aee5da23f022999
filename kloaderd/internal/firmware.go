// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package kcpu wires the kernel CPU loader, lifecycle controller and
// essential message service of the kloaderd daemon.
package kcpu

import (
	"errors"
	"fmt"
	"log"

	"github.com/usbarmory/kloader/clock"
	"github.com/usbarmory/kloader/config"
	"github.com/usbarmory/kloader/kloader"
	"github.com/usbarmory/kloader/kmsg"
	"github.com/usbarmory/kloader/loader"
	"github.com/usbarmory/kloader/mem"
	"github.com/usbarmory/kloader/store"
	"github.com/usbarmory/kloader/transport"
	"github.com/usbarmory/kloader/util"
)

// Firmware represents the host side of a kernel CPU.
type Firmware struct {
	Config *config.Config
	Layout *mem.Layout
	Memory mem.Memory

	Clock  *clock.Clock
	Driver *clock.Driver

	Mailbox    *transport.Mailbox
	Loader     *loader.Loader
	Controller *kloader.Controller
	Messages   *kmsg.Service
	Store      *store.Store
	Log        *util.KernelLog
}

// New returns the firmware described by conf, with a simulated kernel CPU
// attached to its mailbox.
func New(conf *config.Config) (fw *Firmware, err error) {
	layout, err := conf.MemoryLayout()

	if err != nil {
		return
	}

	memory, err := openMemory(conf, layout)

	if err != nil {
		return
	}

	fw = &Firmware{
		Config:  conf,
		Layout:  layout,
		Memory:  memory,
		Mailbox: &transport.Mailbox{},
		Log:     util.NewKernelLog(nil),
	}

	fw.Clock, fw.Driver = clock.New()

	if conf.Store.Dir != "" {
		if fw.Store, err = store.Open(conf.Store.Dir); err != nil {
			return nil, err
		}
	}

	fw.Loader = loader.New(layout, memory)

	fw.Messages = kmsg.NewService(fw.Mailbox, fw.Clock, layout, memory)
	fw.Messages.Log = fw.Log
	fw.Messages.Handler = fw.logHandler
	fw.Messages.PollInterval = conf.PollInterval()

	fw.Controller = kloader.New(fw.Loader, fw.Mailbox, fw.Clock)
	fw.Controller.Messages = fw.Messages

	if fw.Store != nil {
		fw.Controller.Images = fw.Store
	}

	sim := &Simulator{
		Layout:  layout,
		Memory:  memory,
		Mailbox: fw.Mailbox,
	}

	fw.Mailbox.OnJump = sim.Run

	return
}

func openMemory(conf *config.Config, layout *mem.Layout) (mem.Memory, error) {
	if conf.Memory.Path == "" {
		return mem.NewBuffer(), nil
	}

	base := conf.Memory.Base
	size := conf.Memory.Size

	if base == 0 {
		base = layout.ExecBase
	}

	if size == 0 {
		size = int(layout.LastAddress - base)
	}

	log.Printf("kloader mapping %s at %#.8x size:%#x", conf.Memory.Path, base, size)

	return mapMemory(conf.Memory.Path, base, size)
}

// Close stops the kernel CPU and releases the memory backend.
func (fw *Firmware) Close() (err error) {
	err = fw.Controller.Stop()

	if c, ok := fw.Memory.(interface{ Close() error }); ok {
		err = errors.Join(err, c.Close())
	}

	return
}

// LoadImage loads the named image from the image store.
func (fw *Firmware) LoadImage(name string) (img *loader.Image, err error) {
	if fw.Store == nil {
		return nil, errors.New("no image store")
	}

	blob, err := fw.Store.Get(name)

	if err != nil {
		return
	}

	return fw.Controller.Load(blob)
}

// logHandler reports kernel faults with the resident image symbol before
// deferring to the default essential message handler.
func (fw *Firmware) logHandler(s *kmsg.Service, m *kmsg.Message) (err error) {
	err = kmsg.DefaultHandler(s, m)

	var fault *kmsg.Fault

	if !errors.As(err, &fault) {
		return
	}

	where := fmt.Sprintf("%#.8x", fault.PC)

	if img := fw.Loader.Image(); img != nil {
		if name, off, ok := img.Lookup(fault.PC); ok {
			where = fmt.Sprintf("%s+%#x", name, off)
		}
	}

	log.Printf("kloader kernel fault at %s: %s", where, fault.Message)

	return
}
