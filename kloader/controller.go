// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package kloader implements the kernel CPU lifecycle controller, which
// serializes image loading with the start and stop of kernels.
package kloader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/usbarmory/kloader/clock"
	"github.com/usbarmory/kloader/kmsg"
	"github.com/usbarmory/kloader/loader"
	"github.com/usbarmory/kloader/mem"
)

// IdleKernel is the entry point name of the idle kernel.
const IdleKernel = "idle"

var (
	ErrAlreadyRunning = errors.New("kernel CPU already running")
	ErrSuperseded     = errors.New("start superseded by stop")
	ErrNoSuchKernel   = loader.ErrNoSuchKernel
)

// CPU represents the kernel CPU control transfer primitive.
type CPU interface {
	// Jump starts execution at a validated address.
	Jump(addr mem.Addr) error
	// Reset holds the kernel CPU in reset.
	Reset() error
}

// ImageSource supplies stored kernel images by name.
type ImageSource interface {
	Get(name string) ([]byte, error)
}

// Controller represents the kernel CPU lifecycle controller.
type Controller struct {
	sync.Mutex

	// Messages, when set, is the essential message service of the
	// kernel CPU, its watchdogs are disarmed on every stop
	Messages *kmsg.Service
	// Images, when set, supplies the idle kernel image when the resident
	// image lacks one
	Images ImageSource

	loader *loader.Loader
	cpu    CPU
	clock  clock.Reader

	stopGen atomic.Uint64
	status  Status
}

// New returns a controller in the Idle state.
func New(l *loader.Loader, cpu CPU, c clock.Reader) *Controller {
	return &Controller{
		loader: l,
		cpu:    cpu,
		clock:  c,
	}
}

// Loader returns the controlled loader.
func (c *Controller) Loader() *loader.Loader {
	return c.loader
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.Lock()
	defer c.Unlock()

	return c.status
}

func (c *Controller) transition(s Status) {
	s.Since = c.clock.Now()
	log.Printf("kloader %s -> %s", c.status.State, s)
	c.status = s
}

// Load places a kernel image in the payload region. Loading is not allowed
// while the kernel CPU is running.
func (c *Controller) Load(blob []byte) (img *loader.Image, err error) {
	c.Lock()
	defer c.Unlock()

	if c.status.State.Running() {
		return nil, fmt.Errorf("%w (%s), stop before loading", ErrAlreadyRunning, c.status.State)
	}

	return c.loader.Load(blob)
}

// Stop resets the kernel CPU and returns to Idle, it supersedes any start
// queued behind it. A reset error is returned for information only, the
// state is Idle regardless.
func (c *Controller) Stop() (err error) {
	c.stopGen.Add(1)

	c.Lock()
	defer c.Unlock()

	if err = c.cpu.Reset(); err != nil {
		log.Printf("kloader could not reset kernel CPU, %v", err)
	}

	if c.Messages != nil && c.Messages.Watchdogs != nil {
		c.Messages.Watchdogs.Reset()
	}

	if c.status.State != Idle {
		c.transition(Status{State: Idle})
	}

	return
}

// StartIdle starts the idle kernel, loading it from the image source when
// the resident image does not provide it.
func (c *Controller) StartIdle() error {
	gen := c.stopGen.Load()

	return c.start(gen, KernelRunning, IdleKernel, func() (addr mem.Addr, err error) {
		addr, err = c.loader.Resolve(IdleKernel)

		if !errors.Is(err, loader.ErrNoSuchKernel) || c.Images == nil {
			return
		}

		blob, err := c.Images.Get(IdleKernel)

		if err != nil {
			return mem.Addr{}, fmt.Errorf("%w (%s), %w", ErrNoSuchKernel, IdleKernel, err)
		}

		if _, err = c.loader.Load(blob); err != nil {
			return
		}

		return c.loader.Resolve(IdleKernel)
	})
}

// StartKernel starts the named kernel of the resident image.
func (c *Controller) StartKernel(name string) error {
	gen := c.stopGen.Load()

	return c.start(gen, KernelRunning, name, func() (mem.Addr, error) {
		return c.loader.Resolve(name)
	})
}

// StartBridge starts the bridge firmware at the base of the executable
// region.
func (c *Controller) StartBridge() error {
	gen := c.stopGen.Load()
	layout := c.loader.Layout()

	return c.start(gen, BridgeRunning, "", func() (mem.Addr, error) {
		return layout.Validate(layout.ExecBase, true)
	})
}

func (c *Controller) start(gen uint64, state State, name string, resolve func() (mem.Addr, error)) (err error) {
	c.Lock()
	defer c.Unlock()

	if c.stopGen.Load() != gen {
		return ErrSuperseded
	}

	if c.status.State.Running() {
		return fmt.Errorf("%w (%s)", ErrAlreadyRunning, c.status)
	}

	if err = c.loader.Restore(); err != nil {
		return
	}

	addr, err := resolve()

	if err != nil {
		return
	}

	if c.status.State == Halted {
		if err = c.cpu.Reset(); err != nil {
			return
		}
	}

	// a new session never inherits the watchdogs of a halted one
	if c.Messages != nil && c.Messages.Watchdogs != nil {
		c.Messages.Watchdogs.Reset()
	}

	log.Printf("kloader starting %s %s at %s", state, name, addr)

	if err = c.cpu.Jump(addr); err != nil {
		return
	}

	c.transition(Status{State: state, Kernel: name})

	return
}

// Halt ends the running session because of reason, it has no effect unless
// the kernel CPU is running.
func (c *Controller) Halt(reason error) {
	c.Lock()
	defer c.Unlock()

	if !c.status.State.Running() {
		return
	}

	c.transition(Status{State: Halted, Reason: reason})
}

// Validate checks a kernel supplied address, an out of range value halts
// the running session.
func (c *Controller) Validate(addr uint32, exec bool) (a mem.Addr, err error) {
	if a, err = c.loader.Layout().Validate(addr, exec); err != nil {
		c.Halt(err)
	}

	return
}

// ServiceEssential services pending essential messages, halting the running
// session on fatal errors.
func (c *Controller) ServiceEssential() (n int, err error) {
	if c.Messages == nil {
		return
	}

	if n, err = c.Messages.ServiceEssential(); kmsg.Fatal(err) {
		c.Halt(err)
	}

	return
}

// Wait blocks until poll reports completion while servicing essential
// messages, a fault or an expired watchdog halts the running session.
func (c *Controller) Wait(ctx context.Context, poll func() (bool, error)) (err error) {
	if c.Messages == nil {
		return errors.New("no message service")
	}

	if err = c.Messages.Wait(ctx, poll); kmsg.Fatal(err) {
		c.Halt(err)
	}

	return
}
