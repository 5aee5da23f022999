// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package transport implements an in-process kernel CPU mailbox, providing
// both the message channel and the control transfer primitive.
package transport

import (
	"errors"
	"sync"

	"github.com/usbarmory/kloader/kmsg"
	"github.com/usbarmory/kloader/mem"
)

// ErrNotRunning is returned when messages are sent to a kernel CPU held in
// reset.
var ErrNotRunning = errors.New("kernel CPU not running")

// Mailbox represents the message queues and the control registers shared
// with the kernel CPU.
type Mailbox struct {
	sync.Mutex

	// JumpError, when set, fails control transfers
	JumpError error
	// ResetError, when set, is returned by Reset after resetting
	ResetError error
	// OnJump, when set, is invoked on every successful control transfer
	OnJump func(addr mem.Addr)

	inbox  []kmsg.Message
	outbox []kmsg.Message

	entry   mem.Addr
	running bool
	resets  int
}

// Post queues messages from the kernel CPU to the host.
func (mb *Mailbox) Post(m ...kmsg.Message) {
	mb.Lock()
	defer mb.Unlock()

	mb.inbox = append(mb.inbox, m...)
}

// Take removes and returns, in arrival order, every queued kernel CPU
// message whose kind matches.
func (mb *Mailbox) Take(match func(kmsg.Kind) bool) (taken []kmsg.Message) {
	mb.Lock()
	defer mb.Unlock()

	rest := mb.inbox[:0]

	for _, m := range mb.inbox {
		if match(m.Kind) {
			taken = append(taken, m)
		} else {
			rest = append(rest, m)
		}
	}

	clear(mb.inbox[len(rest):])
	mb.inbox = rest

	return
}

// Pending returns the number of queued kernel CPU messages.
func (mb *Mailbox) Pending() int {
	mb.Lock()
	defer mb.Unlock()

	return len(mb.inbox)
}

// Send queues a message for the kernel CPU.
func (mb *Mailbox) Send(m kmsg.Message) error {
	mb.Lock()
	defer mb.Unlock()

	if !mb.running {
		return ErrNotRunning
	}

	mb.outbox = append(mb.outbox, m)

	return nil
}

// Replies removes and returns the messages queued for the kernel CPU.
func (mb *Mailbox) Replies() (out []kmsg.Message) {
	mb.Lock()
	defer mb.Unlock()

	out = mb.outbox
	mb.outbox = nil

	return
}

// Jump releases the kernel CPU at addr.
func (mb *Mailbox) Jump(addr mem.Addr) error {
	mb.Lock()

	if mb.JumpError != nil {
		defer mb.Unlock()
		return mb.JumpError
	}

	mb.entry = addr
	mb.running = true
	hook := mb.OnJump

	mb.Unlock()

	if hook != nil {
		hook(addr)
	}

	return nil
}

// Reset holds the kernel CPU in reset and discards queued messages.
func (mb *Mailbox) Reset() error {
	mb.Lock()
	defer mb.Unlock()

	mb.entry = mem.Addr{}
	mb.running = false
	mb.inbox = nil
	mb.outbox = nil
	mb.resets++

	return mb.ResetError
}

// Entry returns the address of the last control transfer and whether the
// kernel CPU is running.
func (mb *Mailbox) Entry() (mem.Addr, bool) {
	mb.Lock()
	defer mb.Unlock()

	return mb.entry, mb.running
}

// Resets returns the number of kernel CPU resets.
func (mb *Mailbox) Resets() int {
	mb.Lock()
	defer mb.Unlock()

	return mb.resets
}
