// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package kcpu

import (
	"github.com/usbarmory/kloader/kmsg"
	"github.com/usbarmory/kloader/mem"
	"github.com/usbarmory/kloader/transport"
)

const maxBanner = 256

// Simulator represents a minimal kernel CPU, released through the mailbox,
// which requests the host time and logs the printable string found at its
// entry point.
type Simulator struct {
	Layout  *mem.Layout
	Memory  mem.Memory
	Mailbox *transport.Mailbox
}

// Run executes the simulated kernel CPU from entry.
func (s *Simulator) Run(entry mem.Addr) {
	s.Mailbox.Post(kmsg.Message{Kind: kmsg.KindNowInitRequest})

	// the bridge firmware is not simulated
	if !s.Layout.ContainsPayload(entry.Uint32()) {
		return
	}

	if n := s.banner(entry); n > 0 {
		s.Mailbox.Post(
			kmsg.Message{Kind: kmsg.KindLog, Payload: kmsg.Words(entry.Uint32(), n)},
			kmsg.Message{Kind: kmsg.KindLogFlush},
		)
	}
}

func (s *Simulator) banner(entry mem.Addr) uint32 {
	buf := make([]byte, maxBanner)

	if rem := s.Layout.LastAddress - entry.Uint32(); rem < maxBanner {
		buf = buf[:rem]
	}

	if err := s.Memory.Read(entry, buf); err != nil {
		return 0
	}

	for i, c := range buf {
		if c != '\n' && (c < 0x20 || c > 0x7e) {
			return uint32(i)
		}
	}

	return uint32(len(buf))
}
