// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package kmsg services the essential subset of kernel CPU messages, which
// must be handled even while the host is blocked on an unrelated operation.
package kmsg

import (
	"encoding/binary"
	"fmt"
)

// Kind represents a kernel CPU message type code.
type Kind int

// Essential message kinds.
const (
	KindNowInitRequest Kind = iota + 1
	KindNowInitReply
	KindLog
	KindLogFlush
	KindWatchdogSet
	KindWatchdogSetReply
	KindWatchdogClear
	KindException
)

// Ordinary message kinds, owned by the protocol layer above this package.
const (
	KindFinished Kind = iota + 0x10
	KindRPCRequest
	KindRPCReply
	KindUserLog
)

var kindNames = map[Kind]string{
	KindNowInitRequest:   "now_init_request",
	KindNowInitReply:     "now_init_reply",
	KindLog:              "log",
	KindLogFlush:         "log_flush",
	KindWatchdogSet:      "watchdog_set",
	KindWatchdogSetReply: "watchdog_set_reply",
	KindWatchdogClear:    "watchdog_clear",
	KindException:        "exception",
	KindFinished:         "finished",
	KindRPCRequest:       "rpc_request",
	KindRPCReply:         "rpc_reply",
	KindUserLog:          "user_log",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// IsEssential returns whether messages of the given kind must always be
// serviceable.
func IsEssential(k Kind) bool {
	switch k {
	case KindNowInitRequest, KindLog, KindLogFlush, KindWatchdogSet, KindWatchdogClear, KindException:
		return true
	default:
		return false
	}
}

// Message represents a message exchanged with the kernel CPU.
type Message struct {
	Kind    Kind
	Payload []byte
	// Stamp is the host timestamp at which the message was serviced
	Stamp int64
}

func (m *Message) String() string {
	return fmt.Sprintf("%s len:%d stamp:%d", m.Kind, len(m.Payload), m.Stamp)
}

// Channel represents the opaque message channel to the kernel CPU.
type Channel interface {
	// Take removes and returns, in arrival order, every queued message
	// whose kind matches, without waiting for new ones.
	Take(match func(Kind) bool) []Message
	// Send queues a message for the kernel CPU.
	Send(m Message) error
}

// Words encodes 32-bit little endian payload words.
func Words(v ...uint32) []byte {
	buf := make([]byte, 4*len(v))

	for i, w := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}

	return buf
}

func words(m *Message, n int) ([]uint32, error) {
	if len(m.Payload) != 4*n {
		return nil, fmt.Errorf("%w (%s)", ErrMalformedMessage, m)
	}

	v := make([]uint32, n)

	for i := range v {
		v[i] = binary.LittleEndian.Uint32(m.Payload[i*4:])
	}

	return v, nil
}
