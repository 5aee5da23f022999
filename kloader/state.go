// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package kloader

import (
	"fmt"
)

// State represents the kernel CPU lifecycle state.
type State int

const (
	Idle State = iota
	BridgeRunning
	KernelRunning
	Halted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case BridgeRunning:
		return "bridge running"
	case KernelRunning:
		return "kernel running"
	case Halted:
		return "halted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Running returns whether the kernel CPU is executing host supplied code.
func (s State) Running() bool {
	return s == BridgeRunning || s == KernelRunning
}

// Status represents a lifecycle state snapshot.
type Status struct {
	State State
	// Kernel is the running kernel name (KernelRunning only)
	Kernel string
	// Reason is the error which halted the last session (Halted only)
	Reason error
	// Since is the timestamp of the last transition
	Since int64
}

func (s Status) String() string {
	switch s.State {
	case KernelRunning:
		return fmt.Sprintf("%s (%s) since:%d", s.State, s.Kernel, s.Since)
	case Halted:
		return fmt.Sprintf("%s (%v) since:%d", s.State, s.Reason, s.Since)
	default:
		return fmt.Sprintf("%s since:%d", s.State, s.Since)
	}
}
