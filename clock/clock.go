// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package clock implements the process-wide coarse timestamp shared between
// the timer driver (its only writer) and its readers.
package clock

import (
	"sync/atomic"
)

// Reader is implemented by anything which can report the current timestamp.
type Reader interface {
	Now() int64
}

// Clock represents the current timestamp, it is monotonically non-decreasing.
type Clock struct {
	now atomic.Int64
}

// Driver is the write handle of a Clock, held by the timer source.
type Driver struct {
	c *Clock
}

// New returns a clock starting at zero and its only write handle.
func New() (*Clock, *Driver) {
	c := &Clock{}
	return c, &Driver{c: c}
}

// Now returns the current timestamp.
func (c *Clock) Now() int64 {
	return c.now.Load()
}

// Advance moves the clock forward by delta, negative values are ignored.
func (d *Driver) Advance(delta int64) int64 {
	if delta <= 0 {
		return d.c.Now()
	}

	return d.c.now.Add(delta)
}

// Set moves the clock to t, unless that would move it backwards. It returns
// the resulting timestamp.
func (d *Driver) Set(t int64) int64 {
	for {
		now := d.c.now.Load()

		if t <= now {
			return now
		}

		if d.c.now.CompareAndSwap(now, t) {
			return t
		}
	}
}

// Clock returns the clock driven by d.
func (d *Driver) Clock() *Clock {
	return d.c
}
