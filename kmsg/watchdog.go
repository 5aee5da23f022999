// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package kmsg

import (
	"errors"
	"sync"
)

// MaxWatchdogs is the number of watchdogs a kernel can arm at once.
const MaxWatchdogs = 16

var (
	ErrNoWatchdog      = errors.New("no free watchdog")
	ErrWatchdogExpired = errors.New("watchdog expired")
)

// Watchdogs represents the table of kernel armed watchdogs, deadlines are
// expressed in clock units (ms).
type Watchdogs struct {
	sync.Mutex

	active   [MaxWatchdogs]bool
	deadline [MaxWatchdogs]int64
}

// Set arms a watchdog expiring ms after now.
func (w *Watchdogs) Set(now int64, ms uint32) (id int, err error) {
	w.Lock()
	defer w.Unlock()

	for id = range w.active {
		if !w.active[id] {
			w.active[id] = true
			w.deadline[id] = now + int64(ms)
			return
		}
	}

	return -1, ErrNoWatchdog
}

// Clear disarms a watchdog, invalid identifiers are ignored.
func (w *Watchdogs) Clear(id int) {
	w.Lock()
	defer w.Unlock()

	if id >= 0 && id < MaxWatchdogs {
		w.active[id] = false
	}
}

// Expired returns whether any armed watchdog reached its deadline.
func (w *Watchdogs) Expired(now int64) bool {
	w.Lock()
	defer w.Unlock()

	for id, active := range w.active {
		if active && now >= w.deadline[id] {
			return true
		}
	}

	return false
}

// Active returns the number of armed watchdogs.
func (w *Watchdogs) Active() (n int) {
	w.Lock()
	defer w.Unlock()

	for _, active := range w.active {
		if active {
			n++
		}
	}

	return
}

// Reset disarms all watchdogs.
func (w *Watchdogs) Reset() {
	w.Lock()
	defer w.Unlock()

	w.active = [MaxWatchdogs]bool{}
}
