// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package kcpu

import (
	"context"
	"log"
	"time"

	"github.com/usbarmory/kloader/kmsg"
)

// RunTimer drives the clock, in milliseconds since its start, until ctx is
// done. It is the only writer of the firmware clock.
func (fw *Firmware) RunTimer(ctx context.Context) error {
	start := time.Now()

	t := time.NewTicker(fw.Config.Tick())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fw.Driver.Set(time.Since(start).Milliseconds())
		}
	}
}

// RunService services essential messages, and checks watchdogs, at every
// tick until ctx is done.
func (fw *Firmware) RunService(ctx context.Context) error {
	t := time.NewTicker(fw.Config.Tick())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fw.Service()
		}
	}
}

// Service runs a single essential message servicing pass.
func (fw *Firmware) Service() {
	if _, err := fw.Controller.ServiceEssential(); kmsg.Fatal(err) {
		log.Printf("kloader session halted, %v", err)
	}

	if !fw.Controller.Status().State.Running() {
		return
	}

	if fw.Messages.Watchdogs.Expired(fw.Clock.Now()) {
		log.Printf("kloader session halted, %v", kmsg.ErrWatchdogExpired)
		fw.Controller.Halt(kmsg.ErrWatchdogExpired)
	}
}
