// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	kcpu "github.com/usbarmory/kloader/kloaderd/internal"
)

func init() {
	Add(Cmd{
		Name: "status",
		Help: "kernel CPU status",
		Fn:   statusCmd,
	})

	Add(Cmd{
		Name:    "load",
		Args:    1,
		Pattern: regexp.MustCompile(`^load ([[:alnum:]_][[:alnum:]_.-]*)$`),
		Syntax:  "<image>",
		Help:    "load stored kernel image",
		Fn:      loadCmd,
	})

	Add(Cmd{
		Name: "images",
		Help: "list stored kernel images",
		Fn:   imagesCmd,
	})

	Add(Cmd{
		Name:    "start",
		Args:    1,
		Pattern: regexp.MustCompile(`^start (\S+)$`),
		Syntax:  "<kernel>",
		Help:    "start kernel from resident image",
		Fn:      startCmd,
	})

	Add(Cmd{
		Name: "idle",
		Help: "start idle kernel",
		Fn:   idleCmd,
	})

	Add(Cmd{
		Name: "bridge",
		Help: "start bridge firmware",
		Fn:   bridgeCmd,
	})

	Add(Cmd{
		Name: "stop",
		Help: "reset kernel CPU",
		Fn:   stopCmd,
	})

	Add(Cmd{
		Name: "kmsg",
		Help: "service essential kernel messages",
		Fn:   kmsgCmd,
	})

	Add(Cmd{
		Name:    "wait",
		Args:    1,
		Pattern: regexp.MustCompile(`^wait (\d+)$`),
		Syntax:  "<ms>",
		Help:    "wait servicing essential kernel messages",
		Fn:      waitCmd,
	})

	Add(Cmd{
		Name: "now",
		Help: "current timestamp (ms)",
		Fn:   nowCmd,
	})
}

func firmware() (*kcpu.Firmware, error) {
	if Firmware == nil {
		return nil, errNoFirmware
	}

	return Firmware, nil
}

func statusCmd(_ *term.Terminal, _ []string) (res string, err error) {
	fw, err := firmware()

	if err != nil {
		return
	}

	var buf bytes.Buffer

	fmt.Fprintf(&buf, "state ..........: %s\n", fw.Controller.Status())
	fmt.Fprintf(&buf, "layout .........: %s\n", fw.Layout)

	if img := fw.Loader.Image(); img != nil {
		fmt.Fprintf(&buf, "image ..........: %#.8x size:%d entries:%s", img.Base, len(img.Code), strings.Join(img.Names(), ","))

		if fw.Loader.Stale() {
			fmt.Fprint(&buf, " (stale)")
		}

		fmt.Fprintln(&buf)
	} else {
		fmt.Fprintf(&buf, "image ..........: none\n")
	}

	fmt.Fprintf(&buf, "watchdogs ......: %d\n", fw.Messages.Watchdogs.Active())
	fmt.Fprintf(&buf, "pending ........: %d\n", fw.Mailbox.Pending())
	fmt.Fprintf(&buf, "now ............: %d", fw.Clock.Now())

	return buf.String(), nil
}

func loadCmd(_ *term.Terminal, arg []string) (res string, err error) {
	fw, err := firmware()

	if err != nil {
		return
	}

	img, err := fw.LoadImage(arg[0])

	if err != nil {
		return
	}

	return fmt.Sprintf("loaded %s at %#.8x size:%d entries:%s", arg[0], img.Base, len(img.Code), strings.Join(img.Names(), ",")), nil
}

func imagesCmd(_ *term.Terminal, _ []string) (res string, err error) {
	fw, err := firmware()

	if err != nil {
		return
	}

	if fw.Store == nil {
		return "", fmt.Errorf("no image store")
	}

	names, err := fw.Store.List()

	if err != nil {
		return
	}

	return strings.Join(names, "\n"), nil
}

func startCmd(_ *term.Terminal, arg []string) (res string, err error) {
	fw, err := firmware()

	if err != nil {
		return
	}

	return "", fw.Controller.StartKernel(arg[0])
}

func idleCmd(_ *term.Terminal, _ []string) (res string, err error) {
	fw, err := firmware()

	if err != nil {
		return
	}

	return "", fw.Controller.StartIdle()
}

func bridgeCmd(_ *term.Terminal, _ []string) (res string, err error) {
	fw, err := firmware()

	if err != nil {
		return
	}

	return "", fw.Controller.StartBridge()
}

func stopCmd(_ *term.Terminal, _ []string) (res string, err error) {
	fw, err := firmware()

	if err != nil {
		return
	}

	return "", fw.Controller.Stop()
}

func kmsgCmd(_ *term.Terminal, _ []string) (res string, err error) {
	fw, err := firmware()

	if err != nil {
		return
	}

	n, err := fw.Controller.ServiceEssential()

	return fmt.Sprintf("serviced %d essential messages", n), err
}

func waitCmd(_ *term.Terminal, arg []string) (res string, err error) {
	fw, err := firmware()

	if err != nil {
		return
	}

	ms, err := strconv.ParseInt(arg[0], 10, 32)

	if err != nil {
		return "", fmt.Errorf("invalid duration, %v", err)
	}

	deadline := fw.Clock.Now() + ms

	// the clock is driven by the daemon, bound the wait on host time too
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Duration(ms)*time.Millisecond+time.Second)
	defer cancel()

	err = fw.Controller.Wait(ctx, func() (bool, error) {
		return fw.Clock.Now() >= deadline, nil
	})

	return fw.Controller.Status().String(), err
}

func nowCmd(_ *term.Terminal, _ []string) (res string, err error) {
	fw, err := firmware()

	if err != nil {
		return
	}

	return strconv.FormatInt(fw.Clock.Now(), 10), nil
}
