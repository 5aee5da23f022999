// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"

	"golang.org/x/term"
)

const maxBufferSize = 4096

func init() {
	Add(Cmd{
		Name:    "peek",
		Args:    2,
		Pattern: regexp.MustCompile(`^peek ([[:xdigit:]]+) (\d+)$`),
		Syntax:  "<hex address> <size>",
		Help:    "kernel CPU memory display",
		Fn:      memReadCmd,
	})

	Add(Cmd{
		Name:    "check",
		Args:    2,
		Pattern: regexp.MustCompile(`^check ([[:xdigit:]]+)( exec)?$`),
		Syntax:  "<hex address> [exec]",
		Help:    "validate kernel CPU address",
		Fn:      checkCmd,
	})
}

func memReadCmd(_ *term.Terminal, arg []string) (res string, err error) {
	fw, err := firmware()

	if err != nil {
		return
	}

	addr, err := strconv.ParseUint(arg[0], 16, 32)

	if err != nil {
		return "", fmt.Errorf("invalid address, %v", err)
	}

	size, err := strconv.ParseUint(arg[1], 10, 32)

	if err != nil {
		return "", fmt.Errorf("invalid size, %v", err)
	}

	if size > maxBufferSize {
		return "", fmt.Errorf("size argument must be <= %d", maxBufferSize)
	}

	a, err := fw.Layout.ValidateRange(uint32(addr), uint32(size), true)

	if err != nil {
		return
	}

	buf := make([]byte, size)

	if err = fw.Memory.Read(a, buf); err != nil {
		return
	}

	return hex.Dump(buf), nil
}

func checkCmd(_ *term.Terminal, arg []string) (res string, err error) {
	fw, err := firmware()

	if err != nil {
		return
	}

	addr, err := strconv.ParseUint(arg[0], 16, 32)

	if err != nil {
		return "", fmt.Errorf("invalid address, %v", err)
	}

	exec := arg[1] != ""

	a, err := fw.Layout.Validate(uint32(addr), exec)

	if err != nil {
		return
	}

	region := "payload"

	if fw.Layout.ContainsExecutable(a.Uint32()) {
		region = "executable"
	}

	return fmt.Sprintf("%s valid (%s)", a, region), nil
}
