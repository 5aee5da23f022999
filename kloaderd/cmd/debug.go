// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"runtime/debug"
	"runtime/pprof"

	"golang.org/x/term"
)

func init() {
	Add(Cmd{
		Name: "stack",
		Help: "stack trace of current goroutine",
		Fn:   stackCmd,
	})

	Add(Cmd{
		Name: "stackall",
		Help: "stack trace of all goroutines",
		Fn:   stackallCmd,
	})

	Add(Cmd{
		Name: "flush",
		Help: "flush buffered kernel log output",
		Fn:   flushCmd,
	})
}

func stackCmd(_ *term.Terminal, _ []string) (string, error) {
	return string(debug.Stack()), nil
}

func stackallCmd(_ *term.Terminal, _ []string) (res string, err error) {
	var buf bytes.Buffer

	if err = pprof.Lookup("goroutine").WriteTo(&buf, 1); err != nil {
		return
	}

	return buf.String(), nil
}

func flushCmd(_ *term.Terminal, _ []string) (res string, err error) {
	fw, err := firmware()

	if err != nil {
		return
	}

	return "", fw.Log.Flush()
}
