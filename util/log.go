// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

const outputLimit = 1024
const flushChr = 0x0a // \n

// KernelLog line buffers kernel CPU log output, to avoid interleaving it with
// host logs.
type KernelLog struct {
	sync.Mutex

	output io.Writer
	term   *term.Terminal
	buf    bytes.Buffer
}

// NewKernelLog returns a kernel log writing to w, os.Stdout when nil.
func NewKernelLog(w io.Writer) *KernelLog {
	if w == nil {
		w = os.Stdout
	}

	return &KernelLog{output: w}
}

// SetTerminal redirects output to a console terminal, with colors, or back
// to the original writer when t is nil.
func (l *KernelLog) SetTerminal(t *term.Terminal) {
	l.Lock()
	defer l.Unlock()

	l.term = t
}

// Write buffers p, flushing on each new line or once the buffer limit is
// exceeded.
func (l *KernelLog) Write(p []byte) (n int, err error) {
	l.Lock()
	defer l.Unlock()

	for _, c := range p {
		l.buf.WriteByte(c)

		if c == flushChr || l.buf.Len() > outputLimit {
			if err = l.flush(); err != nil {
				return
			}
		}

		n++
	}

	return
}

// Flush writes out any buffered output.
func (l *KernelLog) Flush() error {
	l.Lock()
	defer l.Unlock()

	return l.flush()
}

func (l *KernelLog) flush() (err error) {
	if l.buf.Len() == 0 {
		return
	}

	defer l.buf.Reset()

	if t := l.term; t != nil {
		t.Write(t.Escape.Green)
		defer t.Write(t.Escape.Reset)

		_, err = t.Write(l.buf.Bytes())
		return
	}

	_, err = l.output.Write(l.buf.Bytes())

	return
}
