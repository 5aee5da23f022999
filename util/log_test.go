// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"strings"
	"testing"
)

func TestKernelLogLineBuffering(t *testing.T) {
	var out bytes.Buffer
	l := NewKernelLog(&out)

	l.Write([]byte("kernel "))

	if out.Len() != 0 {
		t.Fatalf("partial line written: %q", out.String())
	}

	l.Write([]byte("started\nnext"))

	if got, want := out.String(), "kernel started\n"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}

	if err := l.Flush(); err != nil {
		t.Fatalf("Flush() = %v", err)
	}

	if got, want := out.String(), "kernel started\nnext"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestKernelLogLimit(t *testing.T) {
	var out bytes.Buffer
	l := NewKernelLog(&out)

	n, err := l.Write([]byte(strings.Repeat("x", outputLimit+1)))

	if err != nil || n != outputLimit+1 {
		t.Fatalf("Write() = %d, %v", n, err)
	}

	if out.Len() != outputLimit+1 {
		t.Errorf("output length = %d, want %d", out.Len(), outputLimit+1)
	}
}
