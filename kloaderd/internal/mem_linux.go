// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build linux
// +build linux

package kcpu

import (
	"github.com/usbarmory/kloader/mem"
)

func mapMemory(path string, base uint32, size int) (mem.Memory, error) {
	return mem.MapFile(path, base, size)
}
