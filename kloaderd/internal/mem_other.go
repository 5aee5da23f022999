// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build !linux
// +build !linux

package kcpu

import (
	"errors"

	"github.com/usbarmory/kloader/mem"
)

func mapMemory(_ string, _ uint32, _ int) (mem.Memory, error) {
	return nil, errors.New("memory mapped backend is only supported on linux")
}
