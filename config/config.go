// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package config loads the kernel loader daemon TOML configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"

	"github.com/usbarmory/kloader/mem"
)

// Layout represents the kernel CPU memory layout constants.
type Layout struct {
	ExecStart    uint32 `toml:"exec_start"`
	PayloadStart uint32 `toml:"payload_start"`
	LastAddress  uint32 `toml:"last_address"`
	HeaderSize   uint32 `toml:"header_size"`
}

// Memory represents the kernel CPU memory backend, an empty path selects
// an in-process buffer.
type Memory struct {
	Path string `toml:"path"`
	// Base is the kernel CPU address of the first mapped byte
	Base uint32 `toml:"base"`
	// Size is the mapped window size, the whole layout when zero
	Size int `toml:"size"`
}

// Console represents the SSH management console.
type Console struct {
	// Listen is the console TCP address, the console is disabled when empty
	Listen string `toml:"listen"`
	// AuthorizedKeys is an OpenSSH authorized_keys file, any client key is
	// accepted when empty
	AuthorizedKeys string `toml:"authorized_keys"`
}

// Store represents the kernel image store.
type Store struct {
	Dir string `toml:"dir"`
}

// Messages represents the essential message service timing.
type Messages struct {
	// PollIntervalMS is the blocking wait polling period
	PollIntervalMS int `toml:"poll_interval_ms"`
	// TickMS is the clock and servicing period of the daemon
	TickMS int `toml:"tick_ms"`
}

// Config represents the daemon configuration.
type Config struct {
	Layout   Layout   `toml:"layout"`
	Memory   Memory   `toml:"memory"`
	Console  Console  `toml:"console"`
	Store    Store    `toml:"store"`
	Messages Messages `toml:"messages"`
}

// Default is the configuration used for omitted values.
var Default = &Config{
	Layout: Layout{
		ExecStart:    mem.ExecStart,
		PayloadStart: mem.PayloadStart,
		LastAddress:  mem.LastAddress,
		HeaderSize:   mem.HeaderSize,
	},
	Console: Console{
		Listen: "127.0.0.1:2222",
	},
	Store: Store{
		Dir: "/var/lib/kloader",
	},
	Messages: Messages{
		PollIntervalMS: 1,
		TickMS:         1,
	},
}

// New returns a copy of the default configuration.
func New() *Config {
	return deepcopy.Copy(Default).(*Config)
}

// Load decodes the configuration file at path over the defaults, unknown
// keys are rejected.
func Load(path string) (c *Config, err error) {
	c = New()

	md, err := toml.DecodeFile(path, c)

	if err != nil {
		return nil, fmt.Errorf("could not parse %s, %w", path, err)
	}

	if keys := md.Undecoded(); len(keys) > 0 {
		var s []string

		for _, k := range keys {
			s = append(s, k.String())
		}

		return nil, fmt.Errorf("unknown configuration keys in %s: %s", path, strings.Join(s, ", "))
	}

	if _, err = c.MemoryLayout(); err != nil {
		return nil, err
	}

	return
}

// MemoryLayout returns the validated kernel CPU memory layout.
func (c *Config) MemoryLayout() (*mem.Layout, error) {
	return mem.NewLayout(c.Layout.ExecStart, c.Layout.PayloadStart, c.Layout.LastAddress, c.Layout.HeaderSize)
}

// PollInterval returns the blocking wait polling period.
func (c *Config) PollInterval() time.Duration {
	return duration(c.Messages.PollIntervalMS)
}

// Tick returns the clock and servicing period.
func (c *Config) Tick() time.Duration {
	return duration(c.Messages.TickMS)
}

func duration(ms int) time.Duration {
	if ms <= 0 {
		ms = 1
	}

	return time.Duration(ms) * time.Millisecond
}
