// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/google/subcommands"
)

// Check implements subcommands.Command for the "check" command.
type Check struct {
	configPath string
	exec       bool
}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "validate kernel CPU addresses against the memory layout"
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check [flags] <hex address>... - report whether each address is a valid kernel CPU pointer.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Check) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "TOML configuration file")
	f.BoolVar(&c.exec, "exec", false, "also accept executable region addresses")
}

// Execute implements subcommands.Command.Execute.
func (c *Check) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	invalid, err := c.check(os.Stdout, f.Args())

	if err != nil {
		log.Printf("kloader %v", err)
		return subcommands.ExitUsageError
	}

	if invalid > 0 {
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

func (c *Check) check(w io.Writer, args []string) (invalid int, err error) {
	conf, err := loadConfig(c.configPath)

	if err != nil {
		return
	}

	layout, err := conf.MemoryLayout()

	if err != nil {
		return
	}

	for _, arg := range args {
		addr, err := strconv.ParseUint(strings.TrimPrefix(arg, "0x"), 16, 32)

		if err != nil {
			return invalid, fmt.Errorf("invalid address %q, %v", arg, err)
		}

		if a, err := layout.Validate(uint32(addr), c.exec); err != nil {
			fmt.Fprintf(w, "%#.8x invalid (%v)\n", addr, err)
			invalid++
		} else {
			fmt.Fprintf(w, "%s valid\n", a)
		}
	}

	return
}
