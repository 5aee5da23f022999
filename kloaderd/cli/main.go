// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package cli implements the kloaderd command line.
package cli

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/google/subcommands"

	"github.com/usbarmory/kloader/config"
)

// Main registers the kloaderd subcommands and executes the requested one.
func Main() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(new(Serve), "")
	subcommands.Register(new(Pack), "images")
	subcommands.Register(new(Inspect), "images")
	subcommands.Register(new(Check), "")

	flag.Parse()

	os.Exit(int(subcommands.Execute(context.Background())))
}

// loadConfig returns the configuration at path, or the defaults when path
// is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.New(), nil
	}

	return config.Load(path)
}
