// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/google/subcommands"

	"github.com/usbarmory/kloader/loader"
	"github.com/usbarmory/kloader/store"
)

// Pack implements subcommands.Command for the "pack" command.
type Pack struct {
	output string
	store  string
	name   string
}

// Name implements subcommands.Command.Name.
func (*Pack) Name() string {
	return "pack"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Pack) Synopsis() string {
	return "build a kernel image from per-kernel code files"
}

// Usage implements subcommands.Command.Usage.
func (*Pack) Usage() string {
	return `pack [flags] <name>=<file>... - concatenate kernel code files into an image.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Pack) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.output, "o", "", "output image file")
	f.StringVar(&p.store, "store", "", "image store directory to save the image to")
	f.StringVar(&p.name, "name", "", "image name within the store")
}

// Execute implements subcommands.Command.Execute.
func (p *Pack) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 || (p.output == "" && p.store == "") || (p.store != "" && p.name == "") {
		f.Usage()
		return subcommands.ExitUsageError
	}

	blob, err := pack(f.Args())

	if err != nil {
		log.Printf("kloader %v", err)
		return subcommands.ExitFailure
	}

	if p.output != "" {
		err = os.WriteFile(p.output, blob, 0600)
	}

	if err == nil && p.store != "" {
		var s *store.Store

		if s, err = store.Open(p.store); err == nil {
			err = s.Put(p.name, blob)
		}
	}

	if err != nil {
		log.Printf("kloader %v", err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

// pack builds a table image placing each kernel code file in argument order.
func pack(args []string) (blob []byte, err error) {
	var code []byte

	entries := make(map[string]uint32)

	for _, arg := range args {
		name, path, ok := strings.Cut(arg, "=")

		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid kernel %q, expected <name>=<file>", arg)
		}

		if _, dup := entries[name]; dup {
			return nil, fmt.Errorf("duplicate kernel %q", name)
		}

		buf, err := os.ReadFile(path)

		if err != nil {
			return nil, err
		}

		if len(buf) == 0 {
			return nil, fmt.Errorf("empty kernel %q", name)
		}

		entries[name] = uint32(len(code))
		code = append(code, buf...)
	}

	return loader.Encode(entries, code)
}

// Inspect implements subcommands.Command for the "inspect" command.
type Inspect struct {
	configPath string
}

// Name implements subcommands.Command.Name.
func (*Inspect) Name() string {
	return "inspect"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Inspect) Synopsis() string {
	return "display kernel image entry points"
}

// Usage implements subcommands.Command.Usage.
func (*Inspect) Usage() string {
	return `inspect [flags] <image> - parse a table or ELF kernel image against the memory layout.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Inspect) SetFlags(f *flag.FlagSet) {
	f.StringVar(&i.configPath, "config", "", "TOML configuration file")
}

// Execute implements subcommands.Command.Execute.
func (i *Inspect) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	if err := i.inspect(os.Stdout, f.Arg(0)); err != nil {
		log.Printf("kloader %v", err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

func (i *Inspect) inspect(w io.Writer, path string) (err error) {
	conf, err := loadConfig(i.configPath)

	if err != nil {
		return
	}

	layout, err := conf.MemoryLayout()

	if err != nil {
		return
	}

	blob, err := os.ReadFile(path)

	if err != nil {
		return
	}

	region := layout.Load()

	if uint64(len(blob)) > uint64(region.Size()) {
		return fmt.Errorf("%w (%d > %d)", loader.ErrImageTooLarge, len(blob), region.Size())
	}

	img, err := loader.Parse(blob, region)

	if err != nil {
		return
	}

	format := "table"

	if img.ELF {
		format = "ELF"
	}

	fmt.Fprintf(w, "%s image base:%#.8x size:%d\n", format, img.Base, len(img.Code))

	for _, name := range img.Names() {
		fmt.Fprintf(w, "%-16s %#.8x\n", name, img.Base+img.Entries[name])
	}

	if len(img.Entries) == 0 {
		return errors.New("image has no entry points")
	}

	return
}
