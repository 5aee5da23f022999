// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cli

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/usbarmory/kloader/kloader"
	"github.com/usbarmory/kloader/kloaderd/cmd"
	kcpu "github.com/usbarmory/kloader/kloaderd/internal"
	"github.com/usbarmory/kloader/util"
)

// Serve implements subcommands.Command for the "serve" command.
type Serve struct {
	configPath string
	load       string
	start      string
}

// Name implements subcommands.Command.Name.
func (*Serve) Name() string {
	return "serve"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Serve) Synopsis() string {
	return "run the kernel CPU loader daemon"
}

// Usage implements subcommands.Command.Usage.
func (*Serve) Usage() string {
	return `serve [flags] - run the kernel CPU loader daemon and its management console.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Serve) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.configPath, "config", "", "TOML configuration file")
	f.StringVar(&s.load, "load", "", "stored image to load at startup")
	f.StringVar(&s.start, "start", kloader.IdleKernel, "kernel to start at startup, none when empty")
}

// Execute implements subcommands.Command.Execute.
func (s *Serve) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	if err := s.serve(ctx); err != nil {
		log.Printf("kloader %v", err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

func (s *Serve) serve(ctx context.Context) (err error) {
	conf, err := loadConfig(s.configPath)

	if err != nil {
		return
	}

	fw, err := kcpu.New(conf)

	if err != nil {
		return
	}

	defer fw.Close()

	banner := fmt.Sprintf("%s/%s (%s) • kernel CPU loader", runtime.GOOS, runtime.GOARCH, runtime.Version())
	log.Print(banner)

	if s.load != "" {
		if _, err = fw.LoadImage(s.load); err != nil {
			return
		}
	}

	var console *util.Console
	var listener net.Listener

	if addr := conf.Console.Listen; addr != "" {
		if console, err = newConsole(fw, banner); err != nil {
			return
		}

		if listener, err = net.Listen("tcp", addr); err != nil {
			return fmt.Errorf("could not initialize SSH listener, %w", err)
		}

		log.Printf("kloader console listening on %s", listener.Addr())
	}

	switch s.start {
	case "":
	case kloader.IdleKernel:
		err = fw.Controller.StartIdle()
	default:
		err = fw.Controller.StartKernel(s.start)
	}

	if err != nil {
		log.Printf("kloader could not start %s, %v", s.start, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return fw.RunTimer(ctx) })
	g.Go(func() error { return fw.RunService(ctx) })

	if listener != nil {
		g.Go(func() error { return console.Serve(ctx, listener) })
	}

	return g.Wait()
}

func newConsole(fw *kcpu.Firmware, banner string) (c *util.Console, err error) {
	cmd.Firmware = fw

	c = &util.Console{
		Banner:  banner,
		Help:    cmd.Help,
		Handler: cmd.Handle,
		Session: func(t *term.Terminal) {
			fw.Log.SetTerminal(t)
		},
	}

	if path := fw.Config.Console.AuthorizedKeys; path != "" {
		if c.AuthorizedKeys, err = util.LoadAuthorizedKeys(path); err != nil {
			return nil, err
		}
	}

	return
}
