// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package kmsg

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/usbarmory/kloader/clock"
	"github.com/usbarmory/kloader/mem"
	"github.com/usbarmory/kloader/util"
)

// ErrMalformedMessage is returned for essential messages with an invalid
// payload.
var ErrMalformedMessage = errors.New("malformed message")

// LogSink receives kernel log output.
type LogSink interface {
	io.Writer
	Flush() error
}

// Handler represents an essential message handler.
type Handler func(s *Service, m *Message) error

// Service represents the essential message service.
type Service struct {
	// Channel is the kernel CPU message channel
	Channel Channel
	// Clock stamps serviced messages
	Clock clock.Reader
	// Layout validates pointers carried by messages
	Layout *mem.Layout
	// Memory is used to read strings referenced by messages
	Memory mem.Memory
	// Watchdogs is the kernel watchdog table
	Watchdogs *Watchdogs
	// Log receives kernel log output
	Log LogSink
	// Handler, when set, overrides DefaultHandler
	Handler Handler
	// PollInterval is the Wait polling period
	PollInterval time.Duration

	mu   sync.Mutex
	once sync.Once
	warn *rate.Limiter
}

// DefaultPollInterval is the default Wait polling period.
const DefaultPollInterval = time.Millisecond

// NewService returns an essential message service, logging kernel output to
// standard output.
func NewService(ch Channel, c clock.Reader, layout *mem.Layout, memory mem.Memory) *Service {
	return &Service{
		Channel:      ch,
		Clock:        c,
		Layout:       layout,
		Memory:       memory,
		Watchdogs:    &Watchdogs{},
		Log:          util.NewKernelLog(nil),
		PollInterval: DefaultPollInterval,
	}
}

func (s *Service) warnf(format string, v ...any) {
	s.once.Do(func() {
		s.warn = rate.NewLimiter(rate.Every(time.Second), 5)
	})

	if s.warn.Allow() {
		log.Printf(format, v...)
	}
}

// ServiceEssential drains and dispatches, in arrival order, all pending
// essential messages, it returns the number of serviced messages and the
// first dispatch error. Ordinary messages are left queued.
//
// It never waits for messages to arrive, a concurrent invocation returns
// immediately with no serviced messages.
func (s *Service) ServiceEssential() (n int, err error) {
	if !s.mu.TryLock() {
		return
	}
	defer s.mu.Unlock()

	msgs := s.Channel.Take(IsEssential)

	for i := range msgs {
		m := &msgs[i]
		m.Stamp = s.Clock.Now()

		if e := s.dispatch(m); e != nil {
			if !Fatal(e) {
				s.warnf("kloader could not service %s, %v", m, e)
			}

			if err == nil {
				err = e
			}
		}
	}

	return len(msgs), err
}

func (s *Service) dispatch(m *Message) error {
	if s.Handler != nil {
		return s.Handler(s, m)
	}

	return DefaultHandler(s, m)
}

// Fatal returns whether err ends the current kernel session.
func Fatal(err error) bool {
	var fault *Fault

	return errors.As(err, &fault) ||
		errors.Is(err, mem.ErrOutOfRange) ||
		errors.Is(err, ErrWatchdogExpired)
}

// ReadString validates and reads a kernel CPU memory string.
func (s *Service) ReadString(addr uint32, size uint32) (string, error) {
	if size > maxStringSize {
		return "", fmt.Errorf("%w, string size %d", ErrMalformedMessage, size)
	}

	a, err := s.Layout.ValidateRange(addr, size, false)

	if err != nil {
		s.warnf("kloader kernel supplied invalid pointer %#.8x+%d", addr, size)
		return "", err
	}

	buf := make([]byte, size)

	if err = s.Memory.Read(a, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}
