// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package kmsg

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff"
)

var errPending = errors.New("operation pending")

// Wait blocks until poll reports completion, an error or ctx is done.
// Essential messages are serviced, and watchdogs checked, before every poll
// attempt so that they are never starved by the outstanding operation.
//
// Wait returns early with the first fatal servicing error (see Fatal).
func (s *Service) Wait(ctx context.Context, poll func() (bool, error)) error {
	interval := s.PollInterval

	if interval <= 0 {
		interval = DefaultPollInterval
	}

	op := func() error {
		if _, err := s.ServiceEssential(); err != nil && Fatal(err) {
			return backoff.Permanent(err)
		}

		if s.Watchdogs != nil && s.Watchdogs.Expired(s.Clock.Now()) {
			return backoff.Permanent(ErrWatchdogExpired)
		}

		done, err := poll()

		if err != nil {
			return backoff.Permanent(err)
		}

		if !done {
			return errPending
		}

		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	err := backoff.Retry(op, b)

	if errors.Is(err, errPending) && ctx.Err() != nil {
		return ctx.Err()
	}

	return err
}
