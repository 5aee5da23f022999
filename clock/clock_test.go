// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package clock

import (
	"sync"
	"testing"
)

func TestDriver(t *testing.T) {
	c, d := New()

	if got := c.Now(); got != 0 {
		t.Fatalf("Now() = %d, want 0", got)
	}

	if got := d.Advance(10); got != 10 {
		t.Errorf("Advance(10) = %d, want 10", got)
	}

	if got := d.Advance(-5); got != 10 {
		t.Errorf("Advance(-5) = %d, want 10", got)
	}

	if got := d.Set(4); got != 10 {
		t.Errorf("Set(4) = %d, want 10 (never backwards)", got)
	}

	if got := d.Set(42); got != 42 {
		t.Errorf("Set(42) = %d, want 42", got)
	}

	if d.Clock() != c || c.Now() != 42 {
		t.Errorf("reader out of sync with driver")
	}
}

func TestMonotonicReaders(t *testing.T) {
	c, d := New()

	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			var last int64

			for {
				select {
				case <-done:
					return
				default:
				}

				now := c.Now()

				if now < last {
					t.Errorf("clock went backwards: %d < %d", now, last)
					return
				}

				last = now
			}
		}()
	}

	for i := 0; i < 10000; i++ {
		d.Advance(1)
	}

	close(done)
	wg.Wait()

	if got := c.Now(); got != 10000 {
		t.Errorf("Now() = %d, want 10000", got)
	}
}
