// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package window owns the fixed-size feature window that one classification
// cycle fills from an accelerometer.
package window

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/motion_classifier/internal/sample"
)

var (
	// ErrInvalidRange is returned when a fill request does not fit the window.
	ErrInvalidRange = errors.New("invalid window range")
	// ErrFillInProgress is returned when Fill is called while another fill runs.
	ErrFillInProgress = errors.New("window fill already in progress")
)

// SampleError reports a failed sensor read during a fill.
type SampleError struct {
	Index int // sample number within the failed fill
	Err   error
}

func (e *SampleError) Error() string {
	return fmt.Sprintf("sample %d: %v", e.Index, e.Err)
}

func (e *SampleError) Unwrap() error { return e.Err }

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Collector fills a fixed-size feature window from a sample source at a fixed
// rate. The window is reused across cycles.
type Collector struct {
	src     sample.Source
	period  time.Duration
	sleep   SleepFunc
	window  []float32
	covered []bool // one flag per element, cleared by Reset
	missing int

	mu sync.Mutex
}

// NewCollector returns a collector for a window of frameSize floats, sampling
// src once per period.
func NewCollector(src sample.Source, frameSize int, period time.Duration) (*Collector, error) {
	if frameSize <= 0 || frameSize%sample.Axes != 0 {
		return nil, fmt.Errorf("frame size %d is not a positive multiple of %d", frameSize, sample.Axes)
	}
	if period < 0 {
		return nil, fmt.Errorf("negative sample period %s", period)
	}
	return &Collector{
		src:     src,
		period:  period,
		sleep:   sleepContext,
		window:  make([]float32, frameSize),
		covered: make([]bool, frameSize),
		missing: frameSize,
	}, nil
}

// SetSleep replaces the inter-sample wait, mainly for tests.
func (c *Collector) SetSleep(fn SleepFunc) {
	c.sleep = fn
}

// TotalLength is the number of floats in the window.
func (c *Collector) TotalLength() int {
	return len(c.window)
}

// Period is the delay enforced after every sample.
func (c *Collector) Period() time.Duration {
	return c.period
}

// Fill reads length/3 samples into the window starting at offset, waiting one
// period after each, then copies that range into dst.
func (c *Collector) Fill(ctx context.Context, offset, length int, dst []float32) error {
	if err := c.checkRange(offset, length, len(dst)); err != nil {
		return err
	}
	if !c.mu.TryLock() {
		return ErrFillInProgress
	}
	defer c.mu.Unlock()

	for i := offset; i < offset+length; i += sample.Axes {
		s, err := c.src.Read()
		if err != nil {
			return &SampleError{Index: (i - offset) / sample.Axes, Err: err}
		}
		c.window[i] = s.X
		c.window[i+1] = s.Y
		c.window[i+2] = s.Z

		for j := i; j < i+sample.Axes; j++ {
			if !c.covered[j] {
				c.covered[j] = true
				c.missing--
			}
		}

		if c.period > 0 {
			if err := c.sleep(ctx, c.period); err != nil {
				return err
			}
		}
	}

	copy(dst, c.window[offset:offset+length])
	return nil
}

func (c *Collector) checkRange(offset, length, dstLen int) error {
	switch {
	case offset < 0 || length < 0:
		return fmt.Errorf("%w: offset %d length %d", ErrInvalidRange, offset, length)
	case length%sample.Axes != 0:
		return fmt.Errorf("%w: length %d is not a multiple of %d", ErrInvalidRange, length, sample.Axes)
	case offset+length > len(c.window):
		return fmt.Errorf("%w: offset %d + length %d exceeds frame size %d", ErrInvalidRange, offset, length, len(c.window))
	case dstLen < length:
		return fmt.Errorf("%w: destination holds %d floats, need %d", ErrInvalidRange, dstLen, length)
	}
	return nil
}

// Reset marks every element as unfilled. The buffer itself is not cleared.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.covered {
		c.covered[i] = false
	}
	c.missing = len(c.covered)
}

// Complete reports whether every element has been filled since the last Reset.
func (c *Collector) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.missing == 0
}

// Window returns the window buffer. Callers must treat it as read-only and
// must not hold it across a Reset.
func (c *Collector) Window() []float32 {
	return c.window
}
