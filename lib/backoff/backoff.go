package backoff

import (
	"runtime"
	"time"
)

const (
	// DefaultSpinTicks is the number of ticks spent yielding before sleeping starts
	DefaultSpinTicks = 10
	// DefaultMinSleep is the first sleep duration once spinning is exhausted
	DefaultMinSleep = time.Microsecond
	// DefaultMaxSleep clamps the sleep duration
	DefaultMaxSleep = time.Millisecond

	// maxShift keeps the doubling from overflowing time.Duration
	maxShift = 30
)

// Options configures a Backoff
type Options struct {
	SpinTicks int           // ticks below which Wait only yields
	MinSleep  time.Duration // first sleep duration after the spin phase
	MaxSleep  time.Duration // upper bound for the sleep duration
}

// DefaultOptions returns the default backoff options
func DefaultOptions() *Options {
	return &Options{
		SpinTicks: DefaultSpinTicks,
		MinSleep:  DefaultMinSleep,
		MaxSleep:  DefaultMaxSleep,
	}
}

// Backoff is a per-goroutine wait strategy. It is not safe for concurrent use.
type Backoff struct {
	opts  Options
	ticks int
}

// New creates a Backoff with the given options. Missing or invalid fields fall back to the defaults.
func New(opts *Options) Backoff {
	b := Backoff{}
	if opts != nil {
		b.opts = *opts
	}
	b.normalize()
	return b
}

func (b *Backoff) normalize() {
	if b.opts.SpinTicks <= 0 {
		b.opts.SpinTicks = DefaultSpinTicks
	}
	if b.opts.MinSleep <= 0 {
		b.opts.MinSleep = DefaultMinSleep
	}
	if b.opts.MaxSleep <= 0 {
		b.opts.MaxSleep = DefaultMaxSleep
	}
	if b.opts.MaxSleep < b.opts.MinSleep {
		b.opts.MaxSleep = b.opts.MinSleep
	}
}

// Wait suspends the caller according to the current contention estimate and
// then raises the estimate by one.
func (b *Backoff) Wait() {
	if b.opts.SpinTicks == 0 {
		b.normalize()
	}

	if b.ticks < b.opts.SpinTicks {
		for i := 0; i <= b.ticks; i++ {
			runtime.Gosched()
		}
	} else {
		time.Sleep(b.SleepDuration())
	}
	b.ticks++
}

// Inc raises the contention estimate by n ticks
func (b *Backoff) Inc(n int) {
	if n > 0 {
		b.ticks += n
	}
}

// Dec lowers the contention estimate by n ticks, never below zero
func (b *Backoff) Dec(n int) {
	if n <= 0 {
		return
	}
	b.ticks -= n
	if b.ticks < 0 {
		b.ticks = 0
	}
}

// Reset returns the backoff to the spin state
func (b *Backoff) Reset() {
	b.ticks = 0
}

// Ticks returns the current contention estimate
func (b *Backoff) Ticks() int {
	return b.ticks
}

// Sleeping reports whether the next Wait will sleep instead of yield
func (b *Backoff) Sleeping() bool {
	if b.opts.SpinTicks == 0 {
		b.normalize()
	}
	return b.ticks >= b.opts.SpinTicks
}

// SleepDuration returns the duration the next Wait sleeps for, or 0 while spinning
func (b *Backoff) SleepDuration() time.Duration {
	if !b.Sleeping() {
		return 0
	}

	shift := (b.ticks - b.opts.SpinTicks) / b.opts.SpinTicks
	if shift > maxShift {
		return b.opts.MaxSleep
	}

	d := b.opts.MinSleep << uint(shift)
	if d > b.opts.MaxSleep || d <= 0 {
		return b.opts.MaxSleep
	}
	return d
}
