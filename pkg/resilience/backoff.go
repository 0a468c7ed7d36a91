package resilience

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffOptions configures an exponential Backoff.
type BackoffOptions struct {
	// Base is the delay for the first attempt. Defaults to 250ms.
	Base time.Duration
	// Max caps the un-jittered delay. Defaults to 30s.
	Max time.Duration
	// Factor multiplies the delay after every attempt. Defaults to 2.
	Factor float64
	// Jitter is the maximum fractional deviation applied to each delay.
	// Defaults to 0.25. A negative value disables jitter.
	Jitter float64
}

func (o BackoffOptions) withDefaults() BackoffOptions {
	if o.Base <= 0 {
		o.Base = 250 * time.Millisecond
	}
	if o.Max <= 0 {
		o.Max = 30 * time.Second
	}
	if o.Max < o.Base {
		o.Max = o.Base
	}
	if o.Factor < 1 {
		o.Factor = 2
	}
	switch {
	case o.Jitter == 0:
		o.Jitter = 0.25
	case o.Jitter < 0:
		o.Jitter = 0
	case o.Jitter > 1:
		o.Jitter = 1
	}
	return o
}

// Backoff produces growing delays: min(Max, Base*Factor^attempt) with up to
// ±Jitter applied, advancing the attempt counter on every call to NextDelay.
type Backoff struct {
	mu      sync.Mutex
	opts    BackoffOptions
	exp     *backoff.ExponentialBackOff
	attempt int
}

// NewBackoff returns a Backoff at attempt zero.
func NewBackoff(opts BackoffOptions) *Backoff {
	opts = opts.withDefaults()
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = opts.Base
	exp.MaxInterval = opts.Max
	exp.Multiplier = opts.Factor
	exp.RandomizationFactor = opts.Jitter
	exp.Reset()
	return &Backoff{opts: opts, exp: exp}
}

// NextDelay returns the delay for the current attempt and advances the
// counter. It never returns a negative duration.
func (b *Backoff) NextDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.exp.NextBackOff()
	b.attempt++
	if d < 0 {
		return 0
	}
	return d
}

// Reset returns the generator to attempt zero.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.exp.Reset()
	b.attempt = 0
	b.mu.Unlock()
}

// Attempt reports how many delays have been handed out since the last Reset.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Options returns the effective configuration.
func (b *Backoff) Options() BackoffOptions { return b.opts }
