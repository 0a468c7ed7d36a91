package resilience

import (
	"sync"
	"time"
)

// CircuitOptions configures a CircuitBreaker.
type CircuitOptions struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Defaults to 5.
	FailureThreshold int
	// Cooldown is how long the breaker stays open. Defaults to 30s.
	Cooldown time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

func (o CircuitOptions) withDefaults() CircuitOptions {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// CircuitBreaker counts consecutive failures and rejects attempts for a
// cooldown window once the threshold is reached. Opening the breaker clears
// the counter, so it closes again as soon as the cooldown elapses.
type CircuitBreaker struct {
	mu        sync.Mutex
	opts      CircuitOptions
	failures  int
	openUntil time.Time
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(opts CircuitOptions) *CircuitBreaker {
	return &CircuitBreaker{opts: opts.withDefaults()}
}

// CanAttempt reports whether the current time is at or past the end of the
// open window.
func (c *CircuitBreaker) CanAttempt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.opts.Now().Before(c.openUntil)
}

// RecordSuccess clears the failure counter. An open window is left alone.
func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
}

// RecordFailure counts a failure and reports whether it opened the breaker.
func (c *CircuitBreaker) RecordFailure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures < c.opts.FailureThreshold {
		return false
	}
	c.openUntil = c.opts.Now().Add(c.opts.Cooldown)
	c.failures = 0
	return true
}

// Failures returns the current consecutive failure count.
func (c *CircuitBreaker) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// OpenUntil returns the end of the most recent open window. The zero time
// means the breaker has never opened.
func (c *CircuitBreaker) OpenUntil() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openUntil
}
