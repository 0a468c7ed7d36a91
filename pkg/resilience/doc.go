// Package resilience holds the small concurrency and failure-handling
// primitives the fleet manager builds on: a FIFO counting Semaphore, an
// exponential Backoff generator with jitter, and a consecutive-failure
// CircuitBreaker. All three are safe for concurrent use.
package resilience
