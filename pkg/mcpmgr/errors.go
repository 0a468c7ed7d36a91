package mcpmgr

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen matches every *CircuitOpenError.
var ErrCircuitOpen = errors.New("mcpmgr: circuit open")

// CircuitOpenError is returned without contacting a server whose breaker is
// inside its cooldown window.
type CircuitOpenError struct {
	Server string
	Until  time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("Circuit open for %s, skipping until cooldown", e.Server)
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// UnknownServerError is returned for names missing from the registry.
type UnknownServerError struct {
	Server string
}

func (e *UnknownServerError) Error() string {
	return fmt.Sprintf("mcpmgr: unknown server %q", e.Server)
}
