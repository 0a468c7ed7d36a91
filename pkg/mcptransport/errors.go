package mcptransport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("mcptransport: session closed")
	// ErrNotConnected is returned by Send before Connect succeeded.
	ErrNotConnected = errors.New("mcptransport: transport not connected")
	// ErrTimeout matches every *TimeoutError via errors.Is.
	ErrTimeout = errors.New("mcptransport: timeout")
)

// TransportError reports that the channel could not be opened or a message
// could not reach the remote side.
type TransportError struct {
	Op         string
	StatusCode int
	Status     string
	Body       string
	ExitCode   int
	Signal     string
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("mcptransport: ")
	b.WriteString(e.Op)
	switch {
	case e.StatusCode != 0:
		fmt.Fprintf(&b, ": HTTP %d: %s", e.StatusCode, statusText(e.Status, e.StatusCode))
		if e.Body != "" {
			b.WriteString(" - ")
			b.WriteString(e.Body)
		}
	case e.Signal != "":
		fmt.Fprintf(&b, ": process terminated by signal %s", e.Signal)
	case e.ExitCode != 0:
		fmt.Fprintf(&b, ": process exited with code %d", e.ExitCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// statusText strips the numeric prefix net/http puts in Response.Status.
func statusText(status string, code int) string {
	prefix := fmt.Sprintf("%d ", code)
	return strings.TrimPrefix(status, prefix)
}

// TimeoutError reports that no response or connection confirmation arrived in
// time.
type TimeoutError struct {
	Op     string
	Method string
	After  time.Duration
	// Cause is the most specific error seen while waiting, if any.
	Cause error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("mcptransport: timeout after %s waiting for %s", e.After, e.Op)
	if e.Method != "" {
		msg += " to " + e.Method
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() error { return e.Cause }
