package mcpclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"
)

// ErrNotInitialized matches every *NotInitializedError.
var ErrNotInitialized = errors.New("mcpclient: client not initialized")

// NotInitializedError is returned by operations invoked before Initialize
// completed or after Close.
type NotInitializedError struct {
	Method string
	State  State
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("mcpclient: %s: client not initialized (state %s). Call Initialize first", e.Method, e.State)
}

func (e *NotInitializedError) Is(target error) bool { return target == ErrNotInitialized }

// ProtocolError carries a JSON-RPC error returned by the server.
type ProtocolError struct {
	Method  string
	Code    int
	Message string
	Data    []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Method, e.Message)
}

func newProtocolError(method string, w *mcptransport.WireError) *ProtocolError {
	return &ProtocolError{Method: method, Code: w.Code, Message: w.Message, Data: w.Data}
}

// IsMethodNotFound reports whether err is a protocol error signalling that
// the server does not implement the method.
func IsMethodNotFound(err error) bool {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		return false
	}
	return methodUnavailable(pe.Code, pe.Message)
}

func methodUnavailable(code int, message string) bool {
	if code == mcptransport.CodeMethodNotFound {
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unimplemented")
}
