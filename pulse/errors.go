package pulse

import (
	"errors"
	"fmt"

	"github.com/veldra/pulse.go/pulse/protocol"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("pulse: client closed")

// ErrTriggerRateLimited is returned by Trigger when a configured trigger
// limit is exceeded. The event is not submitted.
var ErrTriggerRateLimited = errors.New("pulse: trigger rate limit exceeded")

// PreconditionError reports a missing or invalid argument. It is returned
// synchronously and retrying the same call will fail the same way.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("pulse: %s: %s", e.Op, e.Reason)
}

// TransportError reports that the transport failed to accept an operation.
// Other in-flight operations are unaffected.
type TransportError struct {
	Op  protocol.Op
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("pulse: submit %s: %v", e.Op, e.Err)
}

// Unwrap returns the transport's underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

func newTransportError(op protocol.Op, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}
