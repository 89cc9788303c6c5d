// Package transport defines the boundary between the pulse client and
// whatever terminates the backend protocol, plus a WebSocket implementation
// of it. The client submits named operations and consumes a stream of raw
// notification envelopes; everything protocol-specific stays behind this
// interface.
package transport

import (
	"context"

	"github.com/veldra/pulse.go/pulse/protocol"
)

// Transport carries operations to the backend side and notifications back.
// Implementations must deliver notifications in arrival order.
type Transport interface {
	// Invoke submits one named operation. A nil error means the request was
	// handed off, not that the backend acted on it. The result is non-nil
	// only for operations that produce a value (protocol.OpUsers).
	Invoke(ctx context.Context, op protocol.Op, payload string) (*string, error)

	// Notifications returns the inbound envelope stream. The channel is
	// closed when the transport shuts down.
	Notifications() <-chan string

	// Close tears the transport down and closes the notification stream.
	Close() error
}
