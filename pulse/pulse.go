// Package pulse is a client for Pulse-style realtime messaging backends. A
// Client owns one logical connection, a set of named channel subscriptions
// and per channel/event callback bindings. Inbound notifications are decoded
// and routed on a single dispatcher goroutine, so callbacks run serialized in
// arrival order.
//
// The wire protocol to the backend is not implemented here. The client talks
// to a transport.Transport, which hands operations to whatever actually
// terminates the protocol (see the bridge package for an in-memory one).
package pulse

// Event is one channel-scoped message delivered to a bound handler. Data is
// an opaque payload, usually JSON produced by whoever triggered the event.
type Event struct {
	Channel string
	Name    string
	Data    string
}

// EventHandler receives events for one channel/event binding.
type EventHandler func(Event)

// StateChangeHandler receives connection state transitions.
type StateChangeHandler func(ConnectionStateChange)

// ErrorHandler receives connection errors reported by the backend.
type ErrorHandler func(ConnectionError)
