package pulse

import "strings"

// clientEventPrefix marks events originated by a subscriber rather than the
// backend. Triggered event names always carry it exactly once.
const clientEventPrefix = "client-"

// Channel is a handle for one named channel, returned by Subscribe. It holds
// no connection state of its own; every operation delegates to the client it
// came from, so a Channel stays usable across disconnects.
type Channel struct {
	name   string
	client *Client
}

// Name returns the channel name.
func (ch *Channel) Name() string { return ch.name }

// Bind registers h for the named event on this channel, then submits the
// bind request. The handler is registered before submission, so an event
// arriving right after the bind takes effect is never missed. Binding an
// already-bound event replaces the handler. On submission failure the local
// registration is kept.
func (ch *Channel) Bind(event string, h EventHandler) error {
	if h == nil {
		return &PreconditionError{Op: "bind", Reason: "handler is required"}
	}
	if event == "" {
		return &PreconditionError{Op: "bind", Reason: "event name is required"}
	}
	return ch.client.bind(ch.name, event, h)
}

// Unbind removes the handler for the named event and submits the unbind
// request. Unbinding an event that was never bound is not an error.
func (ch *Channel) Unbind(event string) error {
	if event == "" {
		return &PreconditionError{Op: "unbind", Reason: "event name is required"}
	}
	return ch.client.unbind(ch.name, event)
}

// Trigger submits a client event on this channel. The event name is prefixed
// with "client-" unless it already is; empty data is sent as "{}". Client
// events are only meaningful on private and presence channels. That rule is
// enforced by the backend, not here.
func (ch *Channel) Trigger(event, data string) error {
	if event == "" {
		return &PreconditionError{Op: "trigger", Reason: "event name is required"}
	}
	if !strings.HasPrefix(event, clientEventPrefix) {
		event = clientEventPrefix + event
	}
	if data == "" {
		data = "{}"
	}
	return ch.client.trigger(ch.name, event, data)
}
