// Package protocol defines the wire protocol between the Pulse client core
// and the transport bridge. Requests travel client→bridge as named operations
// with pre-encoded payloads; notifications travel bridge→client as envelopes
// carrying exactly one of a data event, a connection state change, or a
// connection error. The package only translates between Go values and wire
// strings; routing lives in the client core.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Op names one operation on the request side of the transport boundary.
type Op string

const (
	OpInit        Op = "init"
	OpConnect     Op = "connect"
	OpDisconnect  Op = "disconnect"
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
	OpUsers       Op = "getUsers"
	OpBind        Op = "bind"
	OpUnbind      Op = "unbind"
	OpTrigger     Op = "trigger"
)

// Auth is the wire form of the channel-authentication configuration.
type Auth struct {
	Endpoint string            `json:"endpoint"`
	Headers  map[string]string `json:"headers"`
}

// Options is the wire form of the connection configuration sent with init.
// ActivityTimeout is in milliseconds.
type Options struct {
	Cluster         string `json:"cluster,omitempty"`
	Host            string `json:"host,omitempty"`
	Port            int    `json:"port"`
	Encrypted       bool   `json:"encrypted"`
	ActivityTimeout int64  `json:"activityTimeout"`
	Auth            *Auth  `json:"auth,omitempty"`
}

// InitArgs carries everything the bridge needs before a connection attempt:
// the application key, the full options tree and whether the bridge should
// log wire traffic.
type InitArgs struct {
	AppKey         string  `json:"appKey"`
	Options        Options `json:"options"`
	LoggingEnabled bool    `json:"isLoggingEnabled"`
}

// BindArgs carries the arguments of the bind, unbind and trigger operations.
// Data is empty for bind/unbind and populated for trigger.
type BindArgs struct {
	ChannelName string `json:"channelName"`
	EventName   string `json:"eventName"`
	Data        string `json:"data,omitempty"`
}

// Event is a channel-scoped data event. Data is an opaque payload, usually
// JSON encoded by whoever triggered the event.
type Event struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Data    string `json:"data"`
}

// StateChange reports a connection state transition observed by the bridge.
// States are carried verbatim; unknown values are not rejected here.
type StateChange struct {
	Previous string `json:"previousState"`
	Current  string `json:"currentState"`
}

// ConnError is a semantic failure reported by the messaging backend, for
// example an authentication rejection. All fields are optional.
type ConnError struct {
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
	Exception string `json:"exception,omitempty"`
}

// Kind discriminates the decoded envelope variants.
type Kind int

const (
	// KindNone marks an envelope with no populated branch. The dispatcher
	// drops these.
	KindNone Kind = iota
	KindEvent
	KindStateChange
	KindError
)

// String returns the log-friendly name of the kind.
func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindStateChange:
		return "connectionStateChange"
	case KindError:
		return "connectionError"
	default:
		return "none"
	}
}

// Envelope is the decoded form of one inbound notification. Exactly the
// pointer matching Kind is non-nil. On the wire the union is carried as three
// optional fields and absence is the discriminant; decoding applies the
// precedence event > connectionStateChange > connectionError so that an
// over-populated envelope behaves the same as in the reference bridge.
type Envelope struct {
	Kind        Kind
	Event       *Event
	StateChange *StateChange
	Error       *ConnError
}

// EventEnvelope builds an envelope carrying a data event.
func EventEnvelope(channel, event, data string) Envelope {
	return Envelope{Kind: KindEvent, Event: &Event{Channel: channel, Event: event, Data: data}}
}

// StateChangeEnvelope builds an envelope carrying a state transition.
func StateChangeEnvelope(previous, current string) Envelope {
	return Envelope{Kind: KindStateChange, StateChange: &StateChange{Previous: previous, Current: current}}
}

// ErrorEnvelope builds an envelope carrying a backend connection error.
func ErrorEnvelope(message, code, exception string) Envelope {
	return Envelope{Kind: KindError, Error: &ConnError{Message: message, Code: code, Exception: exception}}
}

// ParseError reports an inbound payload that could not be decoded into the
// expected shape. The dispatcher logs and drops these instead of letting one
// malformed envelope break the notification stream.
type ParseError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse error: %s", e.Reason)
}

// Unwrap returns the underlying decode error, if any.
func (e *ParseError) Unwrap() error { return e.Err }

// eventWire mirrors Event with pointer fields so that missing required
// sub-fields are detectable during decode.
type eventWire struct {
	Channel *string `json:"channel"`
	Event   *string `json:"event"`
	Data    *string `json:"data"`
}

type stateChangeWire struct {
	Previous *string `json:"previousState"`
	Current  *string `json:"currentState"`
}

type envelopeWire struct {
	Event       *eventWire       `json:"event,omitempty"`
	StateChange *stateChangeWire `json:"connectionStateChange,omitempty"`
	Error       *ConnError       `json:"connectionError,omitempty"`
}

// EncodeInit serializes the init arguments into one wire string.
func EncodeInit(args InitArgs) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode init args: %w", err)
	}
	return string(data), nil
}

// EncodeBind serializes bind/unbind/trigger arguments into one wire string.
func EncodeBind(args BindArgs) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode bind args: %w", err)
	}
	return string(data), nil
}

// DecodeBind parses bind/unbind/trigger arguments. Used by the bridge side.
func DecodeBind(raw string) (BindArgs, error) {
	var args BindArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return BindArgs{}, &ParseError{Reason: "invalid bind args", Err: err}
	}
	if args.ChannelName == "" || args.EventName == "" {
		return BindArgs{}, &ParseError{Reason: "bind args missing channelName or eventName"}
	}
	return args, nil
}

// DecodeInit parses init arguments. Used by the bridge side.
func DecodeInit(raw string) (InitArgs, error) {
	var args InitArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return InitArgs{}, &ParseError{Reason: "invalid init args", Err: err}
	}
	if args.AppKey == "" {
		return InitArgs{}, &ParseError{Reason: "init args missing appKey"}
	}
	return args, nil
}

// EncodeEnvelope serializes a notification envelope into its wire form.
func EncodeEnvelope(env Envelope) (string, error) {
	var w envelopeWire
	switch env.Kind {
	case KindEvent:
		if env.Event == nil {
			return "", fmt.Errorf("encode envelope: event kind without event")
		}
		w.Event = &eventWire{Channel: &env.Event.Channel, Event: &env.Event.Event, Data: &env.Event.Data}
	case KindStateChange:
		if env.StateChange == nil {
			return "", fmt.Errorf("encode envelope: state change kind without state change")
		}
		w.StateChange = &stateChangeWire{Previous: &env.StateChange.Previous, Current: &env.StateChange.Current}
	case KindError:
		if env.Error == nil {
			return "", fmt.Errorf("encode envelope: error kind without error")
		}
		w.Error = env.Error
	case KindNone:
		// An empty envelope is legal on the wire; the receiver drops it.
	default:
		return "", fmt.Errorf("encode envelope: unknown kind %d", env.Kind)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(data), nil
}

// DecodeInbound parses one notification envelope. A payload that is not valid
// JSON, or whose populated branch lacks required sub-fields, yields a
// *ParseError. An envelope with no populated branch decodes to KindNone.
func DecodeInbound(raw string) (Envelope, error) {
	var w envelopeWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Envelope{}, &ParseError{Reason: "invalid envelope", Err: err}
	}

	switch {
	case w.Event != nil:
		if w.Event.Channel == nil || w.Event.Event == nil || w.Event.Data == nil {
			return Envelope{}, &ParseError{Reason: "event envelope missing channel, event or data"}
		}
		return Envelope{
			Kind:  KindEvent,
			Event: &Event{Channel: *w.Event.Channel, Event: *w.Event.Event, Data: *w.Event.Data},
		}, nil
	case w.StateChange != nil:
		if w.StateChange.Previous == nil || w.StateChange.Current == nil {
			return Envelope{}, &ParseError{Reason: "state change envelope missing previousState or currentState"}
		}
		return Envelope{
			Kind:        KindStateChange,
			StateChange: &StateChange{Previous: *w.StateChange.Previous, Current: *w.StateChange.Current},
		}, nil
	case w.Error != nil:
		return Envelope{Kind: KindError, Error: w.Error}, nil
	}
	return Envelope{Kind: KindNone}, nil
}
