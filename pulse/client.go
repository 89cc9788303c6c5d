package pulse

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/veldra/pulse.go/pulse/protocol"
	"github.com/veldra/pulse.go/pulse/transport"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a structured logger. The default is a no-op logger.
// Setting one also asks the transport side to log wire traffic.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.log = l
		c.loggingEnabled = true
	}
}

// WithTriggerLimit throttles client events across all channels of this
// client. When the limit is exceeded Trigger returns ErrTriggerRateLimited
// without submitting. Unset means no throttling.
func WithTriggerLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// Client owns one logical connection to the messaging backend: the channel
// subscriptions, the callback bindings and the single pair of lifecycle
// handlers. All notification callbacks run serialized on one dispatcher
// goroutine in arrival order.
//
// Operations are fire-and-forget: a nil error means the request reached the
// transport, not that the backend acted on it. Effects show up later through
// the dispatcher. The only operation that waits for an answer is Users.
type Client struct {
	tr             transport.Transport
	log            *zap.Logger
	loggingEnabled bool

	appKey string
	opts   Options

	limiter *rate.Limiter

	bindings *bindings

	mu            sync.Mutex
	channels      map[string]*Channel
	onStateChange StateChangeHandler
	onError       ErrorHandler
	state         ConnectionState
	closed        bool
	dispatching   bool

	stop chan struct{}
	done chan struct{}
}

// NewClient builds a client over tr and submits the init request carrying
// appKey and opts. The zero Options value is usable. The dispatcher starts
// before init is submitted, so even a notification sent immediately by the
// backend is delivered. The caller keeps ownership of tr until Close.
func NewClient(tr transport.Transport, appKey string, opts Options, options ...Option) (*Client, error) {
	if tr == nil {
		return nil, &PreconditionError{Op: "init", Reason: "transport is required"}
	}
	if appKey == "" {
		return nil, &PreconditionError{Op: "init", Reason: "app key is required"}
	}

	c := &Client{
		tr:       tr,
		log:      zap.NewNop(),
		appKey:   appKey,
		opts:     opts.withDefaults(),
		bindings: newBindings(),
		channels: make(map[string]*Channel),
		state:    StateDisconnected,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	go c.dispatch()

	payload, err := protocol.EncodeInit(protocol.InitArgs{
		AppKey:         c.appKey,
		Options:        c.opts.wire(),
		LoggingEnabled: c.loggingEnabled,
	})
	if err != nil {
		c.stopDispatcher()
		return nil, fmt.Errorf("encode init: %w", err)
	}
	if err := c.submit(protocol.OpInit, payload); err != nil {
		c.stopDispatcher()
		return nil, err
	}
	return c, nil
}

// Connect stores the lifecycle handlers, replacing any previous pair, and
// submits the connect request. Either handler may be nil. State changes
// arrive asynchronously through the dispatcher; Connect does not wait for
// the connected state.
func (c *Client) Connect(onStateChange StateChangeHandler, onError ErrorHandler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.onStateChange = onStateChange
	c.onError = onError
	c.mu.Unlock()
	return c.submit(protocol.OpConnect, "")
}

// Disconnect submits the disconnect request. Bindings and lifecycle handlers
// survive for a later Connect.
func (c *Client) Disconnect() error {
	return c.submit(protocol.OpDisconnect, "")
}

// Subscribe submits the subscribe request and returns the handle for the
// channel without waiting for an acknowledgment. Binds on the returned
// channel are valid immediately. Subscribing the same name again returns the
// existing handle.
func (c *Client) Subscribe(channel string) (*Channel, error) {
	if channel == "" {
		return nil, &PreconditionError{Op: "subscribe", Reason: "channel name is required"}
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	ch, ok := c.channels[channel]
	if !ok {
		ch = &Channel{name: channel, client: c}
		c.channels[channel] = ch
	}
	c.mu.Unlock()

	if err := c.submit(protocol.OpSubscribe, channel); err != nil {
		return nil, err
	}
	return ch, nil
}

// Unsubscribe submits the unsubscribe request and drops the channel handle.
// Bindings for the channel are left in place so a later Subscribe picks them
// up again; use ClearBindings to remove them.
func (c *Client) Unsubscribe(channel string) error {
	if channel == "" {
		return &PreconditionError{Op: "unsubscribe", Reason: "channel name is required"}
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	delete(c.channels, channel)
	c.mu.Unlock()
	return c.submit(protocol.OpUnsubscribe, channel)
}

// ClearBindings removes every binding for one channel.
func (c *Client) ClearBindings(channel string) {
	c.bindings.clearChannel(channel)
}

// Users asks the backend for the member list of a presence channel and
// returns it raw, without parsing. ok is false when the backend reports no
// value, which is what non-presence channels answer.
func (c *Client) Users(ctx context.Context, channel string) (string, bool, error) {
	if channel == "" {
		return "", false, &PreconditionError{Op: "getUsers", Reason: "channel name is required"}
	}
	if c.isClosed() {
		return "", false, ErrClosed
	}
	res, err := c.tr.Invoke(ctx, protocol.OpUsers, channel)
	if err != nil {
		return "", false, newTransportError(protocol.OpUsers, err)
	}
	if res == nil {
		return "", false, nil
	}
	return *res, true, nil
}

// State returns the most recent state reported through the dispatcher, or
// StateDisconnected before any report. Informational only; no transition
// table is enforced.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close stops the dispatcher and closes the transport. Further operations
// return ErrClosed. Close is idempotent.
//
// Close may be called from inside a callback: the dispatcher is not joined
// while an envelope is being dispatched, and it exits as soon as the running
// callback returns.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dispatching := c.dispatching
	c.mu.Unlock()

	close(c.stop)
	err := c.tr.Close()
	if !dispatching {
		<-c.done
	}
	if err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

func (c *Client) bind(channel, event string, h EventHandler) error {
	c.bindings.register(channel, event, h)
	payload, err := protocol.EncodeBind(protocol.BindArgs{ChannelName: channel, EventName: event})
	if err != nil {
		return fmt.Errorf("encode bind: %w", err)
	}
	return c.submit(protocol.OpBind, payload)
}

func (c *Client) unbind(channel, event string) error {
	c.bindings.unregister(channel, event)
	payload, err := protocol.EncodeBind(protocol.BindArgs{ChannelName: channel, EventName: event})
	if err != nil {
		return fmt.Errorf("encode unbind: %w", err)
	}
	return c.submit(protocol.OpUnbind, payload)
}

func (c *Client) trigger(channel, event, data string) error {
	if c.limiter != nil && !c.limiter.Allow() {
		return ErrTriggerRateLimited
	}
	payload, err := protocol.EncodeBind(protocol.BindArgs{ChannelName: channel, EventName: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}
	return c.submit(protocol.OpTrigger, payload)
}

// submit hands one fire-and-forget operation to the transport.
func (c *Client) submit(op protocol.Op, payload string) error {
	if c.isClosed() {
		return ErrClosed
	}
	if _, err := c.tr.Invoke(context.Background(), op, payload); err != nil {
		c.log.Warn("operation submission failed", zap.String("op", string(op)), zap.Error(err))
		return newTransportError(op, err)
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setDispatching(v bool) {
	c.mu.Lock()
	c.dispatching = v
	c.mu.Unlock()
}

func (c *Client) stopDispatcher() {
	close(c.stop)
	<-c.done
}

// dispatch consumes the notification stream until Close or until the
// transport closes the stream.
func (c *Client) dispatch() {
	defer close(c.done)
	notes := c.tr.Notifications()
	for {
		select {
		case <-c.stop:
			return
		case raw, ok := <-notes:
			if !ok {
				return
			}
			c.setDispatching(true)
			c.handle(raw)
			c.setDispatching(false)
		}
	}
}

// handle decodes and routes one envelope. A malformed envelope is logged and
// dropped so the stream keeps flowing. An envelope that matches no binding
// or handler is dropped silently.
func (c *Client) handle(raw string) {
	env, err := protocol.DecodeInbound(raw)
	if err != nil {
		c.log.Warn("dropping malformed notification", zap.Error(err))
		return
	}

	switch env.Kind {
	case protocol.KindEvent:
		h := c.bindings.lookup(env.Event.Channel, env.Event.Event)
		if h == nil {
			c.log.Debug("no binding for event",
				zap.String("channel", env.Event.Channel),
				zap.String("event", env.Event.Event))
			return
		}
		h(Event{Channel: env.Event.Channel, Name: env.Event.Event, Data: env.Event.Data})
	case protocol.KindStateChange:
		change := ConnectionStateChange{
			Previous: ConnectionState(env.StateChange.Previous),
			Current:  ConnectionState(env.StateChange.Current),
		}
		c.mu.Lock()
		c.state = change.Current
		h := c.onStateChange
		c.mu.Unlock()
		if h != nil {
			h(change)
		}
	case protocol.KindError:
		c.mu.Lock()
		h := c.onError
		c.mu.Unlock()
		if h != nil {
			h(ConnectionError{
				Message:   env.Error.Message,
				Code:      env.Error.Code,
				Exception: env.Error.Exception,
			})
		}
	}
}
