package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/veldra/pulse.go/pulse/protocol"
)

// ErrClosed is returned by Invoke after the transport shut down.
var ErrClosed = errors.New("transport: closed")

const (
	defaultHandshakeTimeout   = 10 * time.Second
	defaultWriteTimeout       = 10 * time.Second
	defaultReplyTimeout       = 10 * time.Second
	defaultNotificationBuffer = 64
)

type wsConfig struct {
	header           http.Header
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	replyTimeout     time.Duration
	buffer           int
	log              *zap.Logger
}

// WebSocketOption configures DialWebSocket.
type WebSocketOption func(*wsConfig)

// WithHeader sets additional HTTP headers for the handshake request.
func WithHeader(h http.Header) WebSocketOption {
	return func(cfg *wsConfig) { cfg.header = h }
}

// WithHandshakeTimeout bounds the WebSocket handshake.
func WithHandshakeTimeout(d time.Duration) WebSocketOption {
	return func(cfg *wsConfig) { cfg.handshakeTimeout = d }
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) WebSocketOption {
	return func(cfg *wsConfig) { cfg.writeTimeout = d }
}

// WithReplyTimeout bounds the wait for a users reply.
func WithReplyTimeout(d time.Duration) WebSocketOption {
	return func(cfg *wsConfig) { cfg.replyTimeout = d }
}

// WithNotificationBuffer sets the inbound buffer size. When the buffer is
// full because the consumer stalled, further notifications are dropped with
// a warning rather than blocking the read loop.
func WithNotificationBuffer(n int) WebSocketOption {
	return func(cfg *wsConfig) { cfg.buffer = n }
}

// WithLogger attaches a structured logger to the transport.
func WithLogger(l *zap.Logger) WebSocketOption {
	return func(cfg *wsConfig) { cfg.log = l }
}

// WebSocketTransport speaks the request/frame protocol over one WebSocket
// connection. There is no reconnection: when the connection drops, the
// notification stream closes and the transport is done.
type WebSocketTransport struct {
	conn *websocket.Conn
	log  *zap.Logger

	writeTimeout time.Duration
	replyTimeout time.Duration

	writeMu sync.Mutex

	notes chan string

	pendingMu sync.Mutex
	pending   map[string]chan *string

	closeOnce sync.Once
	closed    chan struct{}
}

// DialWebSocket connects to a bridge frontend at url (ws:// or wss://) and
// starts the read loop.
func DialWebSocket(ctx context.Context, url string, opts ...WebSocketOption) (*WebSocketTransport, error) {
	cfg := wsConfig{
		handshakeTimeout: defaultHandshakeTimeout,
		writeTimeout:     defaultWriteTimeout,
		replyTimeout:     defaultReplyTimeout,
		buffer:           defaultNotificationBuffer,
		log:              zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, cfg.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	t := &WebSocketTransport{
		conn:         conn,
		log:          cfg.log.Named("ws"),
		writeTimeout: cfg.writeTimeout,
		replyTimeout: cfg.replyTimeout,
		notes:        make(chan string, cfg.buffer),
		pending:      make(map[string]chan *string),
		closed:       make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// Invoke writes one request frame. For protocol.OpUsers it waits for the
// correlated result frame, bounded by the reply timeout and ctx.
func (t *WebSocketTransport) Invoke(ctx context.Context, op protocol.Op, payload string) (*string, error) {
	select {
	case <-t.closed:
		return nil, ErrClosed
	default:
	}

	req := protocol.Request{ID: uuid.NewString(), Op: op, Payload: payload}
	raw, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	if op != protocol.OpUsers {
		return nil, t.write(raw)
	}

	replyc := make(chan *string, 1)
	t.pendingMu.Lock()
	t.pending[req.ID] = replyc
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, req.ID)
		t.pendingMu.Unlock()
	}()

	if err := t.write(raw); err != nil {
		return nil, err
	}

	timer := time.NewTimer(t.replyTimeout)
	defer timer.Stop()
	select {
	case v := <-replyc:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("users reply timed out after %s", t.replyTimeout)
	case <-t.closed:
		return nil, ErrClosed
	}
}

// Notifications returns the inbound envelope stream. Closed when the
// connection ends.
func (t *WebSocketTransport) Notifications() <-chan string {
	return t.notes
}

// Close sends a close frame on a best-effort basis and tears the connection
// down. Idempotent.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeTimeout))
		err = t.conn.Close()
	})
	return err
}

func (t *WebSocketTransport) write(raw string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readLoop splits inbound frames into users replies and notifications until
// the connection ends, then closes the notification stream.
func (t *WebSocketTransport) readLoop() {
	defer close(t.notes)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
			default:
				t.log.Warn("read loop ended", zap.Error(err))
			}
			return
		}

		frame, err := protocol.DecodeFrame(string(data))
		if err != nil {
			t.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		switch frame.Kind {
		case protocol.FrameResult:
			t.resolve(frame)
		case protocol.FrameNotification:
			select {
			case t.notes <- frame.Data:
			default:
				t.log.Warn("notification buffer full, dropping envelope")
			}
		default:
			t.log.Warn("unknown frame kind", zap.String("kind", string(frame.Kind)))
		}
	}
}

func (t *WebSocketTransport) resolve(frame protocol.Frame) {
	t.pendingMu.Lock()
	replyc, ok := t.pending[frame.ID]
	if ok {
		delete(t.pending, frame.ID)
	}
	t.pendingMu.Unlock()
	if !ok {
		t.log.Debug("result frame with no waiter", zap.String("id", frame.ID))
		return
	}
	replyc <- frame.Value
}
