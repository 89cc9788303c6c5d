package bridge

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/veldra/pulse.go/pulse/protocol"
)

const (
	writeWait     = 10 * time.Second
	outBufferSize = 64
)

// interestKey identifies one channel/event binding of a connection.
type interestKey struct {
	channel string
	event   string
}

// conn is one client session, independent of the frontend that carries it.
// Outbound frames go through the out channel so slow consumers never block
// the server; the frontend drains it with a pump.
type conn struct {
	id  string
	log *zap.Logger
	srv *Server

	out chan protocol.Frame

	mu          sync.Mutex
	bound       map[interestKey]struct{}
	state       string
	initialized bool
	shutdown    bool
}

func (c *conn) bind(channel, event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bound[interestKey{channel: channel, event: event}] = struct{}{}
}

func (c *conn) unbind(channel, event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bound, interestKey{channel: channel, event: event})
}

func (c *conn) isBound(channel, event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.bound[interestKey{channel: channel, event: event}]
	return ok
}

// setState records the connection state and returns the previous one.
func (c *conn) setState(state string) (previous string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous = c.state
	c.state = state
	return previous
}

func (c *conn) markInitialized() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
}

func (c *conn) isInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *conn) isShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// notify encodes env and enqueues it as a notification frame.
func (c *conn) notify(env protocol.Envelope) {
	raw, err := protocol.EncodeEnvelope(env)
	if err != nil {
		c.log.Warn("encode envelope failed", zap.Error(err))
		return
	}
	c.enqueue(protocol.Frame{Kind: protocol.FrameNotification, Data: raw})
}

// enqueue hands a frame to the pump without blocking. Frames for a full or
// shut down connection are dropped.
func (c *conn) enqueue(f protocol.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return
	}
	select {
	case c.out <- f:
		if f.Kind == protocol.FrameNotification {
			c.srv.metrics.delivered.Inc()
		}
	default:
		c.srv.metrics.dropped.Inc()
		c.log.Warn("outbound buffer full, dropping frame", zap.String("kind", string(f.Kind)))
	}
}

// closeOut stops accepting frames and lets the pump drain and exit.
// Idempotent.
func (c *conn) closeOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return
	}
	c.shutdown = true
	close(c.out)
}

// writePump drains out onto a WebSocket until the channel closes, then sends
// a close frame.
func (c *conn) writePump(ws *websocket.Conn) {
	defer ws.Close()
	for f := range c.out {
		raw, err := protocol.EncodeFrame(f)
		if err != nil {
			c.log.Warn("encode frame failed", zap.Error(err))
			continue
		}
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			return
		}
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
