// Package bridge is an in-memory stand-in for a Pulse messaging backend,
// used by the examples and the transport tests. It terminates the
// request/frame protocol: it checks the app key at init, emits connection
// state transitions, tracks channel membership and event interest per
// connection, and fans triggered events out to everyone else who cares.
//
// It is a development backend. It speaks the client protocol of this module,
// not the protocol of any real messaging service, and keeps everything in
// process memory.
package bridge

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/veldra/pulse.go/pulse/protocol"
)

const (
	stateConnecting    = "connecting"
	stateConnected     = "connected"
	stateDisconnecting = "disconnecting"
	stateDisconnected  = "disconnected"
)

const presencePrefix = "presence-"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Option configures a Server.
type Option func(*Server)

// WithLogger attaches a structured logger. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics registers the bridge collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Server) { s.reg = reg }
}

// Server accepts client sessions over WebSocket (HandleHTTP) or in process
// (Open) and routes operations between them.
type Server struct {
	appKey  string
	log     *zap.Logger
	reg     prometheus.Registerer
	metrics *metrics
	subs    *subscriptions

	mu    sync.Mutex
	conns map[string]*conn
}

// New builds a bridge that accepts sessions initialized with appKey.
func New(appKey string, opts ...Option) *Server {
	s := &Server{
		appKey: appKey,
		log:    zap.NewNop(),
		subs:   newSubscriptions(),
		conns:  make(map[string]*conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("bridge")
	s.metrics = newMetrics(s.reg)
	return s
}

// HandleHTTP upgrades the request to a WebSocket and serves the session
// until the connection drops. Mount it wherever the mux routes realtime
// clients.
func (s *Server) HandleHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := s.newConn()
	c.log.Info("connection opened", zap.String("remote", r.RemoteAddr))
	go c.writePump(ws)
	s.readLoop(c, ws)
}

// Publish injects a backend-originated event: it is delivered to every
// connection subscribed to the channel and bound to the event, with no
// sender exclusion.
func (s *Server) Publish(channel, event, data string) {
	s.fanOut(channel, event, data, nil)
}

// Close drops every session. Frontends notice through their closed streams.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[string]*conn)
	s.mu.Unlock()
	for _, c := range conns {
		s.teardown(c)
	}
}

func (s *Server) newConn() *conn {
	c := &conn{
		id:    uuid.NewString(),
		srv:   s,
		out:   make(chan protocol.Frame, outBufferSize),
		bound: make(map[interestKey]struct{}),
		state: stateDisconnected,
	}
	c.log = s.log.With(zap.String("conn", c.id))
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	return c
}

func (s *Server) dropConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.teardown(c)
	c.log.Info("connection closed")
}

func (s *Server) teardown(c *conn) {
	s.subs.leaveAll(c)
	if c.setState(stateDisconnected) == stateConnected {
		s.metrics.connections.Dec()
	}
	c.closeOut()
}

func (s *Server) readLoop(c *conn, ws *websocket.Conn) {
	defer s.dropConn(c)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("read failed", zap.Error(err))
			}
			return
		}
		req, err := protocol.DecodeRequest(string(data))
		if err != nil {
			c.log.Warn("dropping malformed request", zap.Error(err))
			continue
		}
		v := s.handle(c, req)
		if req.Op == protocol.OpUsers {
			c.enqueue(protocol.Frame{Kind: protocol.FrameResult, ID: req.ID, Value: v})
		}
	}
}

// handle applies one operation. The return value is non-nil only for
// protocol.OpUsers; how it travels back is the frontend's business.
func (s *Server) handle(c *conn, req protocol.Request) *string {
	s.metrics.operations.WithLabelValues(string(req.Op)).Inc()
	if req.Op != protocol.OpInit && !c.isInitialized() {
		// A real backend would reject these.
		c.log.Debug("operation before init", zap.String("op", string(req.Op)))
	}

	switch req.Op {
	case protocol.OpInit:
		s.handleInit(c, req.Payload)
	case protocol.OpConnect:
		s.transition(c, stateConnecting)
		s.transition(c, stateConnected)
	case protocol.OpDisconnect:
		s.transition(c, stateDisconnecting)
		s.transition(c, stateDisconnected)
	case protocol.OpSubscribe:
		if req.Payload != "" {
			s.subs.join(req.Payload, c)
		}
	case protocol.OpUnsubscribe:
		if req.Payload != "" {
			s.subs.leave(req.Payload, c)
		}
	case protocol.OpUsers:
		return s.handleUsers(req.Payload)
	case protocol.OpBind:
		if args, err := protocol.DecodeBind(req.Payload); err == nil {
			c.bind(args.ChannelName, args.EventName)
		} else {
			c.log.Warn("dropping malformed bind", zap.Error(err))
		}
	case protocol.OpUnbind:
		if args, err := protocol.DecodeBind(req.Payload); err == nil {
			c.unbind(args.ChannelName, args.EventName)
		} else {
			c.log.Warn("dropping malformed unbind", zap.Error(err))
		}
	case protocol.OpTrigger:
		args, err := protocol.DecodeBind(req.Payload)
		if err != nil {
			c.log.Warn("dropping malformed trigger", zap.Error(err))
			return nil
		}
		s.fanOut(args.ChannelName, args.EventName, args.Data, c)
	default:
		c.log.Warn("unknown op", zap.String("op", string(req.Op)))
	}
	return nil
}

func (s *Server) handleInit(c *conn, payload string) {
	args, err := protocol.DecodeInit(payload)
	if err != nil {
		c.log.Warn("dropping malformed init", zap.Error(err))
		return
	}
	if args.AppKey != s.appKey {
		c.log.Warn("rejecting unknown app key")
		c.notify(protocol.ErrorEnvelope("application key not recognized", "4001", "AuthenticationError"))
		return
	}
	c.markInitialized()
	c.log.Debug("session initialized",
		zap.String("cluster", args.Options.Cluster),
		zap.Bool("wireLogging", args.LoggingEnabled))
}

// handleUsers answers the member list for presence channels. Any other
// channel gets no value.
func (s *Server) handleUsers(channel string) *string {
	if !strings.HasPrefix(channel, presencePrefix) {
		return nil
	}
	data, err := json.Marshal(s.subs.memberIDs(channel))
	if err != nil {
		s.log.Warn("encode member list failed", zap.Error(err))
		return nil
	}
	raw := string(data)
	return &raw
}

// transition moves c to a new state and notifies it of the change.
func (s *Server) transition(c *conn, to string) {
	prev := c.setState(to)
	if prev != stateConnected && to == stateConnected {
		s.metrics.connections.Inc()
	}
	if prev == stateConnected && to != stateConnected {
		s.metrics.connections.Dec()
	}
	c.notify(protocol.StateChangeEnvelope(prev, to))
}

// fanOut delivers an event to every connection subscribed to the channel and
// bound to the event, except the sender.
func (s *Server) fanOut(channel, event, data string, except *conn) {
	for _, m := range s.subs.members(channel) {
		if m == except {
			continue
		}
		if !m.isBound(channel, event) {
			continue
		}
		m.notify(protocol.EventEnvelope(channel, event, data))
	}
}
