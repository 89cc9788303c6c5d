package bridge

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/veldra/pulse.go/pulse/protocol"
	"github.com/veldra/pulse.go/pulse/transport"
)

// Pipe is an in-process session with a bridge. It implements
// transport.Transport, so a pulse.Client can talk to a bridge in the same
// process without a listener. Used by the tests and the presence example.
type Pipe struct {
	srv   *Server
	c     *conn
	notes chan string

	closeOnce sync.Once
}

var _ transport.Transport = (*Pipe)(nil)

// Open starts an in-process session and returns its transport end.
func (s *Server) Open() *Pipe {
	c := s.newConn()
	p := &Pipe{srv: s, c: c, notes: make(chan string, outBufferSize)}
	go p.pump()
	c.log.Info("pipe opened")
	return p
}

// Invoke applies the operation directly on the bridge. The users result is
// returned synchronously; everything else is nil.
func (p *Pipe) Invoke(ctx context.Context, op protocol.Op, payload string) (*string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if p.c.isShutdown() {
		return nil, transport.ErrClosed
	}
	req := protocol.Request{ID: uuid.NewString(), Op: op, Payload: payload}
	return p.srv.handle(p.c, req), nil
}

// Notifications returns the inbound envelope stream. Closed when the pipe or
// the bridge shuts down.
func (p *Pipe) Notifications() <-chan string {
	return p.notes
}

// Close drops the session from the bridge. Idempotent.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { p.srv.dropConn(p.c) })
	return nil
}

func (p *Pipe) pump() {
	defer close(p.notes)
	for f := range p.c.out {
		if f.Kind != protocol.FrameNotification {
			continue
		}
		select {
		case p.notes <- f.Data:
		default:
			p.srv.metrics.dropped.Inc()
			p.c.log.Warn("notification buffer full, dropping envelope")
		}
	}
}
