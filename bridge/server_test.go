package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/veldra/pulse.go/bridge"
	"github.com/veldra/pulse.go/pulse"
	"github.com/veldra/pulse.go/pulse/protocol"
	"github.com/veldra/pulse.go/pulse/transport"
)

const appKey = "app-key"

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a delivery")
		panic("unreachable")
	}
}

func pipeClient(t *testing.T, srv *bridge.Server) *pulse.Client {
	t.Helper()
	p := srv.Open()
	c, err := pulse.NewClient(p, appKey, pulse.Options{})
	if err != nil {
		p.Close()
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func subscribe(t *testing.T, c *pulse.Client, channel string) *pulse.Channel {
	t.Helper()
	ch, err := c.Subscribe(channel)
	if err != nil {
		t.Fatalf("Subscribe(%q) error = %v", channel, err)
	}
	return ch
}

func bindChan(t *testing.T, ch *pulse.Channel, event string) chan pulse.Event {
	t.Helper()
	events := make(chan pulse.Event, 8)
	if err := ch.Bind(event, func(ev pulse.Event) { events <- ev }); err != nil {
		t.Fatalf("Bind(%q) error = %v", event, err)
	}
	return events
}

func rawInvoke(t *testing.T, p *bridge.Pipe, op protocol.Op, payload string) *string {
	t.Helper()
	res, err := p.Invoke(context.Background(), op, payload)
	if err != nil {
		t.Fatalf("Invoke(%s) error = %v", op, err)
	}
	return res
}

func rawInit(t *testing.T, p *bridge.Pipe, key string) {
	t.Helper()
	payload, err := protocol.EncodeInit(protocol.InitArgs{AppKey: key, Options: protocol.Options{Port: 443}})
	if err != nil {
		t.Fatalf("EncodeInit() error = %v", err)
	}
	rawInvoke(t, p, protocol.OpInit, payload)
}

func rawBind(t *testing.T, p *bridge.Pipe, channel, event string) {
	t.Helper()
	payload, err := protocol.EncodeBind(protocol.BindArgs{ChannelName: channel, EventName: event})
	if err != nil {
		t.Fatalf("EncodeBind() error = %v", err)
	}
	rawInvoke(t, p, protocol.OpBind, payload)
}

func nextEnvelope(t *testing.T, p *bridge.Pipe) protocol.Envelope {
	t.Helper()
	raw := waitFor(t, p.Notifications())
	env, err := protocol.DecodeInbound(raw)
	if err != nil {
		t.Fatalf("DecodeInbound(%q) error = %v", raw, err)
	}
	return env
}

func TestTriggerFanOutExcludesSender(t *testing.T) {
	srv := bridge.New(appKey)
	t.Cleanup(srv.Close)

	a := pipeClient(t, srv)
	b := pipeClient(t, srv)
	aRoom := subscribe(t, a, "private-room")
	bRoom := subscribe(t, b, "private-room")

	aEvents := bindChan(t, aRoom, "client-note")
	bEvents := bindChan(t, bRoom, "client-note")
	aSync := bindChan(t, aRoom, "sync")

	if err := aRoom.Trigger("note", `{"text":"hi"}`); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}

	ev := waitFor(t, bEvents)
	if ev.Channel != "private-room" || ev.Name != "client-note" || ev.Data != `{"text":"hi"}` {
		t.Fatalf("delivered event = %+v", ev)
	}

	// A marker published after the trigger flushes a's stream; the trigger
	// echoing back to its sender would have arrived before it.
	srv.Publish("private-room", "sync", "")
	waitFor(t, aSync)
	select {
	case ev := <-aEvents:
		t.Fatalf("sender received its own event: %+v", ev)
	default:
	}
}

func TestPublishDeliversToEveryBoundMember(t *testing.T) {
	srv := bridge.New(appKey)
	t.Cleanup(srv.Close)

	a := pipeClient(t, srv)
	b := pipeClient(t, srv)
	aEvents := bindChan(t, subscribe(t, a, "orders"), "created")
	bEvents := bindChan(t, subscribe(t, b, "orders"), "created")

	srv.Publish("orders", "created", `{"id":7}`)

	for _, events := range []chan pulse.Event{aEvents, bEvents} {
		ev := waitFor(t, events)
		if ev.Data != `{"id":7}` {
			t.Fatalf("delivered event = %+v", ev)
		}
	}
}

func TestDeliveryRequiresSubscriptionAndBinding(t *testing.T) {
	srv := bridge.New(appKey)
	t.Cleanup(srv.Close)

	// Subscribed to the room but not bound to the event.
	subOnly := srv.Open()
	t.Cleanup(func() { subOnly.Close() })
	rawInit(t, subOnly, appKey)
	rawInvoke(t, subOnly, protocol.OpSubscribe, "private-room")
	rawBind(t, subOnly, "private-room", "sync")

	// Bound to the event but no longer subscribed to the room.
	unsubbed := srv.Open()
	t.Cleanup(func() { unsubbed.Close() })
	rawInit(t, unsubbed, appKey)
	rawInvoke(t, unsubbed, protocol.OpSubscribe, "private-room")
	rawBind(t, unsubbed, "private-room", "client-note")
	rawInvoke(t, unsubbed, protocol.OpUnsubscribe, "private-room")
	rawInvoke(t, unsubbed, protocol.OpSubscribe, "side-channel")
	rawBind(t, unsubbed, "side-channel", "sync")

	// Subscribed and bound: the positive control.
	receiver := pipeClient(t, srv)
	received := bindChan(t, subscribe(t, receiver, "private-room"), "client-note")

	sender := pipeClient(t, srv)
	if err := subscribe(t, sender, "private-room").Trigger("note", "{}"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	waitFor(t, received)

	// Flush both streams; the first envelope each one sees must be the
	// marker, not the triggered event.
	srv.Publish("private-room", "sync", "")
	srv.Publish("side-channel", "sync", "")

	if env := nextEnvelope(t, subOnly); env.Kind != protocol.KindEvent || env.Event.Event != "sync" {
		t.Fatalf("subscribed-only conn saw %+v first, want the sync marker", env)
	}
	if env := nextEnvelope(t, unsubbed); env.Kind != protocol.KindEvent || env.Event.Channel != "side-channel" {
		t.Fatalf("unsubscribed conn saw %+v first, want the sync marker", env)
	}
}

func TestUsersTracksPresenceMembership(t *testing.T) {
	srv := bridge.New(appKey)
	t.Cleanup(srv.Close)

	a := pipeClient(t, srv)
	b := pipeClient(t, srv)
	subscribe(t, a, "presence-room")
	subscribe(t, b, "presence-room")

	raw, ok, err := a.Users(context.Background(), "presence-room")
	if err != nil || !ok {
		t.Fatalf("Users() = %q, %v, %v", raw, ok, err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		t.Fatalf("member list %q does not decode: %v", raw, err)
	}
	if len(ids) != 2 {
		t.Fatalf("member list = %v, want two members", ids)
	}

	if err := b.Unsubscribe("presence-room"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	raw, ok, err = a.Users(context.Background(), "presence-room")
	if err != nil || !ok {
		t.Fatalf("Users() = %q, %v, %v", raw, ok, err)
	}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		t.Fatalf("member list %q does not decode: %v", raw, err)
	}
	if len(ids) != 1 {
		t.Fatalf("member list = %v, want one member", ids)
	}

	if _, ok, err := a.Users(context.Background(), "private-room"); err != nil || ok {
		t.Fatalf("Users(non-presence) = %v, %v; want absent", ok, err)
	}
}

func TestInitRejectionEmitsConnectionError(t *testing.T) {
	srv := bridge.New(appKey)
	t.Cleanup(srv.Close)

	p := srv.Open()
	t.Cleanup(func() { p.Close() })
	rawInit(t, p, "wrong-key")

	env := nextEnvelope(t, p)
	if env.Kind != protocol.KindError {
		t.Fatalf("envelope = %+v, want a connection error", env)
	}
	if env.Error.Code != "4001" || env.Error.Message == "" {
		t.Fatalf("connection error = %+v", *env.Error)
	}
}

func TestServerCloseEndsSessions(t *testing.T) {
	srv := bridge.New(appKey)
	p := srv.Open()
	rawInit(t, p, appKey)

	srv.Close()

	deadline := time.After(5 * time.Second)
	open := true
	for open {
		select {
		case _, ok := <-p.Notifications():
			open = ok
		case <-deadline:
			t.Fatal("notification stream still open after server close")
		}
	}
	if _, err := p.Invoke(context.Background(), protocol.OpConnect, ""); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("Invoke() after close error = %v, want transport.ErrClosed", err)
	}
}

func TestMetricsTrackConnections(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	srv := bridge.New(appKey, bridge.WithMetrics(reg))
	t.Cleanup(srv.Close)

	a := pipeClient(t, srv)
	b := pipeClient(t, srv)
	if err := a.Connect(nil, nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := b.Connect(nil, nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	want := `
# HELP pulse_bridge_connected_connections Connections currently in the connected state.
# TYPE pulse_bridge_connected_connections gauge
pulse_bridge_connected_connections 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "pulse_bridge_connected_connections"); err != nil {
		t.Fatalf("gauge after two connects: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	want = `
# HELP pulse_bridge_connected_connections Connections currently in the connected state.
# TYPE pulse_bridge_connected_connections gauge
pulse_bridge_connected_connections 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "pulse_bridge_connected_connections"); err != nil {
		t.Fatalf("gauge after one close: %v", err)
	}
}

func TestClientsOverWebSocket(t *testing.T) {
	srv := bridge.New(appKey)
	t.Cleanup(srv.Close)
	hs := httptest.NewServer(http.HandlerFunc(srv.HandleHTTP))
	t.Cleanup(hs.Close)
	url := "ws" + strings.TrimPrefix(hs.URL, "http")

	wsClient := func() *pulse.Client {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tr, err := transport.DialWebSocket(ctx, url)
		if err != nil {
			t.Fatalf("DialWebSocket() error = %v", err)
		}
		c, err := pulse.NewClient(tr, appKey, pulse.Options{})
		if err != nil {
			tr.Close()
			t.Fatalf("NewClient() error = %v", err)
		}
		t.Cleanup(func() { c.Close() })
		return c
	}

	a := wsClient()
	b := wsClient()

	statec := make(chan pulse.ConnectionStateChange, 4)
	if err := a.Connect(func(sc pulse.ConnectionStateChange) { statec <- sc }, nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	for _, want := range []pulse.ConnectionState{pulse.StateConnecting, pulse.StateConnected} {
		if sc := waitFor(t, statec); sc.Current != want {
			t.Fatalf("state = %s, want %s", sc.Current, want)
		}
	}

	bEvents := bindChan(t, subscribe(t, b, "private-room"), "client-note")
	// Subscribe and bind are fire-and-forget; a users round trip on the same
	// connection proves the bridge has processed them before a triggers.
	if _, _, err := b.Users(context.Background(), "private-room"); err != nil {
		t.Fatalf("Users() error = %v", err)
	}

	aRoom := subscribe(t, a, "private-room")
	if err := aRoom.Trigger("note", `{"n":1}`); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	ev := waitFor(t, bEvents)
	if ev.Data != `{"n":1}` {
		t.Fatalf("delivered event = %+v", ev)
	}
}
