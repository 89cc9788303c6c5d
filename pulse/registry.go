package pulse

import "sync"

// bindingKey identifies one binding. Keying on the pair rather than a joined
// string keeps "a"/"bc" and "ab"/"c" distinct.
type bindingKey struct {
	channel string
	event   string
}

// bindings maps channel/event pairs to handlers. Register and unregister run
// on caller goroutines while lookup runs on the dispatcher, so access is
// guarded.
type bindings struct {
	mu sync.RWMutex
	m  map[bindingKey]EventHandler
}

func newBindings() *bindings {
	return &bindings{m: make(map[bindingKey]EventHandler)}
}

// register inserts or silently overwrites the handler for the pair.
func (b *bindings) register(channel, event string, h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[bindingKey{channel: channel, event: event}] = h
}

// unregister removes the binding. Removing a missing key is a no-op.
func (b *bindings) unregister(channel, event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.m, bindingKey{channel: channel, event: event})
}

// lookup returns the handler for the pair, or nil. The server may deliver
// events for bindings already removed here, so nil is an expected answer and
// the caller drops the event.
func (b *bindings) lookup(channel, event string) EventHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.m[bindingKey{channel: channel, event: event}]
}

// clearChannel removes every binding for one channel.
func (b *bindings) clearChannel(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.m {
		if key.channel == channel {
			delete(b.m, key)
		}
	}
}
