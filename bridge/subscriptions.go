package bridge

import (
	"sort"
	"sync"
)

// subscriptions tracks which connections joined which channels.
type subscriptions struct {
	mu       sync.RWMutex
	channels map[string]map[string]*conn
}

func newSubscriptions() *subscriptions {
	return &subscriptions{channels: make(map[string]map[string]*conn)}
}

// join adds c to the channel. Joining twice is a no-op.
func (s *subscriptions) join(channel string, c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.channels[channel]
	if !ok {
		members = make(map[string]*conn)
		s.channels[channel] = members
	}
	members[c.id] = c
}

// leave removes c from the channel. Empty channels are pruned.
func (s *subscriptions) leave(channel string, c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.channels[channel]
	if !ok {
		return
	}
	delete(members, c.id)
	if len(members) == 0 {
		delete(s.channels, channel)
	}
}

// leaveAll removes c from every channel it joined.
func (s *subscriptions) leaveAll(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for channel, members := range s.channels {
		delete(members, c.id)
		if len(members) == 0 {
			delete(s.channels, channel)
		}
	}
}

// members returns the current connections of a channel.
func (s *subscriptions) members(channel string) []*conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := s.channels[channel]
	out := make([]*conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// memberIDs returns the sorted connection IDs of a channel.
func (s *subscriptions) memberIDs(channel string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := s.channels[channel]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
