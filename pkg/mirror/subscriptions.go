package mirror

import (
	"sort"
	"sync"
)

// subscriptions tracks the server ids subscribed on the current socket.
type subscriptions struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newSubscriptions() *subscriptions {
	return &subscriptions{ids: make(map[string]struct{})}
}

// add records id and reports whether it was new.
func (s *subscriptions) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// remove forgets id and reports whether it was recorded.
func (s *subscriptions) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	delete(s.ids, id)
	return ok
}

func (s *subscriptions) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// reset forgets every id and returns them sorted.
func (s *subscriptions) reset() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.ids = make(map[string]struct{})
	sort.Strings(out)
	return out
}

func (s *subscriptions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
