package remediation

import "sync"

// Selection is the operator's choice of queues. Members keep toggle order so
// the dispatched request is deterministic.
type Selection struct {
	mu      sync.RWMutex
	order   []string
	members map[string]struct{}
}

// NewSelection creates an empty selection.
func NewSelection() *Selection {
	return &Selection{members: map[string]struct{}{}}
}

// Toggle adds id when absent and removes it when present.
func (s *Selection) Toggle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[id]; ok {
		delete(s.members, id)
		for i, member := range s.order {
			if member == id {
				s.order = append(s.order[:i:i], s.order[i+1:]...)
				break
			}
		}
		return
	}
	s.members[id] = struct{}{}
	s.order = append(s.order, id)
}

// Contains reports whether id is selected.
func (s *Selection) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[id]
	return ok
}

// Members returns a snapshot of the selected ids.
func (s *Selection) Members() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Len returns the number of selected ids.
func (s *Selection) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.members = map[string]struct{}{}
}
