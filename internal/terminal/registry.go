package terminal

import (
	"cmp"
	"slices"
	"sync"
)

// Registry is the authoritative id -> session map of one broker.
type Registry struct {
	mu       sync.Mutex
	last     ID
	sessions map[ID]*Session
}

// NewRegistry creates an empty registry whose first id is 1.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[ID]*Session)}
}

// Allocate returns the next id.
func (r *Registry) Allocate() ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last++
	return r.last
}

// Insert stores s under id.
func (r *Registry) Insert(id ID, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[id] = s
}

// Get looks up a session.
func (r *Registry) Get(id ID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the session if present. Removing twice is a no-op.
func (r *Registry) Remove(id ID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// Drain removes and returns every session in id order.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	clear(r.sessions)

	slices.SortFunc(out, func(a, b *Session) int { return cmp.Compare(a.id, b.id) })
	return out
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]ID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}
