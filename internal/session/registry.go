package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry keeps the state of every browser session served by one process.
// Each state is still owned by a single user; the lock only guards the map.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time
}

type entry struct {
	state    State
	lastSeen time.Time
}

// NewRegistry creates a registry that forgets sessions idle for longer
// than ttl. A zero ttl keeps sessions forever.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// Get returns the state for id, or the initial state if id is unknown.
func (r *Registry) Get(id string) State {
	st, ok := r.Lookup(id)
	if !ok {
		return New()
	}
	return st
}

// Lookup returns the state for id and whether the session is live.
func (r *Registry) Lookup(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || r.expired(e) {
		return State{}, false
	}
	e.lastSeen = r.now()
	return e.state, true
}

// Put stores st as the current state for id.
func (r *Registry) Put(id string, st State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[id] = &entry{state: st, lastSeen: r.now()}
}

// Delete forgets id.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, id)
}

// Sweep drops expired sessions and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.entries {
		if r.expired(e) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

func (r *Registry) expired(e *entry) bool {
	return r.ttl > 0 && r.now().Sub(e.lastSeen) > r.ttl
}
