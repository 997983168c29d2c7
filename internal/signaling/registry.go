package signaling

import "sync"

// Registry maps peer ids to their live sessions. All access is serialized by
// a single RWMutex; each operation is atomic on its own.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[string]*Session),
	}
}

// Register inserts or overwrites the entry for id and returns the session it
// replaced, if any. The replaced session is not notified.
func (r *Registry) Register(id string, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.peers[id]
	r.peers[id] = s
	if prev == s {
		return nil
	}
	return prev
}

// RegisterIfAbsent inserts s only when id is not taken.
func (r *Registry) RegisterIfAbsent(id string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[id]; exists {
		return false
	}
	r.peers[id] = s
	return true
}

func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.peers[id]
	return s, ok
}

// Unregister removes id. Removing an unknown id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.peers, id)
}

// release removes id only while it still maps to s, so a replaced session
// closing late cannot evict its replacement.
func (r *Registry) release(id string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.peers[id]; ok && cur == s {
		delete(r.peers, id)
		return true
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.peers)
}

// Sessions returns a snapshot of the registered sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.peers))
	for _, s := range r.peers {
		out = append(out, s)
	}
	return out
}
