package signaling

import (
	"sort"
	"sync"
)

// Rooms tracks event-mode room membership by peer id.
type Rooms struct {
	mu      sync.Mutex
	members map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[string]struct{}),
	}
}

// Join adds peerID to room and returns the other members.
func (r *Rooms) Join(room, peerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[room]
	if !ok {
		m = make(map[string]struct{})
		r.members[room] = m
	}
	m[peerID] = struct{}{}
	return othersLocked(m, peerID)
}

// Leave removes peerID from room and returns the remaining members. Empty
// rooms are dropped.
func (r *Rooms) Leave(room, peerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[room]
	if !ok {
		return nil
	}
	delete(m, peerID)
	if len(m) == 0 {
		delete(r.members, room)
		return nil
	}
	return othersLocked(m, peerID)
}

// Others returns the members of room other than peerID.
func (r *Rooms) Others(room, peerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return othersLocked(r.members[room], peerID)
}

// Len returns the number of non-empty rooms.
func (r *Rooms) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.members)
}

func othersLocked(m map[string]struct{}, peerID string) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		if id != peerID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
