// Package metrics keeps in-process event counters for the signaling relay.
package metrics

import "sync"

// Counter names.
const (
	SessionsOpened    = "sessions_opened"
	SessionsClosed    = "sessions_closed"
	SessionsRefused   = "sessions_refused"
	FramesReceived    = "frames_received"
	FramesMalformed   = "frames_malformed"
	MessagesRouted    = "messages_routed"
	TargetNotFound    = "target_not_found"
	SendFailed        = "send_failed"
	DuplicateReplaced = "duplicate_replaced"
	DuplicateRejected = "duplicate_rejected"
	AuthSucceeded     = "auth_succeeded"
	AuthFailed        = "auth_failed"
	RoomJoins         = "room_joins"
	PresenceErrors    = "presence_errors"
	SlowPeersClosed   = "slow_peers_closed"
)

// Metrics is a concurrency-safe counter registry. A nil *Metrics discards
// every update.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
