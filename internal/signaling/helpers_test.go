package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/classroom-signaling/config"
	"github.com/mossy-p/classroom-signaling/internal/metrics"
	"github.com/mossy-p/classroom-signaling/internal/models"
)

type testRelay struct {
	srv     *Server
	metrics *metrics.Metrics
	base    string // ws://host
}

func newTestRelay(t *testing.T, mutate func(*Config)) *testRelay {
	t.Helper()

	m := metrics.New()
	cfg := Config{
		Signaling: config.DefaultSignaling(),
		Metrics:   m,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		srv.ServeRaw(w, r, strings.TrimPrefix(r.URL.Path, "/ws/"))
	})
	mux.HandleFunc("/ws", srv.ServeEvent)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})

	return &testRelay{
		srv:     srv,
		metrics: m,
		base:    "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func (tr *testRelay) waitOpen(t *testing.T, id string) *Session {
	t.Helper()
	var sess *Session
	waitFor(t, "peer "+id+" to open", func() bool {
		s, ok := tr.srv.Registry().Lookup(id)
		if ok && s.State() == StateOpen {
			sess = s
			return true
		}
		return false
	})
	return sess
}

func (tr *testRelay) waitGone(t *testing.T, id string) {
	t.Helper()
	waitFor(t, "peer "+id+" to leave the registry", func() bool {
		_, ok := tr.srv.Registry().Lookup(id)
		return !ok
	})
}

// dialRaw connects a raw-mode peer and waits until it is registered.
func (tr *testRelay) dialRaw(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(tr.base+"/ws/"+id, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", id, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	tr.waitOpen(t, id)
	return c
}

// dialEvent connects an event-mode peer and returns its server-issued id.
func (tr *testRelay) dialEvent(t *testing.T, query string) (*websocket.Conn, string) {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(tr.base+"/ws"+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	var hello models.PeerNotice
	readEvent(t, c, models.SignalTypeConnect, &hello)
	if hello.ID == "" {
		t.Fatalf("connect event without id")
	}
	return c, hello.ID
}

func writeText(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write %q: %v", frame, err)
	}
}

func writeEvent(t *testing.T, c *websocket.Conn, event models.SignalType, body any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	frame, err := json.Marshal(models.Envelope{Event: event, Data: data})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	writeText(t, c, string(frame))
}

func readText(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("message type=%d, want text", msgType)
	}
	return string(data)
}

// readEvent reads one envelope, checks its name and decodes its body into v.
func readEvent(t *testing.T, c *websocket.Conn, want models.SignalType, v any) {
	t.Helper()
	frame := readText(t, c)
	var env models.Envelope
	if err := json.Unmarshal([]byte(frame), &env); err != nil {
		t.Fatalf("unmarshal %q: %v", frame, err)
	}
	if env.Event != want {
		t.Fatalf("event=%q, want %q (frame %s)", env.Event, want, frame)
	}
	if v != nil {
		if err := json.Unmarshal(env.Data, v); err != nil {
			t.Fatalf("unmarshal body %s: %v", env.Data, err)
		}
	}
}

// expectSilence asserts nothing arrives for d. The connection must not be
// read from again afterwards.
func expectSilence(t *testing.T, c *websocket.Conn, d time.Duration) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(d))
	_, data, err := c.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected frame %q", data)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

type fakeAuthenticator map[string]models.Identity

func (f fakeAuthenticator) Authenticate(token string) (models.Identity, error) {
	ident, ok := f[token]
	if !ok {
		return models.Identity{}, errors.New("invalid token")
	}
	return ident, nil
}

type recordingPresence struct {
	mu    sync.Mutex
	calls []string
}

func (p *recordingPresence) record(format string, args ...any) error {
	p.mu.Lock()
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
	p.mu.Unlock()
	return nil
}

func (p *recordingPresence) PeerOnline(_ context.Context, id string) error {
	return p.record("online:%s", id)
}

func (p *recordingPresence) PeerOffline(_ context.Context, id string) error {
	return p.record("offline:%s", id)
}

func (p *recordingPresence) RoomJoined(_ context.Context, room, id string) error {
	return p.record("join:%s:%s", room, id)
}

func (p *recordingPresence) RoomLeft(_ context.Context, room, id string) error {
	return p.record("leave:%s:%s", room, id)
}

func (p *recordingPresence) has(call string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.calls {
		if c == call {
			return true
		}
	}
	return false
}
