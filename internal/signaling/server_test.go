package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/classroom-signaling/config"
	"github.com/mossy-p/classroom-signaling/internal/metrics"
	"github.com/mossy-p/classroom-signaling/internal/models"
)

func TestRawRelay_DeliversOnceUnmodified(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice := tr.dialRaw(t, "alice")
	bob := tr.dialRaw(t, "bob")

	writeText(t, alice, `bob:::{"sdp":"v=0..."}`)
	if got := readText(t, bob); got != `alice:::{"sdp":"v=0..."}` {
		t.Fatalf("bob got %q", got)
	}

	// The next frame bob sees is the next message, not a duplicate.
	writeText(t, alice, `bob:::second`)
	if got := readText(t, bob); got != `alice:::second` {
		t.Fatalf("bob got %q, want the second message", got)
	}
	if n := tr.metrics.Get(metrics.MessagesRouted); n != 2 {
		t.Fatalf("messages_routed=%d, want 2", n)
	}
}

func TestRawRelay_PreservesOrderPerSender(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice := tr.dialRaw(t, "alice")
	bob := tr.dialRaw(t, "bob")

	const n = 100
	for i := 0; i < n; i++ {
		writeText(t, alice, fmt.Sprintf("bob:::candidate-%d", i))
	}
	for i := 0; i < n; i++ {
		want := fmt.Sprintf("alice:::candidate-%d", i)
		if got := readText(t, bob); got != want {
			t.Fatalf("message %d: got %q, want %q", i, got, want)
		}
	}
}

func TestRawRelay_UnknownTargetIsDropped(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice := tr.dialRaw(t, "alice")
	bob := tr.dialRaw(t, "bob")

	writeText(t, alice, `carol:::{"sdp":"v=0"}`)
	writeText(t, alice, `bob:::after`)
	if got := readText(t, bob); got != `alice:::after` {
		t.Fatalf("bob got %q", got)
	}

	// alice is still open and reachable.
	writeText(t, bob, `alice:::reply`)
	if got := readText(t, alice); got != `bob:::reply` {
		t.Fatalf("alice got %q", got)
	}
	if n := tr.metrics.Get(metrics.TargetNotFound); n != 1 {
		t.Fatalf("target_not_found=%d, want 1", n)
	}
}

func TestRawRelay_ClosedPeerIsUnregistered(t *testing.T) {
	presence := &recordingPresence{}
	tr := newTestRelay(t, func(c *Config) { c.Presence = presence })
	alice := tr.dialRaw(t, "alice")
	bob := tr.dialRaw(t, "bob")

	writeText(t, alice, `bob:::{"type":"offer","sdp":"v=0..."}`)
	if got := readText(t, bob); got != `alice:::{"type":"offer","sdp":"v=0..."}` {
		t.Fatalf("bob got %q", got)
	}

	_ = bob.Close()
	tr.waitGone(t, "bob")
	waitFor(t, "bob presence removal", func() bool { return presence.has("offline:bob") })

	writeText(t, alice, `bob:::{"type":"offer","sdp":"v=0..."}`)
	writeText(t, alice, `alice:::ping`)
	if got := readText(t, alice); got != `alice:::ping` {
		t.Fatalf("alice got %q", got)
	}
	if n := tr.metrics.Get(metrics.TargetNotFound); n != 1 {
		t.Fatalf("target_not_found=%d, want 1", n)
	}
	if !presence.has("online:alice") {
		t.Fatalf("missing presence for alice: %v", presence.calls)
	}
}

func TestRawRelay_SlowPeerIsDisconnected(t *testing.T) {
	tr := newTestRelay(t, func(c *Config) { c.Signaling.SendBuffer = 4 })
	alice := tr.dialRaw(t, "alice")
	bob := tr.dialRaw(t, "bob")

	// bob does not read while alice bursts more than the socket buffers hold.
	const n = 600
	padding := strings.Repeat("x", 32*1024)
	for i := 0; i < n; i++ {
		writeText(t, alice, fmt.Sprintf("bob:::%d:%s", i, padding))
	}
	waitFor(t, "slow peer to be closed", func() bool {
		return tr.metrics.Get(metrics.SlowPeersClosed) == 1
	})

	// What bob does get is an unbroken prefix followed by a close frame.
	var received int
	for {
		_ = bob.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := bob.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
				t.Fatalf("after %d frames: want close 1013, got %v", received, err)
			}
			break
		}
		want := fmt.Sprintf("alice:::%d:", received)
		if !strings.HasPrefix(string(data), want) {
			t.Fatalf("frame %d: got %.32q, want prefix %q", received, data, want)
		}
		received++
	}
	if received >= n {
		t.Fatalf("received all %d frames, expected the burst to overflow", n)
	}

	tr.waitGone(t, "bob")
	if got := tr.metrics.Get(metrics.SessionsClosed); got != 1 {
		t.Fatalf("sessions_closed=%d, want 1", got)
	}

	// alice is unaffected.
	writeText(t, alice, `alice:::still here`)
	if got := readText(t, alice); got != `alice:::still here` {
		t.Fatalf("alice got %q", got)
	}
}

func TestRawRelay_DuplicateIDReplacesPrevious(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice := tr.dialRaw(t, "alice")
	bob1 := tr.dialRaw(t, "bob")
	first, _ := tr.srv.Registry().Lookup("bob")

	bob2, _, err := websocket.DefaultDialer.Dial(tr.base+"/ws/bob", nil)
	if err != nil {
		t.Fatalf("dial bob2: %v", err)
	}
	defer bob2.Close()
	var second *Session
	waitFor(t, "bob to be replaced", func() bool {
		s, ok := tr.srv.Registry().Lookup("bob")
		second = s
		return ok && s != first && s.State() == StateOpen
	})
	if n := tr.metrics.Get(metrics.DuplicateReplaced); n != 1 {
		t.Fatalf("duplicate_replaced=%d, want 1", n)
	}

	writeText(t, alice, `bob:::hello`)
	if got := readText(t, bob2); got != `alice:::hello` {
		t.Fatalf("bob2 got %q", got)
	}
	expectSilence(t, bob1, 200*time.Millisecond)

	// The orphaned connection closing must not evict its replacement.
	_ = bob1.Close()
	waitFor(t, "orphan cleanup", func() bool { return tr.metrics.Get(metrics.SessionsClosed) == 1 })
	if s, ok := tr.srv.Registry().Lookup("bob"); !ok || s != second {
		t.Fatalf("replacement evicted by orphan close")
	}
}

func TestRawRelay_DuplicateIDRejected(t *testing.T) {
	tr := newTestRelay(t, func(c *Config) { c.Signaling.DuplicatePolicy = config.DuplicateReject })
	alice := tr.dialRaw(t, "alice")
	bob1 := tr.dialRaw(t, "bob")

	bob2, _, err := websocket.DefaultDialer.Dial(tr.base+"/ws/bob", nil)
	if err != nil {
		t.Fatalf("dial bob2: %v", err)
	}
	defer bob2.Close()
	_ = bob2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = bob2.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}

	writeText(t, alice, `bob:::still-you`)
	if got := readText(t, bob1); got != `alice:::still-you` {
		t.Fatalf("bob1 got %q", got)
	}
	if n := tr.metrics.Get(metrics.DuplicateRejected); n != 1 {
		t.Fatalf("duplicate_rejected=%d, want 1", n)
	}
}

func TestRawRelay_MalformedFramesKeepConnectionOpen(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice := tr.dialRaw(t, "alice")
	bob := tr.dialRaw(t, "bob")

	writeText(t, alice, `no delimiter here`)
	writeText(t, alice, `:::no target`)
	if err := alice.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	writeText(t, alice, `bob:::ok`)

	if got := readText(t, bob); got != `alice:::ok` {
		t.Fatalf("bob got %q", got)
	}
	if n := tr.metrics.Get(metrics.FramesMalformed); n != 3 {
		t.Fatalf("frames_malformed=%d, want 3", n)
	}
}

func TestRawRelay_NotifyUndeliverable(t *testing.T) {
	tr := newTestRelay(t, func(c *Config) { c.Signaling.NotifyUndeliverable = true })
	alice := tr.dialRaw(t, "alice")

	writeText(t, alice, `carol:::x`)
	got := readText(t, alice)
	if !strings.HasPrefix(got, RawDelimiter+`{"event":"error"`) || !strings.Contains(got, `"target":"carol"`) {
		t.Fatalf("alice got %q", got)
	}
}

func TestServeRaw_RejectsInvalidPeerID(t *testing.T) {
	tr := newTestRelay(t, nil)
	_, resp, err := websocket.DefaultDialer.Dial(tr.base+"/ws/a:::b", nil)
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
}

func TestValidatePeerID(t *testing.T) {
	for _, id := range []string{"", "a:::b", strings.Repeat("x", maxPeerIDLength+1)} {
		if err := ValidatePeerID(id); !errors.Is(err, ErrInvalidPeerID) {
			t.Fatalf("ValidatePeerID(%q)=%v, want ErrInvalidPeerID", id, err)
		}
	}
	for _, id := range []string{"alice", "teacher-42", "a::b"} {
		if err := ValidatePeerID(id); err != nil {
			t.Fatalf("ValidatePeerID(%q)=%v", id, err)
		}
	}
}

func TestRequireAuth_GatesUpgrade(t *testing.T) {
	auth := fakeAuthenticator{"good": {UserID: "u1", Role: models.RoleTeacher}}
	tr := newTestRelay(t, func(c *Config) {
		c.Signaling.RequireAuth = true
		c.Authenticator = auth
	})

	_, resp, err := websocket.DefaultDialer.Dial(tr.base+"/ws/alice", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got err=%v resp=%+v", err, resp)
	}
	_, resp, err = websocket.DefaultDialer.Dial(tr.base+"/ws/alice?token=bad", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got err=%v resp=%+v", err, resp)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer good")
	c, _, err := websocket.DefaultDialer.Dial(tr.base+"/ws/alice", header)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	defer c.Close()
	tr.waitOpen(t, "alice")

	peers := tr.srv.Peers()
	if len(peers) != 1 || peers[0].UserID != "u1" || peers[0].Role != models.RoleTeacher {
		t.Fatalf("peers=%+v", peers)
	}
	if n := tr.metrics.Get(metrics.SessionsRefused); n != 2 {
		t.Fatalf("sessions_refused=%d, want 2", n)
	}
}

func TestNewServer_RequireAuthNeedsAuthenticator(t *testing.T) {
	cfg := config.DefaultSignaling()
	cfg.RequireAuth = true
	if _, err := NewServer(Config{Signaling: cfg}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEventRelay_OfferAnswerScenario(t *testing.T) {
	tr := newTestRelay(t, func(c *Config) { c.Signaling.Mode = config.ModeEvent })
	alice, aliceID := tr.dialEvent(t, "")
	bob, bobID := tr.dialEvent(t, "")

	writeEvent(t, alice, models.SignalTypeOffer, map[string]any{
		"target":  bobID,
		"payload": map[string]string{"sdp": "v=0..."},
	})
	var offer models.RelayDelivery
	readEvent(t, bob, models.SignalTypeOffer, &offer)
	if offer.From != aliceID || string(offer.Payload) != `{"sdp":"v=0..."}` {
		t.Fatalf("bob got %+v (%s)", offer, offer.Payload)
	}

	writeEvent(t, bob, models.SignalTypeAnswer, map[string]any{
		"target":  aliceID,
		"payload": map[string]string{"sdp": "v=0 answer"},
	})
	var answer models.RelayDelivery
	readEvent(t, alice, models.SignalTypeAnswer, &answer)
	if answer.From != bobID || string(answer.Payload) != `{"sdp":"v=0 answer"}` {
		t.Fatalf("alice got %+v", answer)
	}

	_ = bob.Close()
	tr.waitGone(t, bobID)

	writeEvent(t, alice, models.SignalTypeOffer, map[string]any{"target": bobID, "payload": "late"})
	writeEvent(t, alice, models.SignalTypeCandidate, map[string]any{"target": aliceID, "payload": "self"})
	var self models.RelayDelivery
	readEvent(t, alice, models.SignalTypeCandidate, &self)
	if self.From != aliceID || string(self.Payload) != `"self"` {
		t.Fatalf("alice got %+v", self)
	}
	if n := tr.metrics.Get(metrics.TargetNotFound); n != 1 {
		t.Fatalf("target_not_found=%d, want 1", n)
	}
}

func TestEventRelay_MalformedFrameReportsError(t *testing.T) {
	tr := newTestRelay(t, func(c *Config) { c.Signaling.Mode = config.ModeEvent })
	alice, aliceID := tr.dialEvent(t, "")

	writeEvent(t, alice, models.SignalTypeOffer, map[string]any{"payload": "no target"})
	var notice models.ErrorNotice
	readEvent(t, alice, models.SignalTypeError, &notice)
	if !strings.Contains(notice.Message, "without target") {
		t.Fatalf("notice=%+v", notice)
	}

	writeText(t, alice, `{"event":"renegotiate"}`)
	readEvent(t, alice, models.SignalTypeError, &notice)

	writeEvent(t, alice, models.SignalTypeOffer, map[string]any{"target": aliceID, "payload": 1})
	readEvent(t, alice, models.SignalTypeOffer, nil)
}

func TestEventRelay_Authenticate(t *testing.T) {
	auth := fakeAuthenticator{"student-token": {UserID: "s1", Username: "kim", Role: models.RoleStudent}}
	tr := newTestRelay(t, func(c *Config) {
		c.Signaling.Mode = config.ModeEvent
		c.Authenticator = auth
	})
	alice, aliceID := tr.dialEvent(t, "")

	writeEvent(t, alice, models.SignalTypeAuthenticate, map[string]string{"token": "forged"})
	var notice models.ErrorNotice
	readEvent(t, alice, models.SignalTypeError, &notice)
	if notice.Event != models.SignalTypeAuthenticate {
		t.Fatalf("notice=%+v", notice)
	}
	if ident := tr.waitOpen(t, aliceID).Identity(); !ident.Anonymous {
		t.Fatalf("identity after failed auth = %+v, want anonymous", ident)
	}

	writeEvent(t, alice, models.SignalTypeAuthenticate, "student-token")
	var ok models.Authenticated
	readEvent(t, alice, models.SignalTypeAuthenticated, &ok)
	if ok.ID != aliceID || ok.UserID != "s1" || ok.Role != models.RoleStudent {
		t.Fatalf("authenticated=%+v", ok)
	}
	if n := tr.metrics.Get(metrics.AuthFailed); n != 1 {
		t.Fatalf("auth_failed=%d, want 1", n)
	}
}

func TestEventRelay_RoomsNotifyMembers(t *testing.T) {
	presence := &recordingPresence{}
	tr := newTestRelay(t, func(c *Config) {
		c.Signaling.Mode = config.ModeEvent
		c.Presence = presence
	})
	teacher, teacherID := tr.dialEvent(t, "")
	student, studentID := tr.dialEvent(t, "")

	writeEvent(t, teacher, models.SignalTypeJoinRoom, map[string]string{"room": "class-1"})
	waitFor(t, "teacher to join", func() bool { return tr.waitOpen(t, teacherID).Room() == "class-1" })

	writeEvent(t, student, models.SignalTypeJoinRoom, "class-1")

	var joined models.PeerNotice
	readEvent(t, teacher, models.SignalTypeUserConnected, &joined)
	if joined.ID != studentID {
		t.Fatalf("user-connected=%+v, want %s", joined, studentID)
	}
	var present models.UsersInRoom
	readEvent(t, student, models.SignalTypeUsersInRoom, &present)
	if present.Room != "class-1" || len(present.Users) != 1 || present.Users[0] != teacherID {
		t.Fatalf("users-in-room=%+v", present)
	}

	_ = student.Close()
	var left models.PeerNotice
	readEvent(t, teacher, models.SignalTypeUserDisconnected, &left)
	if left.ID != studentID {
		t.Fatalf("user-disconnected=%+v", left)
	}
	if !presence.has("join:class-1:"+studentID) || !presence.has("leave:class-1:"+studentID) {
		t.Fatalf("presence calls=%v", presence.calls)
	}

	writeEvent(t, teacher, models.SignalTypeLeaveRoom, nil)
	waitFor(t, "teacher to leave", func() bool { return tr.srv.rooms.Len() == 0 })
}

func TestShutdown_DrainsAllSessions(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice := tr.dialRaw(t, "alice")
	tr.dialRaw(t, "bob")
	aliceSess, _ := tr.srv.Registry().Lookup("alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if n := tr.srv.Registry().Len(); n != 0 {
		t.Fatalf("registry has %d peers after shutdown", n)
	}
	if st := aliceSess.State(); st != StateClosed {
		t.Fatalf("alice state=%s, want closed", st)
	}
	if err := aliceSess.Send([]byte("x")); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("Send after shutdown = %v, want ErrConnectionClosed", err)
	}

	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := alice.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}

	_, resp, err := websocket.DefaultDialer.Dial(tr.base+"/ws/carol", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown, got err=%v resp=%+v", err, resp)
	}
}

func TestShutdown_ExpiredContextStillDrains(t *testing.T) {
	tr := newTestRelay(t, nil)
	tr.dialRaw(t, "alice")
	tr.dialRaw(t, "bob")

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tr.srv.Shutdown(expired); !errors.Is(err, context.Canceled) && err != nil {
		t.Fatalf("Shutdown(expired) = %v", err)
	}

	// The connections were already terminated, so a later call completes.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.srv.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if n := tr.srv.Registry().Len(); n != 0 {
		t.Fatalf("registry has %d peers after shutdown", n)
	}
}
