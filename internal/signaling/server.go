// Package signaling relays WebRTC offer/answer/candidate messages between
// peers connected over WebSocket. Payloads are opaque; only the routing
// envelope is interpreted.
package signaling

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/classroom-signaling/config"
	"github.com/mossy-p/classroom-signaling/internal/metrics"
	"github.com/mossy-p/classroom-signaling/internal/models"
)

const (
	maxPeerIDLength = 128
	presenceTimeout = 2 * time.Second
)

// Authenticator verifies a bearer token and returns the caller's identity.
type Authenticator interface {
	Authenticate(token string) (models.Identity, error)
}

// Presence mirrors connection and room membership to an external store.
// Failures are logged and never affect routing.
type Presence interface {
	PeerOnline(ctx context.Context, peerID string) error
	PeerOffline(ctx context.Context, peerID string) error
	RoomJoined(ctx context.Context, room, peerID string) error
	RoomLeft(ctx context.Context, room, peerID string) error
}

type Config struct {
	Signaling     config.SignalingConfig
	Authenticator Authenticator // optional unless Signaling.RequireAuth
	Presence      Presence      // optional
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// PeerInfo describes one registered peer.
type PeerInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connectedAt"`
	UserID      string    `json:"userId,omitempty"`
	Role        string    `json:"role,omitempty"`
	Room        string    `json:"room,omitempty"`
}

// Server accepts WebSocket connections and owns the peer registry for its
// whole lifetime.
type Server struct {
	cfg      config.SignalingConfig
	auth     Authenticator
	presence Presence
	metrics  *metrics.Metrics
	logger   *zap.Logger

	codec    Codec
	registry *Registry
	router   *Router
	rooms    *Rooms
	upgrader websocket.Upgrader

	mu     sync.Mutex
	live   map[*Session]struct{}
	closed bool
	wg     sync.WaitGroup

	drainOnce sync.Once
	drained   chan struct{}
}

func NewServer(cfg Config) (*Server, error) {
	codec, err := NewCodec(cfg.Signaling.Mode)
	if err != nil {
		return nil, err
	}
	if cfg.Signaling.RequireAuth && cfg.Authenticator == nil {
		return nil, fmt.Errorf("signaling: RequireAuth needs an Authenticator")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("signaling")

	registry := NewRegistry()
	return &Server{
		cfg:      cfg.Signaling,
		auth:     cfg.Authenticator,
		presence: cfg.Presence,
		metrics:  cfg.Metrics,
		logger:   logger,
		codec:    codec,
		registry: registry,
		router:   NewRouter(registry, codec, cfg.Metrics, logger),
		rooms:    NewRooms(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
		live: make(map[*Session]struct{}),
	}, nil
}

func (s *Server) Mode() string { return s.cfg.Mode }

func (s *Server) Registry() *Registry { return s.registry }

// Peers returns a snapshot of the registered peers sorted by id.
func (s *Server) Peers() []PeerInfo {
	sessions := s.registry.Sessions()
	out := make([]PeerInfo, 0, len(sessions))
	for _, sess := range sessions {
		ident := sess.Identity()
		out = append(out, PeerInfo{
			ID:          sess.ID(),
			ConnectedAt: sess.ConnectedAt(),
			UserID:      ident.UserID,
			Role:        ident.Role,
			Room:        sess.Room(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ServeRaw accepts a raw-mode connection for the self-declared peerID.
func (s *Server) ServeRaw(w http.ResponseWriter, r *http.Request, peerID string) {
	if err := ValidatePeerID(peerID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.accept(w, r, peerID)
}

// ServeEvent accepts an event-mode connection under a server-issued id.
func (s *Server) ServeEvent(w http.ResponseWriter, r *http.Request) {
	s.accept(w, r, uuid.New().String())
}

// ValidatePeerID rejects ids that could not be addressed by a raw frame.
func ValidatePeerID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidPeerID)
	case len(id) > maxPeerIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidPeerID, maxPeerIDLength)
	case strings.Contains(id, RawDelimiter):
		return fmt.Errorf("%w: contains %q", ErrInvalidPeerID, RawDelimiter)
	}
	return nil
}

// BearerToken extracts a token from the "token" query parameter or the
// Authorization header.
func BearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request, peerID string) {
	if s.isClosed() {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	identity := models.AnonymousIdentity()
	if s.cfg.RequireAuth {
		ident, err := s.authenticate(BearerToken(r))
		if err != nil {
			s.metrics.Inc(metrics.SessionsRefused)
			s.logger.Info("refusing unauthenticated connection",
				zap.String("peer_id", peerID), zap.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		identity = ident
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	sess := newSession(s, conn, peerID, identity)
	if !s.track(sess) {
		sess.terminate(websocket.CloseGoingAway, "server shutting down")
		return
	}

	if err := s.open(sess); err != nil {
		s.metrics.Inc(metrics.SessionsRefused)
		sess.logger.Info("refusing connection", zap.Error(err))
		sess.terminate(websocket.ClosePolicyViolation, err.Error())
		s.release(sess)
		return
	}

	if s.cfg.Mode == config.ModeEvent {
		s.emit(sess, models.SignalTypeConnect, models.PeerNotice{ID: sess.ID()})
	}

	go sess.writePump()
	go sess.readPump()
}

// open registers the session under its id and moves it to OPEN.
func (s *Server) open(sess *Session) error {
	id := sess.ID()
	reject := s.cfg.DuplicatePolicy == config.DuplicateReject
	if reject && !s.registry.RegisterIfAbsent(id, sess) {
		s.metrics.Inc(metrics.DuplicateRejected)
		return ErrDuplicatePeer
	}
	if !sess.open() {
		s.registry.release(id, sess)
		return ErrConnectionClosed
	}
	if !reject {
		if prev := s.registry.Register(id, sess); prev != nil {
			// The previous connection stays up but is no longer addressable.
			s.metrics.Inc(metrics.DuplicateReplaced)
			sess.logger.Warn("peer id re-registered, previous connection orphaned",
				zap.Time("previous_connected_at", prev.ConnectedAt()))
		}
	}

	s.metrics.Inc(metrics.SessionsOpened)
	s.updatePresence("peer_online", func(ctx context.Context, p Presence) error {
		return p.PeerOnline(ctx, id)
	})
	ident := sess.Identity()
	sess.logger.Info("peer connected",
		zap.String("mode", s.cfg.Mode),
		zap.Bool("anonymous", ident.Anonymous),
		zap.String("user_id", ident.UserID))
	return nil
}

// release is the single cleanup path for every session, however it ended.
func (s *Server) release(sess *Session) {
	prev := sess.close()
	owned := s.registry.release(sess.ID(), sess)
	_ = sess.conn.Close()

	if owned {
		if room := sess.Room(); room != "" {
			s.leaveRoom(sess, room)
		}
		s.updatePresence("peer_offline", func(ctx context.Context, p Presence) error {
			return p.PeerOffline(ctx, sess.ID())
		})
	}
	s.untrack(sess)

	if prev == StateOpen {
		s.metrics.Inc(metrics.SessionsClosed)
		sess.logger.Info("peer disconnected",
			zap.Duration("connected_for", time.Since(sess.ConnectedAt())),
			zap.Bool("was_registered", owned))
	}
}

func (s *Server) handleFrame(sess *Session, frame []byte) {
	s.metrics.Inc(metrics.FramesReceived)

	msg, err := s.codec.Decode(frame)
	if err != nil {
		s.dropFrame(sess, err)
		return
	}

	switch {
	case msg.Kind.IsRelayed():
		result := s.router.Route(sess.ID(), msg)
		if result == TargetNotFound && s.cfg.NotifyUndeliverable {
			s.emit(sess, models.SignalTypeError, models.ErrorNotice{
				Message: ErrTargetNotFound.Error(),
				Event:   msg.Kind,
				Target:  msg.Target,
			})
		}
	case msg.Kind == models.SignalTypeAuthenticate:
		s.authenticateSession(sess, msg.Token)
	case msg.Kind == models.SignalTypeJoinRoom:
		s.joinRoom(sess, msg.Room)
	case msg.Kind == models.SignalTypeLeaveRoom:
		if room := sess.Room(); room != "" {
			s.leaveRoom(sess, room)
		}
	default:
		// connect and disconnect are implied by the transport.
		sess.logger.Debug("ignoring client lifecycle event", zap.String("event", string(msg.Kind)))
	}
}

// dropFrame discards one malformed frame. Event-mode peers are told why.
func (s *Server) dropFrame(sess *Session, err error) {
	s.metrics.Inc(metrics.FramesMalformed)
	sess.logger.Warn("dropping malformed frame", zap.Error(err))
	if s.cfg.Mode == config.ModeEvent {
		s.emit(sess, models.SignalTypeError, models.ErrorNotice{Message: err.Error()})
	}
}

func (s *Server) authenticate(token string) (models.Identity, error) {
	if s.auth == nil {
		return models.Identity{}, fmt.Errorf("%w: no authenticator configured", ErrUnauthenticated)
	}
	if token == "" {
		return models.Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	ident, err := s.auth.Authenticate(token)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	ident.Anonymous = false
	return ident, nil
}

// authenticateSession refines the identity of an event-mode session. A
// failed attempt leaves the current identity in place.
func (s *Server) authenticateSession(sess *Session, token string) {
	ident, err := s.authenticate(token)
	if err != nil {
		s.metrics.Inc(metrics.AuthFailed)
		sess.logger.Info("authentication failed", zap.Error(err))
		s.emit(sess, models.SignalTypeError, models.ErrorNotice{
			Message: "authentication failed",
			Event:   models.SignalTypeAuthenticate,
		})
		return
	}

	sess.setIdentity(ident)
	s.metrics.Inc(metrics.AuthSucceeded)
	sess.logger.Info("peer authenticated", zap.String("user_id", ident.UserID), zap.String("role", ident.Role))
	s.emit(sess, models.SignalTypeAuthenticated, models.Authenticated{
		ID:       sess.ID(),
		UserID:   ident.UserID,
		Username: ident.Username,
		Role:     ident.Role,
	})
}

func (s *Server) joinRoom(sess *Session, room string) {
	if prev := sess.Room(); prev != "" {
		if prev == room {
			if others := s.rooms.Others(room, sess.ID()); len(others) > 0 {
				s.emit(sess, models.SignalTypeUsersInRoom, models.UsersInRoom{Room: room, Users: others})
			}
			return
		}
		s.leaveRoom(sess, prev)
	}

	others := s.rooms.Join(room, sess.ID())
	sess.setRoom(room)
	s.metrics.Inc(metrics.RoomJoins)
	s.updatePresence("room_joined", func(ctx context.Context, p Presence) error {
		return p.RoomJoined(ctx, room, sess.ID())
	})
	sess.logger.Info("joined room", zap.String("room", room), zap.Int("others", len(others)))

	for _, id := range others {
		s.emitTo(id, models.SignalTypeUserConnected, models.PeerNotice{ID: sess.ID()})
	}
	if len(others) > 0 {
		s.emit(sess, models.SignalTypeUsersInRoom, models.UsersInRoom{Room: room, Users: others})
	}
}

func (s *Server) leaveRoom(sess *Session, room string) {
	remaining := s.rooms.Leave(room, sess.ID())
	sess.setRoom("")
	s.updatePresence("room_left", func(ctx context.Context, p Presence) error {
		return p.RoomLeft(ctx, room, sess.ID())
	})
	sess.logger.Info("left room", zap.String("room", room))

	for _, id := range remaining {
		s.emitTo(id, models.SignalTypeUserDisconnected, models.PeerNotice{ID: sess.ID()})
	}
}

// emit sends a server notice to sess. Delivery is best-effort.
func (s *Server) emit(sess *Session, event models.SignalType, body any) {
	frame, err := s.codec.EncodeEvent(event, body)
	if err != nil {
		s.logger.Error("failed to encode notice", zap.String("event", string(event)), zap.Error(err))
		return
	}
	if err := sess.Send(frame); err != nil {
		sess.logger.Debug("dropping notice", zap.String("event", string(event)), zap.Error(err))
	}
}

func (s *Server) emitTo(peerID string, event models.SignalType, body any) {
	if target, ok := s.registry.Lookup(peerID); ok {
		s.emit(target, event, body)
	}
}

func (s *Server) updatePresence(op string, fn func(ctx context.Context, p Presence) error) {
	if s.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := fn(ctx, s.presence); err != nil {
		s.metrics.Inc(metrics.PresenceErrors)
		s.logger.Warn("presence update failed", zap.String("op", op), zap.Error(err))
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.live[sess] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	_, ok := s.live[sess]
	delete(s.live, sess)
	s.mu.Unlock()
	if ok {
		s.wg.Done()
	}
}

// Shutdown refuses new connections, closes every live session and waits
// until all of them have run their cleanup or ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*Session, 0, len(s.live))
	for sess := range s.live {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	s.logger.Info("draining sessions", zap.Int("count", len(sessions)))
	for _, sess := range sessions {
		sess.terminate(websocket.CloseGoingAway, "server shutting down")
	}

	// One waiter serves every Shutdown call. It outlives an expired ctx only
	// until the pumps of the terminated connections have returned.
	s.drainOnce.Do(func() {
		s.drained = make(chan struct{})
		go func() {
			s.wg.Wait()
			close(s.drained)
		}()
	})

	select {
	case <-s.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
