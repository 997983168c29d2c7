package signaling

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/classroom-signaling/internal/models"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one accepted WebSocket connection. The read pump owns inbound
// frames; the write pump is the only writer of data frames.
type Session struct {
	id          string
	conn        *websocket.Conn
	server      *Server
	logger      *zap.Logger
	connectedAt time.Time

	state     atomic.Int32
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeCode atomic.Int32 // close frame code sent by the write pump; 0 means normal

	mu       sync.RWMutex
	identity models.Identity
	room     string
}

func newSession(srv *Server, conn *websocket.Conn, id string, identity models.Identity) *Session {
	return &Session{
		id:          id,
		conn:        conn,
		server:      srv,
		logger:      srv.logger.With(zap.String("peer_id", id)),
		connectedAt: time.Now(),
		send:        make(chan []byte, srv.cfg.SendBuffer),
		done:        make(chan struct{}),
		identity:    identity,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Identity() models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) setIdentity(id models.Identity) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
}

// Room returns the event-mode room the session has joined, if any.
func (s *Session) Room() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

func (s *Session) setRoom(room string) {
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
}

// Send queues a frame for the write pump. It fails with ErrConnectionClosed
// unless the session is open. When the peer is not draining its queue the
// frame is refused with ErrSendBufferFull and the session is closed with
// 1013, so the peer never sees a stream with gaps.
func (s *Session) Send(frame []byte) error {
	if s.State() != StateOpen {
		return ErrConnectionClosed
	}
	select {
	case <-s.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return ErrConnectionClosed
	default:
		if !s.overflow() {
			return ErrConnectionClosed
		}
		return ErrSendBufferFull
	}
}

// overflow stops the write pump of a peer that fell too far behind. Frames
// still queued may be discarded; the read pump then runs the usual cleanup.
// Only the first caller gets true.
func (s *Session) overflow() bool {
	if !s.closeCode.CompareAndSwap(0, websocket.CloseTryAgainLater) {
		return false
	}
	s.logger.Warn("send buffer full, closing slow peer", zap.Int("buffer", cap(s.send)))
	s.stop()
	return true
}

func (s *Session) stop() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// open moves CONNECTING to OPEN. It fails if the session already closed.
func (s *Session) open() bool {
	return s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// close moves the session to CLOSED and stops the write pump. It returns the
// state the session was in before.
func (s *Session) close() State {
	prev := State(s.state.Swap(int32(StateClosed)))
	s.stop()
	return prev
}

// terminate closes the transport with a close frame. The read pump observes
// the closed connection and runs the usual cleanup.
func (s *Session) terminate(code int, text string) {
	deadline := time.Now().Add(s.server.cfg.WriteWait)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	_ = s.conn.Close()
}

func (s *Session) readPump() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session panic", zap.Any("panic", r), zap.Stack("stack"))
		}
		s.server.release(s)
	}()

	cfg := s.server.cfg
	s.conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		msgType, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			s.server.dropFrame(s, errBinaryFrame)
			continue
		}
		s.server.handleFrame(s, frame)
	}
}

func (s *Session) writePump() {
	cfg := s.server.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("failed to write frame", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			code, text := websocket.CloseNormalClosure, ""
			if c := int(s.closeCode.Load()); c != 0 {
				code, text = c, ErrSendBufferFull.Error()
			}
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text),
				time.Now().Add(cfg.WriteWait))
			return
		}
	}
}
