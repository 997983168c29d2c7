package models

import "encoding/json"

// SignalType names a signaling event.
type SignalType string

const (
	// Implicit transport lifecycle events.
	SignalTypeConnect    SignalType = "connect"
	SignalTypeDisconnect SignalType = "disconnect"

	SignalTypeAuthenticate  SignalType = "authenticate"
	SignalTypeAuthenticated SignalType = "authenticated"

	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"

	SignalTypeJoinRoom         SignalType = "join-room"
	SignalTypeLeaveRoom        SignalType = "leave-room"
	SignalTypeUsersInRoom      SignalType = "users-in-room"
	SignalTypeUserConnected    SignalType = "user-connected"
	SignalTypeUserDisconnected SignalType = "user-disconnected"

	SignalTypeError SignalType = "error"

	// SignalTypeRelay tags raw-mode frames, which carry no event name.
	SignalTypeRelay SignalType = "relay"
)

// IsRelayed reports whether messages of this type are forwarded peer to peer.
func (t SignalType) IsRelayed() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeCandidate, SignalTypeRelay:
		return true
	}
	return false
}

// Envelope is the event-mode frame: a named event plus its body.
type Envelope struct {
	Event SignalType      `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RelayRequest is the inbound body of offer, answer and candidate events.
type RelayRequest struct {
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

// RelayDelivery is what the target receives for a relayed event.
type RelayDelivery struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type AuthenticateRequest struct {
	Token string `json:"token"`
}

type JoinRoomRequest struct {
	Room string `json:"room"`
}

// PeerNotice carries a peer id (connect, user-connected, user-disconnected).
type PeerNotice struct {
	ID string `json:"id"`
}

type UsersInRoom struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

type Authenticated struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role"`
}

// ErrorNotice is sent back to a peer when one of its messages is rejected.
type ErrorNotice struct {
	Message string     `json:"message"`
	Event   SignalType `json:"event,omitempty"`
	Target  string     `json:"target,omitempty"`
}
