package signaling

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame marks inbound data that does not follow the addressing
	// convention. The frame is dropped; the connection stays open.
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = fmt.Errorf("%w: unknown event", ErrMalformedFrame)
	errBinaryFrame    = fmt.Errorf("%w: binary frame", ErrMalformedFrame)

	ErrTargetNotFound   = errors.New("target not found")
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrDuplicatePeer    = errors.New("peer id already connected")
	ErrInvalidPeerID    = errors.New("invalid peer id")
	ErrServerClosed     = errors.New("signaling server closed")
	ErrUnauthenticated  = errors.New("unauthenticated")
)
