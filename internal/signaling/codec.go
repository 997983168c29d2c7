package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/mossy-p/classroom-signaling/config"
	"github.com/mossy-p/classroom-signaling/internal/models"
)

// RawDelimiter separates the target id from the payload in raw-mode frames.
const RawDelimiter = ":::"

var rawDelimiter = []byte(RawDelimiter)

// Message is a decoded inbound frame. Payload is opaque and is forwarded
// untouched.
type Message struct {
	Kind    models.SignalType
	Target  string
	Payload []byte
	Token   string // authenticate
	Room    string // join-room
}

// Codec implements one framing convention.
type Codec interface {
	// Decode parses an inbound frame. Errors wrap ErrMalformedFrame.
	Decode(frame []byte) (Message, error)
	// EncodeRelay builds the frame delivered to msg.Target, tagged with the
	// sender's id.
	EncodeRelay(from string, msg Message) ([]byte, error)
	// EncodeEvent builds a server-originated notice.
	EncodeEvent(event models.SignalType, body any) ([]byte, error)
}

// NewCodec returns the codec for a relay mode.
func NewCodec(mode string) (Codec, error) {
	switch mode {
	case config.ModeRaw:
		return RawCodec{}, nil
	case config.ModeEvent:
		return EventCodec{}, nil
	}
	return nil, fmt.Errorf("unknown signaling mode %q", mode)
}

// RawCodec frames messages as "<peer id>:::<payload>". Inbound the id names
// the target, outbound it names the sender. Server notices use an empty id
// followed by an event envelope, which no peer can collide with.
type RawCodec struct{}

func (RawCodec) Decode(frame []byte) (Message, error) {
	if !utf8.Valid(frame) {
		return Message{}, fmt.Errorf("%w: invalid UTF-8", ErrMalformedFrame)
	}
	target, payload, ok := bytes.Cut(frame, rawDelimiter)
	if !ok {
		return Message{}, fmt.Errorf("%w: missing %q delimiter", ErrMalformedFrame, RawDelimiter)
	}
	if len(target) == 0 {
		return Message{}, fmt.Errorf("%w: empty target", ErrMalformedFrame)
	}
	return Message{
		Kind:    models.SignalTypeRelay,
		Target:  string(target),
		Payload: payload,
	}, nil
}

func (RawCodec) EncodeRelay(from string, msg Message) ([]byte, error) {
	out := make([]byte, 0, len(from)+len(rawDelimiter)+len(msg.Payload))
	out = append(out, from...)
	out = append(out, rawDelimiter...)
	out = append(out, msg.Payload...)
	return out, nil
}

func (RawCodec) EncodeEvent(event models.SignalType, body any) ([]byte, error) {
	env, err := EventCodec{}.EncodeEvent(event, body)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), rawDelimiter...), env...), nil
}

// EventCodec frames messages as JSON envelopes {"event": name, "data": body}.
type EventCodec struct{}

func (EventCodec) Decode(frame []byte) (Message, error) {
	var env models.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Event {
	case models.SignalTypeOffer, models.SignalTypeAnswer, models.SignalTypeCandidate:
		var req models.RelayRequest
		if err := decodeBody(env.Data, &req); err != nil {
			return Message{}, err
		}
		if req.Target == "" {
			return Message{}, fmt.Errorf("%w: %s without target", ErrMalformedFrame, env.Event)
		}
		return Message{Kind: env.Event, Target: req.Target, Payload: req.Payload}, nil

	case models.SignalTypeAuthenticate:
		var req models.AuthenticateRequest
		if err := decodeBodyOrString(env.Data, &req.Token, &req); err != nil {
			return Message{}, err
		}
		if req.Token == "" {
			return Message{}, fmt.Errorf("%w: authenticate without token", ErrMalformedFrame)
		}
		return Message{Kind: env.Event, Token: req.Token}, nil

	case models.SignalTypeJoinRoom:
		var req models.JoinRoomRequest
		if err := decodeBodyOrString(env.Data, &req.Room, &req); err != nil {
			return Message{}, err
		}
		if req.Room == "" {
			return Message{}, fmt.Errorf("%w: join-room without room", ErrMalformedFrame)
		}
		return Message{Kind: env.Event, Room: req.Room}, nil

	case models.SignalTypeLeaveRoom, models.SignalTypeConnect, models.SignalTypeDisconnect:
		return Message{Kind: env.Event}, nil

	case "":
		return Message{}, fmt.Errorf("%w: missing event name", ErrMalformedFrame)
	}
	return Message{}, fmt.Errorf("%w %q", ErrUnknownEvent, env.Event)
}

// EncodeRelay re-emits the inbound event name with {from, payload}. The
// payload bytes are spliced in verbatim rather than re-marshaled.
func (EventCodec) EncodeRelay(from string, msg Message) ([]byte, error) {
	event, err := json.Marshal(msg.Kind)
	if err != nil {
		return nil, err
	}
	sender, err := json.Marshal(from)
	if err != nil {
		return nil, err
	}
	payload := msg.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}

	var b bytes.Buffer
	b.Grow(len(event) + len(sender) + len(payload) + 40)
	b.WriteString(`{"event":`)
	b.Write(event)
	b.WriteString(`,"data":{"from":`)
	b.Write(sender)
	b.WriteString(`,"payload":`)
	b.Write(payload)
	b.WriteString(`}}`)
	return b.Bytes(), nil
}

func (EventCodec) EncodeEvent(event models.SignalType, body any) ([]byte, error) {
	env := models.Envelope{Event: event}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s body: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

func decodeBody(data json.RawMessage, v any) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: missing body", ErrMalformedFrame)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// decodeBodyOrString accepts either a bare JSON string or an object body.
func decodeBodyOrString(data json.RawMessage, s *string, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, s); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return nil
	}
	return decodeBody(data, v)
}
