package protocol

import (
	"encoding/json"
	"fmt"
)

// Message defines the envelope for every websocket frame exchanged between a
// peer and the relay, in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client to server.
const (
	TypeJoinRoom           = "join_room"
	TypeSubmitOffer        = "submit_offer"
	TypeSubmitAnswer       = "submit_answer"
	TypeSubmitICECandidate = "submit_ice_candidate"
)

// Server to client.
const (
	TypeWelcome         = "welcome"
	TypeRoomFull        = "room_full"
	TypeUserList        = "user_list"
	TypeGetOffer        = "get_offer"
	TypeGetAnswer       = "get_answer"
	TypeGetICECandidate = "get_ice_candidate"
	TypeUserExit        = "user_exit"
	TypeError           = "error"
)

// relayed maps each submit_* event to the event delivered to its receiver.
var relayed = map[string]string{
	TypeSubmitOffer:        TypeGetOffer,
	TypeSubmitAnswer:       TypeGetAnswer,
	TypeSubmitICECandidate: TypeGetICECandidate,
}

// DeliveredType returns the server-to-client event for a relayed submit_*
// event, and false for anything that is not relayed.
func DeliveredType(submitted string) (string, bool) {
	t, ok := relayed[submitted]
	return t, ok
}

// Participant identifies one joined connection.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// JoinPayload is sent by a peer asking to enter a room.
type JoinPayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// SignalPayload carries an offer, an answer or a candidate. SDP and Candidate
// are opaque to the relay and forwarded byte for byte.
type SignalPayload struct {
	SDP              json.RawMessage `json:"sdp,omitempty"`
	Candidate        json.RawMessage `json:"candidate,omitempty"`
	SenderID         string          `json:"senderId"`
	SenderUsername   string          `json:"senderUsername"`
	ReceiverID       string          `json:"receiverId"`
	ReceiverUsername string          `json:"receiverUsername,omitempty"`
}

// ExitPayload announces that a participant left the room.
type ExitPayload struct {
	ID string `json:"id"`
}

// WelcomePayload tells a freshly connected peer its participant id.
type WelcomePayload struct {
	ID string `json:"id"`
}

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage creates a Message with the given type and JSON-encoded payload.
// A nil payload produces an empty object.
func NewMessage(t string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: t, Payload: json.RawMessage(`{}`)}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return &Message{Type: t, Payload: b}, nil
}

// MustMessage is NewMessage for payload types that always encode.
func MustMessage(t string, payload any) *Message {
	m, err := NewMessage(t, payload)
	if err != nil {
		panic(err)
	}
	return m
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", m.Type, err)
	}
	return nil
}
