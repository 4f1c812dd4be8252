package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/0tak2/webrtc-study/internal/protocol"
)

// Sender queues a message for the relay. *Client implements it.
type Sender interface {
	Send(msg *protocol.Message) error
}

// Outbox turns negotiation output into relay messages. The relay overwrites
// the sender fields with its own view; they are filled in for completeness.
type Outbox struct {
	sender Sender
	self   protocol.Participant
}

func NewOutbox(sender Sender, self protocol.Participant) *Outbox {
	return &Outbox{sender: sender, self: self}
}

// Join asks the relay to admit this connection to room.
func (o *Outbox) Join(room, username string) error {
	msg, err := protocol.NewMessage(protocol.TypeJoinRoom, protocol.JoinPayload{Room: room, Username: username})
	if err != nil {
		return err
	}
	return o.sender.Send(msg)
}

func (o *Outbox) SendOffer(to protocol.Participant, desc webrtc.SessionDescription) error {
	return o.sendDescription(protocol.TypeSubmitOffer, to, desc)
}

func (o *Outbox) SendAnswer(to protocol.Participant, desc webrtc.SessionDescription) error {
	return o.sendDescription(protocol.TypeSubmitAnswer, to, desc)
}

func (o *Outbox) SendCandidate(to protocol.Participant, candidate webrtc.ICECandidateInit) error {
	raw, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("encode candidate: %w", err)
	}
	payload := o.payload(to)
	payload.Candidate = raw
	return o.send(protocol.TypeSubmitICECandidate, payload)
}

func (o *Outbox) sendDescription(typ string, to protocol.Participant, desc webrtc.SessionDescription) error {
	raw, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", desc.Type, err)
	}
	payload := o.payload(to)
	payload.SDP = raw
	return o.send(typ, payload)
}

func (o *Outbox) payload(to protocol.Participant) protocol.SignalPayload {
	return protocol.SignalPayload{
		SenderID:         o.self.ID,
		SenderUsername:   o.self.Username,
		ReceiverID:       to.ID,
		ReceiverUsername: to.Username,
	}
}

func (o *Outbox) send(typ string, payload protocol.SignalPayload) error {
	msg, err := protocol.NewMessage(typ, payload)
	if err != nil {
		return err
	}
	return o.sender.Send(msg)
}
