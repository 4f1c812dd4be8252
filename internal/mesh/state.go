package mesh

import "fmt"

// State is the negotiation state of one session.
type State int

const (
	StateIdle State = iota
	StateLocalOfferSet
	StateRemoteOfferSet
	StateStable
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocalOfferSet:
		return "local-offer"
	case StateRemoteOfferSet:
		return "remote-offer"
	case StateStable:
		return "stable"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event drives a State change.
type Event int

const (
	EventCreateOffer Event = iota
	EventReceiveOffer
	EventCreateAnswer
	EventReceiveAnswer
	EventClose
)

func (e Event) String() string {
	switch e {
	case EventCreateOffer:
		return "create-offer"
	case EventReceiveOffer:
		return "receive-offer"
	case EventCreateAnswer:
		return "create-answer"
	case EventReceiveAnswer:
		return "receive-answer"
	case EventClose:
		return "close"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Role is which side of a pair a session plays. The newcomer is always the
// offerer towards every existing member.
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

// Stable sessions may start another round (renegotiation) from either side.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventCreateOffer:  StateLocalOfferSet,
		EventReceiveOffer: StateRemoteOfferSet,
	},
	StateLocalOfferSet: {
		EventReceiveAnswer: StateStable,
	},
	StateRemoteOfferSet: {
		EventCreateAnswer: StateStable,
	},
	StateStable: {
		EventCreateOffer:  StateLocalOfferSet,
		EventReceiveOffer: StateRemoteOfferSet,
	},
}

// Next returns the state reached from s on ev. Close is accepted from every
// state except Closed; a closed session rejects everything with
// ErrSessionClosed.
func Next(s State, ev Event) (State, error) {
	if s == StateClosed {
		return s, ErrSessionClosed
	}
	if ev == EventClose {
		return StateClosed, nil
	}
	if next, ok := transitions[s][ev]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev, s)
}
