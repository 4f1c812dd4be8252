package mesh

import (
	"errors"
	"fmt"
)

var (
	ErrRoomFull               = errors.New("room is full")
	ErrMediaAcquisitionFailed = errors.New("media acquisition failed")
	ErrNegotiationFailed      = errors.New("negotiation failed")
	ErrSessionClosed          = errors.New("session closed")
	ErrInvalidTransition      = errors.New("invalid negotiation transition")
	ErrInvalidDescription     = errors.New("invalid session description")
	ErrInvalidCandidate       = errors.New("invalid candidate")
	ErrManagerClosed          = errors.New("manager closed")
)

// Error records the operation and remote peer a failure belongs to.
type Error struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Peer != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.Peer)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", msg, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

func WrapError(op, peer string, err error, details string) *Error {
	return &Error{Op: op, Peer: peer, Err: err, Details: details}
}

// negotiationFailed wraps a connectivity-layer error so that it matches both
// ErrNegotiationFailed and the underlying cause.
func negotiationFailed(op, peer string, cause error) *Error {
	return &Error{Op: op, Peer: peer, Err: fmt.Errorf("%w: %w", ErrNegotiationFailed, cause)}
}
