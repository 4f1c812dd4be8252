package mesh

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/0tak2/webrtc-study/internal/protocol"
)

// Signaler delivers negotiation messages to a single remote participant
// through the relay.
type Signaler interface {
	SendOffer(to protocol.Participant, desc webrtc.SessionDescription) error
	SendAnswer(to protocol.Participant, desc webrtc.SessionDescription) error
	SendCandidate(to protocol.Participant, candidate webrtc.ICECandidateInit) error
}

// Session negotiates with one remote participant.
//
// Inbound candidates wait in a FIFO queue until the remote description is
// applied. Outbound candidates wait until the local description has been
// handed to the Signaler, so the remote never sees a candidate before the
// offer or answer it belongs to.
type Session struct {
	peer     protocol.Participant
	role     Role
	conn     PeerConn
	signaler Signaler
	logger   *slog.Logger

	mu          sync.Mutex
	localDesc   *webrtc.SessionDescription
	remoteDesc  *webrtc.SessionDescription
	pending     []webrtc.ICECandidateInit
	media       []webrtc.TrackLocal
	attached    map[string]bool
	renegotiate bool

	outMu     sync.Mutex
	localSent bool
	outbound  []webrtc.ICECandidateInit

	state     atomic.Int32
	closed    atomic.Bool
	connState atomic.Int32
	hello     atomic.Pointer[Hello]
}

func newSession(peer protocol.Participant, role Role, signaler Signaler, media []webrtc.TrackLocal, logger *slog.Logger) *Session {
	return &Session{
		peer:     peer,
		role:     role,
		signaler: signaler,
		media:    media,
		attached: make(map[string]bool),
		logger:   logger.With(slog.String("peer_id", peer.ID), slog.String("role", role.String())),
	}
}

func (s *Session) Peer() protocol.Participant { return s.peer }
func (s *Session) Role() Role                 { return s.role }
func (s *Session) State() State               { return State(s.state.Load()) }

// ConnectionState is the last state reported by the connectivity layer.
func (s *Session) ConnectionState() webrtc.PeerConnectionState {
	return webrtc.PeerConnectionState(s.connState.Load())
}

// Hello returns the remote's control channel greeting, or nil before it
// arrived.
func (s *Session) Hello() *Hello {
	return s.hello.Load()
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Offer applies a fresh local offer and sends it.
func (s *Session) Offer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.offerLocked()
}

func (s *Session) offerLocked() error {
	next, err := Next(s.State(), EventCreateOffer)
	if err != nil {
		return NewError("create offer", s.peer.ID, err)
	}
	if _, err := s.attachLocked(); err != nil {
		return err
	}

	offer, err := s.conn.CreateOffer()
	if err != nil {
		return negotiationFailed("create offer", s.peer.ID, err)
	}
	if err := s.conn.SetLocalDescription(offer); err != nil {
		return negotiationFailed("set local description", s.peer.ID, err)
	}
	s.localDesc = &offer
	s.renegotiate = false
	s.setState(next)
	s.logger.Debug("Local offer set", slog.String("state", next.String()))

	if err := s.signaler.SendOffer(s.peer, offer); err != nil {
		return negotiationFailed("send offer", s.peer.ID, err)
	}
	s.releaseOutbound()
	return nil
}

// AcceptOffer applies a remote offer, flushes queued candidates, then
// answers. The session ends Stable.
func (s *Session) AcceptOffer(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	remoteSet, err := Next(s.State(), EventReceiveOffer)
	if err != nil {
		return NewError("receive offer", s.peer.ID, err)
	}
	if err := validateDescription(desc, webrtc.SDPTypeOffer); err != nil {
		return NewError("receive offer", s.peer.ID, err)
	}

	if err := s.conn.SetRemoteDescription(desc); err != nil {
		return negotiationFailed("set remote description", s.peer.ID, err)
	}
	s.remoteDesc = &desc
	s.setState(remoteSet)
	if err := s.flushPendingLocked(); err != nil {
		return err
	}

	// Tracks go in after the remote offer so they bind to its transceivers.
	if _, err := s.attachLocked(); err != nil {
		return err
	}

	stable, err := Next(remoteSet, EventCreateAnswer)
	if err != nil {
		return NewError("create answer", s.peer.ID, err)
	}
	answer, err := s.conn.CreateAnswer()
	if err != nil {
		return negotiationFailed("create answer", s.peer.ID, err)
	}
	if err := s.conn.SetLocalDescription(answer); err != nil {
		return negotiationFailed("set local description", s.peer.ID, err)
	}
	s.localDesc = &answer
	s.setState(stable)
	s.logger.Debug("Answer set", slog.String("state", stable.String()))

	if err := s.signaler.SendAnswer(s.peer, answer); err != nil {
		return negotiationFailed("send answer", s.peer.ID, err)
	}
	s.releaseOutbound()
	return nil
}

// AcceptAnswer applies the remote answer to an outstanding offer.
func (s *Session) AcceptAnswer(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stable, err := Next(s.State(), EventReceiveAnswer)
	if err != nil {
		return NewError("receive answer", s.peer.ID, err)
	}
	if err := validateDescription(desc, webrtc.SDPTypeAnswer); err != nil {
		return NewError("receive answer", s.peer.ID, err)
	}

	if err := s.conn.SetRemoteDescription(desc); err != nil {
		return negotiationFailed("set remote description", s.peer.ID, err)
	}
	s.remoteDesc = &desc
	s.setState(stable)
	s.logger.Debug("Remote answer set", slog.String("state", stable.String()))

	if err := s.flushPendingLocked(); err != nil {
		return err
	}
	if s.renegotiate {
		return s.offerLocked()
	}
	return nil
}

// AddRemoteCandidate applies candidate, or queues it until the remote
// description is set.
func (s *Session) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateClosed {
		return NewError("add candidate", s.peer.ID, ErrSessionClosed)
	}
	if s.remoteDesc == nil {
		s.pending = append(s.pending, candidate)
		return nil
	}
	if err := s.conn.AddICECandidate(candidate); err != nil {
		return negotiationFailed("add candidate", s.peer.ID, err)
	}
	return nil
}

// UseMedia hands the session the local tracks. Attaching is idempotent per
// track id. An idle session picks them up with its first offer or answer; a
// stable offerer renegotiates at once; an offerer waiting for an answer
// renegotiates once it arrives.
func (s *Session) UseMedia(tracks []webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateClosed {
		return NewError("attach media", s.peer.ID, ErrSessionClosed)
	}
	s.media = tracks

	switch s.State() {
	case StateStable:
		changed, err := s.attachLocked()
		if err != nil {
			return err
		}
		if changed && s.role == RoleOfferer {
			s.logger.Debug("Renegotiating for late media")
			return s.offerLocked()
		}
	case StateLocalOfferSet:
		if s.unattachedLocked() > 0 {
			s.renegotiate = true
		}
	}
	return nil
}

// Close releases the connection. Later calls and stale messages are no-ops
// reported as ErrSessionClosed.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.setState(StateClosed)
	s.pending = nil
	s.outMu.Lock()
	s.outbound = nil
	s.outMu.Unlock()

	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return NewError("close", s.peer.ID, err)
	}
	return nil
}

func (s *Session) isClosed() bool {
	return s.closed.Load()
}

// onLocalCandidate runs on the connection's goroutines.
func (s *Session) onLocalCandidate(candidate webrtc.ICECandidateInit) {
	if s.isClosed() {
		return
	}

	s.outMu.Lock()
	defer s.outMu.Unlock()

	if !s.localSent {
		s.outbound = append(s.outbound, candidate)
		return
	}
	if err := s.signaler.SendCandidate(s.peer, candidate); err != nil {
		s.logger.Warn("Candidate send failed", slog.Any("error", err))
	}
}

// releaseOutbound sends held candidates after the first local description
// has gone out.
func (s *Session) releaseOutbound() {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	if s.localSent {
		return
	}
	s.localSent = true
	for _, c := range s.outbound {
		if err := s.signaler.SendCandidate(s.peer, c); err != nil {
			s.logger.Warn("Candidate send failed", slog.Any("error", err))
		}
	}
	s.outbound = nil
}

func (s *Session) flushPendingLocked() error {
	queued := s.pending
	s.pending = nil
	for _, c := range queued {
		if err := s.conn.AddICECandidate(c); err != nil {
			return negotiationFailed("add queued candidate", s.peer.ID, err)
		}
	}
	if len(queued) > 0 {
		s.logger.Debug("Applied queued candidates", slog.Int("count", len(queued)))
	}
	return nil
}

func (s *Session) attachLocked() (bool, error) {
	changed := false
	for _, track := range s.media {
		if s.attached[track.ID()] {
			continue
		}
		if err := s.conn.AddTrack(track); err != nil {
			return changed, negotiationFailed("attach track", s.peer.ID, err)
		}
		s.attached[track.ID()] = true
		changed = true
	}
	return changed, nil
}

func (s *Session) unattachedLocked() int {
	n := 0
	for _, track := range s.media {
		if !s.attached[track.ID()] {
			n++
		}
	}
	return n
}

func validateDescription(desc webrtc.SessionDescription, want webrtc.SDPType) error {
	if desc.Type != want {
		return fmt.Errorf("%w: got type %s, want %s", ErrInvalidDescription, desc.Type, want)
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return fmt.Errorf("%w: empty sdp", ErrInvalidDescription)
	}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDescription, err)
	}
	return nil
}
