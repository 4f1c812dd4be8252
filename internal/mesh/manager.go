package mesh

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/0tak2/webrtc-study/internal/protocol"
)

// Candidates parked for a sender without a session are capped so a peer
// that never offers cannot grow the map without bound.
const maxEarlyCandidates = 64

// Stream is the renderable media received from one participant. There is at
// most one per participant; a track from a different remote stream replaces
// the entry.
type Stream struct {
	ParticipantID string
	Username      string
	StreamID      string
	Tracks        []RemoteTrack
}

// SessionInfo is a read-only view of one session.
type SessionInfo struct {
	Peer       protocol.Participant
	Role       Role
	State      State
	Connection webrtc.PeerConnectionState
	Hello      *Hello
}

// Options configure a Manager.
type Options struct {
	// LocalID is this peer's participant id, as told by the relay.
	LocalID  string
	Factory  ConnFactory
	Signaler Signaler
	Logger   *slog.Logger
}

// Manager owns one Session per remote participant in the room.
//
// Operations run synchronously on the caller's goroutine. The session map
// lock is never held while a session negotiates, so a stalled peer only
// blocks callers working on that same peer.
type Manager struct {
	localID  string
	factory  ConnFactory
	signaler Signaler
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	early    map[string][]webrtc.ICECandidateInit
	media    *LocalMedia
	closed   bool

	streamMu sync.Mutex
	streams  map[string]Stream

	changes chan struct{}
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		localID:  opts.LocalID,
		factory:  opts.Factory,
		signaler: opts.Signaler,
		logger:   logger.With(slog.String("component", "mesh")),
		sessions: make(map[string]*Session),
		early:    make(map[string][]webrtc.ICECandidateInit),
		streams:  make(map[string]Stream),
		changes:  make(chan struct{}, 1),
	}
}

// Changes is signalled whenever sessions or streams change. Signals are
// coalesced; read Sessions and Streams for the current view.
func (m *Manager) Changes() <-chan struct{} {
	return m.changes
}

func (m *Manager) notify() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

// Handle applies one relayed message.
func (m *Manager) Handle(msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeUserList:
		var members []protocol.Participant
		if err := msg.Decode(&members); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		return m.OnMembershipReceived(members)

	case protocol.TypeRoomFull:
		return ErrRoomFull

	case protocol.TypeGetOffer, protocol.TypeGetAnswer, protocol.TypeGetICECandidate:
		var p protocol.SignalPayload
		if err := msg.Decode(&p); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		switch msg.Type {
		case protocol.TypeGetOffer:
			return m.OnOfferReceived(p.SenderID, p.SenderUsername, p.SDP)
		case protocol.TypeGetAnswer:
			return m.OnAnswerReceived(p.SenderID, p.SDP)
		default:
			return m.OnCandidateReceived(p.SenderID, p.Candidate)
		}

	case protocol.TypeUserExit:
		var exit protocol.ExitPayload
		if err := msg.Decode(&exit); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		m.OnParticipantLeft(exit.ID)
		return nil
	}
	return fmt.Errorf("unexpected message type %q", msg.Type)
}

// OnMembershipReceived starts an offerer session towards every listed member
// that has none yet. A failing member does not stop the others.
func (m *Manager) OnMembershipReceived(members []protocol.Participant) error {
	var errs []error
	for _, p := range members {
		if p.ID == "" || p.ID == m.localID {
			continue
		}
		s, created, err := m.ensureSession(p, RoleOfferer)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !created {
			continue
		}
		if err := s.Offer(); err != nil {
			if err := m.fail(s, err); err != nil {
				errs = append(errs, err)
			}
		}
	}
	m.notify()
	return errors.Join(errs...)
}

// OnOfferReceived answers an offer, creating an answerer session for a new
// sender. A Stable session accepts it as a renegotiation.
func (m *Manager) OnOfferReceived(senderID, senderUsername string, sdp json.RawMessage) error {
	if senderID == "" || senderID == m.localID {
		return nil
	}

	desc, err := decodeDescription(sdp)
	if err == nil {
		err = validateDescription(desc, webrtc.SDPTypeOffer)
	}
	if err != nil {
		m.logger.Warn("Dropped invalid offer", slog.String("peer_id", senderID), slog.Any("error", err))
		return NewError("receive offer", senderID, err)
	}

	s, _, err := m.ensureSession(protocol.Participant{ID: senderID, Username: senderUsername}, RoleAnswerer)
	if err != nil {
		return err
	}
	if err := s.AcceptOffer(desc); err != nil {
		return m.fail(s, err)
	}
	m.notify()
	return nil
}

// OnAnswerReceived completes an outstanding offer. Answers from unknown or
// closed sessions are dropped.
func (m *Manager) OnAnswerReceived(senderID string, sdp json.RawMessage) error {
	s, ok := m.session(senderID)
	if !ok {
		m.logger.Debug("Answer for unknown session", slog.String("peer_id", senderID))
		return nil
	}

	desc, err := decodeDescription(sdp)
	if err != nil {
		return m.fail(s, NewError("receive answer", senderID, err))
	}
	if err := s.AcceptAnswer(desc); err != nil {
		return m.fail(s, err)
	}
	m.notify()
	return nil
}

// OnCandidateReceived applies or queues a remote candidate. Candidates from
// a sender whose offer has not arrived yet are parked until it does.
func (m *Manager) OnCandidateReceived(senderID string, raw json.RawMessage) error {
	candidate, err := decodeCandidate(raw)
	if err != nil {
		m.logger.Warn("Dropped invalid candidate", slog.String("peer_id", senderID), slog.Any("error", err))
		return NewError("receive candidate", senderID, err)
	}
	if candidate.Candidate == "" {
		// end of candidates
		return nil
	}

	m.mu.Lock()
	s, ok := m.sessions[senderID]
	if !ok {
		if !m.closed && senderID != "" && len(m.early[senderID]) < maxEarlyCandidates {
			m.early[senderID] = append(m.early[senderID], candidate)
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := s.AddRemoteCandidate(candidate); err != nil {
		return m.fail(s, err)
	}
	return nil
}

// OnParticipantLeft closes the session for id and removes its stream.
func (m *Manager) OnParticipantLeft(id string) {
	m.mu.Lock()
	s := m.sessions[id]
	delete(m.sessions, id)
	delete(m.early, id)
	m.mu.Unlock()

	if s != nil {
		if err := s.Close(); err != nil {
			m.logger.Warn("Session close failed", slog.String("peer_id", id), slog.Any("error", err))
		}
		m.logger.Info("Participant left", slog.String("peer_id", id))
	}
	m.dropStream(id)
	m.notify()
}

// SetLocalMedia makes media the local stream and hands it to every live
// session. Sessions created later receive it at creation.
func (m *Manager) SetLocalMedia(media *LocalMedia) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.media = media
	sessions := m.snapshotLocked()
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.UseMedia(media.Tracks()); err != nil {
			if err := m.fail(s, err); err != nil {
				errs = append(errs, err)
			}
		}
	}
	m.notify()
	return errors.Join(errs...)
}

// Streams returns the renderable streams ordered by participant id.
func (m *Manager) Streams() []Stream {
	m.streamMu.Lock()
	defer m.streamMu.Unlock()

	out := make([]Stream, 0, len(m.streams))
	for _, st := range m.streams {
		st.Tracks = slices.Clone(st.Tracks)
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b Stream) int {
		return strings.Compare(a.ParticipantID, b.ParticipantID)
	})
	return out
}

// Sessions returns a view of every live session ordered by peer id.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	sessions := m.snapshotLocked()
	m.mu.Unlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			Peer:       s.Peer(),
			Role:       s.Role(),
			State:      s.State(),
			Connection: s.ConnectionState(),
			Hello:      s.Hello(),
		})
	}
	return out
}

// Session returns the live session for id.
func (m *Manager) Session(id string) (*Session, bool) {
	return m.session(id)
}

// Close tears down every session. The manager accepts no new sessions
// afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.snapshotLocked()
	m.sessions = make(map[string]*Session)
	m.early = make(map[string][]webrtc.ICECandidateInit)
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			m.logger.Warn("Session close failed", slog.String("peer_id", s.peer.ID), slog.Any("error", err))
		}
	}

	m.streamMu.Lock()
	m.streams = make(map[string]Stream)
	m.streamMu.Unlock()
	m.notify()
}

func (m *Manager) session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) snapshotLocked() []*Session {
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Session) int {
		return strings.Compare(a.peer.ID, b.peer.ID)
	})
	return out
}

// ensureSession returns the session for peer, creating it with role when
// absent. Parked candidates move into the new session's queue.
func (m *Manager) ensureSession(peer protocol.Participant, role Role) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, false, NewError("create session", peer.ID, ErrManagerClosed)
	}
	if s, ok := m.sessions[peer.ID]; ok {
		return s, false, nil
	}

	s := newSession(peer, role, m.signaler, m.media.Tracks(), m.logger)
	conn, err := m.factory.NewPeerConn(peer, role, m.hooks(s))
	if err != nil {
		m.logger.Error("Session creation failed", slog.String("peer_id", peer.ID), slog.Any("error", err))
		return nil, false, negotiationFailed("create session", peer.ID, err)
	}
	s.conn = conn

	if early := m.early[peer.ID]; len(early) > 0 {
		s.pending = early
		delete(m.early, peer.ID)
	}
	m.sessions[peer.ID] = s
	m.logger.Info("Session created", slog.String("peer_id", peer.ID), slog.String("role", role.String()))
	return s, true, nil
}

func (m *Manager) hooks(s *Session) PeerHooks {
	return PeerHooks{
		OnCandidate: s.onLocalCandidate,
		OnTrack: func(t RemoteTrack) {
			m.addTrack(s, t)
		},
		OnState: func(state webrtc.PeerConnectionState) {
			s.connState.Store(int32(state))
			if state == webrtc.PeerConnectionStateFailed {
				m.logger.Warn("Peer connection failed", slog.String("peer_id", s.peer.ID))
			}
			m.notify()
		},
		OnHello: func(h Hello) {
			s.hello.Store(&h)
			m.notify()
		},
	}
}

// fail classifies a session error. Stale messages for a closed session are
// absorbed. A negotiation failure closes and removes the session. Anything
// else drops only the offending message.
func (m *Manager) fail(s *Session, err error) error {
	switch {
	case errors.Is(err, ErrSessionClosed):
		m.logger.Debug("Stale message for closed session", slog.String("peer_id", s.peer.ID))
		return nil

	case errors.Is(err, ErrNegotiationFailed):
		m.logger.Error("Negotiation failed", slog.String("peer_id", s.peer.ID), slog.Any("error", err))
		m.removeSession(s)
		return err
	}

	m.logger.Warn("Dropped negotiation message", slog.String("peer_id", s.peer.ID), slog.Any("error", err))
	return err
}

func (m *Manager) removeSession(s *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.peer.ID]; ok && cur == s {
		delete(m.sessions, s.peer.ID)
	}
	m.mu.Unlock()

	if err := s.Close(); err != nil {
		m.logger.Warn("Session close failed", slog.String("peer_id", s.peer.ID), slog.Any("error", err))
	}
	m.dropStream(s.peer.ID)
	m.notify()
}

func (m *Manager) addTrack(s *Session, t RemoteTrack) {
	m.streamMu.Lock()
	defer m.streamMu.Unlock()

	if s.isClosed() {
		return
	}

	id := s.peer.ID
	cur, ok := m.streams[id]
	if !ok || cur.StreamID != t.StreamID {
		cur = Stream{ParticipantID: id, Username: s.peer.Username, StreamID: t.StreamID}
	}
	for _, existing := range cur.Tracks {
		if existing.ID == t.ID {
			return
		}
	}
	cur.Tracks = append(slices.Clone(cur.Tracks), t)
	m.streams[id] = cur
	m.notify()
}

func (m *Manager) dropStream(id string) {
	m.streamMu.Lock()
	delete(m.streams, id)
	m.streamMu.Unlock()
}

func decodeDescription(raw json.RawMessage) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if len(raw) == 0 || string(raw) == "null" {
		return desc, fmt.Errorf("%w: missing sdp", ErrInvalidDescription)
	}
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, fmt.Errorf("%w: %w", ErrInvalidDescription, err)
	}
	return desc, nil
}

func decodeCandidate(raw json.RawMessage) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if len(raw) == 0 || string(raw) == "null" {
		return c, fmt.Errorf("%w: missing candidate", ErrInvalidCandidate)
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%w: %w", ErrInvalidCandidate, err)
	}
	return c, nil
}
