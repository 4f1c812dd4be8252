package mesh_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/0tak2/webrtc-study/internal/mesh"
	"github.com/0tak2/webrtc-study/internal/protocol"
)

const testSDP = "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"

var errRejected = errors.New("rejected by fake")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn records every call a Session makes in order.
type fakeConn struct {
	local string
	peer  protocol.Participant
	hooks mesh.PeerHooks

	failRemote bool

	mu        sync.Mutex
	calls     []string
	closed    bool
	gathered  int
	hasRemote bool
}

func (c *fakeConn) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *fakeConn) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasRemote {
		return webrtc.SessionDescription{}, errors.New("answer without remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP}, nil
}

// SetLocalDescription starts "gathering": one candidate is reported
// synchronously, before the Session has sent the description.
func (c *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.record("local:" + desc.Type.String())

	c.mu.Lock()
	c.gathered++
	n := c.gathered
	c.mu.Unlock()

	c.hooks.OnCandidate(webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%s-%d", c.local, n)})
	return nil
}

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.record("remote:" + desc.Type.String())
	if c.failRemote {
		return errRejected
	}

	c.mu.Lock()
	c.hasRemote = true
	c.mu.Unlock()

	c.hooks.OnTrack(mesh.RemoteTrack{ID: "audio-" + c.peer.ID, StreamID: "stream-" + c.peer.ID, Kind: "audio"})
	return nil
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.record("candidate:" + candidate.Candidate)
	return nil
}

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) error {
	c.record("track:" + track.ID())
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type fakeFactory struct {
	local      string
	failRemote map[string]bool
	failCreate map[string]bool

	mu    sync.Mutex
	conns map[string]*fakeConn
}

func newFakeFactory(local string) *fakeFactory {
	return &fakeFactory{
		local:      local,
		failRemote: make(map[string]bool),
		failCreate: make(map[string]bool),
		conns:      make(map[string]*fakeConn),
	}
}

func (f *fakeFactory) NewPeerConn(peer protocol.Participant, _ mesh.Role, hooks mesh.PeerHooks) (mesh.PeerConn, error) {
	if f.failCreate[peer.ID] {
		return nil, errRejected
	}
	c := &fakeConn{local: f.local, peer: peer, hooks: hooks, failRemote: f.failRemote[peer.ID]}

	f.mu.Lock()
	f.conns[peer.ID] = c
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) conn(t *testing.T, peer string) *fakeConn {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conns[peer]
	if !ok {
		t.Fatalf("no connection created for %s", peer)
	}
	return c
}

// sent is one message captured by recordingSignaler.
type sent struct {
	kind      string
	to        string
	desc      webrtc.SessionDescription
	candidate string
}

type recordingSignaler struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recordingSignaler) SendOffer(to protocol.Participant, desc webrtc.SessionDescription) error {
	r.add(sent{kind: "offer", to: to.ID, desc: desc})
	return nil
}

func (r *recordingSignaler) SendAnswer(to protocol.Participant, desc webrtc.SessionDescription) error {
	r.add(sent{kind: "answer", to: to.ID, desc: desc})
	return nil
}

func (r *recordingSignaler) SendCandidate(to protocol.Participant, c webrtc.ICECandidateInit) error {
	r.add(sent{kind: "candidate", to: to.ID, candidate: c.Candidate})
	return nil
}

func (r *recordingSignaler) add(s sent) {
	r.mu.Lock()
	r.msgs = append(r.msgs, s)
	r.mu.Unlock()
}

func (r *recordingSignaler) kinds(to string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		if m.to == to {
			out = append(out, m.kind)
		}
	}
	return out
}

func (r *recordingSignaler) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.kind == kind {
			n++
		}
	}
	return n
}

// relay plays the signaling router for a set of in-memory managers. Messages
// are queued and delivered by drain so no manager re-enters itself.
type relay struct {
	t *testing.T

	mu       sync.Mutex
	queue    []delivery
	managers map[string]*mesh.Manager
	names    map[string]string
}

type delivery struct {
	to  string
	msg *protocol.Message
}

func newRelay(t *testing.T) *relay {
	return &relay{t: t, managers: make(map[string]*mesh.Manager), names: make(map[string]string)}
}

type relaySignaler struct {
	r    *relay
	from protocol.Participant
}

func (s relaySignaler) SendOffer(to protocol.Participant, desc webrtc.SessionDescription) error {
	return s.forward(protocol.TypeGetOffer, to, desc, nil)
}

func (s relaySignaler) SendAnswer(to protocol.Participant, desc webrtc.SessionDescription) error {
	return s.forward(protocol.TypeGetAnswer, to, desc, nil)
}

func (s relaySignaler) SendCandidate(to protocol.Participant, c webrtc.ICECandidateInit) error {
	return s.forward(protocol.TypeGetICECandidate, to, nil, &c)
}

func (s relaySignaler) forward(typ string, to protocol.Participant, desc any, candidate *webrtc.ICECandidateInit) error {
	payload := protocol.SignalPayload{
		SenderID:         s.from.ID,
		SenderUsername:   s.from.Username,
		ReceiverID:       to.ID,
		ReceiverUsername: to.Username,
	}
	if desc != nil {
		raw, err := json.Marshal(desc)
		if err != nil {
			return err
		}
		payload.SDP = raw
	}
	if candidate != nil {
		raw, err := json.Marshal(candidate)
		if err != nil {
			return err
		}
		payload.Candidate = raw
	}
	msg, err := protocol.NewMessage(typ, payload)
	if err != nil {
		return err
	}
	s.r.push(to.ID, msg)
	return nil
}

func (r *relay) push(to string, msg *protocol.Message) {
	r.mu.Lock()
	r.queue = append(r.queue, delivery{to: to, msg: msg})
	r.mu.Unlock()
}

func (r *relay) pop() (delivery, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return delivery{}, false
	}
	d := r.queue[0]
	r.queue = r.queue[1:]
	return d, true
}

// join admits id, hands it the existing members and settles the mesh.
func (r *relay) join(id string) *fakeFactory {
	r.t.Helper()

	var existing []protocol.Participant
	for other, name := range r.names {
		existing = append(existing, protocol.Participant{ID: other, Username: name})
	}

	me := protocol.Participant{ID: id, Username: strings.ToUpper(id)}
	factory := newFakeFactory(id)
	m := mesh.NewManager(mesh.Options{
		LocalID:  id,
		Factory:  factory,
		Signaler: relaySignaler{r: r, from: me},
		Logger:   discardLogger(),
	})
	r.managers[id] = m
	r.names[id] = me.Username

	r.push(id, protocol.MustMessage(protocol.TypeUserList, existing))
	r.drain()
	return factory
}

func (r *relay) leave(id string) {
	r.t.Helper()

	m := r.managers[id]
	delete(r.managers, id)
	delete(r.names, id)
	m.Close()

	for other := range r.managers {
		r.push(other, protocol.MustMessage(protocol.TypeUserExit, protocol.ExitPayload{ID: id}))
	}
	r.drain()
}

func (r *relay) drain() {
	r.t.Helper()
	for {
		d, ok := r.pop()
		if !ok {
			return
		}
		m, ok := r.managers[d.to]
		if !ok {
			continue
		}
		if err := m.Handle(d.msg); err != nil {
			r.t.Fatalf("%s handling %s: %v", d.to, d.msg.Type, err)
		}
	}
}

func rawOffer(t *testing.T) json.RawMessage {
	return rawDesc(t, webrtc.SDPTypeOffer)
}

func rawAnswer(t *testing.T) json.RawMessage {
	return rawDesc(t, webrtc.SDPTypeAnswer)
}

func rawDesc(t *testing.T, typ webrtc.SDPType) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(webrtc.SessionDescription{Type: typ, SDP: testSDP})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func rawCandidate(t *testing.T, c string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(webrtc.ICECandidateInit{Candidate: c})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}
