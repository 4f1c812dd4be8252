package mesh

import (
	"fmt"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"

	"github.com/0tak2/webrtc-study/internal/config"
	"github.com/0tak2/webrtc-study/internal/protocol"
)

// PeerConn is the part of a peer connection a Session drives.
type PeerConn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error
	Close() error
}

// RemoteTrack describes one incoming media track.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string
}

// PeerHooks are invoked from the connection's own goroutines.
type PeerHooks struct {
	OnCandidate func(webrtc.ICECandidateInit)
	OnTrack     func(RemoteTrack)
	OnState     func(webrtc.PeerConnectionState)
	OnHello     func(Hello)
}

// ConnFactory creates the connection behind a new session.
type ConnFactory interface {
	NewPeerConn(peer protocol.Participant, role Role, hooks PeerHooks) (PeerConn, error)
}

// PionFactory builds pion peer connections sharing one API instance.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	hello  Hello
	logger *slog.Logger
}

// NewPionFactory prepares a media engine with the default codecs and
// interceptors plus a periodic PLI sender for incoming video.
func NewPionFactory(cfg *config.Config, hello Hello, logger *slog.Logger) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, NewError("register codecs", "", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, NewError("register interceptors", "", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, NewError("create pli interceptor", "", err)
	}
	i.Add(pli)

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))

	return &PionFactory{
		api:    api,
		config: iceConfiguration(cfg),
		hello:  hello,
		logger: logger.With(slog.String("component", "pion")),
	}, nil
}

func iceConfiguration(cfg *config.Config) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && cfg.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// NewPeerConn creates a pion peer connection for peer. Offerer connections
// get receive-only audio and video transceivers so that a side without local
// media still receives, and open the control channel.
func (f *PionFactory) NewPeerConn(peer protocol.Participant, role Role, hooks PeerHooks) (PeerConn, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, NewError("create peer connection", peer.ID, err)
	}
	logger := f.logger.With(slog.String("peer_id", peer.ID))

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			return
		}
		hooks.OnCandidate(c.ToJSON())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("Connection state changed", slog.String("state", state.String()))
		hooks.OnState(state)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Debug("Remote track", slog.String("kind", track.Kind().String()), slog.String("stream", track.StreamID()))
		hooks.OnTrack(RemoteTrack{
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Kind:     track.Kind().String(),
		})

		// Nothing renders media here; reading keeps the interceptors fed.
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	})

	if role == RoleOfferer {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				pc.Close()
				return nil, NewError("add transceiver", peer.ID, err)
			}
		}

		ordered := true
		dc, err := pc.CreateDataChannel(ControlLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			pc.Close()
			return nil, NewError("create data channel", peer.ID, err)
		}
		f.wireControl(dc, hooks, logger)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() == ControlLabel {
				f.wireControl(dc, hooks, logger)
			}
		})
	}

	return &pionConn{pc: pc}, nil
}

func (f *PionFactory) wireControl(dc *webrtc.DataChannel, hooks PeerHooks, logger *slog.Logger) {
	dc.OnOpen(func() {
		data, err := EncodeHello(f.hello)
		if err != nil {
			logger.Warn("Hello encode failed", slog.Any("error", err))
			return
		}
		if err := dc.Send(data); err != nil {
			logger.Warn("Hello send failed", slog.Any("error", err))
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		h, err := DecodeHello(msg.Data)
		if err != nil {
			logger.Warn("Invalid control message", slog.Any("error", err))
			return
		}
		hooks.OnHello(h)
	})
}

type pionConn struct {
	pc *webrtc.PeerConnection
}

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConn) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add track %s: %w", track.ID(), err)
	}

	// Read incoming RTCP so interceptors such as NACK keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}
