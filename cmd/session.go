package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/0tak2/webrtc-study/internal/config"
	"github.com/0tak2/webrtc-study/internal/mesh"
	"github.com/0tak2/webrtc-study/internal/signaling"
	"github.com/0tak2/webrtc-study/internal/ui"
)

var errRelayLost = errors.New("connection to relay lost")

// ConnectionContext is a live relay connection and its message router.
type ConnectionContext struct {
	Client  *signaling.Client
	Handler *signaling.Handler
	Config  *config.Config
}

func NewConnectionContext(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ConnectionContext, error) {
	client := signaling.NewClient(cfg.ServerURL, logger)
	if err := client.Connect(ctx); err != nil {
		return nil, mesh.NewError("connect to server", "", err)
	}

	handler := signaling.NewHandler(client.Incoming(), logger)
	go handler.Start()

	return &ConnectionContext{
		Client:  client,
		Handler: handler,
		Config:  cfg,
	}, nil
}

// AwaitWelcome returns the participant id the relay assigned.
func (c *ConnectionContext) AwaitWelcome(ctx context.Context) (string, error) {
	select {
	case id := <-c.Handler.Welcome:
		return id, nil
	case <-c.Handler.Done:
		return "", errRelayLost
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *ConnectionContext) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, mesh.NewError("load config", "", err)
	}
	return cfg, nil
}

// snapshot converts the manager's view into room view rows.
func snapshot(m *mesh.Manager, status string) ui.RoomSnapshot {
	tracks := make(map[string]int)
	for _, st := range m.Streams() {
		tracks[st.ParticipantID] = len(st.Tracks)
	}

	var rows []ui.PeerRow
	for _, s := range m.Sessions() {
		rows = append(rows, ui.PeerRow{
			ID:         s.Peer.ID,
			Username:   s.Peer.Username,
			Role:       s.Role.String(),
			State:      s.State.String(),
			Connection: s.Connection.String(),
			Hello:      s.Hello != nil,
			Tracks:     tracks[s.Peer.ID],
		})
	}
	return ui.RoomSnapshot{Peers: rows, Status: status}
}
