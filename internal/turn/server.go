package turn

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/turn/v4"

	"github.com/0tak2/webrtc-study/internal/config"
)

// Server is an embedded STUN/TURN helper peers can use as their
// connectivity-helper address.
type Server struct {
	server *turn.Server
	addr   net.Addr
}

// Start listens on cfg.Address (UDP) and serves STUN binding requests plus
// TURN allocations for the configured users.
func Start(cfg config.TURNConfig, logger *slog.Logger) (*Server, error) {
	logger = logger.With(slog.String("component", "turn"))

	relayIP := net.ParseIP(cfg.PublicIP)
	if relayIP == nil {
		return nil, fmt.Errorf("turn: invalid public ip %q", cfg.PublicIP)
	}

	// pion/turn does not allocate sockets itself; the listener is passed in.
	udpListener, err := net.ListenPacket("udp4", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("turn: listen %s: %w", cfg.Address, err)
	}

	keys := make(map[string][]byte, len(cfg.Users))
	for user, pass := range cfg.Users {
		keys[user] = turn.GenerateAuthKey(user, cfg.Realm, pass)
	}

	s, err := turn.NewServer(turn.ServerConfig{
		Realm: cfg.Realm,
		// Called for every allocation attempt; returning false rejects it.
		AuthHandler: func(username string, realm string, srcAddr net.Addr) ([]byte, bool) {
			key, ok := keys[username]
			if !ok {
				logger.Warn("TURN auth rejected", slog.String("user", username), slog.String("src", srcAddr.String()))
			}
			return key, ok
		},
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: udpListener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: relayIP,   // Address advertised to peers
					Address:      "0.0.0.0", // Listen on every interface
				},
			},
		},
	})
	if err != nil {
		udpListener.Close()
		return nil, fmt.Errorf("turn: %w", err)
	}

	logger.Info("TURN server listening",
		slog.String("addr", udpListener.LocalAddr().String()),
		slog.String("realm", cfg.Realm),
		slog.Int("users", len(keys)),
	)
	return &Server{server: s, addr: udpListener.LocalAddr()}, nil
}

// Addr returns the UDP address the server is bound to.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close stops the server and releases its socket.
func (s *Server) Close() error {
	return s.server.Close()
}
