package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/0tak2/webrtc-study/internal/config"
	"github.com/0tak2/webrtc-study/internal/mesh"
	"github.com/0tak2/webrtc-study/internal/protocol"
	"github.com/0tak2/webrtc-study/internal/signaling"
	"github.com/0tak2/webrtc-study/internal/ui"
	"github.com/0tak2/webrtc-study/internal/version"
)

var (
	flagJoinServer   string
	flagJoinName     string
	flagJoinSTUN     string
	flagJoinTURN     string
	flagJoinTURNUser string
	flagJoinTURNPass string
	flagJoinRelay    bool
	flagJoinMedia    string
	flagJoinPlain    bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room>",
	Aliases: []string{"j"},
	Short:   "Join a room as a headless mesh peer",
	Long: `Join a room and negotiate a direct WebRTC connection with every other participant.

The peer sends Opus silence by default (--media=silence); --media=none joins receive-only.

Examples:
  meshcall join standup --name ana
  meshcall join standup --server wss://relay.example/ws --relay --turn relay.example`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(cmd.Context(), args[0])
	},
}

func joinRoom(parent context.Context, roomID string) error {
	logger := slog.Default()

	cfg, err := LoadConfig(config.Options{
		ServerURL:   flagJoinServer,
		STUNServers: flagJoinSTUN,
		TURNServer:  flagJoinTURN,
		TURNUser:    flagJoinTURNUser,
		TURNPass:    flagJoinTURNPass,
		ForceRelay:  flagJoinRelay,
		Media:       flagJoinMedia,
	})
	if err != nil {
		return err
	}
	username := flagJoinName
	if username == "" {
		username = defaultName()
	}

	// Capture comes first: without media the join is never sent.
	media, err := mesh.AcquireMedia(cfg.Media, username, logger)
	if err != nil {
		return err
	}
	defer media.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println()
	sp := ui.NewConnectionSpinner("Connecting to relay...")
	sp.Start()

	conn, err := NewConnectionContext(ctx, cfg, logger)
	if err != nil {
		sp.Error("Could not reach the relay")
		return err
	}
	defer conn.Close()

	selfID, err := conn.AwaitWelcome(ctx)
	if err != nil {
		sp.Error("Relay did not greet us")
		return err
	}
	sp.Success(fmt.Sprintf("Connected as %s", ui.BoldStyle.Render(username)))

	factory, err := mesh.NewPionFactory(cfg, mesh.Hello{Username: username, Version: version.Version}, logger)
	if err != nil {
		return err
	}
	self := protocol.Participant{ID: selfID, Username: username}
	outbox := signaling.NewOutbox(conn.Client, self)

	manager := mesh.NewManager(mesh.Options{
		LocalID:  selfID,
		Factory:  factory,
		Signaler: outbox,
		Logger:   logger,
	})
	defer manager.Close()

	if err := manager.SetLocalMedia(media); err != nil {
		return err
	}

	if err := outbox.Join(roomID, username); err != nil {
		return mesh.NewError("join room", "", err)
	}
	if err := awaitAdmission(ctx, conn, manager); err != nil {
		return err
	}

	var view roomView
	if flagJoinPlain {
		view = newPlainView(roomID)
	} else {
		view = newTermView(roomID, username)
	}
	defer view.Stop()

	return runRoom(ctx, conn, manager, view, logger)
}

// awaitAdmission waits for the relay's answer to join_room and hands the
// member list to the manager.
func awaitAdmission(ctx context.Context, conn *ConnectionContext, manager *mesh.Manager) error {
	wait := ui.NewWaitingSpinner("Waiting for admission...")
	wait.Start()

	for {
		select {
		case msg, ok := <-conn.Handler.Events:
			if !ok {
				wait.Error("Relay closed the connection")
				return errRelayLost
			}
			switch msg.Type {
			case protocol.TypeRoomFull:
				wait.Error("Room is full")
				return mesh.ErrRoomFull
			case protocol.TypeUserList:
				wait.Stop()
				if err := manager.Handle(msg); err != nil {
					ui.PrintWarning(err.Error())
				}
				return nil
			}
			// Anything else before admission belongs to nobody yet.

		case text := <-conn.Handler.Errors:
			wait.Error(text)
			return fmt.Errorf("relay rejected join: %s", text)

		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		}
	}
}

func runRoom(ctx context.Context, conn *ConnectionContext, manager *mesh.Manager, view roomView, logger *slog.Logger) error {
	view.Update(snapshot(manager, ""))

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-view.Done():
			return nil

		case msg, ok := <-conn.Handler.Events:
			if !ok {
				return errRelayLost
			}
			if err := manager.Handle(msg); err != nil {
				if errors.Is(err, mesh.ErrRoomFull) {
					return err
				}
				logger.Warn("Message not applied", slog.String("type", msg.Type), slog.Any("error", err))
			}

		case text := <-conn.Handler.Errors:
			logger.Warn("Relay reported an error", slog.String("error", text))
			view.Update(snapshot(manager, "relay: "+text))

		case <-manager.Changes():
			view.Update(snapshot(manager, ""))
		}
	}
}

func defaultName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "guest"
}

func init() {
	joinCmd.Flags().StringVarP(&flagJoinName, "name", "n", "", "display name (default $USER)")
	joinCmd.Flags().StringVarP(&flagJoinServer, "server", "s", "", "relay websocket URL (overrides SERVER_URL)")
	joinCmd.Flags().StringVar(&flagJoinSTUN, "stun", "", "comma separated STUN servers (overrides STUN_SERVERS)")
	joinCmd.Flags().StringVar(&flagJoinTURN, "turn", "", "TURN server host[:port] (overrides TURN_SERVER)")
	joinCmd.Flags().StringVar(&flagJoinTURNUser, "turn-user", "", "TURN username (overrides TURN_USERNAME)")
	joinCmd.Flags().StringVar(&flagJoinTURNPass, "turn-pass", "", "TURN password (overrides TURN_PASSWORD)")
	joinCmd.Flags().BoolVar(&flagJoinRelay, "relay", false, "only use TURN relay candidates")
	joinCmd.Flags().StringVar(&flagJoinMedia, "media", "", "local media source: silence or none (overrides MEDIA_SOURCE)")
	joinCmd.Flags().BoolVar(&flagJoinPlain, "plain", false, "print plain status lines instead of the live view")
}
