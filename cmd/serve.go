package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/0tak2/webrtc-study/internal/config"
	"github.com/0tak2/webrtc-study/internal/logging"
	"github.com/0tak2/webrtc-study/internal/server"
)

var flagServeConfig string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the signaling relay that admits participants into rooms and forwards negotiation messages.

Configuration is read from defaults, an optional meshcall-server.yaml, MESHCALL_* environment
variables and flags, in increasing priority. MAX_USERS_PER_ROOM is accepted for the room capacity.

Examples:
  meshcall serve
  meshcall serve --addr :8080 --capacity 6
  meshcall serve --turn --config ./relay.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The relay logs at info unless LOG_LEVEL says otherwise.
		logger := logging.Init(slog.LevelInfo)

		cfg, err := config.LoadServer(logger, flagServeConfig, cmd.Flags())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := server.NewApp(ctx, logger, cfg)
		if err != nil {
			return err
		}
		return app.Run()
	},
}

func init() {
	serveCmd.Flags().String("addr", ":5000", "address to listen on")
	serveCmd.Flags().Int("capacity", 4, "maximum participants per room")
	serveCmd.Flags().StringSlice("origins", nil, "allowed websocket origins (empty allows all)")
	serveCmd.Flags().Bool("turn", false, "run the embedded STUN/TURN server")
	serveCmd.Flags().StringVar(&flagServeConfig, "config", "meshcall-server", "config file name or path")
}
