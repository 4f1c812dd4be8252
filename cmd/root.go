package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/0tak2/webrtc-study/internal/ui"
	"github.com/0tak2/webrtc-study/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshcall",
	Short: "Full-mesh WebRTC rooms: a signaling relay and a headless peer",
	Long: `meshcall runs small WebRTC rooms where every participant connects directly to every other one.

"meshcall serve" starts the signaling relay that admits participants into rooms and forwards
offers, answers and candidates between them. "meshcall join" connects a headless peer to a room
and keeps one negotiated peer connection per other participant.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(joinCmd)
}
