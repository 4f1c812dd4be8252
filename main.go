package main

import (
	"log/slog"

	"github.com/0tak2/webrtc-study/cmd"
	"github.com/0tak2/webrtc-study/internal/logging"
)

func main() {
	// Peers only show errors unless LOG_LEVEL is set; the relay raises this.
	logging.Init(slog.LevelError)
	cmd.Execute()
}
