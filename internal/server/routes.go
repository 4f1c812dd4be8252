package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/0tak2/webrtc-study/internal/hub"
)

// NewUpgrader configures the websocket upgrader. An empty allowedOrigins list
// accepts every origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}
}

// ServeWs returns an http.HandlerFunc that handles websocket requests.
func ServeWs(h *hub.Hub, upgrader *websocket.Upgrader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Failed to upgrade connection", slog.String("remote", r.RemoteAddr), slog.Any("error", err))
			return
		}

		client := hub.NewClient(h, conn, uuid.NewString())
		h.Register(client)

		go client.WritePump()
		go client.ReadPump()
	}
}

// HealthCheck reports liveness.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

// RoomsReport renders current room occupancy as a plain-text table.
func RoomsReport(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshots := h.Registry().Snapshots()

		tw := table.NewWriter()
		tw.AppendHeader(table.Row{"Room", "Members", "Capacity", "Participants"})
		for _, snap := range snapshots {
			names := make([]string, len(snap.Members))
			for i, m := range snap.Members {
				names[i] = fmt.Sprintf("%s (%s)", m.Username, m.ID)
			}
			tw.AppendRow(table.Row{snap.ID, len(snap.Members), snap.Capacity, strings.Join(names, ", ")})
		}
		tw.AppendFooter(table.Row{"Total", len(snapshots), "", ""})
		tw.SetStyle(table.StyleLight)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, tw.Render())
	}
}

// NewMux wires the relay's HTTP routes.
func NewMux(h *hub.Hub, allowedOrigins []string, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthCheck)
	mux.HandleFunc("/rooms", RoomsReport(h))
	mux.HandleFunc("/ws", ServeWs(h, NewUpgrader(allowedOrigins), logger))
	return mux
}
