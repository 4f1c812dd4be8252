package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/0tak2/webrtc-study/internal/config"
	"github.com/0tak2/webrtc-study/internal/hub"
	"github.com/0tak2/webrtc-study/internal/room"
	"github.com/0tak2/webrtc-study/internal/turn"
)

// App is the relay process: HTTP routes, the signaling hub and, optionally,
// the embedded TURN helper.
type App struct {
	logger *slog.Logger
	config *config.ServerConfig
	hub    *hub.Hub
	http   *http.Server
	turn   *turn.Server

	ctx context.Context
}

// NewApp builds the relay from cfg. It does not start listening.
func NewApp(ctx context.Context, logger *slog.Logger, cfg *config.ServerConfig) (*App, error) {
	registry, err := room.NewRegistry(cfg.Room.Capacity, logger)
	if err != nil {
		return nil, err
	}
	h := hub.NewHub(registry, logger)

	app := &App{
		logger: logger.With(slog.String("component", "server")),
		config: cfg,
		hub:    h,
		ctx:    ctx,
	}
	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: NewMux(h, cfg.Server.AllowedOrigins, logger),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	return app, nil
}

// Hub returns the signaling hub.
func (a *App) Hub() *hub.Hub {
	return a.hub
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Run() error {
	if a.config.TURN.Enabled {
		ts, err := turn.Start(a.config.TURN, a.logger)
		if err != nil {
			return err
		}
		a.turn = ts
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Signaling server starting",
			slog.String("addr", a.http.Addr),
			slog.Int("room_capacity", a.hub.Registry().Capacity()),
		)
		if err := a.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
			a.closeTURN()
			return err
		}
	case <-a.ctx.Done():
	}
	return a.Shutdown()
}

// Shutdown stops accepting connections and closes every live peer.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := a.http.Shutdown(shutdownCtx)
	a.hub.CloseAll()
	a.closeTURN()

	if err != nil {
		return err
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}

func (a *App) closeTURN() {
	if a.turn == nil {
		return
	}
	if err := a.turn.Close(); err != nil {
		a.logger.Warn("TURN server close failed", slog.Any("error", err))
	}
	a.turn = nil
}
