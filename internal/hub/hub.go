package hub

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/0tak2/webrtc-study/internal/protocol"
	"github.com/0tak2/webrtc-study/internal/room"
)

// Hub is the signaling router. It owns the set of live connections and
// relays join, offer, answer and candidate events according to room
// membership held in the Registry.
//
// Dispatch runs on the calling connection's read goroutine. The registry
// serializes membership changes per room, and routing a relayed message is a
// map lookup plus a non-blocking send.
type Hub struct {
	registry *room.Registry

	mu      sync.RWMutex
	clients map[string]*Client

	logger *slog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(registry *room.Registry, logger *slog.Logger) *Hub {
	return &Hub{
		registry: registry,
		clients:  make(map[string]*Client),
		logger:   logger.With(slog.String("component", "hub")),
	}
}

// Registry returns the room registry backing this hub.
func (h *Hub) Registry() *room.Registry {
	return h.registry
}

// Register records a freshly upgraded connection and tells it its id.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	c.logger.Info("Client registered")
	c.Send(protocol.MustMessage(protocol.TypeWelcome, protocol.WelcomePayload{ID: c.ID}))
}

// Unregister removes a closed connection, takes it out of its room and tells
// the remaining members. Calling it twice is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.shutdown()
	c.logger.Info("Client unregistered")

	if c.roomID == "" {
		return
	}

	remaining, removed := h.registry.Leave(c.roomID, c.ID)
	if !removed || len(remaining) == 0 {
		// The last member leaving gets no notification.
		return
	}

	exit := protocol.MustMessage(protocol.TypeUserExit, protocol.ExitPayload{ID: c.ID})
	for _, m := range remaining {
		if peer, ok := h.client(m.ID); ok {
			peer.Send(exit)
		}
	}
}

// Dispatch handles one message received from c.
func (h *Hub) Dispatch(c *Client, msg *protocol.Message) {
	c.logger.Debug("Message received", slog.String("type", msg.Type))

	switch msg.Type {
	case protocol.TypeJoinRoom:
		h.handleJoin(c, msg)

	case protocol.TypeSubmitOffer, protocol.TypeSubmitAnswer, protocol.TypeSubmitICECandidate:
		h.handleRelay(c, msg)

	default:
		c.logger.Warn("Unknown message type", slog.String("type", msg.Type))
		h.sendError(c, "unknown message type: "+msg.Type)
	}
}

func (h *Hub) handleJoin(c *Client, msg *protocol.Message) {
	var join protocol.JoinPayload
	if err := msg.Decode(&join); err != nil || join.Room == "" {
		c.logger.Warn("Invalid join payload", slog.Any("error", err))
		h.sendError(c, "invalid join_room payload")
		return
	}

	if c.roomID != "" {
		h.sendError(c, "already joined room "+c.roomID)
		return
	}

	existing, err := h.registry.Join(join.Room, room.Participant{ID: c.ID, Username: join.Username})
	switch {
	case errors.Is(err, room.ErrRoomFull):
		c.Send(protocol.MustMessage(protocol.TypeRoomFull, nil))
		return
	case err != nil:
		c.logger.Warn("Join failed", slog.String("room", join.Room), slog.Any("error", err))
		h.sendError(c, err.Error())
		return
	}

	c.roomID = join.Room
	c.username = join.Username

	list := make([]protocol.Participant, len(existing))
	for i, m := range existing {
		list[i] = protocol.Participant{ID: m.ID, Username: m.Username}
	}
	c.Send(protocol.MustMessage(protocol.TypeUserList, list))
}

func (h *Hub) handleRelay(c *Client, msg *protocol.Message) {
	if c.roomID == "" {
		c.logger.Warn("Signal from client outside any room", slog.String("type", msg.Type))
		h.sendError(c, "you must join a room first")
		return
	}

	var payload protocol.SignalPayload
	if err := msg.Decode(&payload); err != nil {
		c.logger.Warn("Invalid signal payload", slog.String("type", msg.Type), slog.Any("error", err))
		h.sendError(c, "invalid "+msg.Type+" payload")
		return
	}

	target, ok := h.client(payload.ReceiverID)
	if !ok || target.ID == c.ID {
		c.logger.Debug("Dropping signal for unknown target", slog.String("type", msg.Type), slog.String("target", payload.ReceiverID))
		return
	}
	if owner, ok := h.registry.Directory().Lookup(target.ID); !ok || owner != c.roomID {
		c.logger.Debug("Dropping signal for target outside room", slog.String("type", msg.Type), slog.String("target", payload.ReceiverID))
		return
	}

	payload.SenderID = c.ID
	payload.SenderUsername = c.username

	deliveredType, _ := protocol.DeliveredType(msg.Type)
	out, err := protocol.NewMessage(deliveredType, payload)
	if err != nil {
		c.logger.Warn("Failed to encode relayed signal", slog.Any("error", err))
		return
	}

	c.logger.Debug("Relaying signal", slog.String("type", deliveredType), slog.String("target", target.ID))
	target.Send(out)
}

// CloseAll shuts down every live connection. Each WritePump sends a close
// frame, the read side then fails and unregisters as usual.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.shutdown()
	}
	h.logger.Info("Closed all connections", slog.Int("count", len(clients)))
}

func (h *Hub) client(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[id]
	return c, ok
}

func (h *Hub) sendError(c *Client, text string) {
	c.Send(protocol.MustMessage(protocol.TypeError, protocol.ErrorPayload{Error: text}))
}
