package signaling

import (
	"log/slog"

	"github.com/0tak2/webrtc-study/internal/protocol"
)

// Handler routes incoming relay messages to channels. Membership and
// negotiation messages share the ordered Events channel, so a user_list is
// always seen before the answers it leads to.
type Handler struct {
	incoming <-chan *protocol.Message

	Welcome chan string
	Events  chan *protocol.Message
	Errors  chan string
	Done    chan struct{}

	logger *slog.Logger
}

// NewHandler creates a new message handler.
func NewHandler(incoming <-chan *protocol.Message, logger *slog.Logger) *Handler {
	return &Handler{
		incoming: incoming,
		Welcome:  make(chan string, 1),
		Events:   make(chan *protocol.Message, 64),
		Errors:   make(chan string, 8),
		Done:     make(chan struct{}),
		logger:   logger.With(slog.String("component", "handler")),
	}
}

// Start routes messages until the incoming channel closes, then closes
// Events and Done.
func (h *Handler) Start() {
	defer func() {
		close(h.Events)
		close(h.Done)
	}()

	for msg := range h.incoming {
		switch msg.Type {
		case protocol.TypeWelcome:
			h.handleWelcome(msg)

		case protocol.TypeError:
			h.handleError(msg)

		case protocol.TypeUserList, protocol.TypeRoomFull,
			protocol.TypeGetOffer, protocol.TypeGetAnswer, protocol.TypeGetICECandidate,
			protocol.TypeUserExit:
			h.Events <- msg

		default:
			h.logger.Debug("Ignoring message", slog.String("type", msg.Type))
		}
	}
}

func (h *Handler) handleWelcome(msg *protocol.Message) {
	var welcome protocol.WelcomePayload
	if err := msg.Decode(&welcome); err != nil || welcome.ID == "" {
		h.logger.Warn("Invalid welcome", slog.Any("error", err))
		return
	}

	select {
	case h.Welcome <- welcome.ID:
	default:
		h.logger.Warn("Duplicate welcome", slog.String("id", welcome.ID))
	}
}

func (h *Handler) handleError(msg *protocol.Message) {
	text := "unknown error from server"
	var payload protocol.ErrorPayload
	if err := msg.Decode(&payload); err == nil && payload.Error != "" {
		text = payload.Error
	}

	select {
	case h.Errors <- text:
	default:
		h.logger.Warn("Dropping server error", slog.String("error", text))
	}
}
