package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0tak2/webrtc-study/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	outgoingBuffer = 64
	incomingBuffer = 64
)

var ErrClosed = errors.New("signaling connection closed")

// Client manages the websocket connection to the relay.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	incoming  chan *protocol.Message
	outgoing  chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewClient creates a new signaling client
func NewClient(serverURL string, logger *slog.Logger) *Client {
	return &Client{
		serverURL: serverURL,
		incoming:  make(chan *protocol.Message, incomingBuffer),
		outgoing:  make(chan *protocol.Message, outgoingBuffer),
		done:      make(chan struct{}),
		logger:    logger.With(slog.String("component", "signaling")),
	}
}

// Connect dials the relay and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	dialer := &websocket.Dialer{
		NetDialContext:   dialContext,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.serverURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.serverURL, err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.logger.Debug("Connected", slog.String("url", c.serverURL))

	go c.readPump()
	go c.writePump()
	return nil
}

// readPump reads messages from the websocket connection. The incoming
// channel is closed when the connection ends.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Connection lost", slog.Any("error", err))
			}
			return
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the websocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Warn("Write failed", slog.Any("error", err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues msg for the relay.
func (c *Client) Send(msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming returns the channel for receiving messages.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Close sends a close frame and stops both pumps. It is safe to call more
// than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
