package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/0tak2/webrtc-study/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for WebRTC SDP messages

	sendBufferSize = 256
)

// Client is a wrapper for a single websocket connection (a peer).
//
// A client moves through Connected -> Joined(room) -> Closed. Room and
// username are written only by the client's own read goroutine.
type Client struct {
	// ID is the participant id, unique for the lifetime of the connection.
	ID string

	hub  *Hub
	conn *websocket.Conn

	username string
	roomID   string

	// send is a buffered channel for all outbound messages. WritePump drains
	// it; a full buffer drops the connection rather than stalling routing.
	send chan *protocol.Message

	mu     sync.Mutex
	closed bool

	logger *slog.Logger
}

// NewClient wraps conn. conn may be nil for clients that are driven
// directly through the Hub in tests.
func NewClient(h *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		ID:     id,
		hub:    h,
		conn:   conn,
		send:   make(chan *protocol.Message, sendBufferSize),
		logger: h.logger.With(slog.String("conn_id", id)),
	}
}

// RoomID returns the room this client joined, or "" while only connected.
func (c *Client) RoomID() string {
	return c.roomID
}

// Username returns the name given on join.
func (c *Client) Username() string {
	return c.username
}

// Outbound exposes the send buffer.
func (c *Client) Outbound() <-chan *protocol.Message {
	return c.send
}

// Send queues msg without blocking. It reports false if the client is closed
// or its buffer was full, in which case the client is shut down.
func (c *Client) Send(msg *protocol.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Warn("Send buffer full, dropping connection")
		c.closed = true
		close(c.send)
		return false
	}
}

// shutdown closes the send channel so WritePump exits. Safe to call twice.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	// When this function exits (e.g., connection closes), unregister the client
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Read failed", slog.Any("error", err))
			}
			return
		}

		// A frame that is not valid JSON is dropped, the connection stays.
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Dropping malformed frame", slog.Any("error", err))
			c.Send(protocol.MustMessage(protocol.TypeError, protocol.ErrorPayload{Error: "malformed message"}))
			continue
		}

		c.hub.Dispatch(c, &msg)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Warn("Write failed", slog.Any("error", err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
