package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"interview-platform/pkg/utils"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// sendBufferSize bounds per-client backlog; a client that cannot drain
	// this many frames is dropped rather than blocking the room.
	sendBufferSize = 64
)

// Client is one live websocket connection owned by the hub. principalID and
// role come from the verified token; applicationID is set on join.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  *slog.Logger

	principalID   string
	role          string
	applicationID string

	mu     sync.Mutex
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, principalID, role string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		log:         log,
		principalID: principalID,
		role:        role,
	}
}

// trySend is non-blocking; false means the client is gone or its buffer is
// full, and the caller should drop it.
func (c *Client) trySend(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) sendEnvelope(event string, payload any) error {
	frame, err := mustEnvelope(event, payload)
	if err != nil {
		return err
	}
	if !c.trySend(frame) {
		c.log.Warn("send buffer full", "principal_id", c.principalID, "event", event)
	}
	return nil
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// readPump consumes inbound envelopes until the connection drops. Closing
// the connection immediately triggers hub-side cleanup.
func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.close()
		utils.ConnectedClients.Dec()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("unexpected websocket close", "principal_id", c.principalID, "err", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			_ = c.sendEnvelope(EventError, errorPayload{Message: "malformed envelope"})
			continue
		}
		c.handleInbound(env)
	}
}

func (c *Client) handleInbound(env Envelope) {
	switch {
	case env.Event == EventJoinRoom:
		var req joinRoomPayload
		if err := json.Unmarshal(env.Data, &req); err != nil || req.ApplicationID == "" {
			_ = c.sendEnvelope(EventError, errorPayload{Message: "joinRoom requires applicationId"})
			return
		}
		if err := c.hub.Join(c, req.ApplicationID); err != nil {
			c.log.Warn("join rejected", "principal_id", c.principalID, "application_id", req.ApplicationID, "err", err)
		}

	case relayable[env.Event]:
		if c.applicationID == "" {
			_ = c.sendEnvelope(EventError, errorPayload{Message: "join a room before signaling"})
			return
		}
		c.hub.Relay(c.applicationID, c, env.Event, env.Data)

	default:
		_ = c.sendEnvelope(EventError, errorPayload{Message: "unknown event " + env.Event})
	}
}

// writePump drains the send channel and keeps the connection alive with
// pings. One writer goroutine per connection; gorilla allows at most one
// concurrent writer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
