package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const joinTimeout = 5 * time.Second

type clientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type controlMessage struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client is one websocket connection. Outgoing frames pass through send,
// which only writePump drains.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, remote string) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		remote: remote,
		send:   make(chan []byte, h.opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

// enqueue reports whether data was queued. It never blocks.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) readPump(ctx context.Context) {
	opts := c.hub.opts
	c.conn.SetReadLimit(opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.logger.Debug("websocket read failed", "remote", c.remote, "err", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(controlMessage{Type: "error", Message: "invalid message"})
			continue
		}

		switch msg.Type {
		case "join":
			c.handleJoin(ctx, msg.Token)
		case "leave":
			c.hub.Leave(c)
			c.reply(controlMessage{Type: "left"})
		default:
			c.reply(controlMessage{Type: "error", Message: "unknown message type"})
		}
	}
}

func (c *Client) handleJoin(ctx context.Context, token string) {
	if c.hub.resolver == nil {
		c.reply(controlMessage{Type: "error", Message: "joining is not available"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	ownerID, err := c.hub.resolver.ResolveCaller(ctx, token)
	if err != nil {
		c.hub.logger.Debug("websocket join rejected", "remote", c.remote, "err", err)
		c.reply(controlMessage{Type: "error", Message: "unauthorized"})
		return
	}

	ack, _ := json.Marshal(controlMessage{Type: "joined", UserID: ownerID.String()})
	c.hub.join(ownerID, c, ack)
	c.hub.logger.Debug("websocket joined", "remote", c.remote, "owner_id", ownerID)
}

func (c *Client) reply(msg controlMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) writePump() {
	opts := c.hub.opts
	ticker := time.NewTicker(opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.hub.logger.Debug("websocket write failed", "remote", c.remote, "err", err)
				}
				c.shutdown()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(opts.WriteWait))
			return
		}
	}
}
