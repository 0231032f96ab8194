package ws

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campusops/edugate/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBuffer     = 64
)

// ErrClientGone is returned by Send once the client's buffer is full or
// its connection is closing; the status fabric drops the subscriber on
// this error.
var ErrClientGone = errors.New("websocket client gone")

// inbound is a client command frame.
type inbound struct {
	Type  string `json:"type"`
	JobID string `json:"jobId,omitempty"`
}

// outbound is a server frame; fields beyond Type are per-event.
type outbound struct {
	Type      string `json:"type"`
	JobID     string `json:"jobId,omitempty"`
	Message   string `json:"message,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Client is one WebSocket connection. It implements the status
// fabric's Subscriber interface; pushes are serialized through the
// buffered send channel by the write pump.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send implements status.Subscriber. Never blocks: a slow consumer
// loses its subscription instead of stalling the fabric.
func (c *Client) Send(update domain.JobStatusUpdate) error {
	frame, err := json.Marshal(outbound{
		Type:      "job-update",
		JobID:     update.JobID,
		Payload:   update,
		Timestamp: domain.NowMillis(),
	})
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func (c *Client) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return ErrClientGone
	case c.send <- frame:
		return nil
	default:
		return ErrClientGone
	}
}

func (c *Client) reply(event outbound) {
	event.Timestamp = domain.NowMillis()
	frame, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = c.enqueue(frame)
}

func (c *Client) readPump() {
	defer c.hub.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("WebSocket read error", "error", err)
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(outbound{Type: "error", Message: "malformed message"})
			continue
		}
		c.hub.handle(c, msg)
	}
}

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
		case <-c.done:
			return
		}
	}
}
