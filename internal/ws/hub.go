package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/campusops/edugate/internal/domain"
	"github.com/campusops/edugate/internal/platform/logger"
	"github.com/campusops/edugate/internal/results"
	"github.com/campusops/edugate/internal/status"
)

// Hub upgrades connections and bridges them to the status fabric. Each
// connection is a fabric subscriber; subscriptions are per job id.
type Hub struct {
	log     *logger.Logger
	fabric  *status.Fabric
	results *results.Repo

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]bool
}

func NewHub(log *logger.Logger, fabric *status.Fabric, res *results.Repo) *Hub {
	return &Hub{
		log:     log.With("component", "WSHub"),
		fabric:  fabric,
		results: res,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth happens on the bearer token carried by the upgrade
			// request; origin filtering stays with the CORS layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*Client]bool),
	}
}

// Serve is the gin handler for the upgrade endpoint.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := newClient(h, conn)
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go client.writePump()
	go client.readPump()

	client.reply(outbound{Type: "welcome", Message: "connected"})
	h.log.Debug("WebSocket client connected", "remote", conn.RemoteAddr().String())
}

// handle dispatches one inbound client command.
func (h *Hub) handle(c *Client, msg inbound) {
	switch msg.Type {
	case "subscribe":
		if msg.JobID == "" {
			c.reply(outbound{Type: "error", Message: "jobId required"})
			return
		}
		h.fabric.Subscribe(c, msg.JobID)
		c.reply(outbound{Type: "subscription-confirmed", JobID: msg.JobID})
		// Replay the current state so the subscriber never misses a
		// transition that happened before the subscribe frame arrived.
		if update, ok := h.fabric.GetStatus(msg.JobID); ok {
			_ = c.Send(update)
		}
	case "unsubscribe":
		if msg.JobID == "" {
			c.reply(outbound{Type: "error", Message: "jobId required"})
			return
		}
		h.fabric.Unsubscribe(c, msg.JobID)
		c.reply(outbound{Type: "unsubscription-confirmed", JobID: msg.JobID})
	case "status":
		h.fabric.Touch(c)
		h.replyStatus(c, msg.JobID)
	case "stats":
		h.fabric.Touch(c)
		c.reply(outbound{Type: "statistics-response", Payload: h.fabric.GetStatistics()})
	case "ping":
		h.fabric.Touch(c)
		c.reply(outbound{Type: "pong"})
	default:
		c.reply(outbound{Type: "error", Message: "unknown message type"})
	}
}

// replyStatus answers a one-shot status query, falling back to the
// persisted result when the fabric has already swept the entry.
func (h *Hub) replyStatus(c *Client, jobID string) {
	if jobID == "" {
		c.reply(outbound{Type: "error", Message: "jobId required"})
		return
	}
	if update, ok := h.fabric.GetStatus(jobID); ok {
		c.reply(outbound{Type: "status-response", JobID: jobID, Payload: update})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := h.results.Get(ctx, jobID)
	if err == nil && rec != nil {
		c.reply(outbound{Type: "status-response", JobID: jobID, Payload: domain.JobStatusUpdate{
			JobID:     rec.JobID,
			Status:    rec.Status,
			QueueName: rec.QueueName,
			Timestamp: rec.FinishedAt,
		}})
		return
	}
	c.reply(outbound{Type: "error", JobID: jobID, Message: "job not found"})
}

// drop disconnects a client everywhere: fabric bindings, hub set, and
// the connection itself.
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()

	h.fabric.Drop(c)
	close(c.done)
	_ = c.conn.Close()
	h.log.Debug("WebSocket client disconnected")
}

// Close drops every connected client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.drop(c)
	}
}

// ClientCount reports the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
