// Package realtime fans todo events out to every websocket session of the
// owning user, and optionally across instances through redis.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"todo-tracker/internal/config"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
)

// CallerResolver turns the token sent in a join message into an owner id.
type CallerResolver interface {
	ResolveCaller(ctx context.Context, accessToken string) (uuid.UUID, error)
}

type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
	AllowedOrigins []string
}

func OptionsFromConfig(rt config.RealtimeConfig, allowedOrigins []string) Options {
	return Options{
		WriteWait:      rt.WriteWait,
		PongWait:       rt.PongWait,
		MaxMessageSize: rt.MaxMessageSize,
		SendBuffer:     rt.SendBuffer,
		AllowedOrigins: allowedOrigins,
	}
}

func (o *Options) setDefaults() {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
}

func (o Options) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

// Hub is the owner -> connections registry. A connection belongs to at most
// one owner at a time.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[uuid.UUID]map[*Client]struct{}
	owners  map[*Client]uuid.UUID
	dropped atomic.Int64
	open    atomic.Int64

	resolver CallerResolver
	opts     Options
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewHub(resolver CallerResolver, opts Options, logger *log.Logger) *Hub {
	opts.setDefaults()
	h := &Hub{
		rooms:    make(map[uuid.UUID]map[*Client]struct{}),
		owners:   make(map[*Client]uuid.UUID),
		resolver: resolver,
		opts:     opts,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	host := strings.TrimSpace(r.Host)
	return strings.HasSuffix(origin, "://"+host)
}

// Join registers c under ownerID, moving it out of any previous owner's room.
func (h *Hub) Join(ownerID uuid.UUID, c *Client) {
	h.join(ownerID, c, nil)
}

// join enqueues ack under the registry lock so no event can overtake it.
func (h *Hub) join(ownerID uuid.UUID, c *Client, ack []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.owners[c]; ok {
		h.removeLocked(prev, c)
	}
	room, ok := h.rooms[ownerID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[ownerID] = room
	}
	room[c] = struct{}{}
	h.owners[c] = ownerID

	if ack != nil {
		c.enqueue(ack)
	}
}

func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if owner, ok := h.owners[c]; ok {
		h.removeLocked(owner, c)
	}
}

func (h *Hub) removeLocked(ownerID uuid.UUID, c *Client) {
	delete(h.owners, c)
	room := h.rooms[ownerID]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, ownerID)
	}
}

// Broadcast delivers event to every connection joined under ownerID. It never
// blocks: a connection with a full queue misses the event.
func (h *Hub) Broadcast(ownerID uuid.UUID, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode event", "type", event.Type, "owner_id", ownerID, "err", err)
		return
	}
	h.deliver(ownerID, data)
}

func (h *Hub) deliver(ownerID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[ownerID] {
		if !c.enqueue(data) {
			h.dropped.Add(1)
			h.logger.Warn("dropping event for slow connection", "owner_id", ownerID, "remote", c.remote)
		}
	}
}

// ConnectionCount is the number of joined connections across all owners.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners)
}

func (h *Hub) OwnerConnectionCount(ownerID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[ownerID])
}

func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	joined, owners := len(h.owners), len(h.rooms)
	h.mu.RUnlock()

	return map[string]interface{}{
		"open_connections":   h.open.Load(),
		"joined_connections": joined,
		"owners":             owners,
		"dropped_events":     h.dropped.Load(),
	}
}

// Close disconnects every joined connection.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.owners))
	for c := range h.owners {
		clients = append(clients, c)
	}
	h.rooms = make(map[uuid.UUID]map[*Client]struct{})
	h.owners = make(map[*Client]uuid.UUID)
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newClient(h, conn, r.RemoteAddr)
	h.open.Add(1)
	defer h.open.Add(-1)

	go c.writePump()
	c.readPump(r.Context())

	h.Leave(c)
	c.shutdown()
}
