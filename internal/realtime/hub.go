// Package realtime implements the connection hub: socket and room
// registries, fan-out, and best-effort offline message queueing.
package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/waylink/platform-core/internal/auth"
)

// Envelope is one wire message: a named event with a JSON-shaped payload.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// QueuedMessage buffers an event for a user with no live connection.
type QueuedMessage struct {
	ID         string
	UserID     string
	Event      string
	Data       any
	EnqueuedAt time.Time
}

// Config holds hub creation options.
type Config struct {
	// OfflineQueueLimit caps queued messages per user; overflow drops the
	// oldest first. Zero disables offline queueing entirely.
	OfflineQueueLimit int
	// OfflineMessageTTL expires queued messages at sweep time.
	OfflineMessageTTL time.Duration
	// ConnectRatePerMin and ConnectBurst bound handshakes per peer address.
	ConnectRatePerMin int
	ConnectBurst      int
	// SendBuffer is the per-connection outbound buffer in messages.
	SendBuffer int
	// WriteTimeout, PingInterval and MaxMessageBytes tune the transport.
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64

	Verifier auth.Verifier
	Logger   *slog.Logger
}

// Stats is a snapshot of hub activity.
type Stats struct {
	TotalConnections  uint64 `json:"totalConnections"`
	ActiveConnections int    `json:"activeConnections"`
	PeakConnections   int    `json:"peakConnections"`
	MessagesSent      uint64 `json:"messagesSent"`
	MessagesReceived  uint64 `json:"messagesReceived"`
	DroppedMessages   uint64 `json:"droppedMessages"`
	ActiveRooms       int    `json:"activeRooms"`
	ActiveUsers       int    `json:"activeUsers"`
	QueuedMessages    int    `json:"queuedMessages"`
}

type addrLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Hub owns every connection, room, and offline queue in the process.
type Hub struct {
	mu      sync.Mutex
	conns   map[string]*Conn            // socketID -> conn
	users   map[string]map[string]*Conn // userID -> socketID -> conn
	rooms   map[string]map[string]*Conn // roomID -> socketID -> conn
	offline map[string][]QueuedMessage  // userID -> queued messages

	connectLimits map[string]*addrLimiter

	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	totalConnections uint64
	peakConnections  int
	messagesSent     uint64
	messagesReceived uint64
	droppedMessages  uint64
}

// NewHub creates a hub.
func NewHub(cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.ConnectRatePerMin <= 0 {
		cfg.ConnectRatePerMin = 100
	}
	if cfg.ConnectBurst <= 0 {
		cfg.ConnectBurst = 10
	}
	if cfg.OfflineMessageTTL <= 0 {
		cfg.OfflineMessageTTL = 10 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Hub{
		conns:         make(map[string]*Conn),
		users:         make(map[string]map[string]*Conn),
		rooms:         make(map[string]map[string]*Conn),
		offline:       make(map[string][]QueuedMessage),
		connectLimits: make(map[string]*addrLimiter),
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// AllowConnect applies the per-address handshake limit. Rejected peers are
// turned away before any connection state exists.
func (h *Hub) AllowConnect(addr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	al, ok := h.connectLimits[addr]
	if !ok {
		al = &addrLimiter{
			lim: rate.NewLimiter(rate.Limit(float64(h.cfg.ConnectRatePerMin)/60.0), h.cfg.ConnectBurst),
		}
		h.connectLimits[addr] = al
	}
	al.lastSeen = h.now()
	return al.lim.Allow()
}

// register indexes the connection under its user and flushes any queued
// offline messages, in order, exactly once.
func (h *Hub) register(c *Conn) {
	h.mu.Lock()

	h.conns[c.ID] = c
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[string]*Conn)
	}
	h.users[c.UserID][c.ID] = c

	h.totalConnections++
	if len(h.conns) > h.peakConnections {
		h.peakConnections = len(h.conns)
	}

	queued := h.offline[c.UserID]
	delete(h.offline, c.UserID)
	h.mu.Unlock()

	h.logger.Info("socket connected",
		slog.String("user_id", c.UserID), slog.String("socket_id", c.ID))

	h.send(c, Envelope{Event: "connected", Data: map[string]any{
		"userId":     c.UserID,
		"socketId":   c.ID,
		"serverTime": h.now().UTC().Format(time.RFC3339),
	}})

	for _, msg := range queued {
		h.send(c, Envelope{Event: msg.Event, Data: msg.Data})
	}
	if len(queued) > 0 {
		h.logger.Debug("delivered queued messages",
			slog.String("user_id", c.UserID), slog.Int("count", len(queued)))
	}
}

// unregister removes the connection from every room it belonged to and from
// its user's index, deleting entries that become empty.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()

	delete(h.conns, c.ID)

	if set, ok := h.users[c.UserID]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(h.users, c.UserID)
		}
	}

	for roomID := range c.rooms {
		if members, ok := h.rooms[roomID]; ok {
			delete(members, c.ID)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	c.rooms = make(map[string]struct{})
	h.mu.Unlock()

	h.logger.Info("socket disconnected",
		slog.String("user_id", c.UserID), slog.String("socket_id", c.ID))
}

// JoinRoom adds the connection to a room and tells the other members.
func (h *Hub) JoinRoom(c *Conn, roomID string) {
	if roomID == "" {
		return
	}

	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Conn)
	}
	h.rooms[roomID][c.ID] = c
	c.rooms[roomID] = struct{}{}
	others := h.roomMembersLocked(roomID, c.ID)
	h.mu.Unlock()

	h.send(c, Envelope{Event: "room-joined", Data: map[string]any{"roomId": roomID}})
	h.fanOut(others, Envelope{Event: "user-joined", Data: map[string]any{
		"roomId":   roomID,
		"userId":   c.UserID,
		"socketId": c.ID,
	}})
}

// LeaveRoom removes the connection from a room and tells the remaining
// members. Empty rooms are deleted.
func (h *Hub) LeaveRoom(c *Conn, roomID string) {
	if roomID == "" {
		return
	}

	h.mu.Lock()
	delete(c.rooms, roomID)
	var others []*Conn
	if members, ok := h.rooms[roomID]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		} else {
			others = h.roomMembersLocked(roomID, c.ID)
		}
	}
	h.mu.Unlock()

	h.fanOut(others, Envelope{Event: "user-left", Data: map[string]any{
		"roomId":   roomID,
		"userId":   c.UserID,
		"socketId": c.ID,
	}})
}

// SendToUser delivers to every live connection of a user, or queues the
// message for their next connect. Reports whether a live delivery happened.
func (h *Hub) SendToUser(userID, event string, data any) bool {
	h.mu.Lock()
	set := h.users[userID]
	if len(set) == 0 {
		h.queueOfflineLocked(userID, event, data)
		h.mu.Unlock()
		return false
	}
	targets := make([]*Conn, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	h.fanOut(targets, Envelope{Event: event, Data: data})
	return true
}

// queueOfflineLocked appends to the user's bounded offline queue, dropping
// the oldest entries past the cap. Hub lock held.
func (h *Hub) queueOfflineLocked(userID, event string, data any) {
	if h.cfg.OfflineQueueLimit <= 0 {
		return
	}
	q := append(h.offline[userID], QueuedMessage{
		ID:         uuid.NewString(),
		UserID:     userID,
		Event:      event,
		Data:       data,
		EnqueuedAt: h.now(),
	})
	if over := len(q) - h.cfg.OfflineQueueLimit; over > 0 {
		q = q[over:]
		h.droppedMessages += uint64(over)
	}
	h.offline[userID] = q
}

// SendToRoom fans out to every member of a room, including the sender's
// other sockets.
func (h *Hub) SendToRoom(roomID, event string, data any) {
	h.mu.Lock()
	targets := h.roomMembersLocked(roomID, "")
	h.mu.Unlock()
	h.fanOut(targets, Envelope{Event: event, Data: data})
}

// Broadcast fans out to every live connection.
func (h *Hub) Broadcast(event string, data any) {
	h.mu.Lock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()
	h.fanOut(targets, Envelope{Event: event, Data: data})
}

// roomMembersLocked snapshots a room's members, excluding one socket ID.
// Hub lock held.
func (h *Hub) roomMembersLocked(roomID, excludeSocketID string) []*Conn {
	members := h.rooms[roomID]
	out := make([]*Conn, 0, len(members))
	for id, c := range members {
		if id != excludeSocketID {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) fanOut(targets []*Conn, ev Envelope) {
	for _, c := range targets {
		h.send(c, ev)
	}
}

// send pushes to the connection's outbound buffer without blocking; a slow
// or already torn-down consumer loses the message rather than stalling
// the hub.
func (h *Hub) send(c *Conn, ev Envelope) {
	if c.deliver(ev) {
		h.mu.Lock()
		h.messagesSent++
		h.mu.Unlock()
	} else {
		h.mu.Lock()
		h.droppedMessages++
		h.mu.Unlock()
		h.logger.Warn("message dropped",
			slog.String("socket_id", c.ID), slog.String("event", ev.Event))
	}
}

// SweepOffline expires queued messages past their TTL and prunes idle
// per-address handshake limiters.
func (h *Hub) SweepOffline() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	cutoff := now.Add(-h.cfg.OfflineMessageTTL)
	removed := 0
	for userID, q := range h.offline {
		kept := q[:0]
		for _, msg := range q {
			if msg.EnqueuedAt.After(cutoff) {
				kept = append(kept, msg)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(h.offline, userID)
		} else {
			h.offline[userID] = kept
		}
	}

	idle := now.Add(-10 * time.Minute)
	for addr, al := range h.connectLimits {
		if al.lastSeen.Before(idle) {
			delete(h.connectLimits, addr)
		}
	}
	return removed
}

// IsUserOnline reports whether the user has at least one live connection.
func (h *Hub) IsUserOnline(userID string) bool {
	return h.UserConnections(userID) > 0
}

// UserConnections returns the user's live connection count.
func (h *Hub) UserConnections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.users[userID])
}

// Stats returns a snapshot of hub activity.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	queued := 0
	for _, q := range h.offline {
		queued += len(q)
	}
	return Stats{
		TotalConnections:  h.totalConnections,
		ActiveConnections: len(h.conns),
		PeakConnections:   h.peakConnections,
		MessagesSent:      h.messagesSent,
		MessagesReceived:  h.messagesReceived,
		DroppedMessages:   h.droppedMessages,
		ActiveRooms:       len(h.rooms),
		ActiveUsers:       len(h.users),
		QueuedMessages:    queued,
	}
}
