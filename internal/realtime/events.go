package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/waylink/platform-core/internal/domain"
)

// inbound is the client-to-server envelope. Data stays raw until the event
// handler knows what shape to expect.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type locationUpdatePayload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Timestamp *int64   `json:"timestamp"`
}

type groupMessagePayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type typingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// handleInbound validates and dispatches one client event. Validation
// failures go back to the originating socket only; nothing is broadcast.
func (h *Hub) handleInbound(c *Conn, event string, raw json.RawMessage) {
	h.mu.Lock()
	h.messagesReceived++
	h.mu.Unlock()

	switch event {
	case "join-room":
		var p joinRoomPayload
		if err := decode(raw, &p); err != nil || p.RoomID == "" {
			h.sendError(c, domain.NewInvalidPayloadError(event, "roomId is required"))
			return
		}
		h.JoinRoom(c, p.RoomID)

	case "leave-room":
		var p joinRoomPayload
		if err := decode(raw, &p); err != nil || p.RoomID == "" {
			h.sendError(c, domain.NewInvalidPayloadError(event, "roomId is required"))
			return
		}
		h.LeaveRoom(c, p.RoomID)

	case "location-update":
		h.handleLocationUpdate(c, raw)

	case "group-message":
		h.handleGroupMessage(c, raw)

	case "typing":
		h.handleTyping(c, raw)

	case "ping":
		h.send(c, Envelope{Event: "pong", Data: map[string]any{
			"serverTime": h.now().UTC().Format(time.RFC3339),
		}})

	default:
		h.sendError(c, domain.NewInvalidPayloadError(event, "unknown event"))
	}
}

// handleLocationUpdate rebroadcasts a position fix to every room the sender
// belongs to, excluding the sender's own socket.
func (h *Hub) handleLocationUpdate(c *Conn, raw json.RawMessage) {
	var p locationUpdatePayload
	if err := decode(raw, &p); err != nil || p.Latitude == nil || p.Longitude == nil {
		h.sendError(c, domain.NewInvalidPayloadError("location-update", "latitude and longitude must be numbers"))
		return
	}
	if *p.Latitude < -90 || *p.Latitude > 90 || *p.Longitude < -180 || *p.Longitude > 180 {
		h.sendError(c, domain.NewInvalidPayloadError("location-update", "coordinates out of range"))
		return
	}

	ts := h.now().UnixMilli()
	if p.Timestamp != nil {
		ts = *p.Timestamp
	}
	data := map[string]any{
		"userId":    c.UserID,
		"latitude":  *p.Latitude,
		"longitude": *p.Longitude,
		"timestamp": ts,
	}
	if p.Accuracy != nil {
		data["accuracy"] = *p.Accuracy
	}

	h.mu.Lock()
	var targets []*Conn
	for roomID := range c.rooms {
		targets = append(targets, h.roomMembersLocked(roomID, c.ID)...)
	}
	h.mu.Unlock()

	h.fanOut(dedupe(targets), Envelope{Event: "location-update", Data: data})
}

// handleGroupMessage delivers a chat message to the whole room, sender
// included, so every device of every member renders it.
func (h *Hub) handleGroupMessage(c *Conn, raw json.RawMessage) {
	var p groupMessagePayload
	if err := decode(raw, &p); err != nil || p.RoomID == "" || p.Message == "" {
		h.sendError(c, domain.NewInvalidPayloadError("group-message", "roomId and message are required"))
		return
	}

	h.mu.Lock()
	_, member := c.rooms[p.RoomID]
	h.mu.Unlock()
	if !member {
		h.sendError(c, domain.NewInvalidPayloadError("group-message", "not a member of room"))
		return
	}

	msgType := p.Type
	if msgType == "" {
		msgType = "text"
	}
	h.SendToRoom(p.RoomID, "group-message", map[string]any{
		"roomId":    p.RoomID,
		"userId":    c.UserID,
		"message":   p.Message,
		"type":      msgType,
		"timestamp": h.now().UnixMilli(),
	})
}

// handleTyping notifies the room minus the sender; typing indicators are
// noise on the sender's own screen.
func (h *Hub) handleTyping(c *Conn, raw json.RawMessage) {
	var p typingPayload
	if err := decode(raw, &p); err != nil || p.RoomID == "" {
		h.sendError(c, domain.NewInvalidPayloadError("typing", "roomId is required"))
		return
	}

	h.mu.Lock()
	_, member := c.rooms[p.RoomID]
	var targets []*Conn
	if member {
		targets = h.roomMembersLocked(p.RoomID, c.ID)
	}
	h.mu.Unlock()
	if !member {
		return
	}

	h.fanOut(targets, Envelope{Event: "typing", Data: map[string]any{
		"roomId":   p.RoomID,
		"userId":   c.UserID,
		"isTyping": p.IsTyping,
	}})
}

// sendError reports a rejected event back to the socket that sent it.
func (h *Hub) sendError(c *Conn, err error) {
	var derr *domain.Error
	data := map[string]any{"message": err.Error()}
	if errors.As(err, &derr) {
		data["code"] = string(derr.Code)
		data["message"] = derr.Message
		if len(derr.Details) > 0 {
			data["details"] = derr.Details
		}
	}
	h.logger.Debug("inbound event rejected",
		slog.String("socket_id", c.ID), slog.String("error", err.Error()))
	h.send(c, Envelope{Event: "error", Data: data})
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(raw, v)
}

// dedupe drops duplicate targets when a sender shares several rooms with
// the same peer socket.
func dedupe(conns []*Conn) []*Conn {
	if len(conns) < 2 {
		return conns
	}
	seen := make(map[string]struct{}, len(conns))
	out := conns[:0]
	for _, c := range conns {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
