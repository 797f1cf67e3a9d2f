package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/waylink/platform-core/internal/auth"
	"github.com/waylink/platform-core/internal/domain"
	"github.com/waylink/platform-core/internal/realip"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The mobile clients connect from app webviews and native code alike;
	// origin is enforced by the auth token, not the header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Conn is one live client connection. All room membership mutations go
// through the hub, which guards the rooms set with its own lock.
type Conn struct {
	ID     string
	UserID string
	Plan   domain.PlanID

	hub   *Hub
	ws    *websocket.Conn
	send  chan Envelope
	rooms map[string]struct{}

	// mu guards closed and orders every deliver against close, so a
	// fan-out that snapshotted this connection before teardown can never
	// hit a closed channel.
	mu     sync.Mutex
	closed bool
}

func newConn(h *Hub, userID string, plan domain.PlanID, ws *websocket.Conn) *Conn {
	return &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		Plan:   plan,
		hub:    h,
		ws:     ws,
		send:   make(chan Envelope, h.cfg.SendBuffer),
		rooms:  make(map[string]struct{}),
	}
}

// deliver enqueues without blocking; reports whether the message was
// accepted. A full buffer or a torn-down connection refuses it.
func (c *Conn) deliver(ev Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	if c.ws != nil {
		_ = c.ws.Close()
	}
}

// ServeWS authenticates and upgrades an HTTP request into a hub connection.
// It blocks in the read loop until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.AllowConnect(realip.FromRequest(r)) {
		http.Error(w, "connection rate exceeded", http.StatusTooManyRequests)
		return
	}

	identity, err := h.authenticate(r)
	if err != nil {
		h.logger.Warn("websocket auth rejected",
			slog.String("remote", realip.FromRequest(r)), slog.String("error", err.Error()))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	c := newConn(h, identity.UserID, identity.Plan, ws)
	h.register(c)

	go c.writePump()
	c.readPump()
}

func (h *Hub) authenticate(r *http.Request) (*auth.Identity, error) {
	if h.cfg.Verifier == nil {
		return nil, auth.ErrMissingToken
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		header := r.Header.Get("Authorization")
		token = strings.TrimPrefix(header, "Bearer ")
		if token == header {
			token = ""
		}
	}
	if token == "" {
		return nil, auth.ErrMissingToken
	}
	return h.cfg.Verifier.Verify(token)
}

// readPump consumes inbound frames until error or close, then tears the
// connection down.
func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	if c.hub.cfg.MaxMessageBytes > 0 {
		c.ws.SetReadLimit(c.hub.cfg.MaxMessageBytes)
	}
	wait := c.pongWait()
	_ = c.ws.SetReadDeadline(time.Now().Add(wait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error",
					slog.String("socket_id", c.ID), slog.String("error", err.Error()))
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
			c.hub.sendError(c, domain.NewInvalidPayloadError("message", "malformed event envelope"))
			continue
		}
		c.hub.handleInbound(c, in.Event, in.Data)
	}
}

// writePump drains the send buffer onto the socket and keeps the
// connection alive with pings.
func (c *Conn) writePump() {
	interval := c.hub.cfg.PingInterval
	if interval <= 0 {
		interval = 25 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		if c.ws != nil {
			_ = c.ws.Close()
		}
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) writeTimeout() time.Duration {
	if c.hub.cfg.WriteTimeout > 0 {
		return c.hub.cfg.WriteTimeout
	}
	return 10 * time.Second
}

func (c *Conn) pongWait() time.Duration {
	interval := c.hub.cfg.PingInterval
	if interval <= 0 {
		interval = 25 * time.Second
	}
	// Allow two missed pings before giving up on the peer.
	return 2*interval + 5*time.Second
}
