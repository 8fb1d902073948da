package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/auth"
	"github.com/Infix8/qrflow-backend/internal/events"
	"github.com/Infix8/qrflow-backend/internal/middleware"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/response"
)

// Message is the WebSocket message envelope.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client is one gate dashboard watching an event.
type Client struct {
	ID         string
	EventID    int64
	OperatorID int64
	hub        *Hub
	conn       *websocket.Conn
	send       chan Message
	logger     *zap.Logger
}

// Gate authorizes feed connections: the operator session comes from the
// token query parameter because browsers cannot set headers on upgrades.
type Gate struct {
	JWT     *auth.JWTService
	Revoked middleware.RevocationChecker
	Events  events.Finder
}

func (g Gate) authorize(c *gin.Context) (eventID, operatorID int64, ok bool) {
	eventID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || eventID <= 0 {
		response.BadRequest(c, "invalid event id")
		return 0, 0, false
	}
	token := c.Query("token")
	if token == "" {
		response.Unauthorized(c, "token required")
		return 0, 0, false
	}
	claims, err := middleware.Authenticate(c.Request.Context(), g.JWT, g.Revoked, token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrTokenRevoked) {
			response.Unauthorized(c, "invalid or expired token")
		} else {
			response.ServiceUnavailable(c, "session check unavailable")
		}
		return 0, 0, false
	}
	ev, err := g.Events.GetByID(c.Request.Context(), eventID)
	if errors.Is(err, models.ErrNotFound) {
		response.NotFound(c, "event not found")
		return 0, 0, false
	}
	if err != nil {
		response.Internal(c, "failed to load event")
		return 0, 0, false
	}
	if !claims.Actor().CanAccess(ev) {
		response.Forbidden(c, "not authorized for this event")
		return 0, 0, false
	}
	return eventID, claims.OperatorID, true
}

// ServeWs handles GET /ws/events/:id?token=: upgrades and runs the client loop.
func ServeWs(hub *Hub, gate Gate, allowedOrigins []string, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return func(c *gin.Context) {
		eventID, operatorID, ok := gate.authorize(c)
		if !ok {
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			ID:         uuid.New().String(),
			EventID:    eventID,
			OperatorID: operatorID,
			hub:        hub,
			conn:       conn,
			send:       make(chan Message, 256),
			logger:     logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// originChecker allows listed origins, any origin for "*", and requests
// without an Origin header.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// readPump only keeps the connection alive; the feed is server-to-client.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if msg.Type == "ping" {
			select {
			case c.send <- Message{Type: TypePong}:
			default:
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
