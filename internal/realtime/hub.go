package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Message types sent to gate dashboards.
const (
	TypeAttendeeAdmitted = "attendee_admitted"
	TypeViewerCount      = "viewer_count"
	TypePong             = "pong"
)

// Hub maintains event_id -> set of connections and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling: publish once, every instance
// (this one included) broadcasts to its local clients from the subscription.
type Hub struct {
	events   map[int64]map[string]*Client
	subs     map[int64]func() // cancel Redis subscription per event
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    Publisher
	redisSub Subscriber
}

// Publisher publishes to Redis for cross-instance broadcast.
type Publisher interface {
	PublishEventMessage(eventID int64, msgType string, payload []byte) error
}

// Subscriber subscribes to event channels and invokes handler for incoming messages.
type Subscriber interface {
	SubscribeEvent(eventID int64, handler func(msgType string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. pub and sub may be nil for a single instance.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		events:   make(map[int64]map[string]*Client),
		subs:     make(map[int64]func()),
		logger:   logger,
		redis:    pub,
		redisSub: sub,
	}
}

// Register adds a client to an event room. Starts the Redis subscription for
// the event if this is its first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.events[c.EventID] == nil {
		h.events[c.EventID] = make(map[string]*Client)
		if h.redisSub != nil {
			eventID := c.EventID
			cancel, err := h.redisSub.SubscribeEvent(eventID, func(msgType string, payload []byte) {
				h.Broadcast(eventID, msgType, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("subscribe event channel failed", zap.Int64("event_id", eventID), zap.Error(err))
			} else {
				h.subs[eventID] = cancel
			}
		}
	}
	h.events[c.EventID][c.ID] = c
	count := len(h.events[c.EventID])
	h.mu.Unlock()
	h.Broadcast(c.EventID, TypeViewerCount, map[string]int{"count": count})
	h.logger.Debug("client joined event feed", zap.String("client_id", c.ID), zap.Int64("event_id", c.EventID))
}

// Unregister removes a client. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	count := 0
	if m, ok := h.events[c.EventID]; ok {
		if _, present := m[c.ID]; present {
			delete(m, c.ID)
			close(c.send)
		}
		count = len(m)
		if count == 0 {
			delete(h.events, c.EventID)
			if cancel, ok := h.subs[c.EventID]; ok {
				cancel()
				delete(h.subs, c.EventID)
			}
		}
	}
	h.mu.Unlock()
	if count > 0 {
		h.Broadcast(c.EventID, TypeViewerCount, map[string]int{"count": count})
	}
	h.logger.Debug("client left event feed", zap.String("client_id", c.ID), zap.Int64("event_id", c.EventID))
}

// Broadcast sends a message to all local clients watching an event.
func (h *Hub) Broadcast(eventID int64, msgType string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := Message{Type: msgType, Payload: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.events[eventID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Publish delivers a message to every instance's clients. Without Redis it
// broadcasts locally.
func (h *Hub) Publish(eventID int64, msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.redis != nil {
		err := h.redis.PublishEventMessage(eventID, msgType, data)
		if err == nil {
			return
		}
		h.logger.Warn("publish event message failed, broadcasting locally", zap.Int64("event_id", eventID), zap.Error(err))
	}
	h.Broadcast(eventID, msgType, json.RawMessage(data))
}

// Viewers returns the number of local clients watching an event.
func (h *Hub) Viewers(eventID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.events[eventID])
}

// AdmissionPayload is the body of an attendee_admitted message.
type AdmissionPayload struct {
	AttendeeID int64     `json:"attendee_id"`
	Name       string    `json:"name"`
	RollNumber string    `json:"roll_number"`
	Branch     string    `json:"branch"`
	Year       int       `json:"year"`
	Section    string    `json:"section"`
	AdmittedAt time.Time `json:"admitted_at"`
	AdmittedBy *int64    `json:"admitted_by,omitempty"`
}

// AttendeeAdmitted publishes a successful admission to the event's feed.
func (h *Hub) AttendeeAdmitted(_ context.Context, event *models.Event, a models.Attendee) {
	p := AdmissionPayload{
		AttendeeID: a.ID,
		Name:       a.Name,
		RollNumber: a.RollNumber,
		Branch:     a.Branch,
		Year:       a.Year,
		Section:    a.Section,
		AdmittedBy: a.AdmittedBy,
	}
	if a.AdmittedAt != nil {
		p.AdmittedAt = *a.AdmittedAt
	}
	h.Publish(event.ID, TypeAttendeeAdmitted, p)
}
