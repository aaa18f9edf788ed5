package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/throwlytics/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	// EventThrowCreated is sent to an owner's connections after one of their throws is saved.
	EventThrowCreated = "throw_created"
)

// Hub maintains owner_id -> set of connections and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling: an owner's events reach every instance holding one of their sockets.
type Hub struct {
	// ownerID -> map[clientID]*Client
	owners   map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per owner
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishOwnerEvent(ownerID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to owner channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeOwner(ownerID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		owners:   make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to its owner's group. Starts the Redis subscription for the owner if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.owners[c.OwnerID] == nil {
		h.owners[c.OwnerID] = make(map[string]*Client)
		if h.redisSub != nil {
			ownerID := c.OwnerID
			cancel, err := h.redisSub.SubscribeOwner(ownerID, func(event string, payload []byte) {
				h.BroadcastToOwner(ownerID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("owner subscription failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
			} else {
				h.subs[ownerID] = cancel
			}
		}
	}
	h.owners[c.OwnerID][c.ID] = c
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("owner_id", c.OwnerID.String()))
}

// Unregister removes a client. Cancels the Redis subscription when the owner's last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.owners[c.OwnerID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.owners, c.OwnerID)
			if cancel, ok := h.subs[c.OwnerID]; ok {
				cancel()
				delete(h.subs, c.OwnerID)
			}
		}
	}
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("owner_id", c.OwnerID.String()))
}

// BroadcastToOwner sends a message to all of an owner's local clients.
func (h *Hub) BroadcastToOwner(ownerID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			h.logger.Warn("marshal event failed", zap.String("event", event), zap.Error(err))
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.owners[ownerID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// PublishToOwner delivers an event to every instance. With Redis configured it only publishes, and the
// subscription on each instance (including this one) does the local broadcast, so clients get it once.
func (h *Hub) PublishToOwner(ownerID uuid.UUID, event string, payload interface{}) error {
	if h.redis == nil {
		h.BroadcastToOwner(ownerID, event, payload)
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return h.redis.PublishOwnerEvent(ownerID, event, data)
}

// NotifyThrowCreated sends throw_created to the throw's owner.
func (h *Hub) NotifyThrowCreated(_ context.Context, t *models.Throw) error {
	return h.PublishToOwner(t.OwnerID, EventThrowCreated, t)
}

// ConnectionCount returns the number of local connections of an owner.
func (h *Hub) ConnectionCount(ownerID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners[ownerID])
}

// Close cancels all Redis subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, cancel := range h.subs {
		cancel()
		delete(h.subs, id)
	}
}
