package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/screenrec/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	mirrorBuffer = 256
)

// Mirror forwards session events beyond this process (e.g. Redis for `screenrec watch`).
type Mirror interface {
	PublishSessionEvent(ev models.SessionEvent) error
}

// Hub fans session events out to the connected /events clients and the optional mirror.
// The last state change is replayed to clients as they join.
type Hub struct {
	clients map[string]*Client
	last    *WSMessage
	mu      sync.RWMutex
	logger  *zap.Logger

	mirror   Mirror
	mirrorCh chan models.SessionEvent
	done     chan struct{}
	once     sync.Once
}

// NewHub creates a hub. A nil mirror keeps events local.
func NewHub(logger *zap.Logger, mirror Mirror) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients: make(map[string]*Client),
		logger:  logger.With(zap.String("component", "hub")),
		mirror:  mirror,
		done:    make(chan struct{}),
	}
	if mirror != nil {
		h.mirrorCh = make(chan models.SessionEvent, mirrorBuffer)
		go h.forward()
	}
	return h
}

// forward publishes to the mirror in event order off the caller's goroutine.
func (h *Hub) forward() {
	for {
		select {
		case <-h.done:
			return
		case ev := <-h.mirrorCh:
			if err := h.mirror.PublishSessionEvent(ev); err != nil {
				h.logger.Debug("mirror publish failed", zap.String("type", ev.Type), zap.Error(err))
			}
		}
	}
}

// Close stops mirror forwarding.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
}

// Register adds a client and queues the current state for it.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	last := h.last
	h.mu.Unlock()
	if last != nil {
		select {
		case c.send <- *last:
		default:
		}
	}
	h.logger.Debug("events client joined", zap.String("client_id", c.ID))
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()
	h.logger.Debug("events client left", zap.String("client_id", c.ID))
}

// Publish broadcasts ev to local clients and hands it to the mirror. It never blocks;
// slow clients and a backed-up mirror miss events.
func (h *Hub) Publish(ev models.SessionEvent) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	msg := WSMessage{Event: ev.Type, Data: data}

	// sends happen under the lock so Unregister cannot close a channel mid-send
	h.mu.Lock()
	if ev.Type == models.EventStateChanged {
		h.last = &msg
	}
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
	h.mu.Unlock()

	if h.mirrorCh != nil {
		select {
		case h.mirrorCh <- ev:
		default:
			h.logger.Debug("mirror backlog full, dropping event", zap.String("type", ev.Type))
		}
	}
}

// ClientCount returns the number of connected /events clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
