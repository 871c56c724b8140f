package feed

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const defaultBufferSize = 64

var droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "board_feed_dropped_events_total",
	Help: "Change events dropped because a subscriber buffer was full",
}, []string{"backend"})

// Hub is the single-node bus. Sends never block: a subscriber that is not
// keeping up loses events instead of stalling the publisher.
type Hub struct {
	sync.RWMutex
	bufferSize int
	threads    map[string]map[string]chan Event
	closed     bool
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		bufferSize: bufferSize,
		threads:    make(map[string]map[string]chan Event),
	}
}

func (h *Hub) Publish(_ context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	h.deliver(event, "memory")
	return nil
}

func (h *Hub) deliver(event Event, backend string) {
	h.RLock()
	defer h.RUnlock()

	for key, client := range h.threads[event.ThreadID] {
		select {
		case client <- event:
		default:
			droppedEvents.WithLabelValues(backend).Inc()
			log.WithFields(log.Fields{
				"key":    key,
				"thread": event.ThreadID,
				"op":     event.Op,
			}).Warn("subscriber channel full, dropping event")
		}
	}
}

func (h *Hub) Subscribe(_ context.Context, threadID string) (*Subscription, error) {
	key := uuid.NewString()
	client := make(chan Event, h.bufferSize)

	h.Lock()
	if h.closed {
		h.Unlock()
		close(client)
		return newSubscription(client, nil), nil
	}
	clients, ok := h.threads[threadID]
	if !ok {
		clients = make(map[string]chan Event)
		h.threads[threadID] = clients
	}
	clients[key] = client
	count := len(clients)
	h.Unlock()

	log.WithFields(log.Fields{
		"key":    key,
		"thread": threadID,
		"count":  count,
	}).Debug("added feed subscriber")

	return newSubscription(client, func() { h.remove(threadID, key) }), nil
}

func (h *Hub) remove(threadID, key string) {
	h.Lock()
	defer h.Unlock()

	clients := h.threads[threadID]
	if client, ok := clients[key]; ok {
		close(client)
		delete(clients, key)
	}
	if len(clients) == 0 {
		delete(h.threads, threadID)
	}
}

// Subscribers returns the number of open subscriptions for a thread.
func (h *Hub) Subscribers(threadID string) int {
	h.RLock()
	defer h.RUnlock()
	return len(h.threads[threadID])
}

// Close ends every open subscription.
func (h *Hub) Close() error {
	h.Lock()
	defer h.Unlock()
	for threadID, clients := range h.threads {
		for _, client := range clients {
			close(client)
		}
		delete(h.threads, threadID)
	}
	h.closed = true
	return nil
}
