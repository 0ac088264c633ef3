package notify

import (
	"log/slog"
	"sync"

	"github.com/pixelmint/genstudio/internal/domain"
	"github.com/pixelmint/genstudio/internal/observability"
)

const subscriberBuffer = 16

// Subscriber is one live notification stream for a user
type Subscriber struct {
	userID string
	events chan *domain.JobEvent
}

// Events returns the subscriber's event stream. The channel is closed
// when the subscriber is removed from the hub.
func (s *Subscriber) Events() <-chan *domain.JobEvent {
	return s.events
}

// Hub fans job events out to the subscribers of the affected user
type Hub struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]map[*Subscriber]struct{}
}

// NewHub creates an empty notification hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[string]map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new event stream for the given user
func (h *Hub) Subscribe(userID string) *Subscriber {
	sub := &Subscriber{
		userID: userID,
		events: make(chan *domain.JobEvent, subscriberBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[*Subscriber]struct{})
	}
	h.subscribers[userID][sub] = struct{}{}

	h.logger.Debug("Subscriber added",
		slog.String("user_id", userID),
		slog.Int("user_subscribers", len(h.subscribers[userID])),
	)

	return sub
}

// Unsubscribe removes the subscriber and closes its stream. Safe to
// call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[sub.userID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}

	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.subscribers, sub.userID)
	}
	close(sub.events)
}

// Publish delivers the event to every subscriber of the event's user.
// Delivery is best effort: a subscriber whose buffer is full loses the
// event rather than stalling the hub.
func (h *Hub) Publish(event *domain.JobEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers[event.UserID] {
		select {
		case sub.events <- event:
		default:
			observability.EventsDropped.Inc()
			h.logger.Warn("Subscriber buffer full, dropping event",
				slog.String("user_id", event.UserID),
				slog.String("job_id", event.JobID),
			)
		}
	}
}

// SubscriberCount reports how many streams the user currently has
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}
