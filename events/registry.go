package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry tracks handlers by routing key and dispatches events to them
type Registry struct {
	handlers map[string][]Handler
	mu       sync.RWMutex
	log      logrus.FieldLogger
}

// NewRegistry creates an empty Registry
func NewRegistry(log logrus.FieldLogger) *Registry {
	return &Registry{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

// Register adds a handler for each of its event types
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, eventType := range h.EventTypes() {
		r.handlers[eventType] = append(r.handlers[eventType], h)
	}
}

// EventTypes returns every routing key with at least one handler
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Dispatch calls every handler registered for the event's routing key. All
// handlers run even if one fails; the last error is returned.
func (r *Registry) Dispatch(ctx context.Context, event *Event) error {
	r.mu.RLock()
	handlers := r.handlers[event.RoutingKey]
	r.mu.RUnlock()

	var lastErr error
	for _, h := range handlers {
		if err := h.Handle(ctx, event); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"routing_key": event.RoutingKey,
				"event_id":    event.EventID,
			}).Error("Handler failed")
			lastErr = err
		}
	}
	return lastErr
}
