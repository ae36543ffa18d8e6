package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// InProcessBus delivers events synchronously to handlers in the same process.
// Handler failures are logged and never reported back to the publisher.
type InProcessBus struct {
	registry *Registry
	log      logrus.FieldLogger
}

// NewInProcessBus creates a bus with its own registry
func NewInProcessBus(log logrus.FieldLogger) *InProcessBus {
	log = log.WithField("component", "event_bus")
	return &InProcessBus{registry: NewRegistry(log), log: log}
}

// Register adds a handler
func (b *InProcessBus) Register(h Handler) {
	b.registry.Register(h)
}

func (b *InProcessBus) Publish(ctx context.Context, event *Event) error {
	start := time.Now()
	if err := b.registry.Dispatch(ctx, event); err != nil {
		b.log.WithError(err).WithField("routing_key", event.RoutingKey).Warn("Event dispatch failed")
		return nil
	}

	b.log.WithFields(logrus.Fields{
		"routing_key": event.RoutingKey,
		"event_id":    event.EventID,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Event dispatched")
	return nil
}

func (b *InProcessBus) Close() error {
	return nil
}
