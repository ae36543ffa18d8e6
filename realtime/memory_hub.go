package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrHubClosed is returned when using a hub after Close
var ErrHubClosed = errors.New("realtime: hub closed")

// MemoryHub is a single process Hub
type MemoryHub struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySubscription]struct{}
	closed bool
	log    logrus.FieldLogger
}

// NewMemoryHub creates a MemoryHub
func NewMemoryHub(log logrus.FieldLogger) *MemoryHub {
	return &MemoryHub{
		topics: make(map[string]map[*memorySubscription]struct{}),
		log:    log.WithField("component", "memory_hub"),
	}
}

func (h *MemoryHub) Publish(ctx context.Context, topic string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHubClosed
	}

	for sub := range h.topics[topic] {
		select {
		case sub.ch <- payload:
		default:
			h.log.WithField("topic", topic).Warn("Subscriber too slow, dropping message")
		}
	}
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	sub := &memorySubscription{hub: h, topic: topic, ch: make(chan []byte, subscriberBuffer)}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*memorySubscription]struct{})
	}
	h.topics[topic][sub] = struct{}{}
	return sub, nil
}

// SubscriberCount reports how many subscribers listen on topic
func (h *MemoryHub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for topic, subs := range h.topics {
		for sub := range subs {
			sub.closeLocked()
		}
		delete(h.topics, topic)
	}
	return nil
}

func (h *MemoryHub) unsubscribe(sub *memorySubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	sub.closeLocked()
}

type memorySubscription struct {
	hub    *MemoryHub
	topic  string
	ch     chan []byte
	closed bool
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.hub.unsubscribe(s)
	return nil
}

// closeLocked must be called with the hub lock held
func (s *memorySubscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
