package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisHub relays messages through Redis pub/sub so every API instance sees
// every message
type RedisHub struct {
	client *redis.Client
	log    logrus.FieldLogger
}

// NewRedisHub creates a hub on top of an existing client
func NewRedisHub(client *redis.Client, log logrus.FieldLogger) *RedisHub {
	return &RedisHub{client: client, log: log.WithField("component", "redis_hub")}
}

func (h *RedisHub) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := h.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (h *RedisHub) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := h.client.Subscribe(ctx, topic)
	// Wait for the subscription to be confirmed so no message published
	// afterwards can be missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &redisSubscription{pubsub: pubsub, ch: make(chan []byte, subscriberBuffer)}
	go sub.pump(h.log.WithField("topic", topic))
	return sub, nil
}

// Close is a no-op; the client is owned by the caller
func (h *RedisHub) Close() error {
	return nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan []byte
	once   sync.Once
}

func (s *redisSubscription) pump(log logrus.FieldLogger) {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		select {
		case s.ch <- []byte(msg.Payload):
		default:
			log.Warn("Subscriber too slow, dropping message")
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.ch
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
