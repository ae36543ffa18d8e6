package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	// ExchangeName is the topic exchange all marketplace events go through
	ExchangeName = "marketplace.events"
	// NotificationsQueue is the durable queue consumed by the worker
	NotificationsQueue = "marketplace.notifications"
)

// RabbitMQPublisher publishes events to a topic exchange
type RabbitMQPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     logrus.FieldLogger
	mu      sync.Mutex
}

// NewRabbitMQPublisher dials url and declares the exchange together with the
// notifications queue, so events published before any worker has started
// are kept
func NewRabbitMQPublisher(url string, log logrus.FieldLogger) (*RabbitMQPublisher, error) {
	conn, ch, err := dial(url)
	if err != nil {
		return nil, err
	}
	if err := declareQueue(ch, NotificationsQueue, NotificationEvents); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	log = log.WithField("component", "rabbitmq_publisher")
	log.WithField("exchange", ExchangeName).Info("RabbitMQ publisher connected")

	return &RabbitMQPublisher{conn: conn, channel: ch, log: log}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		ExchangeName,
		event.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.EventID.String(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.RoutingKey, err)
	}

	p.log.WithField("routing_key", event.RoutingKey).Debug("Event published")
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.Close(); err != nil {
		p.log.WithError(err).Warn("Error closing channel")
	}
	return p.conn.Close()
}

// RabbitMQConsumer consumes the notifications queue and dispatches to handlers
type RabbitMQConsumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	queue    string
	registry *Registry
	log      logrus.FieldLogger
}

// NewRabbitMQConsumer dials url and declares the queue
func NewRabbitMQConsumer(url, queue string, log logrus.FieldLogger) (*RabbitMQConsumer, error) {
	if queue == "" {
		queue = NotificationsQueue
	}

	conn, ch, err := dial(url)
	if err != nil {
		return nil, err
	}

	if err := declareQueue(ch, queue, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	log = log.WithField("component", "rabbitmq_consumer")
	return &RabbitMQConsumer{
		conn:     conn,
		channel:  ch,
		queue:    queue,
		registry: NewRegistry(log),
		log:      log,
	}, nil
}

// Register adds a handler and binds its routing keys to the queue
func (c *RabbitMQConsumer) Register(h Handler) error {
	c.registry.Register(h)
	return bindQueue(c.channel, c.queue, h.EventTypes())
}

// Start consumes until ctx is cancelled. Messages whose handlers fail are
// requeued once and dropped on the second failure.
func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.log.WithField("queue", c.queue).Info("Started consuming events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed unexpectedly")
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *RabbitMQConsumer) handle(ctx context.Context, msg amqp.Delivery) {
	event := &Event{}
	if err := json.Unmarshal(msg.Body, event); err != nil {
		c.log.WithError(err).WithField("routing_key", msg.RoutingKey).Error("Discarding malformed event")
		_ = msg.Ack(false)
		return
	}
	if event.RoutingKey == "" {
		event.RoutingKey = msg.RoutingKey
	}

	if err := c.registry.Dispatch(ctx, event); err != nil {
		if nackErr := msg.Nack(false, !msg.Redelivered); nackErr != nil {
			c.log.WithError(nackErr).Error("Failed to nack message")
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		c.log.WithError(err).Error("Failed to ack message")
	}
}

func (c *RabbitMQConsumer) Close() error {
	if err := c.channel.Close(); err != nil {
		c.log.WithError(err).Warn("Error closing channel")
	}
	return c.conn.Close()
}

// topologyChannel is the part of *amqp.Channel used to declare queues
type topologyChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// declareQueue declares the durable queue and binds routingKeys to it.
// Declaring is idempotent, so publisher and consumer both do it.
func declareQueue(ch topologyChannel, queue string, routingKeys []string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return bindQueue(ch, queue, routingKeys)
}

func bindQueue(ch topologyChannel, queue string, routingKeys []string) error {
	for _, key := range routingKeys {
		if err := ch.QueueBind(queue, key, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return conn, ch, nil
}
