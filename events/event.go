package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Routing keys for marketplace events
const (
	BookingCreated        = "booking.created"
	BookingStatusChanged  = "booking.status_changed"
	BookingReminder       = "booking.reminder"
	SubscriptionActivated = "subscription.activated"
)

// NotificationEvents are the routing keys bound to the notifications queue
var NotificationEvents = []string{
	BookingCreated,
	BookingStatusChanged,
	BookingReminder,
	SubscriptionActivated,
}

// Event is the envelope published on the bus
type Event struct {
	EventID    uuid.UUID       `json:"eventId"`
	RoutingKey string          `json:"routingKey"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v
func (e *Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.RoutingKey, err)
	}
	return nil
}

// New wraps payload in an envelope
func New(routingKey string, payload interface{}) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", routingKey, err)
	}
	return &Event{
		EventID:    uuid.New(),
		RoutingKey: routingKey,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// BookingPayload carries the snapshot fields captured when a booking was made
type BookingPayload struct {
	BookingID     uint      `json:"booking_id"`
	CustomerID    uint      `json:"customer_id"`
	ProviderID    uint      `json:"provider_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	ProviderName  string    `json:"provider_name"`
	Category      string    `json:"category"`
	SubCategory   string    `json:"sub_category,omitempty"`
	ScheduledDate time.Time `json:"scheduled_date"`
	Address       string    `json:"address"`
	Status        string    `json:"status"`
	PreviousState string    `json:"previous_status,omitempty"`
}

// SubscriptionPayload describes an activated subscription
type SubscriptionPayload struct {
	SubscriptionID uint      `json:"subscription_id"`
	CustomerID     uint      `json:"customer_id"`
	FullName       string    `json:"full_name"`
	Email          string    `json:"email"`
	PlanType       string    `json:"plan_type"`
	BillingCycle   string    `json:"billing_cycle"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
}

// Publisher sends events to whatever transport is configured
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// Handler processes events for the routing keys it declares
type Handler interface {
	EventTypes() []string
	Handle(ctx context.Context, event *Event) error
}

// Publish builds an envelope and publishes it in one step
func Publish(ctx context.Context, p Publisher, routingKey string, payload interface{}) error {
	event, err := New(routingKey, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, event)
}
