package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Payment intent statuses reported by the payment provider
const (
	IntentSucceeded             = "succeeded"
	IntentRequiresAction        = "requires_action"
	IntentRequiresConfirmation  = "requires_confirmation"
	IntentRequiresPaymentMethod = "requires_payment_method"
	IntentProcessing            = "processing"
	IntentCanceled              = "canceled"
)

// GatewayCustomer is the payment provider's view of a customer
type GatewayCustomer struct {
	ID      string
	Deleted bool
}

// GatewayPaymentIntent is the payment attempt behind a subscription invoice
type GatewayPaymentIntent struct {
	ID           string
	Status       string
	ClientSecret string
}

// GatewaySubscription is the subset of the provider's subscription object
// that local state is derived from. Zero times mean the provider omitted the
// field.
type GatewaySubscription struct {
	ID          string
	Status      string
	CreatedAt   time.Time
	StartDate   time.Time
	PeriodStart time.Time
	PeriodEnd   time.Time
	// Interval is the plan's billing interval ("month", "year", ...)
	Interval      string
	IntervalCount int64
	Amount        int64
	Currency      string
	// PaymentIntent is nil when the latest invoice needed no payment
	PaymentIntent *GatewayPaymentIntent
}

// PaymentGateway is everything the subscription flow needs from the payment
// provider
type PaymentGateway interface {
	GetCustomer(ctx context.Context, customerID string) (*GatewayCustomer, error)
	CreateCustomer(ctx context.Context, email, name string, userID uint) (string, error)
	// AttachPaymentMethod attaches the method and makes it the customer's default
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	CreateSubscription(ctx context.Context, customerID, priceID string) (*GatewaySubscription, error)
	GetPaymentIntent(ctx context.Context, paymentIntentID string) (*GatewayPaymentIntent, error)
}

// PaymentErrorKind classifies provider failures
type PaymentErrorKind int

const (
	// PaymentErrorAPI covers provider side and network failures
	PaymentErrorAPI PaymentErrorKind = iota
	// PaymentErrorCard is a declined or otherwise unusable card
	PaymentErrorCard
	// PaymentErrorInvalidRequest means our request was rejected
	PaymentErrorInvalidRequest
	// PaymentErrorNotFound means the referenced object does not exist
	PaymentErrorNotFound
	// PaymentErrorUnavailable means the circuit breaker refused the call
	PaymentErrorUnavailable
)

// PaymentError is returned by PaymentGateway implementations
type PaymentError struct {
	Kind    PaymentErrorKind
	Code    string
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment provider: %s: %v", e.Message, e.Err)
	}
	return "payment provider: " + e.Message
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// IsPaymentErrorKind reports whether err is a PaymentError of kind
func IsPaymentErrorKind(err error, kind PaymentErrorKind) bool {
	var pe *PaymentError
	return errors.As(err, &pe) && pe.Kind == kind
}
