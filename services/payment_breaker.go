package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// BreakerGateway wraps a PaymentGateway in a circuit breaker. Card declines,
// invalid requests and missing objects are answers from a healthy provider
// and do not count as failures.
type BreakerGateway struct {
	next    PaymentGateway
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBreakerGateway trips after threshold consecutive provider failures and
// probes again after wait
func NewBreakerGateway(next PaymentGateway, threshold uint32, wait time.Duration, log logrus.FieldLogger) *BreakerGateway {
	if threshold == 0 {
		threshold = 5
	}
	if wait <= 0 {
		wait = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Timeout:     wait,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Payment gateway circuit breaker changed state")
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return IsPaymentErrorKind(err, PaymentErrorCard) ||
				IsPaymentErrorKind(err, PaymentErrorInvalidRequest) ||
				IsPaymentErrorKind(err, PaymentErrorNotFound)
		},
	})

	return &BreakerGateway{next: next, breaker: cb}
}

func (g *BreakerGateway) GetCustomer(ctx context.Context, customerID string) (*GatewayCustomer, error) {
	out, err := g.execute(func() (any, error) { return g.next.GetCustomer(ctx, customerID) })
	if err != nil {
		return nil, err
	}
	return out.(*GatewayCustomer), nil
}

func (g *BreakerGateway) CreateCustomer(ctx context.Context, email, name string, userID uint) (string, error) {
	out, err := g.execute(func() (any, error) { return g.next.CreateCustomer(ctx, email, name, userID) })
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (g *BreakerGateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	_, err := g.execute(func() (any, error) { return nil, g.next.AttachPaymentMethod(ctx, customerID, paymentMethodID) })
	return err
}

func (g *BreakerGateway) CreateSubscription(ctx context.Context, customerID, priceID string) (*GatewaySubscription, error) {
	out, err := g.execute(func() (any, error) { return g.next.CreateSubscription(ctx, customerID, priceID) })
	if err != nil {
		return nil, err
	}
	return out.(*GatewaySubscription), nil
}

func (g *BreakerGateway) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*GatewayPaymentIntent, error) {
	out, err := g.execute(func() (any, error) { return g.next.GetPaymentIntent(ctx, paymentIntentID) })
	if err != nil {
		return nil, err
	}
	return out.(*GatewayPaymentIntent), nil
}

func (g *BreakerGateway) execute(fn func() (any, error)) (any, error) {
	out, err := g.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &PaymentError{
			Kind:    PaymentErrorUnavailable,
			Message: "payment provider temporarily unavailable",
			Err:     err,
		}
	}
	return out, err
}
