package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeGateway implements PaymentGateway with Stripe
type StripeGateway struct {
	api *client.API
	log logrus.FieldLogger
}

// NewStripeGateway creates a gateway using the given secret key
func NewStripeGateway(secretKey string, log logrus.FieldLogger) *StripeGateway {
	return &StripeGateway{
		api: client.New(secretKey, nil),
		log: log.WithField("component", "stripe"),
	}
}

func (g *StripeGateway) GetCustomer(ctx context.Context, customerID string) (*GatewayCustomer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	c, err := g.api.Customers.Get(customerID, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return &GatewayCustomer{ID: c.ID, Deleted: c.Deleted}, nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name string, userID uint) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatUint(uint64(userID), 10))

	c, err := g.api.Customers.New(params)
	if err != nil {
		return "", classifyStripeError(err)
	}
	return c.ID, nil
}

func (g *StripeGateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	attach := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	attach.Context = ctx
	if _, err := g.api.PaymentMethods.Attach(paymentMethodID, attach); err != nil {
		return classifyStripeError(err)
	}

	update := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	update.Context = ctx
	if _, err := g.api.Customers.Update(customerID, update); err != nil {
		return classifyStripeError(err)
	}
	return nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, customerID, priceID string) (*GatewaySubscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		PaymentBehavior: stripe.String("allow_incomplete"),
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.payments")

	sub, err := g.api.Subscriptions.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	out := &GatewaySubscription{
		ID:        sub.ID,
		Status:    string(sub.Status),
		CreatedAt: unixOrZero(sub.Created),
		StartDate: unixOrZero(sub.StartDate),
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.PeriodStart = unixOrZero(item.CurrentPeriodStart)
		out.PeriodEnd = unixOrZero(item.CurrentPeriodEnd)
		if item.Price != nil {
			out.Amount = item.Price.UnitAmount
			out.Currency = string(item.Price.Currency)
			if item.Price.Recurring != nil {
				out.Interval = string(item.Price.Recurring.Interval)
				out.IntervalCount = item.Price.Recurring.IntervalCount
			}
		}
	}

	if intentID := latestPaymentIntentID(sub); intentID != "" {
		// The invoice only carries the intent id; its status and client
		// secret need a second call
		intent, err := g.GetPaymentIntent(ctx, intentID)
		if err != nil {
			g.log.WithError(err).WithField("subscription_id", sub.ID).Warn("Failed to load payment intent for new subscription")
			out.PaymentIntent = &GatewayPaymentIntent{ID: intentID}
		} else {
			out.PaymentIntent = intent
		}
	}

	return out, nil
}

func (g *StripeGateway) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*GatewayPaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return &GatewayPaymentIntent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
	}, nil
}

func latestPaymentIntentID(sub *stripe.Subscription) string {
	inv := sub.LatestInvoice
	if inv == nil || inv.Payments == nil {
		return ""
	}
	for _, p := range inv.Payments.Data {
		if p != nil && p.Payment != nil && p.Payment.PaymentIntent != nil && p.Payment.PaymentIntent.ID != "" {
			return p.Payment.PaymentIntent.ID
		}
	}
	return ""
}

func unixOrZero(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

// classifyStripeError maps Stripe's error taxonomy onto PaymentError
func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return &PaymentError{Kind: PaymentErrorAPI, Message: "request to payment provider failed", Err: err}
	}

	pe := &PaymentError{Code: string(stripeErr.Code), Message: stripeErr.Msg, Err: err}
	switch {
	case stripeErr.Type == stripe.ErrorTypeCard:
		pe.Kind = PaymentErrorCard
	case stripeErr.Code == stripe.ErrorCodeResourceMissing:
		pe.Kind = PaymentErrorNotFound
	case stripeErr.Type == stripe.ErrorTypeInvalidRequest:
		pe.Kind = PaymentErrorInvalidRequest
	default:
		pe.Kind = PaymentErrorAPI
	}
	if pe.Message == "" {
		pe.Message = "payment provider error"
	}
	return pe
}
