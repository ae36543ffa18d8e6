package services

import (
	"context"
	"fmt"
	"sync"
)

// MockPaymentGateway is a scriptable PaymentGateway for tests and local
// development without Stripe credentials
type MockPaymentGateway struct {
	mu sync.Mutex

	customers map[string]*GatewayCustomer
	intents   map[string]*GatewayPaymentIntent
	attached  map[string]string
	seq       int

	// NextSubscription, when set, is returned by the next CreateSubscription
	// call instead of a succeeded subscription
	NextSubscription *GatewaySubscription

	// Per-operation failures, returned until cleared
	GetCustomerErr        error
	CreateCustomerErr     error
	AttachErr             error
	CreateSubscriptionErr error
	GetPaymentIntentErr   error

	CreatedCustomers     []string
	CreatedSubscriptions []string
}

// NewMockPaymentGateway creates an empty fake provider
func NewMockPaymentGateway() *MockPaymentGateway {
	return &MockPaymentGateway{
		customers: make(map[string]*GatewayCustomer),
		intents:   make(map[string]*GatewayPaymentIntent),
		attached:  make(map[string]string),
	}
}

func (m *MockPaymentGateway) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_mock_%d", prefix, m.seq)
}

func (m *MockPaymentGateway) GetCustomer(ctx context.Context, customerID string) (*GatewayCustomer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetCustomerErr != nil {
		return nil, m.GetCustomerErr
	}
	c, ok := m.customers[customerID]
	if !ok {
		return nil, &PaymentError{Kind: PaymentErrorNotFound, Code: "resource_missing", Message: "No such customer: " + customerID}
	}
	return c, nil
}

func (m *MockPaymentGateway) CreateCustomer(ctx context.Context, email, name string, userID uint) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateCustomerErr != nil {
		return "", m.CreateCustomerErr
	}
	id := m.nextID("cus")
	m.customers[id] = &GatewayCustomer{ID: id}
	m.CreatedCustomers = append(m.CreatedCustomers, id)
	return id, nil
}

// AddCustomer registers an existing provider customer
func (m *MockPaymentGateway) AddCustomer(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[id] = &GatewayCustomer{ID: id}
}

func (m *MockPaymentGateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AttachErr != nil {
		return m.AttachErr
	}
	if _, ok := m.customers[customerID]; !ok {
		return &PaymentError{Kind: PaymentErrorNotFound, Code: "resource_missing", Message: "No such customer: " + customerID}
	}
	m.attached[customerID] = paymentMethodID
	return nil
}

// DefaultPaymentMethod returns what was attached to customerID
func (m *MockPaymentGateway) DefaultPaymentMethod(customerID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attached[customerID]
}

func (m *MockPaymentGateway) CreateSubscription(ctx context.Context, customerID, priceID string) (*GatewaySubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateSubscriptionErr != nil {
		return nil, m.CreateSubscriptionErr
	}

	sub := m.NextSubscription
	m.NextSubscription = nil
	if sub == nil {
		sub = &GatewaySubscription{
			Status:        "active",
			Interval:      "month",
			IntervalCount: 1,
			PaymentIntent: &GatewayPaymentIntent{Status: IntentSucceeded},
		}
	}
	if sub.ID == "" {
		sub.ID = m.nextID("sub")
	}
	if sub.PaymentIntent != nil {
		if sub.PaymentIntent.ID == "" {
			sub.PaymentIntent.ID = m.nextID("pi")
		}
		if sub.PaymentIntent.ClientSecret == "" {
			sub.PaymentIntent.ClientSecret = sub.PaymentIntent.ID + "_secret"
		}
		intent := *sub.PaymentIntent
		m.intents[intent.ID] = &intent
	}

	m.CreatedSubscriptions = append(m.CreatedSubscriptions, sub.ID)
	return sub, nil
}

func (m *MockPaymentGateway) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*GatewayPaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetPaymentIntentErr != nil {
		return nil, m.GetPaymentIntentErr
	}
	pi, ok := m.intents[paymentIntentID]
	if !ok {
		return nil, &PaymentError{Kind: PaymentErrorNotFound, Code: "resource_missing", Message: "No such payment_intent: " + paymentIntentID}
	}
	out := *pi
	return &out, nil
}

// SetIntentStatus simulates the customer completing or abandoning 3-D Secure
func (m *MockPaymentGateway) SetIntentStatus(paymentIntentID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pi, ok := m.intents[paymentIntentID]; ok {
		pi.Status = status
	} else {
		m.intents[paymentIntentID] = &GatewayPaymentIntent{ID: paymentIntentID, Status: status}
	}
}
