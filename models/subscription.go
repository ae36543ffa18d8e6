package models

import (
	"time"
)

// PlanType is one of the fixed subscription plans
type PlanType string

const (
	PlanBasic    PlanType = "basic"
	PlanStandard PlanType = "standard"
	PlanPremium  PlanType = "premium"
)

// Plans lists every plan a customer may subscribe to
var Plans = []PlanType{PlanBasic, PlanStandard, PlanPremium}

func (p PlanType) Valid() bool {
	for _, plan := range Plans {
		if plan == p {
			return true
		}
	}
	return false
}

// SubscriptionStatus mirrors the payment provider's subscription state. The
// same set of values is used for Status and PaymentStatus.
type SubscriptionStatus string

const (
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionFailed     SubscriptionStatus = "failed"
)

// LiveSubscriptionStatuses are the statuses that count towards the
// one-live-subscription-per-customer rule
var LiveSubscriptionStatuses = []SubscriptionStatus{SubscriptionActive, SubscriptionTrialing}

// IsLive reports whether s counts as a customer's current subscription
func (s SubscriptionStatus) IsLive() bool {
	return s == SubscriptionActive || s == SubscriptionTrialing
}

type BillingCycle string

const (
	BillingMonthly BillingCycle = "month"
	BillingYearly  BillingCycle = "year"
)

// Subscription is a customer's enrollment in a recurring plan.
// ActualStartDate and ActualEndDate are always set.
type Subscription struct {
	ID                    uint               `gorm:"primaryKey" json:"id"`
	CustomerID            uint               `gorm:"not null;index" json:"customer_id"`
	PlanType              PlanType           `gorm:"type:varchar(20);not null" json:"plan_type"`
	BillingCycle          BillingCycle       `gorm:"type:varchar(10);not null" json:"billing_cycle"`
	PaymentMethod         string             `gorm:"type:varchar(20);not null;default:'card'" json:"payment_method"`
	StripeCustomerID      string             `gorm:"not null" json:"stripe_customer_id"`
	StripeSubscriptionID  string             `gorm:"not null;uniqueIndex" json:"stripe_subscription_id"`
	StripePaymentIntentID string             `gorm:"index" json:"stripe_payment_intent_id,omitempty"`
	Status                SubscriptionStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentStatus         SubscriptionStatus `gorm:"type:varchar(20);not null" json:"payment_status"`
	Amount                int64              `json:"amount"`
	Currency              string             `gorm:"type:varchar(3)" json:"currency"`
	ActualStartDate       time.Time          `gorm:"not null" json:"actual_start_date"`
	ActualEndDate         time.Time          `gorm:"not null" json:"actual_end_date"`

	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	AddressLine string `json:"address_line,omitempty"`
	City        string `json:"city,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	Country     string `json:"country,omitempty"`
	Notes       string `gorm:"type:text" json:"notes,omitempty"`

	CustomerName string `gorm:"-" json:"customer_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for the Subscription model
func (Subscription) TableName() string {
	return "subscriptions"
}

// SubscriptionUpdatableFields are the only columns a client may change after
// creation, keyed by their JSON name
var SubscriptionUpdatableFields = map[string]string{
	"notes":        "notes",
	"full_name":    "full_name",
	"phone":        "phone",
	"address_line": "address_line",
	"city":         "city",
	"postal_code":  "postal_code",
	"country":      "country",
}
