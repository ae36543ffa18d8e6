package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/homefix/marketplace-api/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// TestPassword is the plain text password of every fixture user
const TestPassword = "password123"

var (
	seq          int64
	passwordHash []byte
)

func init() {
	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	passwordHash = hash
}

// UserOption customises a fixture user before it is stored
type UserOption func(*models.User)

// WithName sets the user's display name
func WithName(name string) UserOption {
	return func(u *models.User) { u.Name = name }
}

// WithEmail sets the user's email
func WithEmail(email string) UserOption {
	return func(u *models.User) { u.Email = email }
}

// WithService sets a provider's service type and location
func WithService(serviceType, location string) UserOption {
	return func(u *models.User) {
		u.ServiceType = serviceType
		u.Location = location
	}
}

// Disabled stores the user with Enabled=false
func Disabled() UserOption {
	return func(u *models.User) { u.Enabled = false }
}

// CreateUser stores a user with the given role. Providers default to
// plumbing in Berlin.
func CreateUser(t *testing.T, db *gorm.DB, role models.Role, opts ...UserOption) *models.User {
	t.Helper()

	n := atomic.AddInt64(&seq, 1)
	user := &models.User{
		Name:         fmt.Sprintf("%s %d", role, n),
		Email:        fmt.Sprintf("%s%d@example.com", role, n),
		PasswordHash: string(passwordHash),
		Role:         role,
		Enabled:      true,
	}
	if role == models.RoleProvider {
		user.ServiceType = "plumbing"
		user.Location = "Berlin"
	}
	for _, opt := range opts {
		opt(user)
	}

	enabled := user.Enabled
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	// The column default turns a zero bool into true on insert
	if !enabled {
		if err := db.Model(user).Update("enabled", false).Error; err != nil {
			t.Fatalf("Failed to disable user: %v", err)
		}
		user.Enabled = false
	}
	return user
}

// CreateBooking stores a booking between customer and provider in the given
// status, scheduled at the given time
func CreateBooking(t *testing.T, db *gorm.DB, customer, provider *models.User, status models.BookingStatus, scheduled time.Time) *models.Booking {
	t.Helper()

	booking := &models.Booking{
		CustomerID:    customer.ID,
		ProviderID:    provider.ID,
		Category:      "plumbing",
		SubCategory:   "leak repair",
		ScheduledDate: scheduled.UTC(),
		Description:   "Kitchen sink is leaking",
		Address:       "Hauptstrasse 1, Berlin",
		CustomerName:  customer.Name,
		CustomerEmail: customer.Email,
		ProviderName:  provider.Name,
	}
	if err := db.Create(booking).Error; err != nil {
		t.Fatalf("Failed to create booking: %v", err)
	}
	// New bookings always start pending
	if status != models.BookingPending {
		if err := db.Model(booking).Update("status", status).Error; err != nil {
			t.Fatalf("Failed to set booking status: %v", err)
		}
		booking.Status = status
	}
	return booking
}

// CreateSubscription stores a subscription row directly
func CreateSubscription(t *testing.T, db *gorm.DB, customer *models.User, status models.SubscriptionStatus) *models.Subscription {
	t.Helper()

	n := atomic.AddInt64(&seq, 1)
	now := time.Now().UTC()
	sub := &models.Subscription{
		CustomerID:           customer.ID,
		PlanType:             models.PlanBasic,
		BillingCycle:         models.BillingMonthly,
		PaymentMethod:        "card",
		StripeCustomerID:     fmt.Sprintf("cus_fixture_%d", n),
		StripeSubscriptionID: fmt.Sprintf("sub_fixture_%d", n),
		Status:               status,
		PaymentStatus:        status,
		Amount:               1999,
		Currency:             "eur",
		ActualStartDate:      now,
		ActualEndDate:        now.AddDate(0, 1, 0),
		FullName:             customer.Name,
		Email:                customer.Email,
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("Failed to create subscription: %v", err)
	}
	return sub
}
