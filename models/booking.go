package models

import (
	"slices"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BookingStatus is the lifecycle state of a booking
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingAccepted  BookingStatus = "accepted"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// bookingTransitions lists the statuses reachable from each state.
// Completed and cancelled are terminal.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:  {BookingAccepted, BookingCancelled},
	BookingAccepted: {BookingCompleted, BookingCancelled},
}

// Valid reports whether s is one of the known booking statuses
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingAccepted, BookingCompleted, BookingCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s
func (s BookingStatus) IsTerminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

// CanTransitionTo reports whether a booking in status s may move to next
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentStatus tracks whether a booking has been paid for
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentOnline PaymentMethod = "online"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentOnline
}

// Booking is a customer's request for a provider's service.
//
// CustomerName, CustomerEmail and ProviderName are snapshots taken when the
// booking is created and are never recomputed. The display name fields are
// filled in at read time from the live user records and never stored.
type Booking struct {
	ID            uint                        `gorm:"primaryKey" json:"id"`
	CustomerID    uint                        `gorm:"not null;index" json:"customer_id"`
	ProviderID    uint                        `gorm:"not null;index" json:"provider_id"`
	Category      string                      `gorm:"not null" json:"category"`
	SubCategory   string                      `json:"sub_category,omitempty"`
	ScheduledDate time.Time                   `gorm:"not null;index" json:"scheduled_date"`
	Urgency       string                      `gorm:"type:varchar(10);not null;default:'medium'" json:"urgency"`
	Complexity    string                      `gorm:"type:varchar(10);not null;default:'moderate'" json:"complexity"`
	Description   string                      `gorm:"type:text" json:"description"`
	Address       string                      `gorm:"not null" json:"address"`
	ImageKeys     datatypes.JSONSlice[string] `json:"image_keys"`
	Status        BookingStatus               `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PaymentStatus PaymentStatus               `gorm:"type:varchar(20);not null;default:'pending'" json:"payment_status"`
	PaymentMethod PaymentMethod               `gorm:"type:varchar(20);not null;default:'cash'" json:"payment_method"`

	CustomerName  string `gorm:"not null" json:"customer_name"`
	CustomerEmail string `gorm:"not null" json:"customer_email"`
	ProviderName  string `gorm:"not null" json:"provider_name"`

	// ReminderSentAt is set once the upcoming-visit reminder went out
	ReminderSentAt *time.Time `json:"-"`

	CounterpartyName    string   `gorm:"-" json:"counterparty_name,omitempty"`
	CustomerDisplayName string   `gorm:"-" json:"customer_display_name,omitempty"`
	ProviderDisplayName string   `gorm:"-" json:"provider_display_name,omitempty"`
	ImageURLs           []string `gorm:"-" json:"image_urls,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for the Booking model
func (Booking) TableName() string {
	return "bookings"
}

// BeforeCreate forces every new booking into its initial state
func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	b.Status = BookingPending
	b.PaymentStatus = PaymentPending
	if b.PaymentMethod == "" {
		b.PaymentMethod = PaymentCash
	}
	return nil
}

// Urgency and complexity levels a customer can pick
var (
	Urgencies    = []string{"low", "medium", "high"}
	Complexities = []string{"simple", "moderate", "complex"}
)

const (
	DefaultUrgency    = "medium"
	DefaultComplexity = "moderate"
)

// ValidUrgency reports whether v is one of Urgencies
func ValidUrgency(v string) bool { return slices.Contains(Urgencies, v) }

// ValidComplexity reports whether v is one of Complexities
func ValidComplexity(v string) bool { return slices.Contains(Complexities, v) }

// Deletable reports whether the owning customer may still delete the booking
func (b *Booking) Deletable() bool {
	return b.Status != BookingAccepted && b.Status != BookingCompleted
}
