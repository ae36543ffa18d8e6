package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Role is a principal's role in the marketplace
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// User represents a principal: a customer, a service provider or an admin.
// Users are never hard deleted; moderation flips Enabled instead.
type User struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Name         string `gorm:"not null" json:"name"`
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	Role         Role   `gorm:"type:varchar(20);not null;default:'customer';index" json:"role"`
	Enabled      bool   `gorm:"not null;default:true" json:"enabled"`
	Phone        string `json:"phone,omitempty"`

	// Provider attributes
	ServiceType           string                      `gorm:"index:idx_users_service_location" json:"service_type,omitempty"`
	Location              string                      `gorm:"index:idx_users_service_location" json:"location,omitempty"`
	Rating                float64                     `gorm:"not null;default:0" json:"rating"`
	VerificationDocuments datatypes.JSONSlice[string] `json:"verification_documents,omitempty"`

	StripeCustomerID *string `gorm:"index" json:"-"`

	// DocumentURLs is resolved from VerificationDocuments for admin views
	DocumentURLs []string `gorm:"-" json:"document_urls,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for the User model
func (User) TableName() string {
	return "users"
}

func (u *User) IsProvider() bool { return u.Role == RoleProvider }

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// BeforeCreate defaults the role of a new principal
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.Role == "" {
		u.Role = RoleCustomer
	}
	return nil
}
