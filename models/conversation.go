package models

import (
	"time"
)

// Conversation links exactly two principals. The pair is stored normalised
// so that ParticipantLowID < ParticipantHighID, which makes the pair unique
// regardless of who wrote first.
type Conversation struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ParticipantLowID  uint      `gorm:"not null;uniqueIndex:idx_conversations_pair" json:"participant_low_id"`
	ParticipantHighID uint      `gorm:"not null;uniqueIndex:idx_conversations_pair;index" json:"participant_high_id"`
	LastActivityAt    time.Time `gorm:"not null;index" json:"last_activity_at"`
	CreatedAt         time.Time `json:"created_at"`

	CounterpartID   uint   `gorm:"-" json:"counterpart_id,omitempty"`
	CounterpartName string `gorm:"-" json:"counterpart_name,omitempty"`
}

// TableName specifies the table name for the Conversation model
func (Conversation) TableName() string {
	return "conversations"
}

// NormalizePair orders two participant ids so the smaller comes first
func NormalizePair(a, b uint) (low, high uint) {
	if a < b {
		return a, b
	}
	return b, a
}

// HasParticipant reports whether userID is one of the two participants
func (c *Conversation) HasParticipant(userID uint) bool {
	return c.ParticipantLowID == userID || c.ParticipantHighID == userID
}

// Counterpart returns the id of the participant that is not userID
func (c *Conversation) Counterpart(userID uint) uint {
	if c.ParticipantLowID == userID {
		return c.ParticipantHighID
	}
	return c.ParticipantLowID
}
