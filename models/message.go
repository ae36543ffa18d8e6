package models

import (
	"time"
)

// Message represents a message in a conversation. Messages are immutable.
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"not null;index:idx_messages_conversation_created" json:"conversation_id"`
	SenderID       uint      `gorm:"not null;index" json:"sender_id"`
	Sender         User      `gorm:"foreignKey:SenderID" json:"sender"`
	Text           string    `gorm:"type:text;not null" json:"text"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conversation_created" json:"created_at"`
}

// TableName specifies the table name for the Message model
func (Message) TableName() string {
	return "messages"
}

// All returns every model managed by the application in migration order
func All() []interface{} {
	return []interface{}{
		&User{},
		&Booking{},
		&Subscription{},
		&Conversation{},
		&Message{},
	}
}
