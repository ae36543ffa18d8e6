package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/realtime"
	"github.com/homefix/marketplace-api/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MaxMessageLength is the longest message text accepted, in characters
const MaxMessageLength = 4000

// SendMessageInput addresses a message either to an existing conversation or
// to a recipient, in which case the pair's conversation is created on first
// contact
type SendMessageInput struct {
	ConversationID uint
	RecipientID    uint
	Text           string
}

// MessagingService stores conversations and messages and relays new messages
// to connected participants
type MessagingService struct {
	db    *gorm.DB
	users *UserService
	hub   realtime.Hub
	log   logrus.FieldLogger
}

// NewMessagingService creates a MessagingService
func NewMessagingService(db *gorm.DB, users *UserService, hub realtime.Hub, log logrus.FieldLogger) *MessagingService {
	return &MessagingService{db: db, users: users, hub: hub, log: log.WithField("component", "messaging")}
}

// Send persists a message and then publishes it on the conversation's topic.
// A failed publish is logged; the message is stored either way.
func (s *MessagingService) Send(ctx context.Context, sender *models.User, in SendMessageInput) (*models.Message, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, utils.BadRequest("VALIDATION_ERROR", "Message text is required")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, utils.BadRequest("MESSAGE_TOO_LONG", "Messages are limited to 4000 characters")
	}

	var conversation *models.Conversation
	var err error
	if in.ConversationID != 0 {
		conversation, err = s.participantConversation(ctx, sender, in.ConversationID)
	} else {
		conversation, err = s.conversationWith(ctx, sender, in.RecipientID)
	}
	if err != nil {
		return nil, err
	}

	message := &models.Message{
		ConversationID: conversation.ID,
		SenderID:       sender.ID,
		Text:           text,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Sender").Create(message).Error; err != nil {
			return err
		}
		return tx.Model(conversation).Update("last_activity_at", message.CreatedAt).Error
	})
	if err != nil {
		return nil, utils.Internal("Failed to save message", err)
	}
	message.Sender = publicSender(sender)

	s.broadcast(ctx, message)
	return message, nil
}

// History returns a conversation's messages, oldest first
func (s *MessagingService) History(ctx context.Context, user *models.User, conversationID uint) ([]models.Message, error) {
	if _, err := s.participantConversation(ctx, user, conversationID); err != nil {
		return nil, err
	}

	messages := []models.Message{}
	err := s.db.WithContext(ctx).
		Preload("Sender", func(db *gorm.DB) *gorm.DB {
			return db.Unscoped().Select("id", "name", "role")
		}).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, utils.Internal("Failed to fetch messages", err)
	}
	return messages, nil
}

// Conversations lists the user's conversations, most recent activity first,
// with the other participant's current name
func (s *MessagingService) Conversations(ctx context.Context, user *models.User) ([]models.Conversation, error) {
	conversations := []models.Conversation{}
	err := s.db.WithContext(ctx).
		Where("participant_low_id = ? OR participant_high_id = ?", user.ID, user.ID).
		Order("last_activity_at DESC, id DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, utils.Internal("Failed to fetch conversations", err)
	}

	ids := make([]uint, 0, len(conversations))
	for i := range conversations {
		conversations[i].CounterpartID = conversations[i].Counterpart(user.ID)
		ids = append(ids, conversations[i].CounterpartID)
	}
	names, err := s.users.DisplayNames(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range conversations {
		conversations[i].CounterpartName = names[conversations[i].CounterpartID]
	}
	return conversations, nil
}

// Subscribe opens a realtime feed of a conversation for one of its
// participants
func (s *MessagingService) Subscribe(ctx context.Context, user *models.User, conversationID uint) (realtime.Subscription, error) {
	if _, err := s.participantConversation(ctx, user, conversationID); err != nil {
		return nil, err
	}
	sub, err := s.hub.Subscribe(ctx, realtime.ConversationTopic(conversationID))
	if err != nil {
		return nil, utils.Upstream("REALTIME_UNAVAILABLE", "Live updates are currently unavailable", err)
	}
	return sub, nil
}

func (s *MessagingService) participantConversation(ctx context.Context, user *models.User, conversationID uint) (*models.Conversation, error) {
	var conversation models.Conversation
	if err := s.db.WithContext(ctx).First(&conversation, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFound("CONVERSATION_NOT_FOUND", "Conversation not found")
		}
		return nil, utils.Internal("Failed to fetch conversation", err)
	}
	if !conversation.HasParticipant(user.ID) {
		return nil, utils.Forbidden("NOT_A_PARTICIPANT", "You are not a participant of this conversation")
	}
	return &conversation, nil
}

// conversationWith returns the conversation between sender and recipient,
// creating it when they have never talked. Two first messages racing each
// other end up in the same conversation through the unique pair index.
func (s *MessagingService) conversationWith(ctx context.Context, sender *models.User, recipientID uint) (*models.Conversation, error) {
	if recipientID == 0 {
		return nil, utils.BadRequest("VALIDATION_ERROR", "Either conversationId or recipientId is required")
	}
	if recipientID == sender.ID {
		return nil, utils.BadRequest("INVALID_RECIPIENT", "You cannot message yourself")
	}

	recipient, err := s.users.Get(ctx, recipientID)
	if err != nil {
		if utils.IsKind(err, utils.KindNotFound) {
			return nil, utils.NotFound("RECIPIENT_NOT_FOUND", "Recipient not found")
		}
		return nil, err
	}
	if !recipient.Enabled {
		return nil, utils.NotFound("RECIPIENT_NOT_FOUND", "Recipient not found")
	}

	low, high := models.NormalizePair(sender.ID, recipient.ID)
	find := func() (*models.Conversation, error) {
		var conversation models.Conversation
		err := s.db.WithContext(ctx).
			Where("participant_low_id = ? AND participant_high_id = ?", low, high).
			First(&conversation).Error
		if err != nil {
			return nil, err
		}
		return &conversation, nil
	}

	conversation, err := find()
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.Internal("Failed to fetch conversation", err)
	}

	conversation = &models.Conversation{
		ParticipantLowID:  low,
		ParticipantHighID: high,
		LastActivityAt:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(conversation).Error; err != nil {
		if !isUniqueViolation(err) {
			return nil, utils.Internal("Failed to create conversation", err)
		}
		conversation, err = find()
		if err != nil {
			return nil, utils.Internal("Failed to fetch conversation", err)
		}
		return conversation, nil
	}

	s.log.WithFields(logrus.Fields{"conversation_id": conversation.ID, "low": low, "high": high}).Info("Conversation started")
	return conversation, nil
}

func (s *MessagingService) broadcast(ctx context.Context, message *models.Message) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.log.WithError(err).WithField("message_id", message.ID).Error("Failed to encode message for broadcast")
		return
	}
	if err := s.hub.Publish(ctx, realtime.ConversationTopic(message.ConversationID), payload); err != nil {
		s.log.WithError(err).WithField("conversation_id", message.ConversationID).Warn("Failed to broadcast message")
	}
}

// publicSender strips a user down to what other participants may see
func publicSender(user *models.User) models.User {
	return models.User{ID: user.ID, Name: user.Name, Role: user.Role}
}
