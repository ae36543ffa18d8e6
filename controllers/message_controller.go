package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/homefix/marketplace-api/services"
	"github.com/homefix/marketplace-api/utils"
)

// SendMessageRequest represents the request body for sending a message. Either
// conversationId or recipientId addresses it.
type SendMessageRequest struct {
	ConversationID uint   `json:"conversationId"`
	RecipientID    uint   `json:"recipientId"`
	Text           string `json:"text" binding:"required"`
}

// MessageController serves conversations and their messages
type MessageController struct {
	messaging *services.MessagingService
}

// NewMessageController creates a MessageController
func NewMessageController(messaging *services.MessagingService) *MessageController {
	return &MessageController{messaging: messaging}
}

// SendMessage handles POST /messages - sends a message, starting the
// conversation on first contact
func (ctl *MessageController) SendMessage(c *gin.Context) {
	sender, ok := currentUser(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := bind(c, &req); err != nil {
		utils.RespondError(c, err)
		return
	}

	message, err := ctl.messaging.Send(c.Request.Context(), sender, services.SendMessageInput{
		ConversationID: req.ConversationID,
		RecipientID:    req.RecipientID,
		Text:           req.Text,
	})
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.RespondData(c, http.StatusCreated, message)
}

// GetMessages handles GET /messages/:conversationId - the conversation's
// history, oldest first
func (ctl *MessageController) GetMessages(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, err := parseIDParam(c, "conversationId")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	messages, err := ctl.messaging.History(c.Request.Context(), user, conversationID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, messages)
}

// ListConversations handles GET /conversations
func (ctl *MessageController) ListConversations(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	conversations, err := ctl.messaging.Conversations(c.Request.Context(), user)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, conversations)
}
