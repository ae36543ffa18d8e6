package controllers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/services"
	"github.com/homefix/marketplace-api/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMessageRouter(env *testEnv, user *models.User) *gin.Engine {
	ctl := NewMessageController(env.messaging)
	router := newRouter()
	router.Use(asUser(user))
	router.POST("/messages", ctl.SendMessage)
	router.GET("/messages/:conversationId", ctl.GetMessages)
	router.GET("/conversations", ctl.ListConversations)
	return router
}

func sendMessage(t *testing.T, env *testEnv, from *models.User, payload map[string]interface{}) models.Message {
	t.Helper()

	w := performJSON(t, setupMessageRouter(env, from), http.MethodPost, "/messages", payload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var msg models.Message
	decodeData(t, w, &msg)
	return msg
}

func TestSendMessage_StartsAndReusesConversation(t *testing.T) {
	env := newTestEnv(t)
	customer := testutil.CreateUser(t, env.db, models.RoleCustomer, testutil.WithName("Cathy"))
	provider := testutil.CreateUser(t, env.db, models.RoleProvider, testutil.WithName("Pete"))

	first := sendMessage(t, env, customer, map[string]interface{}{"recipientId": provider.ID, "text": "  Hi, are you free on Friday?  "})
	assert.NotZero(t, first.ConversationID)
	assert.Equal(t, "Hi, are you free on Friday?", first.Text)
	assert.Equal(t, customer.ID, first.Sender.ID)
	assert.Equal(t, "Cathy", first.Sender.Name)
	assert.Empty(t, first.Sender.Email, "sender details are trimmed")

	reply := sendMessage(t, env, provider, map[string]interface{}{"recipientId": customer.ID, "text": "Yes, after 2pm"})
	assert.Equal(t, first.ConversationID, reply.ConversationID, "the pair shares one conversation whoever writes first")

	third := sendMessage(t, env, customer, map[string]interface{}{"conversationId": first.ConversationID, "text": "Great"})
	assert.Equal(t, first.ConversationID, third.ConversationID)

	var conversations int64
	env.db.Model(&models.Conversation{}).Count(&conversations)
	assert.Equal(t, int64(1), conversations)
}

func TestSendMessage_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		payload    func(self, peer, disabled *models.User, foreign uint) map[string]interface{}
		wantStatus int
		wantCode   string
	}{
		{
			name: "missing text",
			payload: func(_, peer, _ *models.User, _ uint) map[string]interface{} {
				return map[string]interface{}{"recipientId": peer.ID}
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name: "blank text",
			payload: func(_, peer, _ *models.User, _ uint) map[string]interface{} {
				return map[string]interface{}{"recipientId": peer.ID, "text": "   "}
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name: "text too long",
			payload: func(_, peer, _ *models.User, _ uint) map[string]interface{} {
				return map[string]interface{}{"recipientId": peer.ID, "text": strings.Repeat("ü", services.MaxMessageLength+1)}
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "MESSAGE_TOO_LONG",
		},
		{
			name: "no addressee",
			payload: func(_, _, _ *models.User, _ uint) map[string]interface{} {
				return map[string]interface{}{"text": "hello"}
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name: "message to self",
			payload: func(self, _, _ *models.User, _ uint) map[string]interface{} {
				return map[string]interface{}{"recipientId": self.ID, "text": "note to self"}
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_RECIPIENT",
		},
		{
			name: "unknown recipient",
			payload: func(_, _, _ *models.User, _ uint) map[string]interface{} {
				return map[string]interface{}{"recipientId": 9999, "text": "hello"}
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "RECIPIENT_NOT_FOUND",
		},
		{
			name: "disabled recipient",
			payload: func(_, _, disabled *models.User, _ uint) map[string]interface{} {
				return map[string]interface{}{"recipientId": disabled.ID, "text": "hello"}
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "RECIPIENT_NOT_FOUND",
		},
		{
			name: "conversation of others",
			payload: func(_, _, _ *models.User, foreign uint) map[string]interface{} {
				return map[string]interface{}{"conversationId": foreign, "text": "hello"}
			},
			wantStatus: http.StatusForbidden,
			wantCode:   "NOT_A_PARTICIPANT",
		},
		{
			name: "unknown conversation",
			payload: func(_, _, _ *models.User, _ uint) map[string]interface{} {
				return map[string]interface{}{"conversationId": 9999, "text": "hello"}
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "CONVERSATION_NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			self := testutil.CreateUser(t, env.db, models.RoleCustomer)
			peer := testutil.CreateUser(t, env.db, models.RoleProvider)
			disabled := testutil.CreateUser(t, env.db, models.RoleProvider, testutil.Disabled())
			a := testutil.CreateUser(t, env.db, models.RoleCustomer)
			b := testutil.CreateUser(t, env.db, models.RoleProvider)
			foreign := sendMessage(t, env, a, map[string]interface{}{"recipientId": b.ID, "text": "private"})

			w := performJSON(t, setupMessageRouter(env, self), http.MethodPost, "/messages", tt.payload(self, peer, disabled, foreign.ConversationID))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, errorCode(t, w))

			var count int64
			env.db.Model(&models.Message{}).Count(&count)
			assert.Equal(t, int64(1), count, "only the fixture message is stored")
		})
	}
}

func TestGetMessages(t *testing.T) {
	env := newTestEnv(t)
	customer := testutil.CreateUser(t, env.db, models.RoleCustomer)
	provider := testutil.CreateUser(t, env.db, models.RoleProvider)
	outsider := testutil.CreateUser(t, env.db, models.RoleCustomer)

	first := sendMessage(t, env, customer, map[string]interface{}{"recipientId": provider.ID, "text": "one"})
	sendMessage(t, env, provider, map[string]interface{}{"conversationId": first.ConversationID, "text": "two"})
	sendMessage(t, env, customer, map[string]interface{}{"conversationId": first.ConversationID, "text": "three"})

	path := pathFor("/messages/%d", first.ConversationID)

	t.Run("participant reads history oldest first", func(t *testing.T) {
		w := performJSON(t, setupMessageRouter(env, provider), http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var messages []models.Message
		decodeData(t, w, &messages)
		require.Len(t, messages, 3)
		assert.Equal(t, []string{"one", "two", "three"}, []string{messages[0].Text, messages[1].Text, messages[2].Text})
		assert.Equal(t, customer.Name, messages[0].Sender.Name)
		assert.Equal(t, provider.ID, messages[1].Sender.ID)
	})

	t.Run("outsider is refused", func(t *testing.T) {
		w := performJSON(t, setupMessageRouter(env, outsider), http.MethodGet, path, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "NOT_A_PARTICIPANT", errorCode(t, w))
	})

	t.Run("invalid id", func(t *testing.T) {
		w := performJSON(t, setupMessageRouter(env, provider), http.MethodGet, "/messages/zero", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_ID", errorCode(t, w))
	})
}

func TestListConversations(t *testing.T) {
	env := newTestEnv(t)
	customer := testutil.CreateUser(t, env.db, models.RoleCustomer)
	plumber := testutil.CreateUser(t, env.db, models.RoleProvider, testutil.WithName("Plumber Pete"))
	electrician := testutil.CreateUser(t, env.db, models.RoleProvider, testutil.WithName("Electric Eve"))

	withPlumber := sendMessage(t, env, customer, map[string]interface{}{"recipientId": plumber.ID, "text": "leak"})
	sendMessage(t, env, customer, map[string]interface{}{"recipientId": electrician.ID, "text": "socket"})
	// Plumber writes last, so that conversation moves to the top
	sendMessage(t, env, plumber, map[string]interface{}{"conversationId": withPlumber.ConversationID, "text": "on my way"})

	w := performJSON(t, setupMessageRouter(env, customer), http.MethodGet, "/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var conversations []models.Conversation
	decodeData(t, w, &conversations)
	require.Len(t, conversations, 2)
	assert.Equal(t, withPlumber.ConversationID, conversations[0].ID)
	assert.Equal(t, plumber.ID, conversations[0].CounterpartID)
	assert.Equal(t, "Plumber Pete", conversations[0].CounterpartName)
	assert.Equal(t, "Electric Eve", conversations[1].CounterpartName)

	w = performJSON(t, setupMessageRouter(env, electrician), http.MethodGet, "/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &conversations)
	require.Len(t, conversations, 1)
	assert.Equal(t, customer.ID, conversations[0].CounterpartID)
}
