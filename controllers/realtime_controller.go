package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/homefix/marketplace-api/services"
	"github.com/homefix/marketplace-api/utils"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// RealtimeController streams conversation messages over WebSocket
type RealtimeController struct {
	messaging *services.MessagingService
	upgrader  websocket.Upgrader
	log       logrus.FieldLogger
}

// NewRealtimeController creates a RealtimeController. Browsers may only
// connect from allowedOrigins; "*" allows any origin.
func NewRealtimeController(messaging *services.MessagingService, allowedOrigins []string, log logrus.FieldLogger) *RealtimeController {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &RealtimeController{
		messaging: messaging,
		log:       log.WithField("component", "realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins["*"] || origins[origin]
			},
		},
	}
}

// StreamConversation handles GET /ws/conversations/:id. Participation is
// checked before the upgrade so refusals are ordinary JSON errors.
func (ctl *RealtimeController) StreamConversation(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, err := parseIDParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub, err := ctl.messaging.Subscribe(ctx, user, conversationID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	defer sub.Close()

	conn, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error
		ctl.log.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := ctl.log.WithFields(logrus.Fields{"user_id": user.ID, "conversation_id": conversationID})
	logger.Info("Realtime client connected")

	// Clients only send control frames; reading drives pong handling and
	// notices disconnects
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Realtime client disconnected")
			return
		case payload, open := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.WithError(err).Debug("Realtime write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
