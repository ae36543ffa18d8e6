package routes

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/homefix/marketplace-api/controllers"
	"github.com/homefix/marketplace-api/middleware"
	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/utils"
	"github.com/sirupsen/logrus"
)

// Handlers groups the controllers mounted by the router
type Handlers struct {
	Auth          *controllers.AuthController
	Users         *controllers.UserController
	Bookings      *controllers.BookingController
	Subscriptions *controllers.SubscriptionController
	Messages      *controllers.MessageController
	Realtime      *controllers.RealtimeController
	Health        *controllers.HealthController
}

// Options tunes the router's cross-cutting middleware
type Options struct {
	AllowedOrigins []string
}

// New builds the HTTP router with every API route under /api/v1
func New(opts Options, authn *middleware.Authenticator, h Handlers, log logrus.FieldLogger) *gin.Engine {
	utils.RegisterValidators()

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(log),
		middleware.Recovery(log),
		cors.New(corsConfig(opts.AllowedOrigins)),
	)

	router.NoRoute(func(c *gin.Context) {
		utils.RespondError(c, utils.NotFound("ROUTE_NOT_FOUND", "Route not found"))
	})

	requireAuth := authn.RequireAuth()
	providerOnly := middleware.RequireRole(models.RoleProvider)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", h.Health.Health)
		v1.GET("/database/status", h.Health.DatabaseStatus)

		auth := v1.Group("/auth")
		auth.POST("/register", h.Auth.Register)
		auth.POST("/login", h.Auth.Login)

		users := v1.Group("/users", requireAuth)
		users.GET("/me", h.Users.GetMe)
		users.PUT("/me", h.Users.UpdateMe)

		admin := v1.Group("/admin", requireAuth, adminOnly)
		admin.GET("/users", h.Users.ListUsers)
		admin.PATCH("/users/:id/status", h.Users.UpdateStatus)
		admin.PATCH("/users/:id/role", h.Users.UpdateRole)

		bookings := v1.Group("/bookings")
		bookings.GET("/providers", h.Bookings.SearchProviders)
		bookings.POST("/create", h.Bookings.CreateBooking)
		bookings.GET("/provider", requireAuth, providerOnly, h.Bookings.ListForProvider)
		bookings.GET("/provider/upcoming", requireAuth, providerOnly, h.Bookings.Upcoming)
		bookings.GET("/provider/summary", requireAuth, providerOnly, h.Bookings.Summary)
		bookings.PATCH("/update/:id", requireAuth, providerOnly, h.Bookings.UpdateStatus)
		bookings.PATCH("/:id/payment", requireAuth, providerOnly, h.Bookings.UpdatePaymentStatus)
		bookings.GET("/user/:userId", requireAuth, h.Bookings.ListForCustomer)
		bookings.GET("/:id", h.Bookings.GetBooking)
		bookings.DELETE("/:id", requireAuth, h.Bookings.DeleteBooking)

		subscriptions := v1.Group("/subscriptions")
		subscriptions.POST("", requireAuth, h.Subscriptions.CreateSubscription)
		subscriptions.POST("/confirm", requireAuth, h.Subscriptions.ConfirmSubscription)
		subscriptions.GET("/admin/all", requireAuth, adminOnly, h.Subscriptions.ListAll)
		subscriptions.GET("/admin/active", requireAuth, adminOnly, h.Subscriptions.ListActive)
		subscriptions.GET("/admin/count", requireAuth, adminOnly, h.Subscriptions.Count)
		subscriptions.GET("/user/:customerId", h.Subscriptions.ListForCustomer)
		subscriptions.GET("/:id", h.Subscriptions.GetSubscription)
		subscriptions.PUT("/:id", h.Subscriptions.UpdateSubscription)
		subscriptions.DELETE("/:id", h.Subscriptions.DeleteSubscription)

		v1.POST("/messages", requireAuth, h.Messages.SendMessage)
		v1.GET("/messages/:conversationId", requireAuth, h.Messages.GetMessages)
		v1.GET("/conversations", requireAuth, h.Messages.ListConversations)

		v1.GET("/ws/conversations/:id", requireAuth, h.Realtime.StreamConversation)
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}
