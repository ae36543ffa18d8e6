package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/homefix/marketplace-api/config"
	"github.com/homefix/marketplace-api/controllers"
	"github.com/homefix/marketplace-api/events"
	"github.com/homefix/marketplace-api/jobs"
	"github.com/homefix/marketplace-api/middleware"
	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/notifications"
	"github.com/homefix/marketplace-api/realtime"
	"github.com/homefix/marketplace-api/routes"
	"github.com/homefix/marketplace-api/services"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App holds every long lived dependency of a process. Backing services are
// picked from configuration: Redis, RabbitMQ, SMTP and Stripe are used when
// configured and replaced by in-process implementations otherwise.
type App struct {
	Config *config.Config
	Log    logrus.FieldLogger
	DB     *gorm.DB

	Storage services.Storage
	Gateway services.PaymentGateway
	Mailer  services.Mailer
	Hub     realtime.Hub
	Locker  services.Locker
	Events  events.Publisher

	// MockGateway is the in-memory gateway behind Gateway when no Stripe key
	// is configured
	MockGateway *services.MockPaymentGateway

	Tokens        *services.TokenService
	Users         *services.UserService
	Auth          *services.AuthService
	Media         *services.MediaService
	Bookings      *services.BookingService
	Subscriptions *services.SubscriptionService
	Messaging     *services.MessagingService
	Notifier      *notifications.Notifier

	redis   *redis.Client
	closers []func() error
}

// New connects to the database and builds the service graph
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, log := a.Config, a.Log

	db, err := config.ConnectDatabase(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	a.DB = db
	a.onClose(func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if err := a.setupStorage(ctx); err != nil {
		return err
	}
	if err := a.setupRedis(ctx); err != nil {
		return err
	}

	if cfg.MailEnabled() {
		a.Mailer = services.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom)
	} else {
		a.Mailer = services.NewLogMailer(log)
	}
	if a.Notifier, err = notifications.NewNotifier(a.Mailer, log); err != nil {
		return err
	}
	if err := a.setupEvents(); err != nil {
		return err
	}

	prices, err := a.setupGateway()
	if err != nil {
		return err
	}

	if a.Tokens, err = services.NewTokenService(cfg.SigningSecret(), cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTTTL); err != nil {
		return err
	}

	a.Media = services.NewMediaService(a.Storage, log)
	a.Users = services.NewUserService(a.DB, log)
	a.Auth = services.NewAuthService(a.DB, a.Tokens, a.Media, log)
	a.Bookings = services.NewBookingService(a.DB, a.Users, a.Media, a.Events, log)
	a.Subscriptions = services.NewSubscriptionService(a.DB, a.Gateway, prices, a.Locker, a.Events, a.Users, log)
	a.Messaging = services.NewMessagingService(a.DB, a.Users, a.Hub, log)
	return nil
}

// Migrate creates or updates the schema
func (a *App) Migrate() error {
	return config.Migrate(a.DB)
}

// Router builds the HTTP handler of the API process
func (a *App) Router() *gin.Engine {
	authn := middleware.NewAuthenticator(a.Tokens, a.Users, a.Log)
	return routes.New(routes.Options{AllowedOrigins: a.Config.CORSAllowedOrigins}, authn, routes.Handlers{
		Auth:          controllers.NewAuthController(a.Auth),
		Users:         controllers.NewUserController(a.Users, a.Media),
		Bookings:      controllers.NewBookingController(a.Bookings),
		Subscriptions: controllers.NewSubscriptionController(a.Subscriptions),
		Messages:      controllers.NewMessageController(a.Messaging),
		Realtime:      controllers.NewRealtimeController(a.Messaging, a.Config.CORSAllowedOrigins, a.Log),
		Health:        controllers.NewHealthController(a.DB),
	}, a.Log)
}

// Scheduler builds the background job scheduler of the worker process
func (a *App) Scheduler() (*jobs.Scheduler, error) {
	return jobs.NewScheduler(a.Bookings, a.Subscriptions, jobs.Options{
		ReminderSchedule:  a.Config.ReminderSchedule,
		ReconcileSchedule: a.Config.ReconcileSchedule,
		ReconcileAfter:    a.Config.ReconcileAfter,
	}, a.Log)
}

// UsesBroker reports whether events travel through RabbitMQ. Without a
// broker notifications are delivered inside the publishing process.
func (a *App) UsesBroker() bool {
	return a.Config.RabbitMQURL != ""
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) setupStorage(ctx context.Context) error {
	cfg := a.Config
	switch cfg.StorageDriver {
	case "memory":
		a.Storage = services.NewMockStorage()
	case "cloudinary":
		storage, err := services.NewCloudinaryService(cfg.CloudinaryURL, a.Log)
		if err != nil {
			return err
		}
		a.Storage = storage
	default:
		storage, err := services.NewS3Service(ctx, services.S3Options{
			Region:          cfg.AWSRegion,
			Bucket:          cfg.AWSS3Bucket,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}, a.Log)
		if err != nil {
			return err
		}
		a.Storage = storage
	}
	a.Log.WithField("driver", cfg.StorageDriver).Info("Object storage configured")
	return nil
}

func (a *App) setupRedis(ctx context.Context) error {
	if a.Config.RedisURL == "" {
		hub := realtime.NewMemoryHub(a.Log)
		a.Hub = hub
		a.Locker = services.NewMemoryLocker()
		a.onClose(hub.Close)
		return nil
	}

	opts, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	a.redis = redis.NewClient(opts)
	a.onClose(a.redis.Close)

	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	a.Hub = realtime.NewRedisHub(a.redis, a.Log)
	a.Locker = services.NewRedisLocker(a.redis)
	a.Log.Info("Redis connected for realtime delivery and locking")
	return nil
}

func (a *App) setupEvents() error {
	if !a.UsesBroker() {
		bus := events.NewInProcessBus(a.Log)
		bus.Register(a.Notifier)
		a.Events = bus
		return nil
	}

	publisher, err := events.NewRabbitMQPublisher(a.Config.RabbitMQURL, a.Log)
	if err != nil {
		return err
	}
	a.Events = publisher
	a.onClose(publisher.Close)
	return nil
}

// setupGateway returns the plan price table alongside the gateway. Without a
// Stripe key outside production an in-memory gateway with placeholder prices
// is used so the API can be exercised locally.
func (a *App) setupGateway() (map[string]string, error) {
	cfg := a.Config
	prices := make(map[string]string, len(cfg.StripePriceIDs))
	for plan, price := range cfg.StripePriceIDs {
		prices[plan] = price
	}

	var gateway services.PaymentGateway
	if cfg.StripeSecretKey != "" {
		gateway = services.NewStripeGateway(cfg.StripeSecretKey, a.Log)
	} else {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("STRIPE_SECRET_KEY is required in production")
		}
		a.Log.Warn("STRIPE_SECRET_KEY not set, using the in-memory payment gateway")
		a.MockGateway = services.NewMockPaymentGateway()
		gateway = a.MockGateway
		for _, plan := range models.Plans {
			if prices[string(plan)] == "" {
				prices[string(plan)] = "price_" + string(plan)
			}
		}
	}

	a.Gateway = services.NewBreakerGateway(gateway, cfg.PaymentBreakerTrip, cfg.PaymentBreakerWait, a.Log)
	return prices, nil
}
