package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string
	Port        string
	GoEnv       string
	LogLevel    string
	LogFormat   string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTTTL      time.Duration

	CORSAllowedOrigins []string

	// StorageDriver is one of "s3", "cloudinary" or "memory"
	StorageDriver      string
	AWSRegion          string
	AWSS3Bucket        string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	CloudinaryURL      string

	StripeSecretKey    string
	StripePriceIDs     map[string]string
	PaymentBreakerTrip uint32
	PaymentBreakerWait time.Duration

	RedisURL    string
	RabbitMQURL string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	ReminderSchedule  string
	ReconcileSchedule string
	ReconcileAfter    time.Duration
}

// Load loads the configuration from environment variables
// It automatically determines which .env file to load based on GO_ENV
func Load() (*Config, error) {
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}

	// Try to load environment-specific file first
	envFile := fmt.Sprintf(".env.%s", env)
	if err := godotenv.Load(envFile); err != nil {
		// In production variables are set directly, so missing files are fine
		if err := godotenv.Load(); err != nil {
			log.Printf("No .env file found, using system environment variables")
		}
	} else {
		log.Printf("Loaded configuration from %s", envFile)
	}

	config := FromEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// FromEnv builds a Config from the current process environment without
// touching any .env file
func FromEnv() *Config {
	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Port:        getEnv("PORT", "8080"),
		GoEnv:       getEnv("GO_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "homefix-marketplace"),
		JWTAudience: getEnv("JWT_AUDIENCE", "homefix-api"),
		JWTTTL:      getEnvDuration("JWT_TTL", 24*time.Hour),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		StorageDriver:      getEnv("STORAGE_DRIVER", "s3"),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		AWSS3Bucket:        getEnv("AWS_S3_BUCKET", ""),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		CloudinaryURL:      getEnv("CLOUDINARY_URL", ""),

		StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		StripePriceIDs: map[string]string{
			"basic":    getEnv("STRIPE_PRICE_BASIC", ""),
			"standard": getEnv("STRIPE_PRICE_STANDARD", ""),
			"premium":  getEnv("STRIPE_PRICE_PREMIUM", ""),
		},
		PaymentBreakerTrip: uint32(getEnvInt("PAYMENT_BREAKER_TRIP", 5)),
		PaymentBreakerWait: getEnvDuration("PAYMENT_BREAKER_WAIT", 30*time.Second),

		RedisURL:    getEnv("REDIS_URL", ""),
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		MailFrom:     getEnv("MAIL_FROM", "no-reply@homefix.example"),

		ReminderSchedule:  getEnv("REMINDER_SCHEDULE", "@hourly"),
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@every 15m"),
		ReconcileAfter:    getEnvDuration("RECONCILE_AFTER", 15*time.Minute),
	}
}

// Validate checks that all required configuration values are set
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSecret == "" && !c.IsDevelopment() && !c.IsTest() {
		return fmt.Errorf("JWT_SECRET is required outside development and test")
	}
	switch c.StorageDriver {
	case "s3", "cloudinary", "memory":
	default:
		return fmt.Errorf("STORAGE_DRIVER must be one of s3, cloudinary, memory (got %q)", c.StorageDriver)
	}
	if c.StorageDriver == "cloudinary" && c.CloudinaryURL == "" {
		return fmt.Errorf("CLOUDINARY_URL is required when STORAGE_DRIVER=cloudinary")
	}
	return nil
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// IsTest returns true if the application is running in test mode
func (c *Config) IsTest() bool {
	return c.GoEnv == "test"
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// SigningSecret returns the HMAC secret for session tokens. Development and
// test fall back to a fixed secret so the server boots without setup.
func (c *Config) SigningSecret() string {
	if c.JWTSecret == "" {
		return "insecure-development-secret"
	}
	return c.JWTSecret
}

// MailEnabled reports whether outbound e-mail is configured
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid integer for %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid duration for %s=%q, using default %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
