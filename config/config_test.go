package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:file:defaults?mode=memory")
	t.Setenv("JWT_TTL", "")
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg := FromEnv()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "test", cfg.GoEnv)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, "s3", cfg.StorageDriver)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, uint32(5), cfg.PaymentBreakerTrip)
	assert.Contains(t, cfg.StripePriceIDs, "premium")
	assert.True(t, cfg.IsTest())
	assert.False(t, cfg.MailEnabled())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("JWT_TTL", "90m")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("STRIPE_PRICE_BASIC", "price_basic")
	t.Setenv("SMTP_HOST", "smtp.example")

	cfg := FromEnv()
	assert.Equal(t, 90*time.Minute, cfg.JWTTTL)
	assert.Equal(t, 2525, cfg.SMTPPort)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "price_basic", cfg.StripePriceIDs["basic"])
	assert.True(t, cfg.MailEnabled())
}

func TestFromEnv_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("SMTP_PORT", "not-a-port")
	t.Setenv("JWT_TTL", "forever")

	cfg := FromEnv()
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing database url",
			cfg:     Config{GoEnv: "test", StorageDriver: "memory"},
			wantErr: "DATABASE_URL is required",
		},
		{
			name:    "production requires jwt secret",
			cfg:     Config{GoEnv: "production", DatabaseURL: "postgres://x", StorageDriver: "s3"},
			wantErr: "JWT_SECRET is required",
		},
		{
			name:    "unknown storage driver",
			cfg:     Config{GoEnv: "test", DatabaseURL: "postgres://x", StorageDriver: "ftp"},
			wantErr: "STORAGE_DRIVER must be one of",
		},
		{
			name:    "cloudinary needs url",
			cfg:     Config{GoEnv: "test", DatabaseURL: "postgres://x", StorageDriver: "cloudinary"},
			wantErr: "CLOUDINARY_URL is required",
		},
		{
			name: "valid production config",
			cfg:  Config{GoEnv: "production", DatabaseURL: "postgres://x", StorageDriver: "s3", JWTSecret: "s3cret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSigningSecret(t *testing.T) {
	assert.Equal(t, "insecure-development-secret", (&Config{}).SigningSecret())
	assert.Equal(t, "abc", (&Config{JWTSecret: "abc"}).SigningSecret())
}

func TestLoad_WithoutEnvFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:file:load?mode=memory")
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StorageDriver)
}
