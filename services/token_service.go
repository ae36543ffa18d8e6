package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/homefix/marketplace-api/models"
)

// SessionClaims are the custom claims carried by session tokens
type SessionClaims struct {
	Role string `json:"role"`
}

// Validate rejects tokens carrying a role we do not know about
func (c *SessionClaims) Validate(ctx context.Context) error {
	if !models.Role(c.Role).Valid() {
		return fmt.Errorf("unknown role %q", c.Role)
	}
	return nil
}

// Session is the identity carried by a verified token
type Session struct {
	UserID uint
	Role   models.Role
}

type issuedClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues HS256 session tokens and verifies them
type TokenService struct {
	secret    []byte
	issuer    string
	audience  string
	ttl       time.Duration
	now       func() time.Time
	validator *validator.Validator
}

// NewTokenService creates a TokenService
func NewTokenService(secret, issuer, audience string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}

	key := []byte(secret)
	jwtValidator, err := validator.New(
		func(ctx context.Context) (interface{}, error) { return key, nil },
		validator.HS256,
		issuer,
		[]string{audience},
		validator.WithCustomClaims(
			func() validator.CustomClaims {
				return &SessionClaims{}
			},
		),
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up the jwt validator: %w", err)
	}

	return &TokenService{
		secret:    key,
		issuer:    issuer,
		audience:  audience,
		ttl:       ttl,
		now:       time.Now,
		validator: jwtValidator,
	}, nil
}

// Issue signs a session token for user
func (s *TokenService) Issue(user *models.User) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)

	claims := issuedClaims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken is the validation hook handed to the JWT middleware
func (s *TokenService) ValidateToken(ctx context.Context, token string) (interface{}, error) {
	return s.validator.ValidateToken(ctx, token)
}

// Verify checks signature, expiry, issuer and audience and returns the session
func (s *TokenService) Verify(ctx context.Context, token string) (*Session, error) {
	raw, err := s.validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return SessionFromClaims(raw)
}

// SessionFromClaims converts validated claims into a Session
func SessionFromClaims(raw interface{}) (*Session, error) {
	claims, ok := raw.(*validator.ValidatedClaims)
	if !ok {
		return nil, fmt.Errorf("claims are not in the expected format")
	}

	id, err := strconv.ParseUint(claims.RegisteredClaims.Subject, 10, 64)
	if err != nil || id == 0 {
		return nil, fmt.Errorf("invalid subject %q", claims.RegisteredClaims.Subject)
	}

	session := &Session{UserID: uint(id)}
	if custom, ok := claims.CustomClaims.(*SessionClaims); ok {
		session.Role = models.Role(custom.Role)
	}
	return session, nil
}
