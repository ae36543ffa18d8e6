package services

import (
	"context"
	"errors"
	"mime/multipart"
	"strings"
	"time"

	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// RegisterInput is the data needed to open an account
type RegisterInput struct {
	Name        string
	Email       string
	Password    string
	Role        models.Role
	Phone       string
	ServiceType string
	Location    string
}

// AuthResult is returned by successful registration and login
type AuthResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// AuthService registers principals and exchanges credentials for tokens
type AuthService struct {
	db     *gorm.DB
	tokens *TokenService
	media  *MediaService
	log    logrus.FieldLogger
	cost   int
}

// NewAuthService creates an AuthService
func NewAuthService(db *gorm.DB, tokens *TokenService, media *MediaService, log logrus.FieldLogger) *AuthService {
	return &AuthService{
		db:     db,
		tokens: tokens,
		media:  media,
		log:    log.WithField("component", "auth"),
		cost:   bcrypt.DefaultCost,
	}
}

// WithHashCost overrides the bcrypt cost, tests use bcrypt.MinCost
func (s *AuthService) WithHashCost(cost int) *AuthService {
	s.cost = cost
	return s
}

// NormalizeEmail lower-cases and trims an address before storage or lookup
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashPassword hashes a plain text password
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Register creates a customer or provider account. Providers must supply
// identity documents; they are uploaded first and removed again if the
// account cannot be stored.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, documents []*multipart.FileHeader) (result *AuthResult, err error) {
	in.Email = NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)

	if in.Role == "" {
		in.Role = models.RoleCustomer
	}
	switch in.Role {
	case models.RoleCustomer:
	case models.RoleProvider:
		if strings.TrimSpace(in.ServiceType) == "" || strings.TrimSpace(in.Location) == "" {
			return nil, utils.BadRequest("VALIDATION_ERROR", "Providers must specify a service type and location")
		}
		if len(documents) == 0 {
			return nil, utils.BadRequest("DOCUMENTS_REQUIRED", "At least one identity document (PNG, JPEG or PDF) is required for providers")
		}
	default:
		return nil, utils.BadRequest("INVALID_ROLE", "Accounts can only be registered as customer or provider")
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Unscoped().Where("email = ?", in.Email).Count(&existing).Error; err != nil {
		return nil, utils.Internal("Failed to check email", err)
	}
	if existing > 0 {
		return nil, utils.Conflict("USER_EXISTS", "A user with this email already exists")
	}

	hash, err := HashPassword(in.Password, s.cost)
	if err != nil {
		return nil, utils.Internal("Failed to secure password", err)
	}

	undo := &Compensations{}
	defer func() {
		if err != nil {
			undo.Run(context.WithoutCancel(ctx), s.log)
		}
	}()

	user := models.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		Enabled:      true,
		Phone:        strings.TrimSpace(in.Phone),
	}

	if in.Role == models.RoleProvider {
		keys, uploadErr := s.media.UploadAll(ctx, utils.UploadKindDocument, "documents", documents, undo)
		if uploadErr != nil {
			return nil, uploadErr
		}
		user.ServiceType = strings.TrimSpace(in.ServiceType)
		user.Location = strings.TrimSpace(in.Location)
		user.VerificationDocuments = keys
	}

	if err = s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, utils.Conflict("USER_EXISTS", "A user with this email already exists")
		}
		return nil, utils.Internal("Failed to create user", err)
	}

	token, expiresAt, err := s.tokens.Issue(&user)
	if err != nil {
		// The account exists; the client can log in normally
		s.log.WithError(err).WithField("user_id", user.ID).Error("Failed to issue token after registration")
		return &AuthResult{User: &user}, nil
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("User registered")
	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: &user}, nil
}

// Login checks credentials and issues a session token. Unknown emails and
// wrong passwords get the same response.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	invalid := utils.Unauthenticated("INVALID_CREDENTIALS", "Invalid email or password")

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invalid
		}
		return nil, utils.Internal("Failed to look up user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, invalid
	}

	if !user.Enabled {
		return nil, utils.Forbidden("ACCOUNT_DISABLED", "This account has been disabled")
	}

	token, expiresAt, err := s.tokens.Issue(&user)
	if err != nil {
		return nil, utils.Internal("Failed to issue token", err)
	}

	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: &user}, nil
}

// CreateAdmin creates or promotes an admin account from the command line
func (s *AuthService) CreateAdmin(ctx context.Context, name, email, password string) (*models.User, error) {
	email = NormalizeEmail(email)
	if email == "" || len(password) < 8 {
		return nil, utils.BadRequest("VALIDATION_ERROR", "An email and a password of at least 8 characters are required")
	}

	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return nil, utils.Internal("Failed to secure password", err)
	}

	var user models.User
	err = s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{"role": models.RoleAdmin, "password_hash": hash, "enabled": true}
		if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
			return nil, utils.Internal("Failed to promote user", err)
		}
		user.Role = models.RoleAdmin
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{Name: name, Email: email, PasswordHash: hash, Role: models.RoleAdmin, Enabled: true}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, utils.Internal("Failed to create admin", err)
		}
	default:
		return nil, utils.Internal("Failed to look up user", err)
	}

	return &user, nil
}
