package services

import (
	"context"
	"errors"
	"strings"

	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UserService reads and moderates principals
type UserService struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// NewUserService creates a UserService
func NewUserService(db *gorm.DB, log logrus.FieldLogger) *UserService {
	return &UserService{db: db, log: log.WithField("component", "users")}
}

// UpdateProfileInput holds self-service profile changes. Nil fields are left
// untouched.
type UpdateProfileInput struct {
	Name        *string
	Phone       *string
	ServiceType *string
	Location    *string
}

// Get loads a user by id
func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFound("USER_NOT_FOUND", "User not found")
		}
		return nil, utils.Internal("Failed to fetch user", err)
	}
	return &user, nil
}

// ResolvePrincipal loads the user behind a verified session. Missing and
// disabled users are both reported as forbidden.
func (s *UserService) ResolvePrincipal(ctx context.Context, session *Session) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, session.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.Forbidden("PRINCIPAL_NOT_FOUND", "The account for this token no longer exists")
		}
		return nil, utils.Internal("Failed to resolve principal", err)
	}
	if !user.Enabled {
		return nil, utils.Forbidden("ACCOUNT_DISABLED", "This account has been disabled")
	}
	return &user, nil
}

// UpdateProfile applies self-service changes. Provider-only attributes are
// rejected for other roles.
func (s *UserService) UpdateProfile(ctx context.Context, user *models.User, in UpdateProfileInput) (*models.User, error) {
	updates := map[string]interface{}{}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, utils.BadRequest("VALIDATION_ERROR", "Name cannot be empty")
		}
		updates["name"] = name
	}
	if in.Phone != nil {
		updates["phone"] = strings.TrimSpace(*in.Phone)
	}
	if in.ServiceType != nil || in.Location != nil {
		if !user.IsProvider() {
			return nil, utils.BadRequest("PROVIDER_FIELDS_ONLY", "Only providers have a service type and location")
		}
		if in.ServiceType != nil {
			updates["service_type"] = strings.TrimSpace(*in.ServiceType)
		}
		if in.Location != nil {
			updates["location"] = strings.TrimSpace(*in.Location)
		}
	}

	if len(updates) == 0 {
		return nil, utils.BadRequest("NO_FIELDS", "At least one field must be provided for update")
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, utils.Internal("Failed to update user", err)
	}

	return s.Get(ctx, user.ID)
}

// List returns users, optionally filtered by role
func (s *UserService) List(ctx context.Context, role models.Role) ([]models.User, error) {
	query := s.db.WithContext(ctx).Order("id ASC")
	if role != "" {
		if !role.Valid() {
			return nil, utils.BadRequest("INVALID_ROLE", "Role must be one of customer, provider or admin")
		}
		query = query.Where("role = ?", role)
	}

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		return nil, utils.Internal("Failed to fetch users", err)
	}
	return users, nil
}

// SetEnabled enables or disables an account. Admins cannot disable themselves.
func (s *UserService) SetEnabled(ctx context.Context, actor *models.User, userID uint, enabled bool) (*models.User, error) {
	if actor.ID == userID && !enabled {
		return nil, utils.BadRequest("CANNOT_DISABLE_SELF", "Admins cannot disable their own account")
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Updates with a struct skips false, so use a column update
	if err := s.db.WithContext(ctx).Model(user).Update("enabled", enabled).Error; err != nil {
		return nil, utils.Internal("Failed to update account status", err)
	}
	user.Enabled = enabled

	s.log.WithFields(logrus.Fields{
		"actor_id": actor.ID,
		"user_id":  userID,
		"enabled":  enabled,
	}).Info("Account status changed")
	return user, nil
}

// Promote changes a user's role. Promotion to admin is the only role change
// the system allows after registration.
func (s *UserService) Promote(ctx context.Context, actor *models.User, userID uint, role models.Role) (*models.User, error) {
	if role != models.RoleAdmin {
		return nil, utils.BadRequest("INVALID_PROMOTION", "Users can only be promoted to admin")
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsAdmin() {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Update("role", role).Error; err != nil {
		return nil, utils.Internal("Failed to promote user", err)
	}
	user.Role = role

	s.log.WithFields(logrus.Fields{"actor_id": actor.ID, "user_id": userID}).Info("User promoted to admin")
	return user, nil
}

// FindProviders returns enabled providers whose service type and location
// both match exactly
func (s *UserService) FindProviders(ctx context.Context, serviceType, location string) ([]models.User, error) {
	providers := []models.User{}
	err := s.db.WithContext(ctx).
		Where("role = ? AND enabled = ? AND service_type = ? AND location = ?", models.RoleProvider, true, serviceType, location).
		Order("id ASC").
		Find(&providers).Error
	if err != nil {
		return nil, utils.Internal("Failed to search providers", err)
	}
	return providers, nil
}

// DisplayNames maps user ids to their current display name
func (s *UserService) DisplayNames(ctx context.Context, ids []uint) (map[uint]string, error) {
	names := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	var users []models.User
	if err := s.db.WithContext(ctx).Unscoped().Select("id", "name").Where("id IN ?", uniqueIDs(ids)).Find(&users).Error; err != nil {
		return nil, utils.Internal("Failed to load user names", err)
	}
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// isUniqueViolation recognises duplicate key errors from both PostgreSQL and
// SQLite, with or without gorm's error translation
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}
