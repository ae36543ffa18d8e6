package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/services"
	"github.com/homefix/marketplace-api/utils"
	"github.com/sirupsen/logrus"
)

// Context keys set by the authentication middleware
const (
	ContextUserKey   = "user"
	ContextUserIDKey = "user_id"
	ContextClaimsKey = "validated_claims"
)

type failureKey struct{}

// authFailure carries the validation error out of the jwt middleware's
// error handler, which has no access to the gin context
type authFailure struct {
	err error
}

// Authenticator verifies bearer tokens and resolves the principal behind them
type Authenticator struct {
	jwt   *jwtmiddleware.JWTMiddleware
	users *services.UserService
	log   logrus.FieldLogger
}

// NewAuthenticator creates an Authenticator. Tokens are read from the
// Authorization header and, for clients that cannot set headers such as
// browser WebSockets, from the "token" query parameter.
func NewAuthenticator(tokens *services.TokenService, users *services.UserService, log logrus.FieldLogger) *Authenticator {
	errorHandler := func(w http.ResponseWriter, r *http.Request, err error) {
		if failure, ok := r.Context().Value(failureKey{}).(*authFailure); ok {
			failure.err = err
		}
	}

	mw := jwtmiddleware.New(
		tokens.ValidateToken,
		jwtmiddleware.WithErrorHandler(errorHandler),
		jwtmiddleware.WithTokenExtractor(jwtmiddleware.MultiTokenExtractor(
			jwtmiddleware.AuthHeaderTokenExtractor,
			jwtmiddleware.ParameterTokenExtractor("token"),
		)),
	)

	return &Authenticator{jwt: mw, users: users, log: log.WithField("component", "auth_middleware")}
}

// RequireAuth rejects requests without a valid token (401) or whose
// principal is missing or disabled (403). On success the principal is stored
// in the context.
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		failure := &authFailure{}
		req := c.Request.WithContext(context.WithValue(c.Request.Context(), failureKey{}, failure))

		passed := false
		var handler http.HandlerFunc = func(w http.ResponseWriter, r *http.Request) {
			passed = true

			claims, ok := r.Context().Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
			if !ok {
				utils.RespondError(c, utils.Unauthenticated("INVALID_TOKEN", "Failed to validate token"))
				return
			}
			session, err := services.SessionFromClaims(claims)
			if err != nil {
				utils.RespondError(c, utils.Unauthenticated("INVALID_TOKEN", "Failed to validate token"))
				return
			}

			user, err := a.users.ResolvePrincipal(r.Context(), session)
			if err != nil {
				utils.RespondError(c, err)
				return
			}

			c.Set(ContextUserKey, user)
			c.Set(ContextUserIDKey, user.ID)
			c.Set(ContextClaimsKey, claims)
			c.Next()
		}

		a.jwt.CheckJWT(handler).ServeHTTP(c.Writer, req)

		if !passed {
			if errors.Is(failure.err, jwtmiddleware.ErrJWTMissing) {
				utils.RespondError(c, utils.Unauthenticated("MISSING_TOKEN", "Authorization token is required"))
				return
			}
			a.log.WithError(failure.err).Debug("Rejected token")
			utils.RespondError(c, utils.Unauthenticated("INVALID_TOKEN", "Failed to validate token"))
		}
	}
}

// RequireRole only lets principals holding one of roles through. It must run
// after RequireAuth.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := CurrentUser(c)
		if err != nil {
			utils.RespondError(c, utils.Unauthenticated("MISSING_TOKEN", "Authorization token is required"))
			return
		}

		for _, role := range roles {
			if user.Role == role {
				c.Next()
				return
			}
		}

		utils.RespondError(c, utils.Forbidden("INSUFFICIENT_ROLE", "You do not have permission to access this resource"))
	}
}

// CurrentUser returns the principal stored by RequireAuth
func CurrentUser(c *gin.Context) (*models.User, error) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, &AuthError{Code: "MISSING_USER", Message: "User not found in context"}
	}

	user, ok := value.(*models.User)
	if !ok || user == nil {
		return nil, &AuthError{Code: "INVALID_USER", Message: "User in context has an unexpected type"}
	}

	return user, nil
}

// GetUserID extracts the user ID from the Gin context
func GetUserID(c *gin.Context) (uint, error) {
	userID, exists := c.Get(ContextUserIDKey)
	if !exists {
		return 0, &AuthError{Code: "MISSING_USER_ID", Message: "User ID not found in context"}
	}

	id, ok := userID.(uint)
	if !ok {
		return 0, &AuthError{Code: "INVALID_USER_ID", Message: "User ID is not a uint"}
	}

	return id, nil
}

// AuthError represents an authentication error
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}
