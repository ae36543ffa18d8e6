package controllers

import (
	"github.com/gin-gonic/gin"
	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/services"
	"github.com/homefix/marketplace-api/utils"
)

// UpdateUserRequest represents the request body for updating the caller's
// profile. Role and email are deliberately absent.
type UpdateUserRequest struct {
	Name        *string `json:"name"`
	Phone       *string `json:"phone"`
	ServiceType *string `json:"serviceType"`
	Location    *string `json:"location"`
}

// UpdateStatusRequest is the body of PATCH /admin/users/:id/status
type UpdateStatusRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// UpdateRoleRequest is the body of PATCH /admin/users/:id/role
type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UserController serves profile and account moderation endpoints
type UserController struct {
	users *services.UserService
	media *services.MediaService
}

// NewUserController creates a UserController
func NewUserController(users *services.UserService, media *services.MediaService) *UserController {
	return &UserController{users: users, media: media}
}

// GetMe handles GET /users/me - returns the authenticated user's profile
func (ctl *UserController) GetMe(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	utils.RespondOK(c, user)
}

// UpdateMe handles PUT /users/me - updates the authenticated user's profile
func (ctl *UserController) UpdateMe(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := bind(c, &req); err != nil {
		utils.RespondError(c, err)
		return
	}

	updated, err := ctl.users.UpdateProfile(c.Request.Context(), user, services.UpdateProfileInput{
		Name:        req.Name,
		Phone:       req.Phone,
		ServiceType: req.ServiceType,
		Location:    req.Location,
	})
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.RespondOK(c, updated)
}

// ListUsers handles GET /admin/users?role= - lists accounts with their
// verification documents resolved for review
func (ctl *UserController) ListUsers(c *gin.Context) {
	users, err := ctl.users.List(c.Request.Context(), models.Role(c.Query("role")))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	for i := range users {
		if len(users[i].VerificationDocuments) > 0 {
			users[i].DocumentURLs = ctl.media.URLs(c.Request.Context(), users[i].VerificationDocuments)
		}
	}

	utils.RespondOK(c, users)
}

// UpdateStatus handles PATCH /admin/users/:id/status - enables or disables an account
func (ctl *UserController) UpdateStatus(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	var req UpdateStatusRequest
	if err := bind(c, &req); err != nil {
		utils.RespondError(c, err)
		return
	}

	user, err := ctl.users.SetEnabled(c.Request.Context(), actor, id, *req.Enabled)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.RespondOK(c, user)
}

// UpdateRole handles PATCH /admin/users/:id/role - promotes a user to admin
func (ctl *UserController) UpdateRole(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	var req UpdateRoleRequest
	if err := bind(c, &req); err != nil {
		utils.RespondError(c, err)
		return
	}

	user, err := ctl.users.Promote(c.Request.Context(), actor, id, models.Role(req.Role))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.RespondOK(c, user)
}
