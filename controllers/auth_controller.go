package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/services"
	"github.com/homefix/marketplace-api/utils"
)

// RegisterRequest is the body of POST /auth/register. Providers send it as a
// multipart form with their identity documents under "documents".
type RegisterRequest struct {
	Name        string `json:"name" form:"name" binding:"required,notblank"`
	Email       string `json:"email" form:"email" binding:"required,email"`
	Password    string `json:"password" form:"password" binding:"required,min=8"`
	Role        string `json:"role" form:"role" binding:"omitempty,oneof=customer provider"`
	Phone       string `json:"phone" form:"phone"`
	ServiceType string `json:"serviceType" form:"serviceType"`
	Location    string `json:"location" form:"location"`
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthController handles registration and login
type AuthController struct {
	auth *services.AuthService
}

// NewAuthController creates an AuthController
func NewAuthController(auth *services.AuthService) *AuthController {
	return &AuthController{auth: auth}
}

// Register handles POST /auth/register - opens a customer or provider account
func (ctl *AuthController) Register(c *gin.Context) {
	var req RegisterRequest
	if err := bind(c, &req); err != nil {
		utils.RespondError(c, err)
		return
	}

	documents, err := formFiles(c, "documents")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	result, err := ctl.auth.Register(c.Request.Context(), services.RegisterInput{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		Role:        models.Role(req.Role),
		Phone:       req.Phone,
		ServiceType: req.ServiceType,
		Location:    req.Location,
	}, documents)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.RespondData(c, http.StatusCreated, result)
}

// Login handles POST /auth/login - exchanges credentials for a session token
func (ctl *AuthController) Login(c *gin.Context) {
	var req LoginRequest
	if err := bind(c, &req); err != nil {
		utils.RespondError(c, err)
		return
	}

	result, err := ctl.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.RespondOK(c, result)
}
