package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/services"
	"github.com/homefix/marketplace-api/utils"
)

// CreateSubscriptionRequest is the body of POST /subscriptions
type CreateSubscriptionRequest struct {
	PlanType        string `json:"planType" binding:"required"`
	PaymentMethodID string `json:"paymentMethodId" binding:"required,notblank"`
	FullName        string `json:"fullName"`
	Email           string `json:"email" binding:"omitempty,email"`
	Phone           string `json:"phone"`
	AddressLine     string `json:"addressLine"`
	City            string `json:"city"`
	PostalCode      string `json:"postalCode"`
	Country         string `json:"country"`
	Notes           string `json:"notes"`
}

// ConfirmSubscriptionRequest is the body of POST /subscriptions/confirm
type ConfirmSubscriptionRequest struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required,notblank"`
	SubscriptionID  string `json:"subscriptionId" binding:"required,notblank"`
}

// SubscriptionController serves the subscription endpoints
type SubscriptionController struct {
	subscriptions *services.SubscriptionService
}

// NewSubscriptionController creates a SubscriptionController
func NewSubscriptionController(subscriptions *services.SubscriptionService) *SubscriptionController {
	return &SubscriptionController{subscriptions: subscriptions}
}

// CreateSubscription handles POST /subscriptions. An activated subscription
// is answered with 201; one waiting for customer authentication with 202 and
// the client secret needed to finish it.
func (ctl *SubscriptionController) CreateSubscription(c *gin.Context) {
	customer, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreateSubscriptionRequest
	if err := bind(c, &req); err != nil {
		utils.RespondError(c, err)
		return
	}

	result, err := ctl.subscriptions.Create(c.Request.Context(), customer, services.CreateSubscriptionInput{
		PlanType:        models.PlanType(req.PlanType),
		PaymentMethodID: req.PaymentMethodID,
		FullName:        req.FullName,
		Email:           req.Email,
		Phone:           req.Phone,
		AddressLine:     req.AddressLine,
		City:            req.City,
		PostalCode:      req.PostalCode,
		Country:         req.Country,
		Notes:           req.Notes,
	})
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.RequiresAction || result.PaymentPending {
		status = http.StatusAccepted
	}
	utils.RespondData(c, status, result)
}

// ConfirmSubscription handles POST /subscriptions/confirm
func (ctl *SubscriptionController) ConfirmSubscription(c *gin.Context) {
	customer, ok := currentUser(c)
	if !ok {
		return
	}

	var req ConfirmSubscriptionRequest
	if err := bind(c, &req); err != nil {
		utils.RespondError(c, err)
		return
	}

	sub, err := ctl.subscriptions.Confirm(c.Request.Context(), customer, req.PaymentIntentID, req.SubscriptionID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, sub)
}

// GetSubscription handles GET /subscriptions/:id
func (ctl *SubscriptionController) GetSubscription(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	sub, err := ctl.subscriptions.Get(c.Request.Context(), id)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, sub)
}

// ListForCustomer handles GET /subscriptions/user/:customerId
func (ctl *SubscriptionController) ListForCustomer(c *gin.Context) {
	customerID, err := parseIDParam(c, "customerId")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	subs, err := ctl.subscriptions.ListByCustomer(c.Request.Context(), customerID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, subs)
}

// UpdateSubscription handles PUT /subscriptions/:id. The body is a partial
// object keyed by column name; only contact details and notes may change.
func (ctl *SubscriptionController) UpdateSubscription(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		utils.RespondError(c, utils.ValidationError(err))
		return
	}

	sub, err := ctl.subscriptions.Update(c.Request.Context(), id, fields)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, sub)
}

// DeleteSubscription handles DELETE /subscriptions/:id. Only the local record
// is removed.
func (ctl *SubscriptionController) DeleteSubscription(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	if err := ctl.subscriptions.Delete(c.Request.Context(), id); err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, gin.H{"message": "Subscription deleted"})
}

// ListAll handles GET /subscriptions/admin/all
func (ctl *SubscriptionController) ListAll(c *gin.Context) {
	subs, err := ctl.subscriptions.ListAll(c.Request.Context())
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, subs)
}

// ListActive handles GET /subscriptions/admin/active
func (ctl *SubscriptionController) ListActive(c *gin.Context) {
	subs, err := ctl.subscriptions.ListActive(c.Request.Context())
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, subs)
}

// Count handles GET /subscriptions/admin/count
func (ctl *SubscriptionController) Count(c *gin.Context) {
	counts, err := ctl.subscriptions.Count(c.Request.Context())
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, counts)
}
