package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/services"
	"github.com/homefix/marketplace-api/utils"
)

// CreateBookingRequest is the body of POST /bookings/create. It is accepted
// as JSON or as a multipart form carrying "images".
type CreateBookingRequest struct {
	CustomerID    uint      `json:"customerId" form:"customerId" binding:"required"`
	ProviderID    uint      `json:"providerId" form:"providerId" binding:"required"`
	Category      string    `json:"category" form:"category" binding:"required,notblank"`
	SubCategory   string    `json:"subCategory" form:"subCategory"`
	ScheduledDate time.Time `json:"scheduledDate" form:"scheduledDate" binding:"required"`
	Urgency       string    `json:"urgency" form:"urgency"`
	Complexity    string    `json:"complexity" form:"complexity"`
	Description   string    `json:"description" form:"description"`
	Address       string    `json:"address" form:"address" binding:"required,notblank"`
	PaymentMethod string    `json:"paymentMethod" form:"paymentMethod" binding:"omitempty,oneof=cash online"`
}

// UpdateBookingStatusRequest is the body of PATCH /bookings/update/:id. The
// value is validated by the service after the ownership check.
type UpdateBookingStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdatePaymentStatusRequest is the body of PATCH /bookings/:id/payment
type UpdatePaymentStatusRequest struct {
	PaymentStatus string `json:"paymentStatus" binding:"required"`
}

// BookingController serves the booking endpoints
type BookingController struct {
	bookings *services.BookingService
}

// NewBookingController creates a BookingController
func NewBookingController(bookings *services.BookingService) *BookingController {
	return &BookingController{bookings: bookings}
}

// SearchProviders handles GET /bookings/providers?serviceType=&location=
func (ctl *BookingController) SearchProviders(c *gin.Context) {
	providers, err := ctl.bookings.SearchProviders(c.Request.Context(), c.Query("serviceType"), c.Query("location"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, providers)
}

// CreateBooking handles POST /bookings/create - stores a pending booking
func (ctl *BookingController) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := bind(c, &req); err != nil {
		utils.RespondError(c, err)
		return
	}

	images, err := formFiles(c, "images")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	booking, err := ctl.bookings.Create(c.Request.Context(), services.CreateBookingInput{
		CustomerID:    req.CustomerID,
		ProviderID:    req.ProviderID,
		Category:      req.Category,
		SubCategory:   req.SubCategory,
		ScheduledDate: req.ScheduledDate,
		Urgency:       req.Urgency,
		Complexity:    req.Complexity,
		Description:   req.Description,
		Address:       req.Address,
		PaymentMethod: models.PaymentMethod(req.PaymentMethod),
	}, images)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	utils.RespondData(c, http.StatusCreated, booking)
}

// UpdateStatus handles PATCH /bookings/update/:id - the provider moves the
// booking through its lifecycle
func (ctl *BookingController) UpdateStatus(c *gin.Context) {
	provider, ok := currentUser(c)
	if !ok {
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	var req UpdateBookingStatusRequest
	if err := bind(c, &req); err != nil {
		utils.RespondError(c, err)
		return
	}

	booking, err := ctl.bookings.UpdateStatus(c.Request.Context(), provider, id, models.BookingStatus(req.Status))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, booking)
}

// UpdatePaymentStatus handles PATCH /bookings/:id/payment
func (ctl *BookingController) UpdatePaymentStatus(c *gin.Context) {
	provider, ok := currentUser(c)
	if !ok {
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	var req UpdatePaymentStatusRequest
	if err := bind(c, &req); err != nil {
		utils.RespondError(c, err)
		return
	}

	booking, err := ctl.bookings.UpdatePaymentStatus(c.Request.Context(), provider, id, models.PaymentStatus(req.PaymentStatus))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, booking)
}

// DeleteBooking handles DELETE /bookings/:id
func (ctl *BookingController) DeleteBooking(c *gin.Context) {
	customer, ok := currentUser(c)
	if !ok {
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	if err := ctl.bookings.Delete(c.Request.Context(), customer, id); err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, gin.H{"message": "Booking deleted"})
}

// GetBooking handles GET /bookings/:id
func (ctl *BookingController) GetBooking(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	booking, err := ctl.bookings.Get(c.Request.Context(), id)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, booking)
}

// ListForCustomer handles GET /bookings/user/:userId
func (ctl *BookingController) ListForCustomer(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}
	customerID, err := parseIDParam(c, "userId")
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	bookings, err := ctl.bookings.ListForCustomer(c.Request.Context(), actor, customerID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, bookings)
}

// ListForProvider handles GET /bookings/provider
func (ctl *BookingController) ListForProvider(c *gin.Context) {
	provider, ok := currentUser(c)
	if !ok {
		return
	}

	bookings, err := ctl.bookings.ListForProvider(c.Request.Context(), provider)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, bookings)
}

// Upcoming handles GET /bookings/provider/upcoming
func (ctl *BookingController) Upcoming(c *gin.Context) {
	provider, ok := currentUser(c)
	if !ok {
		return
	}

	bookings, err := ctl.bookings.Upcoming(c.Request.Context(), provider)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, bookings)
}

// Summary handles GET /bookings/provider/summary
func (ctl *BookingController) Summary(c *gin.Context) {
	provider, ok := currentUser(c)
	if !ok {
		return
	}

	summary, err := ctl.bookings.Summary(c.Request.Context(), provider)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondOK(c, summary)
}
