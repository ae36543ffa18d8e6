package services

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/homefix/marketplace-api/events"
	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UpcomingBookingsLimit caps the provider dashboard list
const UpcomingBookingsLimit = 5

// CreateBookingInput is a customer's booking request
type CreateBookingInput struct {
	CustomerID    uint
	ProviderID    uint
	Category      string
	SubCategory   string
	ScheduledDate time.Time
	Urgency       string
	Complexity    string
	Description   string
	Address       string
	PaymentMethod models.PaymentMethod
}

// BookingSummary holds a provider's dashboard counters
type BookingSummary struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
}

// BookingService manages bookings between customers and providers
type BookingService struct {
	db     *gorm.DB
	users  *UserService
	media  *MediaService
	events events.Publisher
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewBookingService creates a BookingService
func NewBookingService(db *gorm.DB, users *UserService, media *MediaService, publisher events.Publisher, log logrus.FieldLogger) *BookingService {
	return &BookingService{
		db:     db,
		users:  users,
		media:  media,
		events: publisher,
		log:    log.WithField("component", "bookings"),
		now:    time.Now,
	}
}

// SearchProviders lists enabled providers offering serviceType in location
func (s *BookingService) SearchProviders(ctx context.Context, serviceType, location string) ([]models.User, error) {
	if serviceType == "" || location == "" {
		return nil, utils.BadRequest("VALIDATION_ERROR", "serviceType and location are required")
	}
	return s.users.FindProviders(ctx, serviceType, location)
}

// Create stores a new pending booking. Images are uploaded first and deleted
// again when the booking cannot be stored. The notification event is
// published after the insert and never affects the result.
func (s *BookingService) Create(ctx context.Context, in CreateBookingInput, images []*multipart.FileHeader) (booking *models.Booking, err error) {
	if strings.TrimSpace(in.Category) == "" || strings.TrimSpace(in.Address) == "" || in.ScheduledDate.IsZero() {
		return nil, utils.BadRequest("VALIDATION_ERROR", "category, address and scheduledDate are required")
	}
	if in.PaymentMethod != "" && !in.PaymentMethod.Valid() {
		return nil, utils.BadRequest("VALIDATION_ERROR", "paymentMethod must be cash or online")
	}
	if in.Urgency != "" && !models.ValidUrgency(in.Urgency) {
		return nil, utils.BadRequest("VALIDATION_ERROR", "urgency must be one of "+strings.Join(models.Urgencies, ", "))
	}
	if in.Complexity != "" && !models.ValidComplexity(in.Complexity) {
		return nil, utils.BadRequest("VALIDATION_ERROR", "complexity must be one of "+strings.Join(models.Complexities, ", "))
	}
	if len(images) > utils.MaxBookingImages {
		return nil, utils.BadRequest("TOO_MANY_FILES", fmt.Sprintf("At most %d images can be attached", utils.MaxBookingImages))
	}

	customer, err := s.loadParty(ctx, in.CustomerID, models.RoleCustomer)
	if err != nil {
		return nil, err
	}
	provider, err := s.loadParty(ctx, in.ProviderID, models.RoleProvider)
	if err != nil {
		return nil, err
	}

	undo := &Compensations{}
	defer func() {
		if err != nil {
			undo.Run(context.WithoutCancel(ctx), s.log)
		}
	}()

	keys, err := s.media.UploadAll(ctx, utils.UploadKindImage, "bookings", images, undo)
	if err != nil {
		return nil, err
	}

	booking = &models.Booking{
		CustomerID:    customer.ID,
		ProviderID:    provider.ID,
		Category:      strings.TrimSpace(in.Category),
		SubCategory:   strings.TrimSpace(in.SubCategory),
		ScheduledDate: in.ScheduledDate.UTC(),
		Urgency:       in.Urgency,
		Complexity:    in.Complexity,
		Description:   in.Description,
		Address:       strings.TrimSpace(in.Address),
		ImageKeys:     keys,
		PaymentMethod: in.PaymentMethod,
		CustomerName:  customer.Name,
		CustomerEmail: customer.Email,
		ProviderName:  provider.Name,
	}
	if booking.Urgency == "" {
		booking.Urgency = models.DefaultUrgency
	}
	if booking.Complexity == "" {
		booking.Complexity = models.DefaultComplexity
	}

	if err = s.db.WithContext(ctx).Create(booking).Error; err != nil {
		return nil, utils.Internal("Failed to create booking", err)
	}

	s.log.WithFields(logrus.Fields{
		"booking_id":  booking.ID,
		"customer_id": booking.CustomerID,
		"provider_id": booking.ProviderID,
	}).Info("Booking created")

	s.publish(ctx, events.BookingCreated, booking, "")

	booking.ImageURLs = s.media.URLs(ctx, keys)
	return booking, nil
}

// UpdateStatus moves a booking to status on behalf of its provider.
// Ownership is checked before the requested status is looked at.
func (s *BookingService) UpdateStatus(ctx context.Context, provider *models.User, id uint, status models.BookingStatus) (*models.Booking, error) {
	booking, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.ProviderID != provider.ID {
		return nil, utils.Forbidden("NOT_BOOKING_PROVIDER", "Only the booking's provider can change its status")
	}
	if !status.Valid() {
		return nil, utils.BadRequest("INVALID_STATUS", "Status must be one of pending, accepted, completed or cancelled")
	}
	if !booking.Status.CanTransitionTo(status) {
		return nil, utils.BadRequest("INVALID_TRANSITION", fmt.Sprintf("Cannot change a %s booking to %s", booking.Status, status))
	}

	previous := booking.Status
	// Guard on the previous status so concurrent updates cannot both apply
	result := s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND status = ?", booking.ID, previous).
		Update("status", status)
	if result.Error != nil {
		return nil, utils.Internal("Failed to update booking", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, utils.Conflict("BOOKING_CHANGED", "The booking was changed by another request, reload and try again")
	}
	booking.Status = status

	s.log.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"from":       previous,
		"to":         status,
	}).Info("Booking status changed")

	s.publish(ctx, events.BookingStatusChanged, booking, string(previous))

	if err := s.enrich(ctx, []models.Booking{*booking}, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

// UpdatePaymentStatus records the outcome of a payment collected by the
// provider. Only pending payments can change.
func (s *BookingService) UpdatePaymentStatus(ctx context.Context, provider *models.User, id uint, status models.PaymentStatus) (*models.Booking, error) {
	booking, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.ProviderID != provider.ID {
		return nil, utils.Forbidden("NOT_BOOKING_PROVIDER", "Only the booking's provider can change its payment status")
	}
	if !status.Valid() || status == models.PaymentPending {
		return nil, utils.BadRequest("INVALID_PAYMENT_STATUS", "Payment status must be paid or failed")
	}
	if booking.PaymentStatus != models.PaymentPending {
		return nil, utils.BadRequest("INVALID_TRANSITION", fmt.Sprintf("Payment is already %s", booking.PaymentStatus))
	}

	if err := s.db.WithContext(ctx).Model(booking).Update("payment_status", status).Error; err != nil {
		return nil, utils.Internal("Failed to update payment status", err)
	}
	booking.PaymentStatus = status

	if err := s.enrich(ctx, []models.Booking{*booking}, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

// Delete removes a booking on behalf of its customer. Accepted and completed
// bookings are kept.
func (s *BookingService) Delete(ctx context.Context, customer *models.User, id uint) error {
	booking, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if booking.CustomerID != customer.ID {
		return utils.Forbidden("NOT_BOOKING_CUSTOMER", "Only the customer who made the booking can delete it")
	}
	if !booking.Deletable() {
		return utils.BadRequest("BOOKING_LOCKED", fmt.Sprintf("Cannot delete a %s booking", booking.Status))
	}

	if err := s.db.WithContext(ctx).Delete(booking).Error; err != nil {
		return utils.Internal("Failed to delete booking", err)
	}
	s.media.DeleteAll(ctx, booking.ImageKeys)

	s.log.WithField("booking_id", booking.ID).Info("Booking deleted")
	return nil
}

// Get returns a booking with both parties' current names
func (s *BookingService) Get(ctx context.Context, id uint) (*models.Booking, error) {
	booking, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.enrich(ctx, []models.Booking{*booking}, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

// ListForCustomer returns a customer's bookings. Customers see their own,
// admins see anyone's.
func (s *BookingService) ListForCustomer(ctx context.Context, actor *models.User, customerID uint) ([]models.Booking, error) {
	if actor.ID != customerID && !actor.IsAdmin() {
		return nil, utils.Forbidden("FORBIDDEN", "You can only view your own bookings")
	}
	return s.list(ctx, s.db.WithContext(ctx).Where("customer_id = ?", customerID).Order("scheduled_date DESC, id DESC"), models.RoleCustomer)
}

// ListForProvider returns every booking assigned to provider
func (s *BookingService) ListForProvider(ctx context.Context, provider *models.User) ([]models.Booking, error) {
	return s.list(ctx, s.db.WithContext(ctx).Where("provider_id = ?", provider.ID).Order("scheduled_date DESC, id DESC"), models.RoleProvider)
}

// Upcoming returns the provider's next open bookings from the start of the
// current UTC day
func (s *BookingService) Upcoming(ctx context.Context, provider *models.User) ([]models.Booking, error) {
	now := s.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	query := s.db.WithContext(ctx).
		Where("provider_id = ? AND status IN ? AND scheduled_date >= ?",
			provider.ID, []models.BookingStatus{models.BookingPending, models.BookingAccepted}, startOfDay).
		Order("scheduled_date ASC, id ASC").
		Limit(UpcomingBookingsLimit)
	return s.list(ctx, query, models.RoleProvider)
}

// Summary counts the provider's bookings
func (s *BookingService) Summary(ctx context.Context, provider *models.User) (*BookingSummary, error) {
	var summary BookingSummary
	base := s.db.WithContext(ctx).Model(&models.Booking{}).Where("provider_id = ?", provider.ID)
	if err := base.Session(&gorm.Session{}).Count(&summary.Total).Error; err != nil {
		return nil, utils.Internal("Failed to count bookings", err)
	}
	if err := base.Session(&gorm.Session{}).Where("status = ?", models.BookingCompleted).Count(&summary.Completed).Error; err != nil {
		return nil, utils.Internal("Failed to count bookings", err)
	}
	return &summary, nil
}

// SendReminders publishes a reminder for every accepted booking scheduled
// within window from now that has not been reminded yet
func (s *BookingService) SendReminders(ctx context.Context, window time.Duration) (int, error) {
	now := s.now().UTC()

	var due []models.Booking
	err := s.db.WithContext(ctx).
		Where("status = ? AND reminder_sent_at IS NULL AND scheduled_date >= ? AND scheduled_date < ?",
			models.BookingAccepted, now, now.Add(window)).
		Order("scheduled_date ASC").
		Find(&due).Error
	if err != nil {
		return 0, utils.Internal("Failed to find bookings due for a reminder", err)
	}

	sent := 0
	for i := range due {
		booking := &due[i]
		s.publish(ctx, events.BookingReminder, booking, "")
		if err := s.db.WithContext(ctx).Model(booking).Update("reminder_sent_at", now).Error; err != nil {
			s.log.WithError(err).WithField("booking_id", booking.ID).Warn("Failed to mark reminder as sent")
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *BookingService) find(ctx context.Context, id uint) (*models.Booking, error) {
	var booking models.Booking
	if err := s.db.WithContext(ctx).First(&booking, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFound("BOOKING_NOT_FOUND", "Booking not found")
		}
		return nil, utils.Internal("Failed to fetch booking", err)
	}
	return &booking, nil
}

// loadParty loads an enabled user holding role, reporting anything else as
// not found
func (s *BookingService) loadParty(ctx context.Context, id uint, role models.Role) (*models.User, error) {
	code, message := "CUSTOMER_NOT_FOUND", "Customer not found"
	if role == models.RoleProvider {
		code, message = "PROVIDER_NOT_FOUND", "Provider not found"
	}

	if id == 0 {
		return nil, utils.NotFound(code, message)
	}
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFound(code, message)
		}
		return nil, utils.Internal("Failed to fetch user", err)
	}
	if user.Role != role || !user.Enabled {
		return nil, utils.NotFound(code, message)
	}
	return &user, nil
}

// list runs query and fills in the counterparty name for viewer's side of
// each booking
func (s *BookingService) list(ctx context.Context, query *gorm.DB, viewer models.Role) ([]models.Booking, error) {
	bookings := []models.Booking{}
	if err := query.Find(&bookings).Error; err != nil {
		return nil, utils.Internal("Failed to fetch bookings", err)
	}
	if err := s.enrich(ctx, bookings, nil); err != nil {
		return nil, err
	}
	for i := range bookings {
		if viewer == models.RoleProvider {
			bookings[i].CounterpartyName = bookings[i].CustomerDisplayName
		} else {
			bookings[i].CounterpartyName = bookings[i].ProviderDisplayName
		}
	}
	return bookings, nil
}

// enrich fills the read-time fields. When single is set the results are
// copied onto it as well.
func (s *BookingService) enrich(ctx context.Context, bookings []models.Booking, single *models.Booking) error {
	ids := make([]uint, 0, len(bookings)*2)
	for _, b := range bookings {
		ids = append(ids, b.CustomerID, b.ProviderID)
	}
	names, err := s.users.DisplayNames(ctx, ids)
	if err != nil {
		return err
	}

	for i := range bookings {
		bookings[i].CustomerDisplayName = names[bookings[i].CustomerID]
		bookings[i].ProviderDisplayName = names[bookings[i].ProviderID]
		bookings[i].ImageURLs = s.media.URLs(ctx, bookings[i].ImageKeys)
	}
	if single != nil && len(bookings) == 1 {
		single.CustomerDisplayName = bookings[0].CustomerDisplayName
		single.ProviderDisplayName = bookings[0].ProviderDisplayName
		single.ImageURLs = bookings[0].ImageURLs
	}
	return nil
}

func (s *BookingService) publish(ctx context.Context, routingKey string, booking *models.Booking, previous string) {
	payload := events.BookingPayload{
		BookingID:     booking.ID,
		CustomerID:    booking.CustomerID,
		ProviderID:    booking.ProviderID,
		CustomerName:  booking.CustomerName,
		CustomerEmail: booking.CustomerEmail,
		ProviderName:  booking.ProviderName,
		Category:      booking.Category,
		SubCategory:   booking.SubCategory,
		ScheduledDate: booking.ScheduledDate,
		Address:       booking.Address,
		Status:        string(booking.Status),
		PreviousState: previous,
	}
	if err := events.Publish(ctx, s.events, routingKey, payload); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"booking_id":  booking.ID,
			"routing_key": routingKey,
		}).Warn("Failed to publish booking event")
	}
}
