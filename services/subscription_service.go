package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/homefix/marketplace-api/events"
	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CreateSubscriptionInput is a customer's plan selection
type CreateSubscriptionInput struct {
	PlanType        models.PlanType
	PaymentMethodID string
	FullName        string
	Email           string
	Phone           string
	AddressLine     string
	City            string
	PostalCode      string
	Country         string
	Notes           string
}

// CreateSubscriptionResult is the outcome of a subscription attempt. When
// RequiresAction is set the client must complete authentication with
// ClientSecret and then call confirm.
type CreateSubscriptionResult struct {
	Subscription    *models.Subscription `json:"subscription"`
	RequiresAction  bool                 `json:"requiresAction"`
	ClientSecret    string               `json:"clientSecret,omitempty"`
	PaymentIntentID string               `json:"paymentIntentId,omitempty"`
	SubscriptionID  string               `json:"subscriptionId,omitempty"`
	// PaymentPending is set when the payment outcome is not known yet; the
	// reconcile job settles the subscription later
	PaymentPending  bool                 `json:"paymentPending,omitempty"`
}

// SubscriptionCounts summarises subscriptions for the admin dashboard
type SubscriptionCounts struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

// SubscriptionService runs the subscription lifecycle against the payment
// gateway and keeps the local records in step with it
type SubscriptionService struct {
	db      *gorm.DB
	gateway PaymentGateway
	prices  map[string]string
	locker  Locker
	events  events.Publisher
	users   *UserService
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewSubscriptionService creates a SubscriptionService. prices maps plan
// types to payment provider price ids.
func NewSubscriptionService(db *gorm.DB, gateway PaymentGateway, prices map[string]string, locker Locker, publisher events.Publisher, users *UserService, log logrus.FieldLogger) *SubscriptionService {
	return &SubscriptionService{
		db:      db,
		gateway: gateway,
		prices:  prices,
		locker:  locker,
		events:  publisher,
		users:   users,
		log:     log.WithField("component", "subscriptions"),
		now:     time.Now,
	}
}

var errActiveSubscription = utils.BadRequest("ACTIVE_SUBSCRIPTION_EXISTS", "Customer already has an active subscription")

func customerLockKey(customerID uint) string {
	return fmt.Sprintf("subscription:customer:%d", customerID)
}

// Create subscribes customer to a plan. The flow holds the customer's lock
// from the live subscription check until the local row is written.
func (s *SubscriptionService) Create(ctx context.Context, customer *models.User, in CreateSubscriptionInput) (*CreateSubscriptionResult, error) {
	priceID, ok := s.prices[string(in.PlanType)]
	if !in.PlanType.Valid() || !ok || priceID == "" {
		return nil, utils.BadRequest("INVALID_PLAN", fmt.Sprintf("Unknown plan type %q", in.PlanType))
	}
	if strings.TrimSpace(in.PaymentMethodID) == "" {
		return nil, utils.BadRequest("VALIDATION_ERROR", "A payment method is required")
	}

	unlock, err := s.locker.Lock(ctx, customerLockKey(customer.ID))
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return nil, utils.Conflict("SUBSCRIPTION_IN_PROGRESS", "Another subscription request for this customer is in progress")
		}
		return nil, utils.Internal("Failed to acquire subscription lock", err)
	}
	defer unlock()

	live, err := s.hasLiveSubscription(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	if live {
		return nil, errActiveSubscription
	}

	customerRef, err := s.ensureGatewayCustomer(ctx, customer)
	if err != nil {
		return nil, err
	}

	if err := s.gateway.AttachPaymentMethod(ctx, customerRef, in.PaymentMethodID); err != nil {
		return nil, paymentAppError(err)
	}

	gsub, err := s.gateway.CreateSubscription(ctx, customerRef, priceID)
	if err != nil {
		return nil, paymentAppError(err)
	}

	logger := s.log.WithFields(logrus.Fields{
		"customer_id":            customer.ID,
		"stripe_subscription_id": gsub.ID,
		"plan_type":              in.PlanType,
	})

	status, requiresAction := classifySubscription(gsub)
	if status == models.SubscriptionFailed {
		logger.WithField("gateway_status", gsub.Status).Warn("Subscription payment failed")
		return nil, utils.BadRequest("PAYMENT_FAILED", "The payment for this subscription could not be completed")
	}

	start, end := deriveBillingPeriod(gsub, s.now().UTC())
	sub := &models.Subscription{
		CustomerID:           customer.ID,
		PlanType:             in.PlanType,
		BillingCycle:         billingCycleFor(gsub.Interval),
		PaymentMethod:        "card",
		StripeCustomerID:     customerRef,
		StripeSubscriptionID: gsub.ID,
		Status:               status,
		PaymentStatus:        status,
		Amount:               gsub.Amount,
		Currency:             gsub.Currency,
		ActualStartDate:      start,
		ActualEndDate:        end,
		FullName:             strings.TrimSpace(in.FullName),
		Email:                NormalizeEmail(in.Email),
		Phone:                strings.TrimSpace(in.Phone),
		AddressLine:          strings.TrimSpace(in.AddressLine),
		City:                 strings.TrimSpace(in.City),
		PostalCode:           strings.TrimSpace(in.PostalCode),
		Country:              strings.TrimSpace(in.Country),
		Notes:                in.Notes,
	}
	if sub.Email == "" {
		sub.Email = customer.Email
	}
	if sub.FullName == "" {
		sub.FullName = customer.Name
	}
	if gsub.PaymentIntent != nil {
		sub.StripePaymentIntentID = gsub.PaymentIntent.ID
	}

	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		if isUniqueViolation(err) && status.IsLive() {
			return nil, errActiveSubscription
		}
		logger.WithError(err).Error("Subscription exists at the payment provider but could not be stored")
		return nil, utils.Internal("Failed to save subscription", err)
	}
	sub.CustomerName = customer.Name

	result := &CreateSubscriptionResult{Subscription: sub, SubscriptionID: gsub.ID}
	if requiresAction {
		result.RequiresAction = true
		result.PaymentIntentID = gsub.PaymentIntent.ID
		result.ClientSecret = gsub.PaymentIntent.ClientSecret
		logger.Info("Subscription awaiting customer authentication")
		return result, nil
	}
	if status == models.SubscriptionIncomplete {
		result.PaymentPending = true
		logger.Warn("Payment state unknown, subscription left for reconciliation")
		return result, nil
	}

	logger.Info("Subscription activated")
	s.publishActivated(ctx, sub)
	return result, nil
}

// Confirm finalises a subscription after the customer completed payment
// authentication. The payment intent is re-read from the provider; the
// client's word is never taken for it.
func (s *SubscriptionService) Confirm(ctx context.Context, customer *models.User, paymentIntentID, subscriptionID string) (*models.Subscription, error) {
	if strings.TrimSpace(paymentIntentID) == "" || strings.TrimSpace(subscriptionID) == "" {
		return nil, utils.BadRequest("VALIDATION_ERROR", "paymentIntentId and subscriptionId are required")
	}

	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND stripe_subscription_id = ?", customer.ID, subscriptionID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFound("SUBSCRIPTION_NOT_FOUND", "Subscription not found")
		}
		return nil, utils.Internal("Failed to fetch subscription", err)
	}
	if sub.StripePaymentIntentID != "" && sub.StripePaymentIntentID != paymentIntentID {
		return nil, utils.BadRequest("PAYMENT_INTENT_MISMATCH", "The payment intent does not belong to this subscription")
	}

	intent, err := s.gateway.GetPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, paymentAppError(err)
	}

	if err := s.applyIntent(ctx, &sub, intent, true); err != nil {
		return nil, err
	}
	if sub.Status == models.SubscriptionFailed {
		return nil, utils.BadRequest("PAYMENT_FAILED", "The payment for this subscription was not completed").
			WithDetails("payment intent status: " + intent.Status)
	}

	sub.CustomerName = customer.Name
	return &sub, nil
}

// Reconcile re-checks incomplete subscriptions older than olderThan and
// settles those whose payment reached a final state. It returns how many
// records changed.
func (s *SubscriptionService) Reconcile(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-olderThan)

	var pending []models.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ? AND stripe_payment_intent_id <> ''", models.SubscriptionIncomplete, cutoff).
		Order("id ASC").
		Find(&pending).Error
	if err != nil {
		return 0, utils.Internal("Failed to list incomplete subscriptions", err)
	}

	changed := 0
	for i := range pending {
		sub := &pending[i]
		logger := s.log.WithField("subscription_id", sub.ID)

		intent, err := s.gateway.GetPaymentIntent(ctx, sub.StripePaymentIntentID)
		if err != nil {
			logger.WithError(err).Warn("Failed to re-check payment intent")
			if IsPaymentErrorKind(err, PaymentErrorUnavailable) {
				// Breaker is open, the remaining lookups would fail too
				break
			}
			continue
		}

		before := sub.Status
		if err := s.applyIntent(ctx, sub, intent, false); err != nil {
			logger.WithError(err).Warn("Failed to settle incomplete subscription")
			continue
		}
		if sub.Status != before {
			changed++
		}
	}

	return changed, nil
}

// applyIntent moves sub to the state implied by the payment intent. In
// strict mode anything other than success fails the subscription; otherwise
// only terminal intent states are acted on.
func (s *SubscriptionService) applyIntent(ctx context.Context, sub *models.Subscription, intent *GatewayPaymentIntent, strict bool) error {
	if sub.Status.IsLive() {
		return nil
	}

	var next models.SubscriptionStatus
	switch intent.Status {
	case IntentSucceeded:
		next = models.SubscriptionActive
	case IntentRequiresPaymentMethod, IntentCanceled:
		next = models.SubscriptionFailed
	default:
		if !strict {
			return nil
		}
		next = models.SubscriptionFailed
	}
	if next == sub.Status {
		return nil
	}

	if next == models.SubscriptionActive {
		unlock, err := s.locker.Lock(ctx, customerLockKey(sub.CustomerID))
		if err != nil {
			return utils.Internal("Failed to acquire subscription lock", err)
		}
		defer unlock()

		live, err := s.hasLiveSubscription(ctx, sub.CustomerID)
		if err != nil {
			return err
		}
		if live {
			return errActiveSubscription
		}
	}

	updates := map[string]interface{}{"status": next, "payment_status": next}
	if err := s.db.WithContext(ctx).Model(sub).Updates(updates).Error; err != nil {
		if isUniqueViolation(err) {
			return errActiveSubscription
		}
		return utils.Internal("Failed to update subscription", err)
	}
	sub.Status = next
	sub.PaymentStatus = next

	s.log.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"status":          next,
		"intent_status":   intent.Status,
	}).Info("Subscription payment settled")

	if next == models.SubscriptionActive {
		s.publishActivated(ctx, sub)
	}
	return nil
}

// Get loads a subscription with the customer's current name
func (s *SubscriptionService) Get(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFound("SUBSCRIPTION_NOT_FOUND", "Subscription not found")
		}
		return nil, utils.Internal("Failed to fetch subscription", err)
	}

	subs := []models.Subscription{sub}
	if err := s.enrich(ctx, subs); err != nil {
		return nil, err
	}
	return &subs[0], nil
}

// ListByCustomer returns a customer's subscriptions, newest first
func (s *SubscriptionService) ListByCustomer(ctx context.Context, customerID uint) ([]models.Subscription, error) {
	return s.list(ctx, s.db.WithContext(ctx).Where("customer_id = ?", customerID))
}

// ListAll returns every subscription, newest first
func (s *SubscriptionService) ListAll(ctx context.Context) ([]models.Subscription, error) {
	return s.list(ctx, s.db.WithContext(ctx))
}

// ListActive returns active and trialing subscriptions, newest first
func (s *SubscriptionService) ListActive(ctx context.Context) ([]models.Subscription, error) {
	return s.list(ctx, s.db.WithContext(ctx).Where("status IN ?", models.LiveSubscriptionStatuses))
}

// Count returns the total and live subscription counts
func (s *SubscriptionService) Count(ctx context.Context) (*SubscriptionCounts, error) {
	var counts SubscriptionCounts
	if err := s.db.WithContext(ctx).Model(&models.Subscription{}).Count(&counts.Total).Error; err != nil {
		return nil, utils.Internal("Failed to count subscriptions", err)
	}
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status IN ?", models.LiveSubscriptionStatuses).
		Count(&counts.Active).Error
	if err != nil {
		return nil, utils.Internal("Failed to count subscriptions", err)
	}
	return &counts, nil
}

// Update applies contact detail changes. Any field outside the whitelist
// rejects the whole request.
func (s *SubscriptionService) Update(ctx context.Context, id uint, fields map[string]interface{}) (*models.Subscription, error) {
	if len(fields) == 0 {
		return nil, utils.BadRequest("NO_FIELDS", "At least one field must be provided for update")
	}

	var rejected []string
	updates := make(map[string]interface{}, len(fields))
	for name, value := range fields {
		column, ok := models.SubscriptionUpdatableFields[name]
		if !ok {
			rejected = append(rejected, name)
			continue
		}
		str, ok := value.(string)
		if !ok {
			return nil, utils.BadRequest("VALIDATION_ERROR", fmt.Sprintf("%s must be a string", name))
		}
		if column != "notes" {
			str = strings.TrimSpace(str)
		}
		updates[column] = str
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		return nil, utils.BadRequest("FIELD_NOT_UPDATABLE", "Some fields cannot be updated").
			WithDetails(strings.Join(rejected, ", "))
	}

	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(sub).Updates(updates).Error; err != nil {
		return nil, utils.Internal("Failed to update subscription", err)
	}
	return s.Get(ctx, id)
}

// Delete removes the local record. The subscription at the payment provider
// is left running.
func (s *SubscriptionService) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Subscription{}, id)
	if result.Error != nil {
		return utils.Internal("Failed to delete subscription", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.NotFound("SUBSCRIPTION_NOT_FOUND", "Subscription not found")
	}
	s.log.WithField("subscription_id", id).Info("Subscription record deleted")
	return nil
}

func (s *SubscriptionService) list(ctx context.Context, query *gorm.DB) ([]models.Subscription, error) {
	subs := []models.Subscription{}
	if err := query.Order("created_at DESC, id DESC").Find(&subs).Error; err != nil {
		return nil, utils.Internal("Failed to fetch subscriptions", err)
	}
	if err := s.enrich(ctx, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *SubscriptionService) enrich(ctx context.Context, subs []models.Subscription) error {
	ids := make([]uint, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.CustomerID)
	}
	names, err := s.users.DisplayNames(ctx, ids)
	if err != nil {
		return err
	}
	for i := range subs {
		subs[i].CustomerName = names[subs[i].CustomerID]
	}
	return nil
}

func (s *SubscriptionService) hasLiveSubscription(ctx context.Context, customerID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("customer_id = ? AND status IN ?", customerID, models.LiveSubscriptionStatuses).
		Count(&count).Error
	if err != nil {
		return false, utils.Internal("Failed to check existing subscriptions", err)
	}
	return count > 0, nil
}

// ensureGatewayCustomer returns the provider customer for user, creating one
// on first use. A stored reference the provider no longer knows is replaced
// once.
func (s *SubscriptionService) ensureGatewayCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		existing, err := s.gateway.GetCustomer(ctx, *user.StripeCustomerID)
		switch {
		case err == nil && !existing.Deleted:
			return existing.ID, nil
		case err == nil || IsPaymentErrorKind(err, PaymentErrorNotFound):
			s.log.WithFields(logrus.Fields{
				"user_id":            user.ID,
				"stripe_customer_id": *user.StripeCustomerID,
			}).Warn("Stored payment customer is gone, creating a new one")
		default:
			return "", paymentAppError(err)
		}
	}

	id, err := s.gateway.CreateCustomer(ctx, user.Email, user.Name, user.ID)
	if err != nil {
		return "", paymentAppError(err)
	}
	if err := s.db.WithContext(ctx).Model(user).Update("stripe_customer_id", id).Error; err != nil {
		return "", utils.Internal("Failed to store payment customer", err)
	}
	user.StripeCustomerID = &id
	return id, nil
}

func (s *SubscriptionService) publishActivated(ctx context.Context, sub *models.Subscription) {
	payload := events.SubscriptionPayload{
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		FullName:       sub.FullName,
		Email:          sub.Email,
		PlanType:       string(sub.PlanType),
		BillingCycle:   string(sub.BillingCycle),
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		StartDate:      sub.ActualStartDate,
		EndDate:        sub.ActualEndDate,
	}
	if err := events.Publish(ctx, s.events, events.SubscriptionActivated, payload); err != nil {
		s.log.WithError(err).WithField("subscription_id", sub.ID).Warn("Failed to publish subscription event")
	}
}

// classifySubscription decides the local status for a freshly created
// provider subscription. requiresAction is set when the customer still has
// to authenticate the payment.
func classifySubscription(gsub *GatewaySubscription) (status models.SubscriptionStatus, requiresAction bool) {
	live := models.SubscriptionActive
	if gsub.Status == string(models.SubscriptionTrialing) {
		live = models.SubscriptionTrialing
	}

	if gsub.PaymentIntent == nil {
		if gsub.Status == string(models.SubscriptionActive) || gsub.Status == string(models.SubscriptionTrialing) {
			return live, false
		}
		return models.SubscriptionFailed, false
	}

	switch gsub.PaymentIntent.Status {
	case "":
		// The intent could not be read back. A live subscription is trusted,
		// anything else is stored incomplete and left to reconciliation.
		if gsub.Status == string(models.SubscriptionActive) || gsub.Status == string(models.SubscriptionTrialing) {
			return live, false
		}
		return models.SubscriptionIncomplete, false
	case IntentSucceeded:
		return live, false
	case IntentRequiresAction, IntentRequiresConfirmation:
		return models.SubscriptionIncomplete, true
	default:
		return models.SubscriptionFailed, false
	}
}

// deriveBillingPeriod picks the subscription's start and end dates: the
// provider's current period when present, otherwise the creation date plus
// one billing interval, otherwise now and one year from now. Both dates are
// always set.
func deriveBillingPeriod(gsub *GatewaySubscription, now time.Time) (time.Time, time.Time) {
	if !gsub.PeriodStart.IsZero() && !gsub.PeriodEnd.IsZero() {
		return gsub.PeriodStart, gsub.PeriodEnd
	}

	anchor := gsub.CreatedAt
	if anchor.IsZero() {
		anchor = gsub.StartDate
	}
	if !anchor.IsZero() {
		count := int(gsub.IntervalCount)
		if count < 1 {
			count = 1
		}
		switch gsub.Interval {
		case string(models.BillingMonthly):
			return anchor, anchor.AddDate(0, count, 0)
		case string(models.BillingYearly):
			return anchor, anchor.AddDate(count, 0, 0)
		}
	}

	return now, now.AddDate(1, 0, 0)
}

func billingCycleFor(interval string) models.BillingCycle {
	if interval == string(models.BillingYearly) {
		return models.BillingYearly
	}
	return models.BillingMonthly
}

// paymentAppError maps gateway failures onto API errors
func paymentAppError(err error) error {
	var pe *PaymentError
	if !errors.As(err, &pe) {
		return utils.Upstream("PAYMENT_PROVIDER_ERROR", "The payment provider could not be reached", err)
	}

	switch pe.Kind {
	case PaymentErrorCard:
		return utils.WrapError(utils.KindBadRequest, "CARD_DECLINED", pe.Message, err)
	case PaymentErrorInvalidRequest, PaymentErrorNotFound:
		return utils.WrapError(utils.KindBadRequest, "PAYMENT_REQUEST_INVALID", pe.Message, err)
	default:
		return utils.Upstream("PAYMENT_PROVIDER_ERROR", "The payment provider is unavailable, please try again later", err)
	}
}
