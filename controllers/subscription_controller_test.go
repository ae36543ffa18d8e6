package controllers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/services"
	"github.com/homefix/marketplace-api/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSubscriptionRouter(env *testEnv, user *models.User) *gin.Engine {
	ctl := NewSubscriptionController(env.subscriptions)
	router := newRouter()
	router.Use(asUser(user))
	router.POST("/subscriptions", ctl.CreateSubscription)
	router.POST("/subscriptions/confirm", ctl.ConfirmSubscription)
	router.GET("/subscriptions/admin/all", ctl.ListAll)
	router.GET("/subscriptions/admin/active", ctl.ListActive)
	router.GET("/subscriptions/admin/count", ctl.Count)
	router.GET("/subscriptions/user/:customerId", ctl.ListForCustomer)
	router.GET("/subscriptions/:id", ctl.GetSubscription)
	router.PUT("/subscriptions/:id", ctl.UpdateSubscription)
	router.DELETE("/subscriptions/:id", ctl.DeleteSubscription)
	return router
}

type createSubscriptionResponse struct {
	Subscription    models.Subscription `json:"subscription"`
	RequiresAction  bool                `json:"requiresAction"`
	ClientSecret    string              `json:"clientSecret"`
	PaymentIntentID string              `json:"paymentIntentId"`
	SubscriptionID  string              `json:"subscriptionId"`
}

func TestCreateSubscription_Activated(t *testing.T) {
	env := newTestEnv(t)
	customer := testutil.CreateUser(t, env.db, models.RoleCustomer, testutil.WithName("Cathy"))

	w := performJSON(t, setupSubscriptionRouter(env, customer), http.MethodPost, "/subscriptions", map[string]string{
		"planType":        "standard",
		"paymentMethodId": "pm_card_visa",
		"city":            "  Berlin ",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp createSubscriptionResponse
	decodeData(t, w, &resp)
	assert.False(t, resp.RequiresAction)
	assert.Empty(t, resp.ClientSecret)
	assert.Equal(t, models.SubscriptionActive, resp.Subscription.Status)
	assert.Equal(t, models.PlanStandard, resp.Subscription.PlanType)
	assert.Equal(t, "Berlin", resp.Subscription.City)
	assert.Equal(t, "Cathy", resp.Subscription.FullName)
	assert.Equal(t, customer.Email, resp.Subscription.Email)
	assert.False(t, resp.Subscription.ActualStartDate.IsZero())
	assert.True(t, resp.Subscription.ActualEndDate.After(resp.Subscription.ActualStartDate))

	require.Len(t, env.gateway.CreatedCustomers, 1)
	assert.Equal(t, "pm_card_visa", env.gateway.DefaultPaymentMethod(env.gateway.CreatedCustomers[0]))
}

func TestCreateSubscription_RequiresActionThenConfirm(t *testing.T) {
	env := newTestEnv(t)
	customer := testutil.CreateUser(t, env.db, models.RoleCustomer)
	router := setupSubscriptionRouter(env, customer)

	env.gateway.NextSubscription = &services.GatewaySubscription{
		Status:        "incomplete",
		Interval:      "month",
		IntervalCount: 1,
		PaymentIntent: &services.GatewayPaymentIntent{Status: services.IntentRequiresAction},
	}

	w := performJSON(t, router, http.MethodPost, "/subscriptions", map[string]string{
		"planType":        "premium",
		"paymentMethodId": "pm_card_threeDSecure2Required",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp createSubscriptionResponse
	decodeData(t, w, &resp)
	require.True(t, resp.RequiresAction)
	assert.NotEmpty(t, resp.ClientSecret)
	require.NotEmpty(t, resp.PaymentIntentID)
	require.NotEmpty(t, resp.SubscriptionID)
	assert.Equal(t, models.SubscriptionIncomplete, resp.Subscription.Status)

	t.Run("another customer cannot confirm", func(t *testing.T) {
		other := testutil.CreateUser(t, env.db, models.RoleCustomer)
		w := performJSON(t, setupSubscriptionRouter(env, other), http.MethodPost, "/subscriptions/confirm", map[string]string{
			"paymentIntentId": resp.PaymentIntentID,
			"subscriptionId":  resp.SubscriptionID,
		})
		assert.Equal(t, http.StatusNotFound, w.Code, "another customer cannot see the subscription")
		assert.Equal(t, "SUBSCRIPTION_NOT_FOUND", errorCode(t, w))
	})

	t.Run("intent mismatch", func(t *testing.T) {
		w := performJSON(t, router, http.MethodPost, "/subscriptions/confirm", map[string]string{
			"paymentIntentId": "pi_someone_else",
			"subscriptionId":  resp.SubscriptionID,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "PAYMENT_INTENT_MISMATCH", errorCode(t, w))
	})

	t.Run("confirm after authentication activates", func(t *testing.T) {
		env.gateway.SetIntentStatus(resp.PaymentIntentID, services.IntentSucceeded)

		w := performJSON(t, router, http.MethodPost, "/subscriptions/confirm", map[string]string{
			"paymentIntentId": resp.PaymentIntentID,
			"subscriptionId":  resp.SubscriptionID,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var sub models.Subscription
		decodeData(t, w, &sub)
		assert.Equal(t, models.SubscriptionActive, sub.Status)
		assert.Equal(t, models.SubscriptionActive, sub.PaymentStatus)
	})

	t.Run("confirm again is a no-op", func(t *testing.T) {
		w := performJSON(t, router, http.MethodPost, "/subscriptions/confirm", map[string]string{
			"paymentIntentId": resp.PaymentIntentID,
			"subscriptionId":  resp.SubscriptionID,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})
}

func TestConfirmSubscription_AbandonedPayment(t *testing.T) {
	env := newTestEnv(t)
	customer := testutil.CreateUser(t, env.db, models.RoleCustomer)
	router := setupSubscriptionRouter(env, customer)

	env.gateway.NextSubscription = &services.GatewaySubscription{
		Status:        "incomplete",
		Interval:      "month",
		PaymentIntent: &services.GatewayPaymentIntent{Status: services.IntentRequiresAction},
	}
	w := performJSON(t, router, http.MethodPost, "/subscriptions", map[string]string{
		"planType":        "basic",
		"paymentMethodId": "pm_card_threeDSecure2Required",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp createSubscriptionResponse
	decodeData(t, w, &resp)

	env.gateway.SetIntentStatus(resp.PaymentIntentID, services.IntentRequiresPaymentMethod)

	w = performJSON(t, router, http.MethodPost, "/subscriptions/confirm", map[string]string{
		"paymentIntentId": resp.PaymentIntentID,
		"subscriptionId":  resp.SubscriptionID,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "PAYMENT_FAILED", errorCode(t, w))

	var stored models.Subscription
	require.NoError(t, env.db.Where("stripe_subscription_id = ?", resp.SubscriptionID).First(&stored).Error)
	assert.Equal(t, models.SubscriptionFailed, stored.Status)
}

func TestCreateSubscription_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		payload    interface{}
		setup      func(t *testing.T, env *testEnv, customer *models.User)
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown plan",
			payload:    map[string]string{"planType": "platinum", "paymentMethodId": "pm_card_visa"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_PLAN",
		},
		{
			name:       "missing payment method",
			payload:    map[string]string{"planType": "basic"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "invalid contact email",
			payload:    map[string]string{"planType": "basic", "paymentMethodId": "pm_card_visa", "email": "nope"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:    "already subscribed",
			payload: map[string]string{"planType": "basic", "paymentMethodId": "pm_card_visa"},
			setup: func(t *testing.T, env *testEnv, customer *models.User) {
				testutil.CreateSubscription(t, env.db, customer, models.SubscriptionActive)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "ACTIVE_SUBSCRIPTION_EXISTS",
		},
		{
			name:    "card declined",
			payload: map[string]string{"planType": "basic", "paymentMethodId": "pm_card_chargeDeclined"},
			setup: func(_ *testing.T, env *testEnv, _ *models.User) {
				env.gateway.AttachErr = &services.PaymentError{Kind: services.PaymentErrorCard, Code: "card_declined", Message: "Your card was declined."}
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "CARD_DECLINED",
		},
		{
			name:    "payment failed at creation",
			payload: map[string]string{"planType": "basic", "paymentMethodId": "pm_card_visa"},
			setup: func(_ *testing.T, env *testEnv, _ *models.User) {
				env.gateway.NextSubscription = &services.GatewaySubscription{
					Status:        "incomplete",
					PaymentIntent: &services.GatewayPaymentIntent{Status: services.IntentRequiresPaymentMethod},
				}
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "PAYMENT_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			customer := testutil.CreateUser(t, env.db, models.RoleCustomer)
			if tt.setup != nil {
				tt.setup(t, env, customer)
			}

			w := performJSON(t, setupSubscriptionRouter(env, customer), http.MethodPost, "/subscriptions", tt.payload)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, errorCode(t, w))

			var live int64
			env.db.Model(&models.Subscription{}).Where("customer_id = ? AND status = ?", customer.ID, models.SubscriptionActive).Count(&live)
			assert.LessOrEqual(t, live, int64(1))
		})
	}
}

func TestUpdateSubscription(t *testing.T) {
	env := newTestEnv(t)
	customer := testutil.CreateUser(t, env.db, models.RoleCustomer)
	sub := testutil.CreateSubscription(t, env.db, customer, models.SubscriptionActive)
	router := setupSubscriptionRouter(env, nil)
	path := pathFor("/subscriptions/%d", sub.ID)

	t.Run("contact details change", func(t *testing.T) {
		w := performJSON(t, router, http.MethodPut, path, map[string]string{
			"city":  " Hamburg ",
			"notes": "Ring twice",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var got models.Subscription
		decodeData(t, w, &got)
		assert.Equal(t, "Hamburg", got.City)
		assert.Equal(t, "Ring twice", got.Notes)
		assert.Equal(t, customer.Name, got.CustomerName)
	})

	t.Run("billing fields are rejected", func(t *testing.T) {
		w := performJSON(t, router, http.MethodPut, path, map[string]interface{}{
			"city":   "Munich",
			"status": "trialing",
			"amount": 1,
		})
		require.Equal(t, http.StatusBadRequest, w.Code)

		body := decode(t, w)
		assert.Equal(t, "FIELD_NOT_UPDATABLE", body.Error.Code)
		assert.Equal(t, "amount, status", body.Error.Details)

		var stored models.Subscription
		require.NoError(t, env.db.First(&stored, sub.ID).Error)
		assert.Equal(t, "Hamburg", stored.City)
		assert.Equal(t, models.SubscriptionActive, stored.Status)
	})

	t.Run("empty body", func(t *testing.T) {
		w := performJSON(t, router, http.MethodPut, path, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "NO_FIELDS", errorCode(t, w))
	})

	t.Run("unknown subscription", func(t *testing.T) {
		w := performJSON(t, router, http.MethodPut, "/subscriptions/9999", map[string]string{"city": "Munich"})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "SUBSCRIPTION_NOT_FOUND", errorCode(t, w))
	})
}

func TestGetAndDeleteSubscription(t *testing.T) {
	env := newTestEnv(t)
	customer := testutil.CreateUser(t, env.db, models.RoleCustomer)
	sub := testutil.CreateSubscription(t, env.db, customer, models.SubscriptionActive)
	router := setupSubscriptionRouter(env, nil)
	path := pathFor("/subscriptions/%d", sub.ID)

	w := performJSON(t, router, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Subscription
	decodeData(t, w, &got)
	assert.Equal(t, sub.StripeSubscriptionID, got.StripeSubscriptionID)

	w = performJSON(t, router, http.MethodGet, pathFor("/subscriptions/user/%d", customer.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Subscription
	decodeData(t, w, &list)
	assert.Len(t, list, 1)

	w = performJSON(t, router, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = performJSON(t, router, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SUBSCRIPTION_NOT_FOUND", errorCode(t, w))

	w = performJSON(t, router, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubscriptionAdminViews(t *testing.T) {
	env := newTestEnv(t)
	admin := testutil.CreateUser(t, env.db, models.RoleAdmin)
	first := testutil.CreateUser(t, env.db, models.RoleCustomer)
	second := testutil.CreateUser(t, env.db, models.RoleCustomer)
	third := testutil.CreateUser(t, env.db, models.RoleCustomer)
	testutil.CreateSubscription(t, env.db, first, models.SubscriptionActive)
	testutil.CreateSubscription(t, env.db, second, models.SubscriptionTrialing)
	testutil.CreateSubscription(t, env.db, third, models.SubscriptionFailed)
	router := setupSubscriptionRouter(env, admin)

	w := performJSON(t, router, http.MethodGet, "/subscriptions/admin/all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []models.Subscription
	decodeData(t, w, &all)
	assert.Len(t, all, 3)

	w = performJSON(t, router, http.MethodGet, "/subscriptions/admin/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active []models.Subscription
	decodeData(t, w, &active)
	assert.Len(t, active, 2)
	for _, sub := range active {
		assert.True(t, sub.Status.IsLive())
		assert.NotEmpty(t, sub.CustomerName)
	}

	w = performJSON(t, router, http.MethodGet, "/subscriptions/admin/count", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var counts services.SubscriptionCounts
	decodeData(t, w, &counts)
	assert.Equal(t, int64(3), counts.Total)
	assert.Equal(t, int64(2), counts.Active)
}
