package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/homefix/marketplace-api/config"
	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/services"
	"github.com/homefix/marketplace-api/testutil"
	"github.com/homefix/marketplace-api/utils"
	"github.com/stretchr/testify/suite"
)

func TestMain(m *testing.M) {
	if !testutil.EnsureTestEnvironment() {
		os.Exit(1)
	}
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// AcceptanceTestSuite drives the fully wired API over HTTP with in-process
// backends
type AcceptanceTestSuite struct {
	suite.Suite
	app    *App
	server *httptest.Server
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}

type session struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func TestAcceptanceSuite(t *testing.T) {
	suite.Run(t, new(AcceptanceTestSuite))
}

func (s *AcceptanceTestSuite) SetupSuite() {
	cfg := &config.Config{
		DatabaseURL:        "file:app_acceptance?mode=memory&cache=shared",
		GoEnv:              "test",
		JWTSecret:          "acceptance-secret",
		JWTIssuer:          "homefix-test",
		JWTAudience:        "homefix-test-api",
		JWTTTL:             time.Hour,
		CORSAllowedOrigins: []string{"https://app.example.com"},
		StorageDriver:      "memory",
		StripePriceIDs:     map[string]string{},
		PaymentBreakerTrip: 5,
		PaymentBreakerWait: time.Second,
		MailFrom:           "no-reply@homefix.test",
	}

	a, err := New(context.Background(), cfg, utils.NewDiscardLogger())
	s.Require().NoError(err)
	s.Require().NoError(a.Migrate())
	s.Require().NotNil(a.MockGateway, "no Stripe key configured")
	s.app = a
	s.server = httptest.NewServer(a.Router())
}

func (s *AcceptanceTestSuite) TearDownSuite() {
	s.server.Close()
	s.NoError(s.app.Close())
}

func (s *AcceptanceTestSuite) SetupTest() {
	for _, table := range []string{"messages", "conversations", "subscriptions", "bookings", "users"} {
		s.Require().NoError(s.app.DB.Exec("DELETE FROM " + table).Error)
	}
}

// request sends a JSON body (or raw multipart when contentType is given) and
// decodes the envelope
func (s *AcceptanceTestSuite) request(method, path, token string, body interface{}, contentType ...string) (*http.Response, apiResponse) {
	var reader io.Reader
	ct := "application/json"
	switch b := body.(type) {
	case nil:
	case *bytes.Buffer:
		reader = b
		ct = contentType[0]
	default:
		raw, err := json.Marshal(b)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.server.URL+"/api/v1"+path, reader)
	s.Require().NoError(err)
	if reader != nil {
		req.Header.Set("Content-Type", ct)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var out apiResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (s *AcceptanceTestSuite) data(out apiResponse, v interface{}) {
	s.Require().True(out.Success, "error: %+v", out.Error)
	s.Require().NoError(json.Unmarshal(out.Data, v))
}

func (s *AcceptanceTestSuite) registerCustomer(name, email string) session {
	resp, out := s.request(http.MethodPost, "/auth/register", "", map[string]string{
		"name":     name,
		"email":    email,
		"password": "supersecret",
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var sess session
	s.data(out, &sess)
	return sess
}

func (s *AcceptanceTestSuite) registerProvider(name, email string) session {
	body, contentType := testutil.MultipartBody(s.T(), map[string]string{
		"name":        name,
		"email":       email,
		"password":    "supersecret",
		"role":        "provider",
		"serviceType": "plumbing",
		"location":    "Berlin",
	}, testutil.UploadFile{Field: "documents", Filename: "licence.pdf", Content: []byte("%PDF-1.4")})

	resp, out := s.request(http.MethodPost, "/auth/register", "", body, contentType)
	s.Require().Equal(http.StatusCreated, resp.StatusCode, "error: %+v", out.Error)
	var sess session
	s.data(out, &sess)
	return sess
}

func (s *AcceptanceTestSuite) createAdmin() session {
	_, err := s.app.Auth.CreateAdmin(context.Background(), "Ada Admin", "admin@homefix.test", "admin-password")
	s.Require().NoError(err)

	resp, out := s.request(http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "admin@homefix.test",
		"password": "admin-password",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var sess session
	s.data(out, &sess)
	return sess
}

func (s *AcceptanceTestSuite) TestHealthRequestIDAndCORS() {
	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/api/v1/health", nil)
	s.Require().NoError(err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("X-Request-ID", "req-123")

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	resp.Body.Close()

	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("req-123", resp.Header.Get("X-Request-ID"))
	s.Equal("https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, out := s.request(http.MethodGet, "/database/status", "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.NotEmpty(resp.Header.Get("X-Request-ID"), "a request id is generated when none is sent")
	s.True(out.Success)

	resp, out = s.request(http.MethodGet, "/does-not-exist", "", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("ROUTE_NOT_FOUND", out.Error.Code)
}

func (s *AcceptanceTestSuite) TestRegisterLoginAndProfile() {
	registered := s.registerCustomer("Cathy Customer", "cathy@example.com")

	resp, out := s.request(http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "CATHY@example.com",
		"password": "supersecret",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var login session
	s.data(out, &login)
	s.Equal(registered.User.ID, login.User.ID)

	resp, out = s.request(http.MethodGet, "/users/me", login.Token, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var me models.User
	s.data(out, &me)
	s.Equal("cathy@example.com", me.Email)

	resp, out = s.request(http.MethodPut, "/users/me", login.Token, map[string]string{"phone": "+49 30 555"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.data(out, &me)
	s.Equal("+49 30 555", me.Phone)

	resp, out = s.request(http.MethodGet, "/users/me", "", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Equal("MISSING_TOKEN", out.Error.Code)

	resp, out = s.request(http.MethodGet, "/users/me", login.Token+"tampered", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Equal("INVALID_TOKEN", out.Error.Code)
}

func (s *AcceptanceTestSuite) TestBookingLifecycle() {
	provider := s.registerProvider("Pete Plumber", "pete@example.com")
	customer := s.registerCustomer("Cathy Customer", "cathy@example.com")

	resp, out := s.request(http.MethodGet, "/bookings/providers?serviceType=plumbing&location=Berlin", "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var providers []models.User
	s.data(out, &providers)
	s.Require().Len(providers, 1)
	s.Equal(provider.User.ID, providers[0].ID)

	resp, out = s.request(http.MethodPost, "/bookings/create", "", map[string]interface{}{
		"customerId":    customer.User.ID,
		"providerId":    provider.User.ID,
		"category":      "plumbing",
		"scheduledDate": time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"address":       "Hauptstrasse 1, Berlin",
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode, "error: %+v", out.Error)
	var booking models.Booking
	s.data(out, &booking)
	s.Equal(models.BookingPending, booking.Status)

	update := fmt.Sprintf("/bookings/update/%d", booking.ID)

	resp, out = s.request(http.MethodPatch, update, customer.Token, map[string]string{"status": "accepted"})
	s.Equal(http.StatusForbidden, resp.StatusCode)
	s.Equal("INSUFFICIENT_ROLE", out.Error.Code)

	resp, out = s.request(http.MethodPatch, update, provider.Token, map[string]string{"status": "accepted"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.data(out, &booking)
	s.Equal(models.BookingAccepted, booking.Status)

	resp, out = s.request(http.MethodDelete, fmt.Sprintf("/bookings/%d", booking.ID), customer.Token, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("BOOKING_LOCKED", out.Error.Code)

	resp, _ = s.request(http.MethodPatch, update, provider.Token, map[string]string{"status": "completed"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	resp, out = s.request(http.MethodGet, "/bookings/provider/summary", provider.Token, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var summary services.BookingSummary
	s.data(out, &summary)
	s.Equal(services.BookingSummary{Total: 1, Completed: 1}, summary)

	resp, out = s.request(http.MethodGet, fmt.Sprintf("/bookings/user/%d", customer.User.ID), customer.Token, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var mine []models.Booking
	s.data(out, &mine)
	s.Require().Len(mine, 1)
	s.Equal("Pete Plumber", mine[0].CounterpartyName)
}

func (s *AcceptanceTestSuite) TestSubscriptionWithAuthentication() {
	customer := s.registerCustomer("Cathy Customer", "cathy@example.com")
	admin := s.createAdmin()

	s.app.MockGateway.NextSubscription = &services.GatewaySubscription{
		Status:        "incomplete",
		Interval:      "month",
		IntervalCount: 1,
		PaymentIntent: &services.GatewayPaymentIntent{Status: services.IntentRequiresAction},
	}

	resp, out := s.request(http.MethodPost, "/subscriptions", customer.Token, map[string]string{
		"planType":        "premium",
		"paymentMethodId": "pm_card_threeDSecure2Required",
	})
	s.Require().Equal(http.StatusAccepted, resp.StatusCode, "error: %+v", out.Error)
	var created struct {
		RequiresAction  bool   `json:"requiresAction"`
		ClientSecret    string `json:"clientSecret"`
		PaymentIntentID string `json:"paymentIntentId"`
		SubscriptionID  string `json:"subscriptionId"`
	}
	s.data(out, &created)
	s.True(created.RequiresAction)
	s.NotEmpty(created.ClientSecret)

	s.app.MockGateway.SetIntentStatus(created.PaymentIntentID, services.IntentSucceeded)

	resp, out = s.request(http.MethodPost, "/subscriptions/confirm", customer.Token, map[string]string{
		"paymentIntentId": created.PaymentIntentID,
		"subscriptionId":  created.SubscriptionID,
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode, "error: %+v", out.Error)
	var sub models.Subscription
	s.data(out, &sub)
	s.Equal(models.SubscriptionActive, sub.Status)

	resp, out = s.request(http.MethodPost, "/subscriptions", customer.Token, map[string]string{
		"planType":        "basic",
		"paymentMethodId": "pm_card_visa",
	})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("ACTIVE_SUBSCRIPTION_EXISTS", out.Error.Code)

	resp, out = s.request(http.MethodGet, "/subscriptions/admin/count", customer.Token, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)
	s.Equal("INSUFFICIENT_ROLE", out.Error.Code)

	resp, out = s.request(http.MethodGet, "/subscriptions/admin/count", admin.Token, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var counts services.SubscriptionCounts
	s.data(out, &counts)
	s.Equal(services.SubscriptionCounts{Total: 1, Active: 1}, counts)
}

func (s *AcceptanceTestSuite) TestAdminDisablesAccount() {
	provider := s.registerProvider("Pete Plumber", "pete@example.com")
	admin := s.createAdmin()

	resp, out := s.request(http.MethodGet, "/admin/users?role=provider", admin.Token, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var users []models.User
	s.data(out, &users)
	s.Require().Len(users, 1)
	s.Len(users[0].DocumentURLs, 1)

	resp, _ = s.request(http.MethodPatch, fmt.Sprintf("/admin/users/%d/status", provider.User.ID), admin.Token, map[string]bool{"enabled": false})
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	resp, out = s.request(http.MethodGet, "/users/me", provider.Token, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)
	s.Equal("ACCOUNT_DISABLED", out.Error.Code)

	resp, out = s.request(http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "pete@example.com",
		"password": "supersecret",
	})
	s.Equal(http.StatusForbidden, resp.StatusCode)
	s.Equal("ACCOUNT_DISABLED", out.Error.Code)
}

func (s *AcceptanceTestSuite) TestMessagingWithLiveUpdates() {
	customer := s.registerCustomer("Cathy Customer", "cathy@example.com")
	provider := s.registerProvider("Pete Plumber", "pete@example.com")

	resp, out := s.request(http.MethodPost, "/messages", customer.Token, map[string]interface{}{
		"recipientId": provider.User.ID,
		"text":        "Can you come on Friday?",
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode, "error: %+v", out.Error)
	var first models.Message
	s.data(out, &first)

	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") +
		fmt.Sprintf("/api/v1/ws/conversations/%d?token=%s", first.ConversationID, provider.Token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://app.example.com"}})
	s.Require().NoError(err)
	defer conn.Close()

	resp, _ = s.request(http.MethodPost, "/messages", customer.Token, map[string]interface{}{
		"conversationId": first.ConversationID,
		"text":           "Around 10am would be ideal",
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	_, payload, err := conn.ReadMessage()
	s.Require().NoError(err)
	var live models.Message
	s.Require().NoError(json.Unmarshal(payload, &live))
	s.Equal("Around 10am would be ideal", live.Text)
	s.Equal(customer.User.ID, live.Sender.ID)

	resp, out = s.request(http.MethodGet, fmt.Sprintf("/messages/%d", first.ConversationID), provider.Token, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var history []models.Message
	s.data(out, &history)
	s.Len(history, 2)

	resp, out = s.request(http.MethodGet, "/conversations", provider.Token, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var conversations []models.Conversation
	s.data(out, &conversations)
	s.Require().Len(conversations, 1)
	s.Equal("Cathy Customer", conversations[0].CounterpartName)

	_, _, err = websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(s.server.URL, "http")+fmt.Sprintf("/api/v1/ws/conversations/%d", first.ConversationID), nil)
	s.ErrorIs(err, websocket.ErrBadHandshake, "a token is required")
}
