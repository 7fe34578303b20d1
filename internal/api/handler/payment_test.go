package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-rental-booking/internal/api/middleware"
	"github.com/sanosuguru/go-rental-booking/internal/application"
	"github.com/sanosuguru/go-rental-booking/internal/domain/booking"
	"github.com/sanosuguru/go-rental-booking/internal/domain/identity"
	"github.com/sanosuguru/go-rental-booking/internal/domain/payment"
)

// MockPaymentService はPaymentServiceInterfaceのモック
type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) GetPaymentInfo(ctx context.Context, bookingID int64, user *identity.User) (*application.PaymentInfo, error) {
	args := m.Called(ctx, bookingID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*application.PaymentInfo), args.Error(1)
}

func (m *MockPaymentService) FinalizePayment(ctx context.Context, bookingID int64, user *identity.User) (*application.FinalizeResult, error) {
	args := m.Called(ctx, bookingID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*application.FinalizeResult), args.Error(1)
}

func (m *MockPaymentService) HandleWebhookEvent(ctx context.Context, event *payment.WebhookEvent) (application.WebhookOutcome, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(application.WebhookOutcome), args.Error(1)
}

func TestPaymentHandler_GetPaymentInfo(t *testing.T) {
	e := NewTestEcho()

	t.Run("決済情報を取得できる", func(t *testing.T) {
		mockService := new(MockPaymentService)
		mockService.On("GetPaymentInfo", mock.Anything, int64(1), testTenant).
			Return(&application.PaymentInfo{
				BookingID:    1,
				ClientSecret: "secret_1",
				ExpiresAt:    time.Now().UTC().Add(10 * time.Minute),
			}, nil)

		handler := NewPaymentHandler(mockService, new(MockWebhookVerifier))

		req := httptest.NewRequest(http.MethodGet, "/bookings/1/payment_info", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues("1")
		middleware.SetUser(c, testTenant)

		err := handler.GetPaymentInfo(c)

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp PaymentInfoResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(1), resp.BookingID)
		assert.Equal(t, "secret_1", resp.ClientSecret)
	})

	t.Run("ホールド期限切れの場合409", func(t *testing.T) {
		mockService := new(MockPaymentService)
		mockService.On("GetPaymentInfo", mock.Anything, int64(1), testTenant).
			Return(nil, booking.ErrHoldExpired)

		handler := NewPaymentHandler(mockService, new(MockWebhookVerifier))

		req := httptest.NewRequest(http.MethodGet, "/bookings/1/payment_info", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues("1")
		middleware.SetUser(c, testTenant)

		err := handler.GetPaymentInfo(c)

		require.Error(t, err)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusConflict, he.Code)
	})
}

func TestPaymentHandler_FinalizePayment(t *testing.T) {
	e := NewTestEcho()

	t.Run("決済成功で確定済みの予約が返る", func(t *testing.T) {
		mockService := new(MockPaymentService)
		mockService.On("FinalizePayment", mock.Anything, int64(1), testTenant).
			Return(&application.FinalizeResult{
				Booking:        testBooking(booking.StatusConfirmed),
				ProviderStatus: payment.StatusSucceeded,
			}, nil)

		handler := NewPaymentHandler(mockService, new(MockWebhookVerifier))

		req := httptest.NewRequest(http.MethodPost, "/bookings/1/finalize_payment", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues("1")
		middleware.SetUser(c, testTenant)

		err := handler.FinalizePayment(c)

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp FinalizePaymentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Booking)
		assert.Equal(t, "confirmed", resp.Booking.Status)
		assert.Equal(t, "succeeded", resp.ProviderStatus)
	})

	t.Run("プロバイダーが処理中なら予約なしで状態のみ返る", func(t *testing.T) {
		mockService := new(MockPaymentService)
		mockService.On("FinalizePayment", mock.Anything, int64(1), testTenant).
			Return(&application.FinalizeResult{ProviderStatus: payment.StatusProcessing}, nil)

		handler := NewPaymentHandler(mockService, new(MockWebhookVerifier))

		req := httptest.NewRequest(http.MethodPost, "/bookings/1/finalize_payment", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues("1")
		middleware.SetUser(c, testTenant)

		err := handler.FinalizePayment(c)

		require.NoError(t, err)

		var resp FinalizePaymentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Nil(t, resp.Booking)
		assert.Equal(t, "processing", resp.ProviderStatus)
	})

	t.Run("決済がキャンセル済みの場合409", func(t *testing.T) {
		mockService := new(MockPaymentService)
		mockService.On("FinalizePayment", mock.Anything, int64(1), testTenant).
			Return(nil, payment.ErrPaymentCancelled)

		handler := NewPaymentHandler(mockService, new(MockWebhookVerifier))

		req := httptest.NewRequest(http.MethodPost, "/bookings/1/finalize_payment", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues("1")
		middleware.SetUser(c, testTenant)

		err := handler.FinalizePayment(c)

		require.Error(t, err)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusConflict, he.Code)
	})
}

func TestPaymentHandler_Webhook(t *testing.T) {
	e := NewTestEcho()
	payloadJSON := `{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`

	t.Run("署名検証済みの通知を処理する", func(t *testing.T) {
		event := &payment.WebhookEvent{Type: payment.EventTypeIntentSucceeded, IntentID: "pi_1"}

		verifier := new(MockWebhookVerifier)
		verifier.On("ConstructEvent", []byte(payloadJSON), "sig-header").Return(event, nil)

		mockService := new(MockPaymentService)
		mockService.On("HandleWebhookEvent", mock.Anything, event).
			Return(application.OutcomeConfirmed, nil)

		handler := NewPaymentHandler(mockService, verifier)

		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(payloadJSON))
		req.Header.Set("Stripe-Signature", "sig-header")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := handler.Webhook(c)

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp WebhookResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "confirmed", resp.Outcome)
	})

	t.Run("署名検証に失敗すると400", func(t *testing.T) {
		verifier := new(MockWebhookVerifier)
		verifier.On("ConstructEvent", mock.Anything, mock.Anything).
			Return(nil, payment.ErrInvalidSignature)

		handler := NewPaymentHandler(new(MockPaymentService), verifier)

		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(payloadJSON))
		req.Header.Set("Stripe-Signature", "bad-header")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := handler.Webhook(c)

		require.Error(t, err)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, he.Code)
	})

	t.Run("安全なno-opも200で応答する", func(t *testing.T) {
		event := &payment.WebhookEvent{Type: payment.EventTypeIntentSucceeded, IntentID: "pi_unknown"}

		verifier := new(MockWebhookVerifier)
		verifier.On("ConstructEvent", mock.Anything, mock.Anything).Return(event, nil)

		mockService := new(MockPaymentService)
		mockService.On("HandleWebhookEvent", mock.Anything, event).
			Return(application.OutcomeUnknownIntent, nil)

		handler := NewPaymentHandler(mockService, verifier)

		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(payloadJSON))
		req.Header.Set("Stripe-Signature", "sig-header")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := handler.Webhook(c)

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp WebhookResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "unknown_intent", resp.Outcome)
	})
}
