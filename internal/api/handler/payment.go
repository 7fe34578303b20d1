package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-rental-booking/internal/api/middleware"
	"github.com/sanosuguru/go-rental-booking/internal/domain/payment"
	"github.com/sanosuguru/go-rental-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-rental-booking/internal/pkg/metrics"
)

// プロバイダー通知の署名ヘッダー
const webhookSignatureHeader = "Stripe-Signature"

type PaymentHandler struct {
	service  PaymentServiceInterface
	verifier WebhookVerifier
}

func NewPaymentHandler(s PaymentServiceInterface, v WebhookVerifier) *PaymentHandler {
	return &PaymentHandler{service: s, verifier: v}
}

type PaymentInfoResponse struct {
	BookingID    int64     `json:"booking_id" example:"1"`
	ClientSecret string    `json:"client_secret"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type FinalizePaymentResponse struct {
	Booking        *BookingResponse `json:"booking,omitempty"`
	ProviderStatus string           `json:"provider_status" example:"succeeded"`
}

type WebhookResponse struct {
	Outcome string `json:"outcome" example:"confirmed"`
}

// GetPaymentInfo godoc
// @Summary 決済情報を取得
// @Description 支払い待ち予約のクライアントシークレットを返します。インテント未作成なら作成します
// @Tags payments
// @Produce json
// @Param id path int true "予約ID"
// @Success 200 {object} PaymentInfoResponse
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string "支払い待ちではない / ホールド期限切れ / 既に確定済み"
// @Router /bookings/{id}/payment_info [get]
func (h *PaymentHandler) GetPaymentInfo(c echo.Context) error {
	user, ok := middleware.UserFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "認証が必要です")
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "予約IDが不正です")
	}

	info, err := h.service.GetPaymentInfo(c.Request().Context(), id, user)
	if err != nil {
		return mapPaymentError(c, err)
	}

	return c.JSON(http.StatusOK, PaymentInfoResponse{
		BookingID:    info.BookingID,
		ClientSecret: info.ClientSecret,
		ExpiresAt:    info.ExpiresAt,
	})
}

// FinalizePayment godoc
// @Summary 決済完了後に予約を確定
// @Description プロバイダーの状態を照会し、成功していれば予約を確定します。処理中なら状態のみ返します
// @Tags payments
// @Produce json
// @Param id path int true "予約ID"
// @Success 200 {object} FinalizePaymentResponse
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /bookings/{id}/finalize_payment [post]
func (h *PaymentHandler) FinalizePayment(c echo.Context) error {
	user, ok := middleware.UserFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "認証が必要です")
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "予約IDが不正です")
	}

	result, err := h.service.FinalizePayment(c.Request().Context(), id, user)
	if err != nil {
		return mapPaymentError(c, err)
	}

	resp := FinalizePaymentResponse{ProviderStatus: string(result.ProviderStatus)}
	if result.Booking != nil {
		b := toBookingResponse(result.Booking)
		resp.Booking = &b
	}
	return c.JSON(http.StatusOK, resp)
}

// Webhook godoc
// @Summary 決済プロバイダーからの通知を受信
// @Description 署名を検証し、決済成功通知で予約を確定します。安全な no-op も 200 で応答します
// @Tags payments
// @Accept json
// @Produce json
// @Success 200 {object} WebhookResponse
// @Failure 400 {object} map[string]string "署名検証失敗"
// @Router /payments/webhook [post]
func (h *PaymentHandler) Webhook(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "ペイロードの読み取りに失敗")
	}

	event, err := h.verifier.ConstructEvent(payload, c.Request().Header.Get(webhookSignatureHeader))
	if err != nil {
		logger.Warn("Webhook 署名検証に失敗", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, payment.ErrInvalidSignature.Error())
	}

	outcome, err := h.service.HandleWebhookEvent(c.Request().Context(), event)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if m := metrics.Get(); m != nil {
		m.WebhookEventsTotal.WithLabelValues(string(outcome)).Inc()
	}

	return c.JSON(http.StatusOK, WebhookResponse{Outcome: string(outcome)})
}

// mapPaymentError は決済系のエラーをHTTPステータスへ対応付ける
func mapPaymentError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, payment.ErrPaymentCancelled):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrProviderUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, payment.ErrIntentNotFound):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return mapBookingError(c, err)
	}
}
