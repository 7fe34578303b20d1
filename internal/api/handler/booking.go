package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-rental-booking/internal/api/middleware"
	"github.com/sanosuguru/go-rental-booking/internal/application"
	"github.com/sanosuguru/go-rental-booking/internal/domain/booking"
	"github.com/sanosuguru/go-rental-booking/internal/domain/identity"
	"github.com/sanosuguru/go-rental-booking/internal/domain/listing"
)

// 日付パラメータのフォーマット（チェックイン/チェックアウトは日単位）
const dateLayout = "2006-01-02"

type BookingHandler struct {
	service BookingServiceInterface
}

func NewBookingHandler(s BookingServiceInterface) *BookingHandler {
	return &BookingHandler{service: s}
}

type CreateBookingRequest struct {
	ListingID int64  `json:"listing_id" validate:"required" example:"42"`
	StartDate string `json:"start_date" validate:"required" example:"2026-09-01"`
	EndDate   string `json:"end_date" validate:"required" example:"2026-09-03"`
}

type NextActionResponse struct {
	Type         string     `json:"type" example:"pay"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ClientSecret string     `json:"client_secret,omitempty"`
}

type BookingResponse struct {
	ID              int64      `json:"id" example:"1"`
	ListingID       int64      `json:"listing_id" example:"42"`
	GuestID         int64      `json:"guest_id" example:"7"`
	StartDate       string     `json:"start_date" example:"2026-09-01"`
	EndDate         string     `json:"end_date" example:"2026-09-03"`
	Status          string     `json:"status" example:"pending_payment"`
	TotalAmount     int        `json:"total_amount" example:"20000"`
	Currency        string     `json:"currency" example:"USD"`
	PaymentIntentID *string    `json:"payment_intent_id,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CancelReason    *string    `json:"cancel_reason,omitempty"`
	Version         int        `json:"version" example:"1"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type CreateBookingResponse struct {
	Booking    BookingResponse    `json:"booking"`
	NextAction NextActionResponse `json:"next_action"`
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:              b.ID,
		ListingID:       b.ListingID,
		GuestID:         b.GuestID,
		StartDate:       b.StartDate.Format(dateLayout),
		EndDate:         b.EndDate.Format(dateLayout),
		Status:          string(b.Status),
		TotalAmount:     b.TotalAmount,
		Currency:        b.Currency,
		PaymentIntentID: b.PaymentIntentID,
		ExpiresAt:       b.ExpiresAt,
		CancelReason:    b.CancelReason,
		Version:         b.Version,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

// Create godoc
// @Summary 予約を作成
// @Description リスティングの空きを確認し予約を作成します。承認不要なら15分間の支払いホールドが開きます
// @Tags bookings
// @Accept json
// @Produce json
// @Param request body CreateBookingRequest true "予約情報"
// @Success 201 {object} CreateBookingResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string "確定済み予約と日程が重複"
// @Failure 429 {object} map[string]string "リスティングが処理中"
// @Router /bookings [post]
func (h *BookingHandler) Create(c echo.Context) error {
	user, ok := middleware.UserFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "認証が必要です")
	}

	var req CreateBookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start_date の形式が不正です")
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "end_date の形式が不正です")
	}

	result, err := h.service.CreateBooking(c.Request().Context(), application.CreateBookingInput{
		ListingID: req.ListingID,
		GuestID:   user.ID,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		return mapBookingError(c, err)
	}

	return c.JSON(http.StatusCreated, CreateBookingResponse{
		Booking: toBookingResponse(result.Booking),
		NextAction: NextActionResponse{
			Type:         result.NextAction.Type,
			ExpiresAt:    result.NextAction.ExpiresAt,
			ClientSecret: result.NextAction.ClientSecret,
		},
	})
}

// ListMine godoc
// @Summary 自分の予約一覧を取得
// @Description 借り手は自分がゲストの予約、貸し手は所有リスティング上の予約を返します
// @Tags bookings
// @Produce json
// @Param limit query int false "取得件数" default(20)
// @Param offset query int false "オフセット" default(0)
// @Success 200 {array} BookingResponse
// @Router /bookings/me [get]
func (h *BookingHandler) ListMine(c echo.Context) error {
	user, ok := middleware.UserFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "認証が必要です")
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	items, err := h.service.ListMyBookings(c.Request().Context(), user, limit, offset)
	if err != nil {
		return mapBookingError(c, err)
	}

	resp := make([]BookingResponse, len(items))
	for i, b := range items {
		resp[i] = toBookingResponse(b)
	}
	return c.JSON(http.StatusOK, resp)
}

// Approve godoc
// @Summary 予約リクエストを承認
// @Description 承認待ちの予約を支払い待ちへ遷移させます（貸し手のみ）
// @Tags bookings
// @Produce json
// @Param id path int true "予約ID"
// @Success 200 {object} BookingResponse
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string "承認待ちではない"
// @Router /bookings/{id}/approve [post]
func (h *BookingHandler) Approve(c echo.Context) error {
	return h.transition(c, h.service.ApproveBooking)
}

// Decline godoc
// @Summary 予約リクエストを拒否
// @Description 承認待ちの予約を拒否します（貸し手のみ）
// @Tags bookings
// @Produce json
// @Param id path int true "予約ID"
// @Success 200 {object} BookingResponse
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /bookings/{id}/decline [post]
func (h *BookingHandler) Decline(c echo.Context) error {
	return h.transition(c, h.service.DeclineBooking)
}

// Cancel godoc
// @Summary 予約をキャンセル
// @Description 予約をキャンセルします。既に終端状態なら現在の状態を返します（冪等）
// @Tags bookings
// @Produce json
// @Param id path int true "予約ID"
// @Success 200 {object} BookingResponse
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /bookings/{id}/cancel [post]
func (h *BookingHandler) Cancel(c echo.Context) error {
	return h.transition(c, h.service.CancelBooking)
}

type transitionFunc func(ctx context.Context, bookingID int64, user *identity.User) (*booking.Booking, error)

func (h *BookingHandler) transition(c echo.Context, fn transitionFunc) error {
	user, ok := middleware.UserFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "認証が必要です")
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "予約IDが不正です")
	}

	b, err := fn(c.Request().Context(), id, user)
	if err != nil {
		return mapBookingError(c, err)
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}

// mapBookingError はドメインエラーをHTTPステータスへ対応付ける
func mapBookingError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, booking.ErrBookingNotFound), errors.Is(err, listing.ErrListingNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrNotAuthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, application.ErrListingBusy):
		// ロックはすぐ解放されるため、短い間隔での再試行を促す
		c.Response().Header().Set(echo.HeaderRetryAfter, "1")
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, booking.ErrDatesOverlap),
		errors.Is(err, booking.ErrVersionConflict),
		errors.Is(err, booking.ErrBookingNotRequested),
		errors.Is(err, booking.ErrBookingNotPending),
		errors.Is(err, booking.ErrAlreadyConfirmed),
		errors.Is(err, booking.ErrHoldExpired):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, booking.ErrInvalidDateRange),
		errors.Is(err, booking.ErrListingIDRequired),
		errors.Is(err, booking.ErrGuestIDRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
