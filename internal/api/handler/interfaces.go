package handler

import (
	"context"

	"github.com/sanosuguru/go-rental-booking/internal/application"
	"github.com/sanosuguru/go-rental-booking/internal/domain/booking"
	"github.com/sanosuguru/go-rental-booking/internal/domain/identity"
	"github.com/sanosuguru/go-rental-booking/internal/domain/payment"
)

// BookingServiceInterface は予約サービスのインターフェース
type BookingServiceInterface interface {
	CreateBooking(ctx context.Context, input application.CreateBookingInput) (*application.BookingCreation, error)
	ListMyBookings(ctx context.Context, user *identity.User, limit, offset int) ([]*booking.Booking, error)
	ApproveBooking(ctx context.Context, bookingID int64, user *identity.User) (*booking.Booking, error)
	DeclineBooking(ctx context.Context, bookingID int64, user *identity.User) (*booking.Booking, error)
	CancelBooking(ctx context.Context, bookingID int64, user *identity.User) (*booking.Booking, error)
}

// PaymentServiceInterface は決済照合サービスのインターフェース
type PaymentServiceInterface interface {
	GetPaymentInfo(ctx context.Context, bookingID int64, user *identity.User) (*application.PaymentInfo, error)
	FinalizePayment(ctx context.Context, bookingID int64, user *identity.User) (*application.FinalizeResult, error)
	HandleWebhookEvent(ctx context.Context, event *payment.WebhookEvent) (application.WebhookOutcome, error)
}

// WebhookVerifier は通知ペイロードの署名を検証するインターフェース
type WebhookVerifier interface {
	ConstructEvent(payload []byte, sigHeader string) (*payment.WebhookEvent, error)
}
