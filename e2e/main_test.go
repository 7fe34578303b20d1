package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-rental-booking/internal/api"
	"github.com/sanosuguru/go-rental-booking/internal/api/handler"
	apimiddleware "github.com/sanosuguru/go-rental-booking/internal/api/middleware"
	"github.com/sanosuguru/go-rental-booking/internal/application"
	"github.com/sanosuguru/go-rental-booking/internal/config"
	"github.com/sanosuguru/go-rental-booking/internal/domain/identity"
	"github.com/sanosuguru/go-rental-booking/internal/infrastructure/auth"
	paymentinfra "github.com/sanosuguru/go-rental-booking/internal/infrastructure/payment"
	"github.com/sanosuguru/go-rental-booking/internal/infrastructure/postgres"
	redisinfra "github.com/sanosuguru/go-rental-booking/internal/infrastructure/redis"
)

// webhookSecret はE2Eテスト用の署名シークレット
const webhookSecret = "whsec_e2e_test"

// TestServer はE2Eテスト用のサーバー
type TestServer struct {
	Echo     *echo.Echo
	DB       *sqlx.DB
	Provider *paymentinfra.OfflineProvider
	Resolver *auth.JWTResolver
	Bookings *application.BookingService
	Cleanup  func()
}

// NewTestServer はテスト用サーバーを作成
// DB未起動時はテストをスキップする
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	cfg := config.Load()

	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		t.Skipf("DB接続エラー: %v", err)
	}

	if err := postgres.RunMigrations(db.DB, "../migrations"); err != nil {
		db.Close()
		t.Skipf("マイグレーションエラー: %v", err)
	}

	// Redis が起動していればアドバイザリロックを使用、なければ no-op
	var lockManager redisinfra.LockManager = redisinfra.NewNoopLockManager()
	var closeRedis func()
	if cfg.Redis.Enabled {
		redisClient := redisinfra.NewClient(&cfg.Redis)
		if err := redisinfra.Ping(context.Background(), redisClient); err == nil {
			lockManager = redisinfra.NewRedisLockManager(redisClient)
			closeRedis = func() { redisClient.Close() }
		} else {
			redisClient.Close()
		}
	}

	provider := paymentinfra.NewOfflineProvider()
	resolver := auth.NewJWTResolver(cfg.Auth.JWTSecret)
	verifier := paymentinfra.NewSignatureVerifier(webhookSecret, paymentinfra.DefaultSignatureTolerance)

	txManager := postgres.NewTxManager(db)
	bookingRepo := postgres.NewBookingRepository(db)
	listingRepo := postgres.NewListingRepository(db)

	bookingService := application.NewBookingService(
		txManager, bookingRepo, listingRepo, lockManager, provider,
		cfg.Booking.HoldWindow, cfg.Booking.LockTTL,
	)
	paymentService := application.NewPaymentService(txManager, bookingRepo, provider)

	bookingHandler := handler.NewBookingHandler(bookingService)
	paymentHandler := handler.NewPaymentHandler(paymentService, verifier)
	healthHandler := handler.NewHealthHandler()

	e := echo.New()
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler
	apimiddleware.SetupMiddleware(e)

	e.GET("/health", healthHandler.Check)

	v1 := e.Group("/api/v1")
	v1.POST("/payments/webhook", paymentHandler.Webhook)

	authed := v1.Group("", apimiddleware.JWTAuth(resolver))
	authed.POST("/bookings", bookingHandler.Create, apimiddleware.RequireTenant())
	authed.GET("/bookings/me", bookingHandler.ListMine)
	authed.POST("/bookings/:id/approve", bookingHandler.Approve, apimiddleware.RequireLandlord())
	authed.POST("/bookings/:id/decline", bookingHandler.Decline, apimiddleware.RequireLandlord())
	authed.POST("/bookings/:id/cancel", bookingHandler.Cancel)
	authed.GET("/bookings/:id/payment_info", paymentHandler.GetPaymentInfo, apimiddleware.RequireTenant())
	authed.POST("/bookings/:id/finalize_payment", paymentHandler.FinalizePayment, apimiddleware.RequireTenant())

	cleanup := func() {
		db.Exec("DELETE FROM bookings")
		db.Exec("DELETE FROM listings")
		if closeRedis != nil {
			closeRedis()
		}
		db.Close()
	}

	return &TestServer{
		Echo:     e,
		DB:       db,
		Provider: provider,
		Resolver: resolver,
		Bookings: bookingService,
		Cleanup:  cleanup,
	}
}

// Request はHTTPリクエストを実行
func (s *TestServer) Request(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		reqBody = b
	default:
		reqBody, _ = json.Marshal(body)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

// AuthHeader はJWTトークン付きのリクエストヘッダーを生成
func (s *TestServer) AuthHeader(t *testing.T, userID int64, role identity.Role) map[string]string {
	t.Helper()
	token, err := s.Resolver.IssueToken(&identity.User{ID: userID, Role: role})
	if err != nil {
		t.Fatalf("トークン発行エラー: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

// SeedListing はテスト用のリスティングをDBへ直接投入
func (s *TestServer) SeedListing(t *testing.T, ownerID int64, priceCents int, requiresApproval bool) int64 {
	t.Helper()
	var id int64
	err := s.DB.QueryRowx(
		`INSERT INTO listings (owner_id, title, price_cents, requires_approval)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		ownerID, fmt.Sprintf("E2Eテスト物件 %d", ownerID), priceCents, requiresApproval,
	).Scan(&id)
	if err != nil {
		t.Fatalf("リスティング投入エラー: %v", err)
	}
	return id
}
