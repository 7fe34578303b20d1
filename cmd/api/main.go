package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-rental-booking/internal/api"
	"github.com/sanosuguru/go-rental-booking/internal/api/handler"
	apimiddleware "github.com/sanosuguru/go-rental-booking/internal/api/middleware"
	"github.com/sanosuguru/go-rental-booking/internal/application"
	"github.com/sanosuguru/go-rental-booking/internal/config"
	"github.com/sanosuguru/go-rental-booking/internal/domain/payment"
	"github.com/sanosuguru/go-rental-booking/internal/infrastructure/auth"
	paymentinfra "github.com/sanosuguru/go-rental-booking/internal/infrastructure/payment"
	"github.com/sanosuguru/go-rental-booking/internal/infrastructure/postgres"
	redisinfra "github.com/sanosuguru/go-rental-booking/internal/infrastructure/redis"
	"github.com/sanosuguru/go-rental-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-rental-booking/internal/pkg/metrics"
	"github.com/sanosuguru/go-rental-booking/internal/worker"
)

func main() {
	cfg := config.Load()

	// ロガー初期化
	logger.Set(logger.NewLogger(cfg.Server.Env))
	defer logger.Sync()

	// メトリクス初期化
	m := metrics.Init()

	// DB接続
	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("データベース接続に失敗", zap.Error(err))
	}
	defer db.Close()

	// マイグレーション実行
	if err := postgres.RunMigrations(db.DB, "migrations"); err != nil {
		logger.Fatal("マイグレーションに失敗", zap.Error(err))
	}

	// アドバイザリロック（Redis 無効時は常に取得成功の no-op）
	var lockManager redisinfra.LockManager
	if cfg.Redis.Enabled {
		redisClient := redisinfra.NewClient(&cfg.Redis)
		defer redisClient.Close()
		if err := redisinfra.Ping(context.Background(), redisClient); err != nil {
			// ロックは補助機構なので接続失敗でも起動は継続する
			logger.Warn("Redis 接続に失敗。アドバイザリロックはフェイルオープンで動作", zap.Error(err))
		}
		lockManager = redisinfra.NewRedisLockManager(redisClient)
	} else {
		logger.Info("Redis 無効。アドバイザリロックなしで動作")
		lockManager = redisinfra.NewNoopLockManager()
	}

	// 決済プロバイダー（シークレット未設定時は決定的なオフラインプロバイダー）
	var provider payment.Provider
	if cfg.Stripe.SecretKey != "" {
		provider = paymentinfra.NewStripeClient(cfg.Stripe.SecretKey, cfg.Stripe.APIBase)
	} else {
		logger.Info("STRIPE_SECRET_KEY 未設定。オフライン決済プロバイダーを使用")
		provider = paymentinfra.NewOfflineProvider()
	}

	// リポジトリとサービス
	txManager := postgres.NewTxManager(db)
	bookingRepo := postgres.NewBookingRepository(db)
	listingRepo := postgres.NewListingRepository(db)

	bookingService := application.NewBookingService(
		txManager, bookingRepo, listingRepo, lockManager, provider,
		cfg.Booking.HoldWindow, cfg.Booking.LockTTL,
	)
	paymentService := application.NewPaymentService(txManager, bookingRepo, provider)

	resolver := auth.NewJWTResolver(cfg.Auth.JWTSecret)
	verifier := paymentinfra.NewSignatureVerifier(cfg.Stripe.WebhookSecret, paymentinfra.DefaultSignatureTolerance)

	bookingHandler := handler.NewBookingHandler(bookingService)
	paymentHandler := handler.NewPaymentHandler(paymentService, verifier)
	healthHandler := handler.NewHealthHandler()

	// Echo セットアップ
	e := echo.New()
	e.HideBanner = true
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler
	apimiddleware.SetupMiddleware(e)
	e.Use(apimiddleware.PrometheusMiddleware(m))

	e.GET("/health", healthHandler.Check)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), apimiddleware.MetricsBasicAuth())

	v1 := e.Group("/api/v1")

	// 通知エンドポイントは認証ミドルウェアの外（署名検証で保護）
	v1.POST("/payments/webhook", paymentHandler.Webhook)

	authed := v1.Group("", apimiddleware.JWTAuth(resolver))
	authed.POST("/bookings", bookingHandler.Create, apimiddleware.RequireTenant())
	authed.GET("/bookings/me", bookingHandler.ListMine)
	authed.POST("/bookings/:id/approve", bookingHandler.Approve, apimiddleware.RequireLandlord())
	authed.POST("/bookings/:id/decline", bookingHandler.Decline, apimiddleware.RequireLandlord())
	authed.POST("/bookings/:id/cancel", bookingHandler.Cancel)
	authed.GET("/bookings/:id/payment_info", paymentHandler.GetPaymentInfo, apimiddleware.RequireTenant())
	authed.POST("/bookings/:id/finalize_payment", paymentHandler.FinalizePayment, apimiddleware.RequireTenant())

	// 期限切れホールドスイーパー起動
	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	sweeper := worker.NewExpiredHoldSweeper(bookingService, cfg.Booking.SweepInterval)
	go sweeper.Start(sweeperCtx)

	// サーバー起動
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Info("サーバー起動", zap.String("addr", addr), zap.String("env", cfg.Server.Env))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー起動エラー", zap.Error(err))
		}
	}()

	// シグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")

	sweeperCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("サーバーシャットダウンエラー", zap.Error(err))
	}

	logger.Info("サーバーが正常にシャットダウンしました")
}
