package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-rental-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-rental-booking/internal/pkg/metrics"
)

// HoldSweeper は期限切れホールドを回収するインターフェース
type HoldSweeper interface {
	CancelExpiredBookings(ctx context.Context) (int, error)
}

// ExpiredHoldSweeper は期限切れの支払い待ちホールドを定期的に回収するワーカー
// 1プロセスにつき1つ起動する。複数プロセスが並行して動いても、各行の遷移が
// status + version を前提条件とするため重複スイープは no-op に縮退する
type ExpiredHoldSweeper struct {
	bookingService HoldSweeper
	interval       time.Duration
	stopCh         chan struct{}
	doneCh         chan struct{}
}

// NewExpiredHoldSweeper は新しいスイーパーを作成
func NewExpiredHoldSweeper(bs HoldSweeper, interval time.Duration) *ExpiredHoldSweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &ExpiredHoldSweeper{
		bookingService: bs,
		interval:       interval,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start はスイーパーを開始
func (s *ExpiredHoldSweeper) Start(ctx context.Context) {
	logger.Info("期限切れホールドスイーパー開始",
		zap.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneCh)

	for {
		select {
		case <-ctx.Done():
			logger.Info("期限切れホールドスイーパー停止（コンテキストキャンセル）")
			return
		case <-s.stopCh:
			logger.Info("期限切れホールドスイーパー停止（シグナル受信）")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop はスイーパーを停止
func (s *ExpiredHoldSweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// sweep は期限切れホールドを cancelled_expired へ遷移させる
// 失敗は次のティックで再試行されるため、パニックを含めプロセスを巻き込まない
func (s *ExpiredHoldSweeper) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("スイープ中にパニックが発生", zap.Any("panic", r))
		}
	}()

	log := logger.Get()
	log.Debug("期限切れホールドのスイープ開始")

	count, err := s.bookingService.CancelExpiredBookings(ctx)
	if err != nil {
		log.Error("期限切れホールドのスイープ失敗", zap.Error(err))
		return
	}

	if count > 0 {
		if m := metrics.Get(); m != nil {
			m.ExpiredHoldsTotal.Add(float64(count))
		}
		log.Info("期限切れホールドを回収", zap.Int("count", count))
	} else {
		log.Debug("期限切れホールドなし")
	}
}
