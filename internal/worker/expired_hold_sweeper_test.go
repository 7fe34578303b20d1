package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockHoldSweeper はHoldSweeperのモック
type MockHoldSweeper struct {
	mock.Mock
}

func (m *MockHoldSweeper) CancelExpiredBookings(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestNewExpiredHoldSweeper(t *testing.T) {
	mockService := new(MockHoldSweeper)
	interval := 1 * time.Minute

	sweeper := NewExpiredHoldSweeper(mockService, interval)

	assert.NotNil(t, sweeper)
	assert.Equal(t, interval, sweeper.interval)
	assert.NotNil(t, sweeper.stopCh)
	assert.NotNil(t, sweeper.doneCh)
}

func TestNewExpiredHoldSweeper_DefaultInterval(t *testing.T) {
	mockService := new(MockHoldSweeper)

	sweeper := NewExpiredHoldSweeper(mockService, 0)

	assert.Equal(t, 60*time.Second, sweeper.interval)
}

func TestExpiredHoldSweeper_Sweep(t *testing.T) {
	t.Run("正常にスイープが実行される", func(t *testing.T) {
		mockService := new(MockHoldSweeper)
		mockService.On("CancelExpiredBookings", mock.Anything).Return(3, nil)

		sweeper := &ExpiredHoldSweeper{
			bookingService: mockService,
			interval:       1 * time.Minute,
			stopCh:         make(chan struct{}),
			doneCh:         make(chan struct{}),
		}

		sweeper.sweep(context.Background())

		mockService.AssertExpectations(t)
	})

	t.Run("回収対象がない場合も正常に動作する", func(t *testing.T) {
		mockService := new(MockHoldSweeper)
		mockService.On("CancelExpiredBookings", mock.Anything).Return(0, nil)

		sweeper := &ExpiredHoldSweeper{
			bookingService: mockService,
			interval:       1 * time.Minute,
			stopCh:         make(chan struct{}),
			doneCh:         make(chan struct{}),
		}

		sweeper.sweep(context.Background())

		mockService.AssertExpectations(t)
	})

	t.Run("エラーが発生しても継続する", func(t *testing.T) {
		mockService := new(MockHoldSweeper)
		mockService.On("CancelExpiredBookings", mock.Anything).Return(0, assert.AnError)

		sweeper := &ExpiredHoldSweeper{
			bookingService: mockService,
			interval:       1 * time.Minute,
			stopCh:         make(chan struct{}),
			doneCh:         make(chan struct{}),
		}

		// パニックしないことを確認
		sweeper.sweep(context.Background())

		mockService.AssertExpectations(t)
	})
}

func TestExpiredHoldSweeper_StartStop(t *testing.T) {
	t.Run("開始と停止が正常に動作する", func(t *testing.T) {
		mockService := new(MockHoldSweeper)
		mockService.On("CancelExpiredBookings", mock.Anything).Return(0, nil).Maybe()

		sweeper := NewExpiredHoldSweeper(mockService, 50*time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go sweeper.Start(ctx)

		time.Sleep(120 * time.Millisecond)

		sweeper.Stop()

		select {
		case <-sweeper.doneCh:
			// 正常に終了
		case <-time.After(1 * time.Second):
			t.Error("sweeper did not stop in time")
		}
	})

	t.Run("コンテキストキャンセルで停止する", func(t *testing.T) {
		mockService := new(MockHoldSweeper)
		mockService.On("CancelExpiredBookings", mock.Anything).Return(0, nil).Maybe()

		sweeper := NewExpiredHoldSweeper(mockService, 50*time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			sweeper.Start(ctx)
			close(done)
		}()

		time.Sleep(80 * time.Millisecond)
		cancel()

		select {
		case <-done:
			// 正常に終了
		case <-time.After(1 * time.Second):
			t.Error("sweeper did not stop after context cancel")
		}
	})
}
