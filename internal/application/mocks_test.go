package application

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sanosuguru/go-rental-booking/internal/domain/booking"
	"github.com/sanosuguru/go-rental-booking/internal/domain/listing"
	"github.com/sanosuguru/go-rental-booking/internal/domain/payment"
	"github.com/sanosuguru/go-rental-booking/internal/domain/transaction"
	redisinfra "github.com/sanosuguru/go-rental-booking/internal/infrastructure/redis"
)

// === Mock implementations ===

// MockTxManager implements transaction.Manager
type MockTxManager struct {
	mock.Mock
}

func (m *MockTxManager) Begin(ctx context.Context) (transaction.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(transaction.Tx), args.Error(1)
}

// MockTx implements transaction.Tx
type MockTx struct {
	mock.Mock
}

func (m *MockTx) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTx) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

// newCommittableTx は Begin → Commit/Rollback を通すだけのトランザクションを返す
func newCommittableTx() (*MockTxManager, *MockTx) {
	tx := new(MockTx)
	tx.On("Commit").Return(nil).Maybe()
	tx.On("Rollback").Return(nil).Maybe()
	txManager := new(MockTxManager)
	txManager.On("Begin", mock.Anything).Return(tx, nil).Maybe()
	return txManager, tx
}

// MockBookingRepository implements booking.Repository
type MockBookingRepository struct {
	mock.Mock
}

func (m *MockBookingRepository) Create(ctx context.Context, tx transaction.Tx, b *booking.Booking) error {
	args := m.Called(ctx, tx, b)
	return args.Error(0)
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id int64) (*booking.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*booking.Booking), args.Error(1)
}

func (m *MockBookingRepository) GetByPaymentIntentID(ctx context.Context, intentID string) (*booking.Booking, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*booking.Booking), args.Error(1)
}

func (m *MockBookingRepository) ListByGuestID(ctx context.Context, guestID int64, limit, offset int) ([]*booking.Booking, error) {
	args := m.Called(ctx, guestID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*booking.Booking), args.Error(1)
}

func (m *MockBookingRepository) ListByOwnerID(ctx context.Context, ownerID int64, limit, offset int) ([]*booking.Booking, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*booking.Booking), args.Error(1)
}

func (m *MockBookingRepository) HasConfirmedOverlap(ctx context.Context, listingID int64, start, end time.Time) (bool, error) {
	args := m.Called(ctx, listingID, start, end)
	return args.Bool(0), args.Error(1)
}

func (m *MockBookingRepository) UpdateVersioned(ctx context.Context, tx transaction.Tx, b *booking.Booking, expectedVersion int) error {
	args := m.Called(ctx, tx, b, expectedVersion)
	return args.Error(0)
}

func (m *MockBookingRepository) ConfirmPending(ctx context.Context, tx transaction.Tx, id int64, expectedVersion int) error {
	args := m.Called(ctx, tx, id, expectedVersion)
	return args.Error(0)
}

func (m *MockBookingRepository) ExpirePending(ctx context.Context, tx transaction.Tx, id int64, expectedVersion int) error {
	args := m.Called(ctx, tx, id, expectedVersion)
	return args.Error(0)
}

func (m *MockBookingRepository) GetExpiredPending(ctx context.Context) ([]*booking.Booking, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*booking.Booking), args.Error(1)
}

// MockListingRepository implements listing.Repository
type MockListingRepository struct {
	mock.Mock
}

func (m *MockListingRepository) GetByID(ctx context.Context, id int64) (*listing.Listing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*listing.Listing), args.Error(1)
}

// MockLockManager implements redisinfra.LockManager
type MockLockManager struct {
	mock.Mock
}

func (m *MockLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (redisinfra.Lock, error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(redisinfra.Lock), args.Error(1)
}

// MockLock implements redisinfra.Lock
type MockLock struct {
	mock.Mock
}

func (m *MockLock) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// newAcquirableLock は常に取得成功するロックマネージャーを返す
func newAcquirableLock() *MockLockManager {
	lock := new(MockLock)
	lock.On("Release", mock.Anything).Return(nil).Maybe()
	lockManager := new(MockLockManager)
	lockManager.On("Acquire", mock.Anything, mock.Anything, mock.Anything).Return(lock, nil).Maybe()
	return lockManager
}

// MockPaymentProvider implements payment.Provider
type MockPaymentProvider struct {
	mock.Mock
}

func (m *MockPaymentProvider) CreateIntent(ctx context.Context, input payment.CreateIntentInput) (*payment.Intent, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Intent), args.Error(1)
}

func (m *MockPaymentProvider) GetIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Intent), args.Error(1)
}
