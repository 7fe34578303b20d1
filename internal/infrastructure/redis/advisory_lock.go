package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-rental-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-rental-booking/internal/pkg/metrics"
)

var (
	ErrLockNotAcquired = errors.New("ロックを取得できませんでした")
	ErrLockNotOwned    = errors.New("ロックの所有者ではありません")
)

// Lock は取得済みのアドバイザリロックを表す
type Lock interface {
	// Release はロックを解放する
	Release(ctx context.Context) error
}

// LockManager はリスティング単位のアドバイザリロックを管理するインターフェース
// このロックは競合と無駄な書き込みを減らすためのヒントであり、正当性の保証ではない
// （正当性は重複チェックと条件付き更新の組み合わせが担う）
type LockManager interface {
	// Acquire はロックの取得を試みる
	// 他プロセスが保持している場合は ErrLockNotAcquired を返す
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// AdvisoryLock は Redis を使用した取得済みロック
type AdvisoryLock struct {
	client *redis.Client
	key    string
	value  string
}

// RedisLockManager は Redis SET NX PX によるアドバイザリロック
// Redis が到達不能な場合はフェイルオープン（取得成功扱い）で可用性を優先する
type RedisLockManager struct {
	client *redis.Client
}

func NewRedisLockManager(client *redis.Client) *RedisLockManager {
	return &RedisLockManager{client: client}
}

// Acquire はロックを取得する
// 値には呼び出し元専用のトークンを設定し、TTL切れ後に他者が取得したロックを
// 誤って解放しないようにする
func (m *RedisLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lockKey := fmt.Sprintf("lock:%s", key)
	lockValue := uuid.New().String()

	start := time.Now()
	ok, err := m.client.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		// フェイルオープン: Redis障害時は保護なしで処理を継続する
		observeLock("acquire", "open", start)
		logger.Warn("アドバイザリロック取得エラー（フェイルオープン）",
			zap.String("key", lockKey), zap.Error(err))
		return noopLock{}, nil
	}
	if !ok {
		observeLock("acquire", "failed", start)
		return nil, ErrLockNotAcquired
	}

	observeLock("acquire", "success", start)
	return &AdvisoryLock{client: m.client, key: lockKey, value: lockValue}, nil
}

func observeLock(operation, status string, start time.Time) {
	if m := metrics.Get(); m != nil {
		m.AdvisoryLockDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	}
}

// Release はロックを解放する（Lua スクリプトで所有者確認と削除をアトミックに実行）
func (l *AdvisoryLock) Release(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	start := time.Now()
	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Int()
	if err != nil {
		// 解放失敗はTTLで回収されるため、ログのみで継続する
		observeLock("release", "open", start)
		logger.Debug("アドバイザリロック解放エラー", zap.String("key", l.key), zap.Error(err))
		return nil
	}
	if result == 0 {
		observeLock("release", "failed", start)
		return ErrLockNotOwned
	}
	observeLock("release", "success", start)
	return nil
}

// NoopLockManager は常に取得成功を報告するロックマネージャー
// Redis が無効化された構成で選択される（フェイルオープン構成の明示的な実装）
type NoopLockManager struct{}

func NewNoopLockManager() *NoopLockManager {
	return &NoopLockManager{}
}

func (m *NoopLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	return noopLock{}, nil
}

type noopLock struct{}

func (noopLock) Release(ctx context.Context) error { return nil }

var (
	_ LockManager = (*RedisLockManager)(nil)
	_ LockManager = (*NoopLockManager)(nil)
)
