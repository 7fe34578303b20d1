package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sanosuguru/go-rental-booking/internal/domain/payment"
)

// OfflineProvider はネットワークに出ない決定的な決済プロバイダー実装
// シークレットキーが未設定の構成（ローカル開発・CI）で選択される
// インテントIDとシークレットは予約IDから決定的に導出されるため、
// リトライしても同一のハンドルに収束する
type OfflineProvider struct {
	mu       sync.Mutex
	statuses map[string]payment.IntentStatus
}

func NewOfflineProvider() *OfflineProvider {
	return &OfflineProvider{statuses: make(map[string]payment.IntentStatus)}
}

func (p *OfflineProvider) CreateIntent(ctx context.Context, input payment.CreateIntentInput) (*payment.Intent, error) {
	intentID := fmt.Sprintf("pi_test_%d", input.BookingID)

	p.mu.Lock()
	status, ok := p.statuses[intentID]
	if !ok {
		status = payment.StatusRequiresPaymentMethod
		p.statuses[intentID] = status
	}
	p.mu.Unlock()

	return &payment.Intent{
		ID:           intentID,
		ClientSecret: offlineClientSecret(intentID),
		Status:       status,
	}, nil
}

func (p *OfflineProvider) GetIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	p.mu.Lock()
	status, ok := p.statuses[intentID]
	p.mu.Unlock()
	if !ok {
		return nil, payment.ErrIntentNotFound
	}
	return &payment.Intent{
		ID:           intentID,
		ClientSecret: offlineClientSecret(intentID),
		Status:       status,
	}, nil
}

// offlineClientSecret はインテントIDからクライアントシークレットを導出する
// CreateIntent と GetIntent が同一インテントに対して同じ値を返すための単一の導出点
func offlineClientSecret(intentID string) string {
	return "test_client_secret_" + strings.TrimPrefix(intentID, "pi_test_")
}

// SetStatus はテストからインテント状態を操作するためのヘルパー
func (p *OfflineProvider) SetStatus(intentID string, status payment.IntentStatus) {
	p.mu.Lock()
	p.statuses[intentID] = status
	p.mu.Unlock()
}

var _ payment.Provider = (*OfflineProvider)(nil)
