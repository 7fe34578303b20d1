package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sanosuguru/go-rental-booking/internal/domain/payment"
)

// StripeClient は Stripe の PaymentIntent API を直接叩く決済プロバイダー実装
// 外部呼び出しには短いタイムアウトを設定し、アドバイザリロックの保持時間を
// 外部障害で引き延ばさないようにする
type StripeClient struct {
	secretKey  string
	apiBase    string
	httpClient *http.Client
}

func NewStripeClient(secretKey, apiBase string) *StripeClient {
	return &StripeClient{
		secretKey: secretKey,
		apiBase:   strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type stripeIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Error        *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CreateIntent は PaymentIntent を作成する
// Idempotency-Key ヘッダーによりリトライは同一のリモートインテントに収束する
func (c *StripeClient) CreateIntent(ctx context.Context, input payment.CreateIntentInput) (*payment.Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.Itoa(input.AmountCents))
	form.Set("currency", strings.ToLower(input.Currency))
	form.Set("metadata[booking_id]", strconv.FormatInt(input.BookingID, 10))
	form.Set("metadata[listing_id]", strconv.FormatInt(input.ListingID, 10))
	form.Set("automatic_payment_methods[enabled]", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", input.IdempotencyKey)

	return c.do(req)
}

// GetIntent は既存の PaymentIntent の最新状態を取得する
func (c *StripeClient) GetIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/v1/payment_intents/"+url.PathEscape(intentID), nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	return c.do(req)
}

func (c *StripeClient) do(req *http.Request) (*payment.Intent, error) {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取りに失敗: %w", err)
	}

	var parsed stripeIntentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("レスポンス解析に失敗: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, payment.ErrIntentNotFound
	}
	if resp.StatusCode >= 400 {
		msg := http.StatusText(resp.StatusCode)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("決済プロバイダーエラー (%d): %s", resp.StatusCode, msg)
	}

	return &payment.Intent{
		ID:           parsed.ID,
		ClientSecret: parsed.ClientSecret,
		Status:       payment.IntentStatus(parsed.Status),
	}, nil
}

var _ payment.Provider = (*StripeClient)(nil)
