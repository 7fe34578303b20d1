package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-rental-booking/internal/domain/payment"
)

func TestStripeClient_CreateIntent(t *testing.T) {
	t.Run("フォームエンコードされたリクエストを送信する", func(t *testing.T) {
		var gotIdempotencyKey, gotAuth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/payment_intents", r.URL.Path)
			gotIdempotencyKey = r.Header.Get("Idempotency-Key")
			gotAuth = r.Header.Get("Authorization")

			require.NoError(t, r.ParseForm())
			assert.Equal(t, "20000", r.PostForm.Get("amount"))
			assert.Equal(t, "usd", r.PostForm.Get("currency"))
			assert.Equal(t, "1", r.PostForm.Get("metadata[booking_id]"))

			w.Write([]byte(`{"id":"pi_123","client_secret":"cs_123","status":"requires_payment_method"}`))
		}))
		defer server.Close()

		client := NewStripeClient("sk_test_abc", server.URL)
		intent, err := client.CreateIntent(context.Background(), payment.CreateIntentInput{
			AmountCents: 20000, Currency: "USD", BookingID: 1, ListingID: 42,
			IdempotencyKey: "booking:1:v1",
		})

		require.NoError(t, err)
		assert.Equal(t, "pi_123", intent.ID)
		assert.Equal(t, "cs_123", intent.ClientSecret)
		assert.Equal(t, payment.StatusRequiresPaymentMethod, intent.Status)
		assert.Equal(t, "booking:1:v1", gotIdempotencyKey)
		assert.Equal(t, "Bearer sk_test_abc", gotAuth)
	})

	t.Run("APIエラーはメッセージ付きで返る", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"Amount must be positive"}}`))
		}))
		defer server.Close()

		client := NewStripeClient("sk_test_abc", server.URL)
		_, err := client.CreateIntent(context.Background(), payment.CreateIntentInput{
			AmountCents: 0, Currency: "USD", BookingID: 1,
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "Amount must be positive")
	})

	t.Run("接続できない場合はプロバイダー接続エラー", func(t *testing.T) {
		client := NewStripeClient("sk_test_abc", "http://127.0.0.1:1")
		_, err := client.CreateIntent(context.Background(), payment.CreateIntentInput{
			AmountCents: 20000, Currency: "USD", BookingID: 1,
		})

		assert.ErrorIs(t, err, payment.ErrProviderUnavailable)
	})
}

func TestStripeClient_GetIntent(t *testing.T) {
	t.Run("インテントの最新状態を取得する", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/v1/payment_intents/pi_123", r.URL.Path)
			w.Write([]byte(`{"id":"pi_123","client_secret":"cs_123","status":"succeeded"}`))
		}))
		defer server.Close()

		client := NewStripeClient("sk_test_abc", server.URL)
		intent, err := client.GetIntent(context.Background(), "pi_123")

		require.NoError(t, err)
		assert.Equal(t, payment.StatusSucceeded, intent.Status)
	})

	t.Run("存在しないインテントはエラー", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"message":"No such payment_intent"}}`))
		}))
		defer server.Close()

		client := NewStripeClient("sk_test_abc", server.URL)
		_, err := client.GetIntent(context.Background(), "pi_missing")

		assert.ErrorIs(t, err, payment.ErrIntentNotFound)
	})
}
