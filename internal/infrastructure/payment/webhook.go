package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sanosuguru/go-rental-booking/internal/domain/payment"
)

// DefaultSignatureTolerance は署名タイムスタンプの許容ずれ
const DefaultSignatureTolerance = 5 * time.Minute

// ConstructEvent は署名ヘッダーを検証し、通知ペイロードを WebhookEvent に変換する
// ヘッダー形式は `t=<unix秒>,v1=<hex署名>` で、署名対象は `<t>.<payload>` の
// HMAC-SHA256（キーは Webhook シークレット）
func ConstructEvent(payload []byte, sigHeader, secret string, tolerance time.Duration) (*payment.WebhookEvent, error) {
	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, err
	}

	if tolerance > 0 {
		ts := time.Unix(timestamp, 0)
		if time.Since(ts) > tolerance {
			return nil, fmt.Errorf("%w: タイムスタンプが古すぎます", payment.ErrInvalidSignature)
		}
	}

	expected := computeSignature(timestamp, payload, secret)
	valid := false
	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			valid = true
			break
		}
	}
	if !valid {
		return nil, payment.ErrInvalidSignature
	}

	var envelope struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("通知ペイロードの解析に失敗: %w", err)
	}

	return &payment.WebhookEvent{
		Type:     envelope.Type,
		IntentID: envelope.Data.Object.ID,
	}, nil
}

// SignPayload はテストおよびオフライン構成用に署名ヘッダーを生成する
func SignPayload(payload []byte, secret string, at time.Time) string {
	timestamp := at.Unix()
	sig := computeSignature(timestamp, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(sig))
}

func computeSignature(timestamp int64, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, []string, error) {
	if header == "" {
		return 0, nil, fmt.Errorf("%w: 署名ヘッダーがありません", payment.ErrInvalidSignature)
	}

	var timestamp int64 = -1
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: タイムスタンプが不正です", payment.ErrInvalidSignature)
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp < 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: ヘッダー形式が不正です", payment.ErrInvalidSignature)
	}
	return timestamp, signatures, nil
}

// SignatureVerifier はシークレットと許容ずれを束ねた検証器
// ハンドラーへ秘密情報を持ち込まずに署名検証を委譲するために使う
type SignatureVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewSignatureVerifier は検証器を作成する。tolerance が 0 以下の場合は既定値を使う
func NewSignatureVerifier(secret string, tolerance time.Duration) *SignatureVerifier {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	return &SignatureVerifier{secret: secret, tolerance: tolerance}
}

// ConstructEvent は署名を検証しイベントへ変換する
func (v *SignatureVerifier) ConstructEvent(payload []byte, sigHeader string) (*payment.WebhookEvent, error) {
	return ConstructEvent(payload, sigHeader, v.secret, v.tolerance)
}
