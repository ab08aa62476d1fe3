package push

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/hitoshi/menteman/internal/model"
)

// VAPIDConfig はWeb Pushの署名鍵設定。
type VAPIDConfig struct {
	Subject    string // mailto: または https: のコンタクトURI
	PublicKey  string
	PrivateKey string
}

// WebPushDeliverer はVAPID署名付きWeb Pushで通知を配信するDeliverer実装。
type WebPushDeliverer struct {
	vapid      VAPIDConfig
	httpClient *http.Client
	ttl        int
}

// NewWebPushDeliverer はWebPushDelivererの新しいインスタンスを生成する。
// ttlSecondsはプッシュサービス側での通知保持秒数。
func NewWebPushDeliverer(vapid VAPIDConfig, httpClient *http.Client, ttlSeconds int) *WebPushDeliverer {
	return &WebPushDeliverer{
		vapid:      vapid,
		httpClient: httpClient,
		ttl:        ttlSeconds,
	}
}

// Deliver はpayloadを購読先に配信し、HTTPステータスで結果を分類する。
// タイムアウトは呼び出し元のコンテキストで制御される。
func (d *WebPushDeliverer) Deliver(ctx context.Context, sub *model.PushSubscription, payload []byte) (Outcome, error) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, s, &webpush.Options{
		HTTPClient:      d.httpClient,
		Subscriber:      d.vapid.Subject,
		VAPIDPublicKey:  d.vapid.PublicKey,
		VAPIDPrivateKey: d.vapid.PrivateKey,
		TTL:             d.ttl,
	})
	if err != nil {
		return OutcomeTransportFailure, fmt.Errorf("プッシュ通知の送信に失敗しました: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	outcome := ClassifyStatus(resp.StatusCode)
	if outcome == OutcomeTransportFailure {
		return outcome, fmt.Errorf("プッシュサービスがステータス %d を返しました", resp.StatusCode)
	}
	return outcome, nil
}

// ClassifyStatus はプッシュサービスのHTTPステータスを配信結果に分類する。
// 404/410は購読消滅として扱う（RFC 8030ではプッシュリソース消滅は404、
// 一部の実装は410を返す）。
func ClassifyStatus(statusCode int) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return OutcomeSuccess
	case statusCode == http.StatusNotFound, statusCode == http.StatusGone:
		return OutcomeGone
	default:
		return OutcomeTransportFailure
	}
}

// compile-time interface check
var _ Deliverer = (*WebPushDeliverer)(nil)
