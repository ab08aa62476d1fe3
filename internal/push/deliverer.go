// Package push はWeb Pushによるリマインダー通知の配信を提供する。
package push

import (
	"context"

	"github.com/hitoshi/menteman/internal/model"
)

// Outcome は1件の配信試行の結果分類。
type Outcome int

const (
	// OutcomeSuccess は配信成功（2xx受理）。
	OutcomeSuccess Outcome = iota
	// OutcomeTransportFailure は一時的な配信失敗。購読は維持される。
	OutcomeTransportFailure
	// OutcomeGone は配信先の購読消滅（404/410）。購読は削除対象になる。
	OutcomeGone
)

// String はOutcomeのログ用表現を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransportFailure:
		return "transport_failure"
	case OutcomeGone:
		return "gone"
	default:
		return "unknown"
	}
}

// Deliverer は1購読への通知配信のインターフェース。
// ディスパッチャーから使用される。
type Deliverer interface {
	// Deliver はpayloadを購読先に配信し、結果分類を返す。
	// errはOutcomeTransportFailure時の詳細で、分類自体はOutcomeが正となる。
	Deliver(ctx context.Context, sub *model.PushSubscription, payload []byte) (Outcome, error)
}
