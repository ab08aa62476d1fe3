// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, extraction, schedule, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeExtractionFailed     = "EXTRACTION_FAILED"
	ErrCodeInvalidEndpoint      = "INVALID_ENDPOINT"
	ErrCodeEndpointBlocked      = "ENDPOINT_BLOCKED"
	ErrCodeSubscriptionLimit    = "SUBSCRIPTION_LIMIT"
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeScheduleNotFound     = "SCHEDULE_NOT_FOUND"
	ErrCodeApplianceNotFound    = "APPLIANCE_NOT_FOUND"
	ErrCodeInvalidOverride      = "INVALID_OVERRIDE"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
)

// NewExtractionFailedError は抽出失敗エラーを生成する。
// 抽出は次回の登録リクエストで最初から再試行される。
func NewExtractionFailedError(manufacturer, modelNumber string) *APIError {
	return &APIError{
		Code:     ErrCodeExtractionFailed,
		Message:  fmt.Sprintf("取扱説明書からのメンテナンス項目の抽出に失敗しました: %s %s", manufacturer, modelNumber),
		Category: "extraction",
		Action:   "しばらく待ってから、もう一度家電を登録してください。",
	}
}

// NewInvalidEndpointError は不正な通知エンドポイントエラーを生成する。
func NewInvalidEndpointError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEndpoint,
		Message:  fmt.Sprintf("無効な通知エンドポイントです: %s", reason),
		Category: "validation",
		Action:   "ブラウザのプッシュ購読情報をそのまま送信してください。",
	}
}

// NewEndpointBlockedError はセキュリティポリシーによるブロックエラーを生成する。
func NewEndpointBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeEndpointBlocked,
		Message:  "セキュリティポリシーにより、指定された通知エンドポイントへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているプッシュ配信サービスのエンドポイントのみ登録できます。",
	}
}

// NewSubscriptionLimitError はデバイス登録上限エラーを生成する。
func NewSubscriptionLimitError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionLimit,
		Message:  fmt.Sprintf("通知デバイスの登録数が上限（%d件）に達しています。", limit),
		Category: "validation",
		Action:   "使用していないデバイスの登録を解除してから、再度お試しください。",
	}
}

// NewSubscriptionNotFoundError は購読未検出エラーを生成する。
func NewSubscriptionNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("指定された通知購読が見つかりません: %s", id),
		Category: "validation",
		Action:   "購読IDを確認してください。",
	}
}

// NewScheduleNotFoundError はスケジュール未検出エラーを生成する。
func NewScheduleNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeScheduleNotFound,
		Message:  fmt.Sprintf("指定されたメンテナンス予定が見つかりません: %s", id),
		Category: "schedule",
		Action:   "予定IDを確認してください。",
	}
}

// NewApplianceNotFoundError は家電未検出エラーを生成する。
func NewApplianceNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeApplianceNotFound,
		Message:  fmt.Sprintf("指定された家電が見つかりません: %s", id),
		Category: "schedule",
		Action:   "家電IDを確認してください。",
	}
}

// NewInvalidOverrideError は不正な周期上書きエラーを生成する。
func NewInvalidOverrideError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOverride,
		Message:  fmt.Sprintf("無効な周期設定です: %s", reason),
		Category: "validation",
		Action:   "周期（daily/weekly/monthly/yearly か日数）または期日のどちらか一方を指定してください。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}
