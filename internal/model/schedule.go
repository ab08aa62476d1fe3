package model

import (
	"time"

	"github.com/hitoshi/menteman/internal/recurrence"
)

// Appliance はユーザーが登録した家電を表す。
// 取扱説明書は (manufacturer, model_number) で抽出レコードに紐づく。
type Appliance struct {
	ID           string
	UserID       string
	Name         string
	Manufacturer string
	ModelNumber  string
	ExtractionID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MaintenanceSchedule は1ユーザー・1家電のメンテナンス予定を表す。
// 共有テンプレートをitem_indexで参照し、期日とユーザー上書きを保持する。
// NextDueAtは常に「次の未発火の期日」であり、ディスパッチ済みの過去期日を
// 指すことはない。nilは定期予定なし（不定期で期日未設定）を意味する。
type MaintenanceSchedule struct {
	ID          string
	UserID      string
	ApplianceID string
	// ItemIndex は抽出テンプレートリスト内の安定インデックス。
	ItemIndex int
	// ItemName / Category / Importance はテンプレートからの非正規化コピー。
	// 通知レンダリングでJSONB参照を避けるために保持する。
	ItemName   string
	Category   Category
	Importance Importance
	// Rule はテンプレート由来の既定ルール（初回期日でアンカー済み）。
	Rule recurrence.Rule
	// IntervalOverride はユーザーが設定した上書きルール。
	// 設定されている場合、以後の期日進行で常に既定ルールより優先される。
	IntervalOverride *recurrence.Rule
	NextDueAt        *time.Time
	LastCompletedAt  *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EffectiveRule は期日進行に使用するルールを返す。
// ユーザー上書きがあればそれを、なければテンプレート既定を使用する。
func (s *MaintenanceSchedule) EffectiveRule() recurrence.Rule {
	if s.IntervalOverride != nil {
		return *s.IntervalOverride
	}
	return s.Rule
}
