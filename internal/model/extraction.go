// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/hitoshi/menteman/internal/recurrence"
)

// ExtractionStatus は取扱説明書抽出の状態を表す。
type ExtractionStatus string

const (
	// ExtractionStatusPending は抽出処理中の状態。
	ExtractionStatusPending ExtractionStatus = "pending"
	// ExtractionStatusReady は抽出完了・共有可能な状態。
	// Ready以降のレコードはイミュータブルとして扱う。
	ExtractionStatusReady ExtractionStatus = "ready"
	// ExtractionStatusFailed は抽出失敗状態。次回のGetOrCreateで再試行される。
	ExtractionStatusFailed ExtractionStatus = "failed"
)

// Category はメンテナンス項目の分類を表す。
type Category string

const (
	// CategoryCleaning は清掃作業。
	CategoryCleaning Category = "cleaning"
	// CategoryInspection は点検作業。
	CategoryInspection Category = "inspection"
	// CategoryReplacement は部品交換作業。
	CategoryReplacement Category = "replacement"
	// CategorySafety は安全確認作業。
	CategorySafety Category = "safety"
)

// ValidCategory はカテゴリが定義済みの値かどうかを返す。
func ValidCategory(c Category) bool {
	switch c {
	case CategoryCleaning, CategoryInspection, CategoryReplacement, CategorySafety:
		return true
	}
	return false
}

// Importance はメンテナンス項目の重要度を表す。
type Importance string

const (
	// ImportanceHigh は高重要度。
	ImportanceHigh Importance = "high"
	// ImportanceMedium は中重要度。
	ImportanceMedium Importance = "medium"
	// ImportanceLow は低重要度。
	ImportanceLow Importance = "low"
)

// ValidImportance は重要度が定義済みの値かどうかを返す。
func ValidImportance(i Importance) bool {
	switch i {
	case ImportanceHigh, ImportanceMedium, ImportanceLow:
		return true
	}
	return false
}

// importanceRank は重要度の序列（小さいほど優先）。通知の並び順で使用する。
var importanceRank = map[Importance]int{
	ImportanceHigh:   0,
	ImportanceMedium: 1,
	ImportanceLow:    2,
}

// Rank は重要度の序列を返す。未知の値は最低優先として扱う。
func (i Importance) Rank() int {
	if r, ok := importanceRank[i]; ok {
		return r
	}
	return len(importanceRank)
}

// MaintenanceItemTemplate は取扱説明書から抽出された1つのメンテナンス
// 項目テンプレート。Ready抽出の一部として全所有者に読み取り共有される。
type MaintenanceItemTemplate struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    Category        `json:"category"`
	Importance  Importance      `json:"importance"`
	Rule        recurrence.Rule `json:"rule"`
	SourcePage  *int            `json:"source_page,omitempty"`
}

// ManualExtraction は1冊の取扱説明書に対する抽出結果を表す。
// (manufacturer, model_number) をコンテンツアドレスとして一意であり、
// 同一機種の全所有者で1レコードを共有する。
type ManualExtraction struct {
	ID           string
	Manufacturer string
	ModelNumber  string
	Status       ExtractionStatus
	Items        []MaintenanceItemTemplate
	// DefectCount はスキーマ検証で破棄された不正項目の件数。
	DefectCount  int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
