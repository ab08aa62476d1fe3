// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/menteman/internal/model"
)

// ExtractionRepository は取説抽出レコードの永続化インターフェース。
type ExtractionRepository interface {
	// FindByKey は (manufacturer, model_number) で抽出レコードを検索する。
	// 見つからない場合はnilを返す。
	FindByKey(ctx context.Context, manufacturer, modelNumber string) (*model.ManualExtraction, error)

	// Upsert は抽出レコードをキーで冪等にUPSERTする。
	// 同一キーのレコードが存在する場合は状態・項目・不正件数を上書きする。
	Upsert(ctx context.Context, extraction *model.ManualExtraction) error

	// DeleteFailedBefore は指定時刻より前に失敗した抽出レコードを削除する。
	// クリーンアップジョブから使用される。削除件数を返す。
	DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ApplianceRepository は家電レコードの永続化インターフェース。
type ApplianceRepository interface {
	// Create は家電を作成する。
	Create(ctx context.Context, appliance *model.Appliance) error

	// FindByID は指定IDの家電を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Appliance, error)

	// ListByUserID はユーザーの家電一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Appliance, error)

	// Delete は指定IDの家電を削除する。
	// 関連するmaintenance_schedulesはCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// DeleteByUserID はユーザーの全家電を削除する（アカウント削除時）。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ScheduleRepository はメンテナンス予定の永続化インターフェース。
type ScheduleRepository interface {
	// CreateIfAbsent は (user_id, appliance_id, item_index) が未登録の場合のみ
	// 予定を作成する。作成した場合はtrueを返す（冪等マテリアライズ用）。
	CreateIfAbsent(ctx context.Context, schedule *model.MaintenanceSchedule) (bool, error)

	// FindByID は指定IDの予定を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.MaintenanceSchedule, error)

	// ListByUserID はユーザーの予定一覧をnext_due_at昇順（NULLは末尾）で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.MaintenanceSchedule, error)

	// Update は予定の期日・上書きルール・完了日時を更新する。
	Update(ctx context.Context, schedule *model.MaintenanceSchedule) error

	// DueBefore はnext_due_atがcutoff以前の予定をnext_due_at昇順
	// （同時刻はID昇順）で返す。ディスパッチャーの選択クエリ。
	DueBefore(ctx context.Context, cutoff time.Time) ([]*model.MaintenanceSchedule, error)

	// AdvanceIfDueAt はnext_due_atが選択時の値prevDueのままである場合のみ
	// nextへ進める（楽観的条件付き更新）。進めた場合はtrueを返す。
	// 並行するディスパッチサイクルが同じ期日を二重に進めることを防ぐ。
	AdvanceIfDueAt(ctx context.Context, id string, prevDue time.Time, next *time.Time) (bool, error)
}

// PushSubscriptionRepository はプッシュ購読の永続化インターフェース。
type PushSubscriptionRepository interface {
	// Create は購読を作成する。同一 (user_id, endpoint) は冪等に扱い、
	// 既存レコードの鍵パラメータを更新する。
	Create(ctx context.Context, sub *model.PushSubscription) error

	// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.PushSubscription, error)

	// ListByUserID はユーザーの購読一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.PushSubscription, error)

	// CountByUserID はユーザーの購読数を返す。
	CountByUserID(ctx context.Context, userID string) (int, error)

	// Delete は指定IDの購読を削除する。
	// 配信先消滅（410相当）時のディスパッチャーによる自動削除でも使用される。
	Delete(ctx context.Context, id string) error

	// DeleteByUserID はユーザーの全購読を削除する（アカウント削除時）。
	DeleteByUserID(ctx context.Context, userID string) error
}
