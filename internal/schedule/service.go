// Package schedule はメンテナンス予定のマテリアライズ・完了・上書きを提供する。
// 共有抽出テンプレートからユーザー別の予定行を生成し、周期ルールに
// 基づいて次回期日を管理する。
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/menteman/internal/model"
	"github.com/hitoshi/menteman/internal/recurrence"
	"github.com/hitoshi/menteman/internal/repository"
)

// Service はメンテナンス予定のドメインサービス。
type Service struct {
	scheduleRepo repository.ScheduleRepository
	logger       *slog.Logger
	now          func() time.Time // テスト用に差し替え可能
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(scheduleRepo repository.ScheduleRepository, logger *slog.Logger) *Service {
	return &Service{
		scheduleRepo: scheduleRepo,
		logger:       logger,
		now:          time.Now,
	}
}

// MaterializeFor は家電の抽出テンプレートからユーザー別の予定行を生成する。
// 初回期日はマテリアライズ時点から1周期後。未アンカーのMonthly/Yearly
// ルールは初回期日で固定する。不定期項目は期日なしで生成される。
// (user_id, appliance_id, item_index) 単位で冪等であり、既存行は変更しない。
// 生成した件数を返す。
func (s *Service) MaterializeFor(ctx context.Context, appliance *model.Appliance, items []model.MaintenanceItemTemplate) (int, error) {
	now := s.now()
	created := 0

	for i, item := range items {
		rule := item.Rule
		var nextDue *time.Time
		if rule.Advanceable() {
			first, err := rule.Advance(now)
			if err != nil {
				return created, fmt.Errorf("初回期日の計算に失敗しました: %w", err)
			}
			rule = rule.AnchorTo(first)
			nextDue = &first
		}

		sched := &model.MaintenanceSchedule{
			ID:          uuid.NewString(),
			UserID:      appliance.UserID,
			ApplianceID: appliance.ID,
			ItemIndex:   i,
			ItemName:    item.Name,
			Category:    item.Category,
			Importance:  item.Importance,
			Rule:        rule,
			NextDueAt:   nextDue,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		inserted, err := s.scheduleRepo.CreateIfAbsent(ctx, sched)
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}

	if created > 0 {
		s.logger.Info("メンテナンス予定を生成しました",
			slog.String("user_id", appliance.UserID),
			slog.String("appliance_id", appliance.ID),
			slog.Int("created", created),
			slog.Int("item_count", len(items)),
		)
	}

	return created, nil
}

// Complete は予定を完了として記録し、次回期日を完了時点から1周期進める。
// 上書きルールが設定されていればそれを使用する。不定期予定の完了は
// 期日をクリアする（次回は手動設定まで発火しない）。
func (s *Service) Complete(ctx context.Context, userID, scheduleID string, completedAt time.Time) (*model.MaintenanceSchedule, error) {
	sched, err := s.findOwned(ctx, userID, scheduleID)
	if err != nil {
		return nil, err
	}

	rule := sched.EffectiveRule()
	if rule.Advanceable() {
		next, err := rule.Advance(completedAt)
		if err != nil {
			return nil, fmt.Errorf("次回期日の計算に失敗しました: %w", err)
		}
		sched.NextDueAt = &next
	} else {
		sched.NextDueAt = nil
	}

	sched.LastCompletedAt = &completedAt
	sched.UpdatedAt = s.now()

	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return nil, err
	}

	s.logger.Info("メンテナンスを完了しました",
		slog.String("schedule_id", sched.ID),
		slog.String("user_id", userID),
		slog.String("item_name", sched.ItemName),
	)

	return sched, nil
}

// SetOverride はユーザーの周期上書きルールを設定し、次回期日を再計算する。
// 再計算の基準は最終完了日時（未完了なら現在時刻）。overrideにnilを渡すと
// 上書きを解除し、テンプレート既定ルールで再計算する。
func (s *Service) SetOverride(ctx context.Context, userID, scheduleID string, override *recurrence.Rule) (*model.MaintenanceSchedule, error) {
	sched, err := s.findOwned(ctx, userID, scheduleID)
	if err != nil {
		return nil, err
	}

	sched.IntervalOverride = override

	base := s.now()
	if sched.LastCompletedAt != nil {
		base = *sched.LastCompletedAt
	}

	rule := sched.EffectiveRule()
	if rule.Advanceable() {
		next, err := rule.Advance(base)
		if err != nil {
			return nil, fmt.Errorf("次回期日の計算に失敗しました: %w", err)
		}
		sched.NextDueAt = &next
	} else {
		sched.NextDueAt = nil
	}

	sched.UpdatedAt = s.now()

	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return nil, err
	}

	return sched, nil
}

// SetNextDue は次回期日を明示的に設定する。不定期予定に期日を与える
// 手段でもある。過去日時は受け付けない。
func (s *Service) SetNextDue(ctx context.Context, userID, scheduleID string, due time.Time) (*model.MaintenanceSchedule, error) {
	if due.Before(s.now()) {
		return nil, model.NewInvalidOverrideError("期日には未来の日時を指定してください")
	}

	sched, err := s.findOwned(ctx, userID, scheduleID)
	if err != nil {
		return nil, err
	}

	sched.NextDueAt = &due
	sched.UpdatedAt = s.now()

	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return nil, err
	}

	return sched, nil
}

// ListForUser はユーザーの予定一覧を期日昇順で返す。
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*model.MaintenanceSchedule, error) {
	return s.scheduleRepo.ListByUserID(ctx, userID)
}

// findOwned は予定を取得し、所有者を検証する。
// 他ユーザーの予定は存在しないものとして扱う。
func (s *Service) findOwned(ctx context.Context, userID, scheduleID string) (*model.MaintenanceSchedule, error) {
	sched, err := s.scheduleRepo.FindByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched == nil || sched.UserID != userID {
		return nil, model.NewScheduleNotFoundError(scheduleID)
	}
	return sched, nil
}
