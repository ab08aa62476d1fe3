package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/menteman/internal/model"
	"github.com/hitoshi/menteman/internal/recurrence"
)

// PostgresScheduleRepo はPostgreSQLを使用したメンテナンス予定リポジトリ。
type PostgresScheduleRepo struct {
	db *sql.DB
}

// NewPostgresScheduleRepo はPostgresScheduleRepoを生成する。
func NewPostgresScheduleRepo(db *sql.DB) *PostgresScheduleRepo {
	return &PostgresScheduleRepo{db: db}
}

// scheduleColumns は予定クエリの共通SELECT列。
const scheduleColumns = `id, user_id, appliance_id, item_index, item_name,
	        category, importance, rule, interval_override,
	        next_due_at, last_completed_at, created_at, updated_at`

// CreateIfAbsent は (user_id, appliance_id, item_index) が未登録の場合のみ
// 予定を作成する。作成した場合はtrueを返す。
func (r *PostgresScheduleRepo) CreateIfAbsent(ctx context.Context, schedule *model.MaintenanceSchedule) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO maintenance_schedules
		    (id, user_id, appliance_id, item_index, item_name,
		     category, importance, rule, interval_override,
		     next_due_at, last_completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (user_id, appliance_id, item_index) DO NOTHING`,
		schedule.ID, schedule.UserID, schedule.ApplianceID,
		schedule.ItemIndex, schedule.ItemName,
		schedule.Category, schedule.Importance,
		schedule.Rule.Encode(), encodeOverride(schedule.IntervalOverride),
		nullTime(schedule.NextDueAt), nullTime(schedule.LastCompletedAt),
		schedule.CreatedAt, schedule.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("予定の作成に失敗しました: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("予定作成件数の取得に失敗しました: %w", err)
	}
	return count > 0, nil
}

// FindByID は指定IDの予定を取得する。見つからない場合はnilを返す。
func (r *PostgresScheduleRepo) FindByID(ctx context.Context, id string) (*model.MaintenanceSchedule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+`
		 FROM maintenance_schedules WHERE id = $1`,
		id,
	)

	schedule, err := scanSchedule(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("予定の取得に失敗しました: %w", err)
	}
	return schedule, nil
}

// ListByUserID はユーザーの予定一覧をnext_due_at昇順（NULLは末尾）で返す。
func (r *PostgresScheduleRepo) ListByUserID(ctx context.Context, userID string) ([]*model.MaintenanceSchedule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+`
		 FROM maintenance_schedules
		 WHERE user_id = $1
		 ORDER BY next_due_at ASC NULLS LAST, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("予定一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectSchedules(rows)
}

// Update は予定の期日・上書きルール・完了日時を更新する。
func (r *PostgresScheduleRepo) Update(ctx context.Context, schedule *model.MaintenanceSchedule) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE maintenance_schedules SET
		    interval_override = $2,
		    next_due_at = $3,
		    last_completed_at = $4,
		    updated_at = $5
		 WHERE id = $1`,
		schedule.ID, encodeOverride(schedule.IntervalOverride),
		nullTime(schedule.NextDueAt), nullTime(schedule.LastCompletedAt),
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("予定の更新に失敗しました: %w", err)
	}
	return nil
}

// DueBefore はnext_due_atがcutoff以前の予定をnext_due_at昇順
// （同時刻はID昇順）で返す。ディスパッチサイクルの選択クエリ。
func (r *PostgresScheduleRepo) DueBefore(ctx context.Context, cutoff time.Time) ([]*model.MaintenanceSchedule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+`
		 FROM maintenance_schedules
		 WHERE next_due_at IS NOT NULL AND next_due_at <= $1
		 ORDER BY next_due_at ASC, id ASC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("期日到来予定の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectSchedules(rows)
}

// AdvanceIfDueAt はnext_due_atが選択時の値prevDueのままである場合のみ
// nextへ進める。進めた場合はtrueを返す。並行サイクルによる二重進行を防ぐ。
func (r *PostgresScheduleRepo) AdvanceIfDueAt(ctx context.Context, id string, prevDue time.Time, next *time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE maintenance_schedules SET
		    next_due_at = $3,
		    updated_at = now()
		 WHERE id = $1 AND next_due_at = $2`,
		id, prevDue, nullTime(next),
	)
	if err != nil {
		return false, fmt.Errorf("期日の進行に失敗しました: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("期日進行件数の取得に失敗しました: %w", err)
	}
	return count > 0, nil
}

// scanSchedule は1行分の予定を読み取る。
func scanSchedule(scan func(dest ...any) error) (*model.MaintenanceSchedule, error) {
	schedule := &model.MaintenanceSchedule{}
	var ruleText string
	var overrideText sql.NullString
	var nextDueAt, lastCompletedAt sql.NullTime

	if err := scan(
		&schedule.ID, &schedule.UserID, &schedule.ApplianceID,
		&schedule.ItemIndex, &schedule.ItemName,
		&schedule.Category, &schedule.Importance,
		&ruleText, &overrideText,
		&nextDueAt, &lastCompletedAt,
		&schedule.CreatedAt, &schedule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule, err := recurrence.Decode(ruleText)
	if err != nil {
		return nil, fmt.Errorf("周期ルールの読み取りに失敗しました: %w", err)
	}
	schedule.Rule = rule

	if overrideText.Valid {
		override, err := recurrence.Decode(overrideText.String)
		if err != nil {
			return nil, fmt.Errorf("上書きルールの読み取りに失敗しました: %w", err)
		}
		schedule.IntervalOverride = &override
	}

	schedule.NextDueAt = nullTimeValue(nextDueAt)
	schedule.LastCompletedAt = nullTimeValue(lastCompletedAt)

	return schedule, nil
}

// collectSchedules は複数行の予定を読み取る。
func collectSchedules(rows *sql.Rows) ([]*model.MaintenanceSchedule, error) {
	var schedules []*model.MaintenanceSchedule
	for rows.Next() {
		schedule, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("予定の読み取りに失敗しました: %w", err)
		}
		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("予定の走査に失敗しました: %w", err)
	}
	return schedules, nil
}

// encodeOverride は上書きルールをnullableのテキスト表現に変換する。
func encodeOverride(override *recurrence.Rule) sql.NullString {
	if override == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: override.Encode(), Valid: true}
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullTimeValue はsql.NullTimeから*time.Timeを取得する。
func nullTimeValue(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// compile-time interface check
var _ ScheduleRepository = (*PostgresScheduleRepo)(nil)
