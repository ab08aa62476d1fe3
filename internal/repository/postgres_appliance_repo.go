package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/menteman/internal/model"
)

// PostgresApplianceRepo はPostgreSQLを使用した家電リポジトリ。
type PostgresApplianceRepo struct {
	db *sql.DB
}

// NewPostgresApplianceRepo はPostgresApplianceRepoを生成する。
func NewPostgresApplianceRepo(db *sql.DB) *PostgresApplianceRepo {
	return &PostgresApplianceRepo{db: db}
}

// Create は家電を作成する。
func (r *PostgresApplianceRepo) Create(ctx context.Context, appliance *model.Appliance) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO appliances (id, user_id, name, manufacturer, model_number,
		                         extraction_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		appliance.ID, appliance.UserID, appliance.Name,
		appliance.Manufacturer, appliance.ModelNumber,
		appliance.ExtractionID, appliance.CreatedAt, appliance.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("家電の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの家電を取得する。見つからない場合はnilを返す。
func (r *PostgresApplianceRepo) FindByID(ctx context.Context, id string) (*model.Appliance, error) {
	appliance := &model.Appliance{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, manufacturer, model_number,
		        extraction_id, created_at, updated_at
		 FROM appliances WHERE id = $1`,
		id,
	).Scan(
		&appliance.ID, &appliance.UserID, &appliance.Name,
		&appliance.Manufacturer, &appliance.ModelNumber,
		&appliance.ExtractionID, &appliance.CreatedAt, &appliance.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("家電の取得に失敗しました: %w", err)
	}

	return appliance, nil
}

// ListByUserID はユーザーの家電一覧を登録順で返す。
func (r *PostgresApplianceRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Appliance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, manufacturer, model_number,
		        extraction_id, created_at, updated_at
		 FROM appliances
		 WHERE user_id = $1
		 ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("家電一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var appliances []*model.Appliance
	for rows.Next() {
		appliance := &model.Appliance{}
		if err := rows.Scan(
			&appliance.ID, &appliance.UserID, &appliance.Name,
			&appliance.Manufacturer, &appliance.ModelNumber,
			&appliance.ExtractionID, &appliance.CreatedAt, &appliance.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("家電一覧の読み取りに失敗しました: %w", err)
		}
		appliances = append(appliances, appliance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("家電一覧の走査に失敗しました: %w", err)
	}

	return appliances, nil
}

// Delete は指定IDの家電を削除する。
// 紐づくmaintenance_schedulesは外部キーのCASCADEで削除される。
func (r *PostgresApplianceRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM appliances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("家電の削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteByUserID はユーザーの全家電を削除する。
func (r *PostgresApplianceRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM appliances WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("ユーザー家電の削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ApplianceRepository = (*PostgresApplianceRepo)(nil)
