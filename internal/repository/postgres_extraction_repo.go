package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/menteman/internal/model"
)

// PostgresExtractionRepo はPostgreSQLを使用した抽出レコードリポジトリ。
type PostgresExtractionRepo struct {
	db *sql.DB
}

// NewPostgresExtractionRepo はPostgresExtractionRepoを生成する。
func NewPostgresExtractionRepo(db *sql.DB) *PostgresExtractionRepo {
	return &PostgresExtractionRepo{db: db}
}

// FindByKey は (manufacturer, model_number) で抽出レコードを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresExtractionRepo) FindByKey(ctx context.Context, manufacturer, modelNumber string) (*model.ManualExtraction, error) {
	extraction := &model.ManualExtraction{}
	var itemsJSON []byte
	var errorMessage sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, manufacturer, model_number, status, items, defect_count,
		        error_message, created_at, updated_at
		 FROM manual_extractions
		 WHERE manufacturer = $1 AND model_number = $2`,
		manufacturer, modelNumber,
	).Scan(
		&extraction.ID, &extraction.Manufacturer, &extraction.ModelNumber,
		&extraction.Status, &itemsJSON, &extraction.DefectCount,
		&errorMessage, &extraction.CreatedAt, &extraction.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("抽出レコードの取得に失敗しました: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &extraction.Items); err != nil {
		return nil, fmt.Errorf("抽出項目の読み取りに失敗しました: %w", err)
	}
	extraction.ErrorMessage = nullStringValue(errorMessage)

	return extraction, nil
}

// Upsert は抽出レコードをキーで冪等にUPSERTする。
// 同一キーのレコードが存在する場合は状態・項目・不正件数を上書きする。
func (r *PostgresExtractionRepo) Upsert(ctx context.Context, extraction *model.ManualExtraction) error {
	items := extraction.Items
	if items == nil {
		items = []model.MaintenanceItemTemplate{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("抽出項目のエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO manual_extractions (id, manufacturer, model_number, status, items,
		                                 defect_count, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (manufacturer, model_number) DO UPDATE SET
		    status = EXCLUDED.status,
		    items = EXCLUDED.items,
		    defect_count = EXCLUDED.defect_count,
		    error_message = EXCLUDED.error_message,
		    updated_at = EXCLUDED.updated_at`,
		extraction.ID, extraction.Manufacturer, extraction.ModelNumber,
		extraction.Status, itemsJSON, extraction.DefectCount,
		nullString(extraction.ErrorMessage), extraction.CreatedAt, extraction.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("抽出レコードの保存に失敗しました: %w", err)
	}
	return nil
}

// DeleteFailedBefore は指定時刻より前に失敗した抽出レコードを削除する。
// 家電から参照されているレコードは残す。削除件数を返す。
func (r *PostgresExtractionRepo) DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM manual_extractions
		 WHERE status = 'failed'
		   AND updated_at < $1
		   AND NOT EXISTS (
		       SELECT 1 FROM appliances a WHERE a.extraction_id = manual_extractions.id
		   )`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("失敗抽出レコードの削除に失敗しました: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ ExtractionRepository = (*PostgresExtractionRepo)(nil)
