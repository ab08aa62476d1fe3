package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/menteman/internal/model"
)

// PostgresPushRepo はPostgreSQLを使用したプッシュ購読リポジトリ。
type PostgresPushRepo struct {
	db *sql.DB
}

// NewPostgresPushRepo はPostgresPushRepoを生成する。
func NewPostgresPushRepo(db *sql.DB) *PostgresPushRepo {
	return &PostgresPushRepo{db: db}
}

// Create は購読を作成する。同一 (user_id, endpoint) の再登録は冪等に扱い、
// 鍵パラメータのみ更新する。
func (r *PostgresPushRepo) Create(ctx context.Context, sub *model.PushSubscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh_key, auth_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, endpoint) DO UPDATE SET
		    p256dh_key = EXCLUDED.p256dh_key,
		    auth_key = EXCLUDED.auth_key`,
		sub.ID, sub.UserID, sub.Endpoint, sub.P256dhKey, sub.AuthKey, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("プッシュ購読の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
func (r *PostgresPushRepo) FindByID(ctx context.Context, id string) (*model.PushSubscription, error) {
	sub := &model.PushSubscription{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, endpoint, p256dh_key, auth_key, created_at
		 FROM push_subscriptions WHERE id = $1`,
		id,
	).Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プッシュ購読の取得に失敗しました: %w", err)
	}

	return sub, nil
}

// ListByUserID はユーザーの購読一覧を登録順で返す。
func (r *PostgresPushRepo) ListByUserID(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, endpoint, p256dh_key, auth_key, created_at
		 FROM push_subscriptions
		 WHERE user_id = $1
		 ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("プッシュ購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.PushSubscription
	for rows.Next() {
		sub := &model.PushSubscription{}
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("プッシュ購読一覧の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プッシュ購読一覧の走査に失敗しました: %w", err)
	}

	return subs, nil
}

// CountByUserID はユーザーの購読数を返す。登録上限の判定に使用する。
func (r *PostgresPushRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM push_subscriptions WHERE user_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("プッシュ購読数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Delete は指定IDの購読を削除する。
func (r *PostgresPushRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("プッシュ購読の削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteByUserID はユーザーの全購読を削除する。
func (r *PostgresPushRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("ユーザープッシュ購読の削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PushSubscriptionRepository = (*PostgresPushRepo)(nil)
