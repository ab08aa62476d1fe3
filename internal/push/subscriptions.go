package push

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/menteman/internal/model"
	"github.com/hitoshi/menteman/internal/repository"
)

// EndpointValidator はプッシュエンドポイントURLの事前検証インターフェース。
// security.EndpointGuardServiceの部分集合として定義する。
type EndpointValidator interface {
	ValidateEndpoint(rawURL string) error
}

// SubscriptionService はプッシュ購読の登録・削除を管理する。
// 1ユーザーあたりの登録デバイス数に上限を設ける。
type SubscriptionService struct {
	repo       repository.PushSubscriptionRepository
	validator  EndpointValidator
	logger     *slog.Logger
	maxPerUser int
	now        func() time.Time
}

// NewSubscriptionService はSubscriptionServiceを生成する。
func NewSubscriptionService(
	repo repository.PushSubscriptionRepository,
	validator EndpointValidator,
	logger *slog.Logger,
	maxPerUser int,
) *SubscriptionService {
	return &SubscriptionService{
		repo:       repo,
		validator:  validator,
		logger:     logger,
		maxPerUser: maxPerUser,
		now:        time.Now,
	}
}

// Register はユーザーのプッシュ購読を登録する。
// エンドポイントはSSRF検証を通過したhttps URLのみ受け付ける。
// 同一 (user_id, endpoint) の再登録は鍵パラメータの更新として冪等に扱われる。
func (s *SubscriptionService) Register(ctx context.Context, userID, endpoint, p256dhKey, authKey string) (*model.PushSubscription, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, model.NewInvalidEndpointError("エンドポイントURLが空です")
	}
	if p256dhKey == "" || authKey == "" {
		return nil, model.NewInvalidEndpointError("暗号化鍵パラメータが不足しています")
	}

	if err := s.validator.ValidateEndpoint(endpoint); err != nil {
		s.logger.Warn("push endpoint rejected",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewEndpointBlockedError()
	}

	count, err := s.repo.CountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("購読数の取得に失敗しました: %w", err)
	}
	if count >= s.maxPerUser {
		return nil, model.NewSubscriptionLimitError(s.maxPerUser)
	}

	sub := &model.PushSubscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		Endpoint:  endpoint,
		P256dhKey: p256dhKey,
		AuthKey:   authKey,
		CreatedAt: s.now(),
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("購読の保存に失敗しました: %w", err)
	}

	s.logger.Info("push subscription registered",
		slog.String("user_id", userID),
		slog.String("subscription_id", sub.ID),
	)

	return sub, nil
}

// Remove はユーザー自身の購読を削除する。
// 他ユーザーの購読IDは存在しないものとして扱う。
func (s *SubscriptionService) Remove(ctx context.Context, userID, subscriptionID string) error {
	sub, err := s.repo.FindByID(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	if sub == nil || sub.UserID != userID {
		return model.NewSubscriptionNotFoundError(subscriptionID)
	}

	if err := s.repo.Delete(ctx, subscriptionID); err != nil {
		return fmt.Errorf("購読の削除に失敗しました: %w", err)
	}

	return nil
}

// ListForUser はユーザーの購読一覧を返す。
func (s *SubscriptionService) ListForUser(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
	subs, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	return subs, nil
}
