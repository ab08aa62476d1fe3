// Package account はアカウント削除時のユーザーデータ破棄を提供する。
package account

import (
	"context"
	"log/slog"

	"github.com/hitoshi/menteman/internal/repository"
)

// Service はユーザーデータ破棄のドメインサービス。
// 認証基盤（BFF）側でアカウントが削除された際に呼び出され、
// このサービスが保持するユーザー紐付きデータを全て削除する。
type Service struct {
	applianceRepo repository.ApplianceRepository
	pushRepo      repository.PushSubscriptionRepository
	logger        *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	applianceRepo repository.ApplianceRepository,
	pushRepo repository.PushSubscriptionRepository,
	logger *slog.Logger,
) *Service {
	return &Service{
		applianceRepo: applianceRepo,
		pushRepo:      pushRepo,
		logger:        logger,
	}
}

// PurgeUser はユーザーの全家電と全プッシュ購読を削除する。
// 家電に紐づくメンテナンス予定はCASCADE削除される。
// 共有抽出レコードは他の所有者のために保持する。
func (s *Service) PurgeUser(ctx context.Context, userID string) error {
	if err := s.applianceRepo.DeleteByUserID(ctx, userID); err != nil {
		return err
	}
	if err := s.pushRepo.DeleteByUserID(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("ユーザーデータを削除しました",
		slog.String("user_id", userID),
	)

	return nil
}
