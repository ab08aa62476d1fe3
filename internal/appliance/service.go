// Package appliance は家電の登録・削除とメンテナンス予定の紐付けを提供する。
package appliance

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/menteman/internal/extraction"
	"github.com/hitoshi/menteman/internal/model"
	"github.com/hitoshi/menteman/internal/repository"
)

// ExtractionCache は抽出共有キャッシュのインターフェース。
type ExtractionCache interface {
	GetOrCreate(ctx context.Context, manufacturer, modelNumber string) (*model.ManualExtraction, error)
}

// ScheduleMaterializer は予定マテリアライズのインターフェース。
type ScheduleMaterializer interface {
	MaterializeFor(ctx context.Context, appliance *model.Appliance, items []model.MaintenanceItemTemplate) (int, error)
}

// Service は家電のドメインサービス。
// 登録時に抽出キャッシュを参照し、テンプレートからユーザー別の
// メンテナンス予定を生成する。
type Service struct {
	applianceRepo repository.ApplianceRepository
	cache         ExtractionCache
	materializer  ScheduleMaterializer
	logger        *slog.Logger
	now           func() time.Time // テスト用に差し替え可能
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	applianceRepo repository.ApplianceRepository,
	cache ExtractionCache,
	materializer ScheduleMaterializer,
	logger *slog.Logger,
) *Service {
	return &Service{
		applianceRepo: applianceRepo,
		cache:         cache,
		materializer:  materializer,
		logger:        logger,
		now:           time.Now,
	}
}

// Register は家電を登録し、取説抽出とメンテナンス予定の生成まで行う。
// 抽出に失敗した場合は家電行を作成せずEXTRACTION_FAILEDを返す
// （次回の登録リクエストで最初から再試行される）。
// 同一機種の2人目以降の登録は既存のReady抽出を共有し、抽出は走らない。
func (s *Service) Register(ctx context.Context, userID, name, manufacturer, modelNumber string) (*model.Appliance, error) {
	manufacturer = strings.TrimSpace(manufacturer)
	modelNumber = strings.TrimSpace(modelNumber)
	if manufacturer == "" || modelNumber == "" {
		return nil, model.NewInvalidRequestError("メーカー名と型番は必須です")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = manufacturer + " " + modelNumber
	}

	ext, err := s.cache.GetOrCreate(ctx, manufacturer, modelNumber)
	if err != nil {
		if errors.Is(err, extraction.ErrExtractionFailed) {
			return nil, model.NewExtractionFailedError(manufacturer, modelNumber)
		}
		return nil, err
	}

	now := s.now()
	appliance := &model.Appliance{
		ID:           uuid.NewString(),
		UserID:       userID,
		Name:         name,
		Manufacturer: manufacturer,
		ModelNumber:  modelNumber,
		ExtractionID: ext.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.applianceRepo.Create(ctx, appliance); err != nil {
		return nil, err
	}

	if _, err := s.materializer.MaterializeFor(ctx, appliance, ext.Items); err != nil {
		return nil, err
	}

	s.logger.Info("家電を登録しました",
		slog.String("appliance_id", appliance.ID),
		slog.String("user_id", userID),
		slog.String("manufacturer", manufacturer),
		slog.String("model_number", modelNumber),
		slog.Int("item_count", len(ext.Items)),
	)

	return appliance, nil
}

// Remove は家電を削除する。紐づくメンテナンス予定も削除される。
// 共有抽出レコードは他の所有者のために保持する。
func (s *Service) Remove(ctx context.Context, userID, applianceID string) error {
	appliance, err := s.findOwned(ctx, userID, applianceID)
	if err != nil {
		return err
	}

	if err := s.applianceRepo.Delete(ctx, appliance.ID); err != nil {
		return err
	}

	s.logger.Info("家電を削除しました",
		slog.String("appliance_id", appliance.ID),
		slog.String("user_id", userID),
	)

	return nil
}

// ListForUser はユーザーの家電一覧を返す。
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*model.Appliance, error) {
	return s.applianceRepo.ListByUserID(ctx, userID)
}

// findOwned は家電を取得し、所有者を検証する。
// 他ユーザーの家電は存在しないものとして扱う。
func (s *Service) findOwned(ctx context.Context, userID, applianceID string) (*model.Appliance, error) {
	appliance, err := s.applianceRepo.FindByID(ctx, applianceID)
	if err != nil {
		return nil, err
	}
	if appliance == nil || appliance.UserID != userID {
		return nil, model.NewApplianceNotFoundError(applianceID)
	}
	return appliance, nil
}
