package extraction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/menteman/internal/model"
	"github.com/hitoshi/menteman/internal/repository"
)

// ErrExtractionFailed は抽出の実行が失敗したことを示す。
// 同一キーの同時要求者全員が同じエラーを受け取る。
var ErrExtractionFailed = errors.New("取扱説明書の抽出に失敗しました")

// Extractor は抽出サービス呼び出しのインターフェース。
type Extractor interface {
	Extract(ctx context.Context, manufacturer, modelNumber string) ([]RawItem, error)
}

// MetricsRecorder は抽出メトリクス記録のインターフェース。
type MetricsRecorder interface {
	RecordExtractionSuccess()
	RecordExtractionFailure()
	RecordValidationDefects(count int)
}

// Cache は抽出結果の共有キャッシュ。
// (manufacturer, model_number) をキーとして抽出を1回だけ実行し、
// Readyレコードを全所有者に共有する。同一キーの同時要求は
// single-flightで1回の抽出に合流する。
type Cache struct {
	repo      repository.ExtractionRepository
	extractor Extractor
	validator *Validator
	metrics   MetricsRecorder
	logger    *slog.Logger
	timeout   time.Duration
	group     singleflight.Group
}

// NewCache はCacheの新しいインスタンスを生成する。
// timeoutは1回の抽出実行に適用される上限時間。
func NewCache(
	repo repository.ExtractionRepository,
	extractor Extractor,
	metrics MetricsRecorder,
	logger *slog.Logger,
	timeout time.Duration,
) *Cache {
	return &Cache{
		repo:      repo,
		extractor: extractor,
		validator: NewValidator(),
		metrics:   metrics,
		logger:    logger,
		timeout:   timeout,
	}
}

// GetOrCreate は指定機種の抽出レコードを取得し、なければ抽出を実行する。
//   - Readyレコードが存在する場合はそのまま返す（抽出は実行しない）。
//   - PendingまたはFailedレコードは前回実行の残骸として扱い、再抽出する。
//   - 抽出失敗時はFailedレコードとErrExtractionFailedを返す。
//
// 同一キーの並行呼び出しは1回の抽出に合流し、全員が同じ結果を受け取る。
func (c *Cache) GetOrCreate(ctx context.Context, manufacturer, modelNumber string) (*model.ManualExtraction, error) {
	existing, err := c.repo.FindByKey(ctx, manufacturer, modelNumber)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == model.ExtractionStatusReady {
		return existing, nil
	}

	key := manufacturer + "\x00" + modelNumber
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.runExtraction(ctx, manufacturer, modelNumber)
	})
	if err != nil {
		return nil, err
	}

	extraction := v.(*model.ManualExtraction)
	if extraction.Status == model.ExtractionStatusFailed {
		return extraction, ErrExtractionFailed
	}
	return extraction, nil
}

// runExtraction は1回分の抽出を実行し、結果レコードを保存して返す。
// single-flightの内側で実行される。抽出自体の失敗はFailedレコードとして
// 返し（エラーにしない）、リポジトリ障害のみをエラーとして返す。
func (c *Cache) runExtraction(ctx context.Context, manufacturer, modelNumber string) (*model.ManualExtraction, error) {
	// 合流待ちの間に別の実行が完了している場合がある
	existing, err := c.repo.FindByKey(ctx, manufacturer, modelNumber)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == model.ExtractionStatusReady {
		return existing, nil
	}

	now := time.Now()
	extraction := &model.ManualExtraction{
		ID:           uuid.NewString(),
		Manufacturer: manufacturer,
		ModelNumber:  modelNumber,
		Status:       model.ExtractionStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing != nil {
		// 前回実行のレコードを引き継ぐ（IDは家電から参照されうる）
		extraction.ID = existing.ID
		extraction.CreatedAt = existing.CreatedAt
	}

	if err := c.repo.Upsert(ctx, extraction); err != nil {
		return nil, err
	}

	extractCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, extractErr := c.extractor.Extract(extractCtx, manufacturer, modelNumber)
	if extractErr != nil {
		c.logger.Error("取扱説明書の抽出に失敗しました",
			slog.String("manufacturer", manufacturer),
			slog.String("model_number", modelNumber),
			slog.String("error", extractErr.Error()),
		)
		c.metrics.RecordExtractionFailure()

		extraction.Status = model.ExtractionStatusFailed
		extraction.ErrorMessage = extractErr.Error()
		extraction.UpdatedAt = time.Now()
		if err := c.repo.Upsert(ctx, extraction); err != nil {
			return nil, err
		}
		return extraction, nil
	}

	items, defects := c.validator.Validate(raw)
	if defects > 0 {
		c.logger.Warn("スキーマ検証で不正項目を破棄しました",
			slog.String("manufacturer", manufacturer),
			slog.String("model_number", modelNumber),
			slog.Int("defect_count", defects),
		)
		c.metrics.RecordValidationDefects(defects)
	}

	// 有効な項目が1件もない抽出は成功として扱えない。
	// Failedで保存し、次回のGetOrCreateで再抽出させる。
	if len(items) == 0 {
		c.logger.Error("抽出結果に有効な項目がありません",
			slog.String("manufacturer", manufacturer),
			slog.String("model_number", modelNumber),
			slog.Int("raw_count", len(raw)),
			slog.Int("defect_count", defects),
		)
		c.metrics.RecordExtractionFailure()

		extraction.Status = model.ExtractionStatusFailed
		extraction.Items = nil
		extraction.DefectCount = defects
		extraction.ErrorMessage = "抽出結果に有効なメンテナンス項目が含まれていません"
		extraction.UpdatedAt = time.Now()
		if err := c.repo.Upsert(ctx, extraction); err != nil {
			return nil, err
		}
		return extraction, nil
	}

	extraction.Status = model.ExtractionStatusReady
	extraction.Items = items
	extraction.DefectCount = defects
	extraction.ErrorMessage = ""
	extraction.UpdatedAt = time.Now()
	if err := c.repo.Upsert(ctx, extraction); err != nil {
		return nil, err
	}

	c.metrics.RecordExtractionSuccess()
	c.logger.Info("取扱説明書の抽出が完了しました",
		slog.String("extraction_id", extraction.ID),
		slog.String("manufacturer", manufacturer),
		slog.String("model_number", modelNumber),
		slog.Int("item_count", len(items)),
		slog.Int("defect_count", defects),
	)

	return extraction, nil
}
