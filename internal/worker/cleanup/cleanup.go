// Package cleanup は失敗した抽出レコードの自動削除ジョブを提供する。
// 保持期間（デフォルト7日）を超過したFailed抽出を日次バッチで削除し、
// 次回の家電登録で最初から再抽出できる状態に戻す。Readyレコードは
// 共有キャッシュとして無期限に保持する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/menteman/internal/repository"
)

// CleanupJob は保持期間を超過した失敗抽出の自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	extractionRepo repository.ExtractionRepository
	logger         *slog.Logger
	RetentionDays  int // 失敗抽出の保持日数（デフォルト: 7）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は7日。
func NewCleanupJob(extractionRepo repository.ExtractionRepository, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		extractionRepo: extractionRepo,
		logger:         logger,
		RetentionDays:  7,
	}
}

// Run は保持期間を超過した失敗抽出レコードを削除する。
// updated_atがRetentionDays日前より古いFailedレコードが対象。
// 家電から参照されているレコードはリポジトリ側で除外される。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := start.AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.extractionRepo.DeleteFailedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("抽出クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("抽出クリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("抽出クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は24時間間隔のティッカーでクリーンアップジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("抽出クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	// 起動直後に1回実行
	if err := j.Run(ctx); err != nil {
		j.logger.Error("抽出クリーンアップの初回実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("抽出クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("抽出クリーンアップの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
