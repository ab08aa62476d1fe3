// Package remind はリマインダーディスパッチの定期実行を提供する。
package remind

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/menteman/internal/dispatch"
)

// CycleRunner はディスパッチサイクル実行のインターフェース。
type CycleRunner interface {
	// RunCycle は1回のディスパッチサイクルを実行し、結果レポートを返す。
	RunCycle(ctx context.Context) (*dispatch.Report, error)
}

// Scheduler はディスパッチサイクルをティッカーで定期実行する。
type Scheduler struct {
	runner CycleRunner
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(runner CycleRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		logger: logger,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ディスパッチスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ディスパッチスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce は1サイクルを実行し、失敗をログに記録する。
// サイクルの失敗は次のティックで自動的に再試行されるため、ここでは
// エラーを伝播しない。
func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.runner.RunCycle(ctx); err != nil {
		s.logger.Error("ディスパッチサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
