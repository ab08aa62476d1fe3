// Package dispatch はリマインダー通知のディスパッチサイクルを提供する。
// 期日到来中の予定をユーザー単位にまとめ、全登録デバイスへ並行配信し、
// 配信確定後に期日を次回へ進める。
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/menteman/internal/model"
	"github.com/hitoshi/menteman/internal/push"
	"github.com/hitoshi/menteman/internal/repository"
)

// maxReportErrors はレポートに保持するエラーの上限。
const maxReportErrors = 100

// MetricsRecorder はディスパッチメトリクス記録のインターフェース。
type MetricsRecorder interface {
	RecordDispatchCycle(duration time.Duration)
	RecordNotificationsSent(count int)
	RecordNotificationsFailed(count int)
	RecordSubscriptionsPruned(count int)
	RecordSchedulesAdvanced(count int)
}

// Report は1回のディスパッチサイクルの実行結果。
type Report struct {
	StartedAt           time.Time
	Duration            time.Duration
	UsersProcessed      int
	NotificationsSent   int
	NotificationsFailed int
	SubscriptionsPruned int
	SchedulesAdvanced   int
	// Errors はサイクル中に発生した非致命的エラー（上限100件）。
	Errors []string
}

// addError はレポートにエラーを追加する。上限を超えた分は捨てる。
func (r *Report) addError(err error) {
	if len(r.Errors) < maxReportErrors {
		r.Errors = append(r.Errors, err.Error())
	}
}

// merge は1ユーザー分の結果をサイクル集計へ加算する。
func (r *Report) merge(other *Report) {
	r.NotificationsSent += other.NotificationsSent
	r.NotificationsFailed += other.NotificationsFailed
	r.SubscriptionsPruned += other.SubscriptionsPruned
	r.SchedulesAdvanced += other.SchedulesAdvanced
	for _, e := range other.Errors {
		if len(r.Errors) >= maxReportErrors {
			break
		}
		r.Errors = append(r.Errors, e)
	}
}

// Dispatcher はリマインダー配信サイクルを実行する。
type Dispatcher struct {
	scheduleRepo    repository.ScheduleRepository
	pushRepo        repository.PushSubscriptionRepository
	deliverer       push.Deliverer
	metrics         MetricsRecorder
	logger          *slog.Logger
	deliveryTimeout time.Duration
	maxConcurrent   int
	maxItems        int
	now             func() time.Time // テスト用に差し替え可能
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// deliveryTimeoutは1配信あたりの上限時間、maxConcurrentはユーザー単位の
// 並行処理数と1ユーザー内の並行配信数の上限、maxItemsは1通知に含める
// 予定の上限件数。
func NewDispatcher(
	scheduleRepo repository.ScheduleRepository,
	pushRepo repository.PushSubscriptionRepository,
	deliverer push.Deliverer,
	metrics MetricsRecorder,
	logger *slog.Logger,
	deliveryTimeout time.Duration,
	maxConcurrent int,
	maxItems int,
) *Dispatcher {
	return &Dispatcher{
		scheduleRepo:    scheduleRepo,
		pushRepo:        pushRepo,
		deliverer:       deliverer,
		metrics:         metrics,
		logger:          logger,
		deliveryTimeout: deliveryTimeout,
		maxConcurrent:   maxConcurrent,
		maxItems:        maxItems,
		now:             time.Now,
	}
}

// RunCycle は1回のディスパッチサイクルを実行する。
//
// 選択クエリの失敗のみがサイクル全体の失敗となる。個々のユーザー処理の
// 失敗はレポートに記録して残りのユーザーを続行する。ユーザー単位の処理は
// maxConcurrentを上限に並行実行される。コンテキストのキャンセルは
// ユーザー境界で検査され、配信を開始したユーザーの処理は最後まで
// 完了させる。
func (d *Dispatcher) RunCycle(ctx context.Context) (*Report, error) {
	start := d.now()
	report := &Report{StartedAt: start}

	due, err := d.scheduleRepo.DueBefore(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("期日到来予定の選択に失敗しました: %w", err)
	}

	byUser := groupByUser(due)
	userIDs := make([]string, 0, len(byUser))
	for userID := range byUser {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, d.maxConcurrent)

	for _, userID := range userIDs {
		// キャンセル検査はユーザー境界でのみ行う。
		// 処理中のユーザーは中断せず、新しいユーザーの開始だけを止める。
		if err := ctx.Err(); err != nil {
			report.addError(fmt.Errorf("サイクルが中断されました: %w", err))
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(userID string) {
			defer wg.Done()
			defer func() { <-sem }()

			userReport := &Report{}
			d.processUser(ctx, userID, byUser[userID], userReport)

			mu.Lock()
			defer mu.Unlock()
			report.merge(userReport)
			report.UsersProcessed++
		}(userID)
	}
	wg.Wait()

	report.Duration = d.now().Sub(start)

	d.metrics.RecordDispatchCycle(report.Duration)
	d.metrics.RecordNotificationsSent(report.NotificationsSent)
	d.metrics.RecordNotificationsFailed(report.NotificationsFailed)
	d.metrics.RecordSubscriptionsPruned(report.SubscriptionsPruned)
	d.metrics.RecordSchedulesAdvanced(report.SchedulesAdvanced)

	d.logger.Info("dispatch completed",
		slog.Int("users_processed", report.UsersProcessed),
		slog.Int("sent", report.NotificationsSent),
		slog.Int("failed", report.NotificationsFailed),
		slog.Int("pruned", report.SubscriptionsPruned),
		slog.Int("advanced", report.SchedulesAdvanced),
		slog.Int("error_count", len(report.Errors)),
		slog.Float64("duration_ms", float64(report.Duration.Milliseconds())),
	)

	return report, nil
}

// processUser は1ユーザー分の配信と期日進行を実行する。
// 購読が1件もないユーザーには配信せず、期日も進めない（購読登録後の
// 次サイクルで通知される）。
func (d *Dispatcher) processUser(ctx context.Context, userID string, schedules []*model.MaintenanceSchedule, report *Report) {
	subs, err := d.pushRepo.ListByUserID(ctx, userID)
	if err != nil {
		report.addError(fmt.Errorf("ユーザー %s の購読取得に失敗しました: %w", userID, err))
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := RenderPayload(schedules, d.maxItems)
	if err != nil {
		report.addError(fmt.Errorf("ユーザー %s の通知構築に失敗しました: %w", userID, err))
		return
	}

	// 配信を開始したユーザーは中断させない
	userCtx := context.WithoutCancel(ctx)

	succeeded, failed, gone := d.deliverAll(userCtx, subs, payload)
	report.NotificationsSent += succeeded
	// 消滅（410相当）は失敗ではなく整理のシグナルとして扱い、
	// SubscriptionsPrunedでのみ数える。
	report.NotificationsFailed += len(failed)

	for _, f := range failed {
		report.addError(f)
	}

	// 消滅した購読を自動削除する
	for _, sub := range gone {
		if err := d.pushRepo.Delete(userCtx, sub.ID); err != nil {
			report.addError(fmt.Errorf("購読 %s の削除に失敗しました: %w", sub.ID, err))
			continue
		}
		d.logger.Info("消滅したプッシュ購読を削除しました",
			slog.String("subscription_id", sub.ID),
			slog.String("user_id", userID),
			slog.String("endpoint", sub.Endpoint),
		)
		report.SubscriptionsPruned++
	}

	// 少なくとも1デバイスに届いた場合のみ期日を進める。
	// 全滅の場合は期日を据え置き、次サイクルで再通知する。
	if succeeded == 0 {
		return
	}

	for _, sched := range schedules {
		advanced, err := d.advance(userCtx, sched)
		if err != nil {
			report.addError(err)
			continue
		}
		if advanced {
			report.SchedulesAdvanced++
		}
	}
}

// deliverAll は全購読デバイスへ並行配信し、結果を集計する。
func (d *Dispatcher) deliverAll(ctx context.Context, subs []*model.PushSubscription, payload []byte) (succeeded int, failed []error, gone []*model.PushSubscription) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, d.maxConcurrent)

	for _, sub := range subs {
		wg.Add(1)
		sem <- struct{}{}
		go func(sub *model.PushSubscription) {
			defer wg.Done()
			defer func() { <-sem }()

			deliverCtx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
			defer cancel()

			outcome, err := d.deliverer.Deliver(deliverCtx, sub, payload)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case push.OutcomeSuccess:
				succeeded++
			case push.OutcomeGone:
				gone = append(gone, sub)
			default:
				if err == nil {
					err = fmt.Errorf("配信に失敗しました: %s", sub.Endpoint)
				}
				failed = append(failed, fmt.Errorf("購読 %s への配信に失敗しました: %w", sub.ID, err))
			}
		}(sub)
	}

	wg.Wait()
	return succeeded, failed, gone
}

// advance は通知済み予定の期日を次回へ進める。
// 選択時の期日がまだ保持されている場合のみ更新する（並行サイクルや
// ユーザーの完了操作と競合した場合は何もしない）。不定期予定の明示期日は
// 一度発火したらクリアされる。
func (d *Dispatcher) advance(ctx context.Context, sched *model.MaintenanceSchedule) (bool, error) {
	if sched.NextDueAt == nil {
		return false, nil
	}

	var next *time.Time
	rule := sched.EffectiveRule()
	if rule.Advanceable() {
		n, err := rule.Advance(d.now())
		if err != nil {
			return false, fmt.Errorf("予定 %s の次回期日計算に失敗しました: %w", sched.ID, err)
		}
		next = &n
	}

	advanced, err := d.scheduleRepo.AdvanceIfDueAt(ctx, sched.ID, *sched.NextDueAt, next)
	if err != nil {
		return false, fmt.Errorf("予定 %s の期日進行に失敗しました: %w", sched.ID, err)
	}
	if !advanced {
		d.logger.Warn("期日が選択時から変更されていたため進行をスキップしました",
			slog.String("schedule_id", sched.ID),
		)
	}
	return advanced, nil
}

// groupByUser は期日到来予定をユーザー単位にまとめる。
func groupByUser(schedules []*model.MaintenanceSchedule) map[string][]*model.MaintenanceSchedule {
	byUser := make(map[string][]*model.MaintenanceSchedule)
	for _, s := range schedules {
		byUser[s.UserID] = append(byUser[s.UserID], s)
	}
	return byUser
}
