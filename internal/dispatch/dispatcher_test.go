package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/menteman/internal/model"
	"github.com/hitoshi/menteman/internal/push"
	"github.com/hitoshi/menteman/internal/recurrence"
)

// --- モック定義 ---

// mockScheduleRepo はScheduleRepositoryのモック。
type mockScheduleRepo struct {
	mu       sync.Mutex
	advanced map[string]*time.Time

	dueBeforeFunc      func(ctx context.Context, cutoff time.Time) ([]*model.MaintenanceSchedule, error)
	advanceIfDueAtFunc func(ctx context.Context, id string, prevDue time.Time, next *time.Time) (bool, error)
}

func newMockScheduleRepo() *mockScheduleRepo {
	return &mockScheduleRepo{advanced: make(map[string]*time.Time)}
}

func (m *mockScheduleRepo) CreateIfAbsent(ctx context.Context, schedule *model.MaintenanceSchedule) (bool, error) {
	return true, nil
}

func (m *mockScheduleRepo) FindByID(ctx context.Context, id string) (*model.MaintenanceSchedule, error) {
	return nil, nil
}

func (m *mockScheduleRepo) ListByUserID(ctx context.Context, userID string) ([]*model.MaintenanceSchedule, error) {
	return nil, nil
}

func (m *mockScheduleRepo) Update(ctx context.Context, schedule *model.MaintenanceSchedule) error {
	return nil
}

func (m *mockScheduleRepo) DueBefore(ctx context.Context, cutoff time.Time) ([]*model.MaintenanceSchedule, error) {
	if m.dueBeforeFunc != nil {
		return m.dueBeforeFunc(ctx, cutoff)
	}
	return nil, nil
}

func (m *mockScheduleRepo) AdvanceIfDueAt(ctx context.Context, id string, prevDue time.Time, next *time.Time) (bool, error) {
	if m.advanceIfDueAtFunc != nil {
		return m.advanceIfDueAtFunc(ctx, id, prevDue, next)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advanced[id] = next
	return true, nil
}

// mockPushRepo はPushSubscriptionRepositoryのモック。
type mockPushRepo struct {
	mu      sync.Mutex
	deleted []string

	listByUserIDFunc func(ctx context.Context, userID string) ([]*model.PushSubscription, error)
	deleteFunc       func(ctx context.Context, id string) error
}

func (m *mockPushRepo) Create(ctx context.Context, sub *model.PushSubscription) error { return nil }

func (m *mockPushRepo) FindByID(ctx context.Context, id string) (*model.PushSubscription, error) {
	return nil, nil
}

func (m *mockPushRepo) ListByUserID(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
	if m.listByUserIDFunc != nil {
		return m.listByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockPushRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	return 0, nil
}

func (m *mockPushRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockPushRepo) DeleteByUserID(ctx context.Context, userID string) error { return nil }

// mockDeliverer はDelivererのモック。エンドポイント別に結果を設定できる。
type mockDeliverer struct {
	mu       sync.Mutex
	payloads [][]byte

	outcomes    map[string]push.Outcome
	deliverFunc func(ctx context.Context, sub *model.PushSubscription, payload []byte) (push.Outcome, error)
}

func (m *mockDeliverer) Deliver(ctx context.Context, sub *model.PushSubscription, payload []byte) (push.Outcome, error) {
	if m.deliverFunc != nil {
		return m.deliverFunc(ctx, sub, payload)
	}
	m.mu.Lock()
	m.payloads = append(m.payloads, payload)
	m.mu.Unlock()
	if m.outcomes != nil {
		if outcome, ok := m.outcomes[sub.Endpoint]; ok {
			if outcome == push.OutcomeTransportFailure {
				return outcome, errors.New("配信失敗")
			}
			return outcome, nil
		}
	}
	return push.OutcomeSuccess, nil
}

// mockDispatchMetrics はMetricsRecorderのモック。
type mockDispatchMetrics struct {
	mu     sync.Mutex
	cycles int
	sent   int
	failed int
	pruned int
}

func (m *mockDispatchMetrics) RecordDispatchCycle(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
}

func (m *mockDispatchMetrics) RecordNotificationsSent(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent += count
}

func (m *mockDispatchMetrics) RecordNotificationsFailed(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed += count
}

func (m *mockDispatchMetrics) RecordSubscriptionsPruned(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned += count
}

func (m *mockDispatchMetrics) RecordSchedulesAdvanced(count int) {}

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, nil))
}

func newTestDispatcher(schedRepo *mockScheduleRepo, pushRepo *mockPushRepo, deliverer *mockDeliverer, now time.Time) *Dispatcher {
	var buf bytes.Buffer
	d := NewDispatcher(
		schedRepo, pushRepo, deliverer, &mockDispatchMetrics{},
		newTestLogger(&buf),
		time.Second, 4, 5,
	)
	d.now = func() time.Time { return now }
	return d
}

func dueSchedule(id, userID string, due time.Time, importance model.Importance) *model.MaintenanceSchedule {
	return &model.MaintenanceSchedule{
		ID:         id,
		UserID:     userID,
		ItemName:   "フィルター清掃",
		Category:   model.CategoryCleaning,
		Importance: importance,
		Rule:       recurrence.FixedDays(7),
		NextDueAt:  &due,
	}
}

func testSub(id, userID, endpoint string) *model.PushSubscription {
	return &model.PushSubscription{ID: id, UserID: userID, Endpoint: endpoint, P256dhKey: "k", AuthKey: "a"}
}

// --- テスト ---

// 選択クエリの失敗がサイクル全体の失敗になることを検証
func TestDispatcher_RunCycle_SelectionFailureIsFatal(t *testing.T) {
	now := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	schedRepo := newMockScheduleRepo()
	schedRepo.dueBeforeFunc = func(ctx context.Context, cutoff time.Time) ([]*model.MaintenanceSchedule, error) {
		return nil, errors.New("接続が切断されました")
	}

	d := newTestDispatcher(schedRepo, &mockPushRepo{}, &mockDeliverer{}, now)
	report, err := d.RunCycle(context.Background())
	if err == nil {
		t.Fatal("選択クエリの失敗はエラーを返すべき")
	}
	if report != nil {
		t.Errorf("report = %+v, want nil", report)
	}
}

// 期日到来予定がない場合に空レポートが返ることを検証
func TestDispatcher_RunCycle_NoDueSchedules(t *testing.T) {
	now := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	d := newTestDispatcher(newMockScheduleRepo(), &mockPushRepo{}, &mockDeliverer{}, now)

	report, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle がエラーを返した: %v", err)
	}
	if report.UsersProcessed != 0 || report.NotificationsSent != 0 {
		t.Errorf("report = %+v, want 空レポート", report)
	}
}

// 配信成功後に期日が進むことを検証
func TestDispatcher_RunCycle_AdvancesAfterDelivery(t *testing.T) {
	now := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)
	schedRepo := newMockScheduleRepo()
	schedRepo.dueBeforeFunc = func(ctx context.Context, cutoff time.Time) ([]*model.MaintenanceSchedule, error) {
		return []*model.MaintenanceSchedule{dueSchedule("sched-1", "user-1", due, model.ImportanceHigh)}, nil
	}
	pushRepo := &mockPushRepo{
		listByUserIDFunc: func(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
			return []*model.PushSubscription{testSub("sub-1", userID, "https://push.example.com/send/a")}, nil
		},
	}
	var advancedTo *time.Time
	schedRepo.advanceIfDueAtFunc = func(ctx context.Context, id string, prevDue time.Time, next *time.Time) (bool, error) {
		if !prevDue.Equal(due) {
			t.Errorf("prevDue = %v, want %v（選択時の期日で条件付き更新）", prevDue, due)
		}
		advancedTo = next
		return true, nil
	}

	d := newTestDispatcher(schedRepo, pushRepo, &mockDeliverer{}, now)
	report, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle がエラーを返した: %v", err)
	}

	if report.NotificationsSent != 1 {
		t.Errorf("NotificationsSent = %d, want 1", report.NotificationsSent)
	}
	if report.SchedulesAdvanced != 1 {
		t.Errorf("SchedulesAdvanced = %d, want 1", report.SchedulesAdvanced)
	}
	// 次回期日は配信時点から1周期後
	wantNext := now.AddDate(0, 0, 7)
	if advancedTo == nil || !advancedTo.Equal(wantNext) {
		t.Errorf("advancedTo = %v, want %v", advancedTo, wantNext)
	}
}

// 購読が1件もないユーザーの期日が進まないことを検証
func TestDispatcher_RunCycle_NoSubscriptionsNoAdvance(t *testing.T) {
	now := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)
	schedRepo := newMockScheduleRepo()
	schedRepo.dueBeforeFunc = func(ctx context.Context, cutoff time.Time) ([]*model.MaintenanceSchedule, error) {
		return []*model.MaintenanceSchedule{dueSchedule("sched-1", "user-1", due, model.ImportanceHigh)}, nil
	}

	d := newTestDispatcher(schedRepo, &mockPushRepo{}, &mockDeliverer{}, now)
	report, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle がエラーを返した: %v", err)
	}

	if report.SchedulesAdvanced != 0 {
		t.Errorf("SchedulesAdvanced = %d, want 0", report.SchedulesAdvanced)
	}
	if len(schedRepo.advanced) != 0 {
		t.Error("購読なしユーザーの期日を進めてはならない")
	}
}

// 全デバイスへの配信が失敗した場合に期日が据え置かれることを検証
func TestDispatcher_RunCycle_AllFailedNoAdvance(t *testing.T) {
	now := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)
	schedRepo := newMockScheduleRepo()
	schedRepo.dueBeforeFunc = func(ctx context.Context, cutoff time.Time) ([]*model.MaintenanceSchedule, error) {
		return []*model.MaintenanceSchedule{dueSchedule("sched-1", "user-1", due, model.ImportanceHigh)}, nil
	}
	pushRepo := &mockPushRepo{
		listByUserIDFunc: func(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
			return []*model.PushSubscription{
				testSub("sub-1", userID, "https://push.example.com/send/a"),
				testSub("sub-2", userID, "https://push.example.com/send/b"),
			}, nil
		},
	}
	deliverer := &mockDeliverer{
		deliverFunc: func(ctx context.Context, sub *model.PushSubscription, payload []byte) (push.Outcome, error) {
			return push.OutcomeTransportFailure, errors.New("タイムアウト")
		},
	}

	d := newTestDispatcher(schedRepo, pushRepo, deliverer, now)
	report, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle がエラーを返した: %v", err)
	}

	if report.NotificationsFailed != 2 {
		t.Errorf("NotificationsFailed = %d, want 2", report.NotificationsFailed)
	}
	if report.SchedulesAdvanced != 0 {
		t.Errorf("SchedulesAdvanced = %d, want 0（全滅時は据え置き）", report.SchedulesAdvanced)
	}
	if len(report.Errors) == 0 {
		t.Error("配信失敗がレポートに記録されるべき")
	}
}

// 消滅した購読が削除され、残りの成功で期日が進むことを検証
func TestDispatcher_RunCycle_PrunesGoneSubscriptions(t *testing.T) {
	now := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)
	schedRepo := newMockScheduleRepo()
	schedRepo.dueBeforeFunc = func(ctx context.Context, cutoff time.Time) ([]*model.MaintenanceSchedule, error) {
		return []*model.MaintenanceSchedule{dueSchedule("sched-1", "user-1", due, model.ImportanceHigh)}, nil
	}
	pushRepo := &mockPushRepo{
		listByUserIDFunc: func(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
			return []*model.PushSubscription{
				testSub("sub-1", userID, "https://push.example.com/send/a"),
				testSub("sub-2", userID, "https://push.example.com/send/gone"),
				testSub("sub-3", userID, "https://push.example.com/send/c"),
			}, nil
		},
	}
	deliverer := &mockDeliverer{
		outcomes: map[string]push.Outcome{
			"https://push.example.com/send/gone": push.OutcomeGone,
		},
	}

	d := newTestDispatcher(schedRepo, pushRepo, deliverer, now)
	report, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle がエラーを返した: %v", err)
	}

	if report.SubscriptionsPruned != 1 {
		t.Errorf("SubscriptionsPruned = %d, want 1", report.SubscriptionsPruned)
	}
	// 消滅は失敗ではなく整理として数える
	if report.NotificationsFailed != 0 {
		t.Errorf("NotificationsFailed = %d, want 0（消滅は失敗に含めない）", report.NotificationsFailed)
	}
	if len(pushRepo.deleted) != 1 || pushRepo.deleted[0] != "sub-2" {
		t.Errorf("deleted = %v, want [sub-2]", pushRepo.deleted)
	}
	if report.NotificationsSent != 2 {
		t.Errorf("NotificationsSent = %d, want 2", report.NotificationsSent)
	}
	if report.SchedulesAdvanced != 1 {
		t.Errorf("SchedulesAdvanced = %d, want 1", report.SchedulesAdvanced)
	}
}

// ユーザー単位の失敗が残りのユーザーの処理を妨げないことを検証
func TestDispatcher_RunCycle_UserFailureContinues(t *testing.T) {
	now := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)
	schedRepo := newMockScheduleRepo()
	schedRepo.dueBeforeFunc = func(ctx context.Context, cutoff time.Time) ([]*model.MaintenanceSchedule, error) {
		return []*model.MaintenanceSchedule{
			dueSchedule("sched-1", "user-1", due, model.ImportanceHigh),
			dueSchedule("sched-2", "user-2", due, model.ImportanceHigh),
		}, nil
	}
	pushRepo := &mockPushRepo{
		listByUserIDFunc: func(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
			if userID == "user-1" {
				return nil, errors.New("接続エラー")
			}
			return []*model.PushSubscription{testSub("sub-2", userID, "https://push.example.com/send/b")}, nil
		},
	}

	d := newTestDispatcher(schedRepo, pushRepo, &mockDeliverer{}, now)
	report, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle がエラーを返した: %v", err)
	}

	if report.UsersProcessed != 2 {
		t.Errorf("UsersProcessed = %d, want 2", report.UsersProcessed)
	}
	if report.NotificationsSent != 1 {
		t.Errorf("NotificationsSent = %d, want 1（user-2分）", report.NotificationsSent)
	}
	if len(report.Errors) != 1 {
		t.Errorf("len(Errors) = %d, want 1", len(report.Errors))
	}
}

// ユーザー単位の処理が並行実行されることを検証
func TestDispatcher_RunCycle_UsersProcessedConcurrently(t *testing.T) {
	now := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)
	schedRepo := newMockScheduleRepo()
	schedRepo.dueBeforeFunc = func(ctx context.Context, cutoff time.Time) ([]*model.MaintenanceSchedule, error) {
		return []*model.MaintenanceSchedule{
			dueSchedule("sched-1", "user-1", due, model.ImportanceHigh),
			dueSchedule("sched-2", "user-2", due, model.ImportanceHigh),
		}, nil
	}
	pushRepo := &mockPushRepo{
		listByUserIDFunc: func(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
			return []*model.PushSubscription{testSub("sub-"+userID, userID, "https://push.example.com/send/"+userID)}, nil
		},
	}

	// 2ユーザー分の配信が同時に進行するまで互いを待たせる。
	// 逐次実行の場合はここでデッドロックし、テストがタイムアウトする。
	var wg sync.WaitGroup
	wg.Add(2)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	deliverer := &mockDeliverer{
		deliverFunc: func(ctx context.Context, sub *model.PushSubscription, payload []byte) (push.Outcome, error) {
			wg.Done()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Error("配信が並行実行されていない")
			}
			return push.OutcomeSuccess, nil
		},
	}

	d := newTestDispatcher(schedRepo, pushRepo, deliverer, now)
	report, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle がエラーを返した: %v", err)
	}

	if report.UsersProcessed != 2 {
		t.Errorf("UsersProcessed = %d, want 2", report.UsersProcessed)
	}
	if report.NotificationsSent != 2 {
		t.Errorf("NotificationsSent = %d, want 2", report.NotificationsSent)
	}
}

// キャンセル済みコンテキストでユーザー処理が開始されないことを検証
func TestDispatcher_RunCycle_CancelledBeforeUsers(t *testing.T) {
	now := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)
	schedRepo := newMockScheduleRepo()
	schedRepo.dueBeforeFunc = func(ctx context.Context, cutoff time.Time) ([]*model.MaintenanceSchedule, error) {
		return []*model.MaintenanceSchedule{dueSchedule("sched-1", "user-1", due, model.ImportanceHigh)}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newTestDispatcher(schedRepo, &mockPushRepo{}, &mockDeliverer{}, now)
	report, err := d.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle がエラーを返した: %v", err)
	}
	if report.UsersProcessed != 0 {
		t.Errorf("UsersProcessed = %d, want 0", report.UsersProcessed)
	}
	if len(report.Errors) != 1 {
		t.Errorf("len(Errors) = %d, want 1（中断記録）", len(report.Errors))
	}
}

// 1ユーザーの複数予定が1通の通知にまとめられることを検証
func TestDispatcher_RunCycle_OneNotificationPerUser(t *testing.T) {
	now := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)
	schedRepo := newMockScheduleRepo()
	schedRepo.dueBeforeFunc = func(ctx context.Context, cutoff time.Time) ([]*model.MaintenanceSchedule, error) {
		return []*model.MaintenanceSchedule{
			dueSchedule("sched-1", "user-1", due, model.ImportanceLow),
			dueSchedule("sched-2", "user-1", due, model.ImportanceHigh),
			dueSchedule("sched-3", "user-1", due, model.ImportanceMedium),
		}, nil
	}
	pushRepo := &mockPushRepo{
		listByUserIDFunc: func(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
			return []*model.PushSubscription{testSub("sub-1", userID, "https://push.example.com/send/a")}, nil
		},
	}
	deliverer := &mockDeliverer{}

	d := newTestDispatcher(schedRepo, pushRepo, deliverer, now)
	report, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle がエラーを返した: %v", err)
	}

	if report.NotificationsSent != 1 {
		t.Errorf("NotificationsSent = %d, want 1（1ユーザー1通）", report.NotificationsSent)
	}
	if len(deliverer.payloads) != 1 {
		t.Fatalf("len(payloads) = %d, want 1", len(deliverer.payloads))
	}
	if report.SchedulesAdvanced != 3 {
		t.Errorf("SchedulesAdvanced = %d, want 3", report.SchedulesAdvanced)
	}
}
