package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/menteman/internal/dispatch"
	"github.com/hitoshi/menteman/internal/model"
)

// DispatchRunner はディスパッチサイクルの実行インターフェース。
// dispatch.Dispatcherの部分集合として定義する。
type DispatchRunner interface {
	RunCycle(ctx context.Context) (*dispatch.Report, error)
}

// DispatchHandler は内部向けディスパッチ起動のHTTPハンドラー。
// 運用時の手動起動とスケジューラー以外のトリガー（外部cron等）に使用する。
type DispatchHandler struct {
	runner DispatchRunner
	logger *slog.Logger
}

// NewDispatchHandler はDispatchHandlerを生成する。
func NewDispatchHandler(runner DispatchRunner, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{
		runner: runner,
		logger: logger,
	}
}

// dispatchReportResponse はディスパッチサイクル結果のAPIレスポンス。
type dispatchReportResponse struct {
	StartedAt           time.Time `json:"started_at"`
	DurationMs          float64   `json:"duration_ms"`
	UsersProcessed      int       `json:"users_processed"`
	NotificationsSent   int       `json:"notifications_sent"`
	NotificationsFailed int       `json:"notifications_failed"`
	SubscriptionsPruned int       `json:"subscriptions_pruned"`
	SchedulesAdvanced   int       `json:"schedules_advanced"`
	Errors              []string  `json:"errors"`
}

// RunDispatch はディスパッチサイクルを1回実行し、結果レポートを返す。
// POST /internal/dispatch/run
func (h *DispatchHandler) RunDispatch(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.RunCycle(r.Context())
	if err != nil {
		h.logger.Error("manual dispatch cycle failed",
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
			Code:     "DISPATCH_FAILED",
			Message:  "ディスパッチサイクルの実行に失敗しました。",
			Category: "system",
			Action:   "ログを確認してください。",
		})
		return
	}

	errs := report.Errors
	if errs == nil {
		errs = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dispatchReportResponse{
		StartedAt:           report.StartedAt,
		DurationMs:          float64(report.Duration.Nanoseconds()) / float64(time.Millisecond),
		UsersProcessed:      report.UsersProcessed,
		NotificationsSent:   report.NotificationsSent,
		NotificationsFailed: report.NotificationsFailed,
		SubscriptionsPruned: report.SubscriptionsPruned,
		SchedulesAdvanced:   report.SchedulesAdvanced,
		Errors:              errs,
	})
}
