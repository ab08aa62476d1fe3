package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/menteman/internal/middleware"
	"github.com/hitoshi/menteman/internal/model"
	"github.com/hitoshi/menteman/internal/recurrence"
)

// ScheduleServiceInterface は予定ハンドラーが必要とするサービスインターフェース。
type ScheduleServiceInterface interface {
	// ListForUser はユーザーの予定一覧を期日昇順で返す。
	ListForUser(ctx context.Context, userID string) ([]*model.MaintenanceSchedule, error)
	// Complete は予定を完了として記録し、完了日時から次回期日を再計算する。
	Complete(ctx context.Context, userID, scheduleID string, completedAt time.Time) (*model.MaintenanceSchedule, error)
	// SetOverride はユーザーの周期上書きを設定する。nilで上書きを解除する。
	SetOverride(ctx context.Context, userID, scheduleID string, override *recurrence.Rule) (*model.MaintenanceSchedule, error)
	// SetNextDue は次回期日を直接設定する。
	SetNextDue(ctx context.Context, userID, scheduleID string, due time.Time) (*model.MaintenanceSchedule, error)
}

// ScheduleHandler はメンテナンス予定のHTTPハンドラー。
type ScheduleHandler struct {
	service ScheduleServiceInterface
}

// NewScheduleHandler はScheduleHandlerを生成する。
func NewScheduleHandler(service ScheduleServiceInterface) *ScheduleHandler {
	return &ScheduleHandler{service: service}
}

// completeScheduleRequest は完了記録リクエストのボディ。
// completed_at省略時は現在時刻を完了日時として扱う。
type completeScheduleRequest struct {
	CompletedAt *time.Time `json:"completed_at"`
}

// overrideScheduleRequest は周期上書きリクエストのボディ。
// frequency_text / frequency_days の両方が空の場合は上書きを解除する。
type overrideScheduleRequest struct {
	FrequencyText string `json:"frequency_text"`
	FrequencyDays int    `json:"frequency_days"`
}

// setDueRequest は期日直接設定リクエストのボディ。
type setDueRequest struct {
	DueAt time.Time `json:"due_at"`
}

// scheduleResponse は予定情報のAPIレスポンス。
type scheduleResponse struct {
	ID               string     `json:"id"`
	ApplianceID      string     `json:"appliance_id"`
	ItemName         string     `json:"item_name"`
	Category         string     `json:"category"`
	Importance       string     `json:"importance"`
	Rule             string     `json:"rule"`
	IntervalOverride *string    `json:"interval_override"`
	NextDueAt        *time.Time `json:"next_due_at"`
	LastCompletedAt  *time.Time `json:"last_completed_at"`
}

// ListSchedules はユーザーの予定一覧を返す。
// GET /api/schedules
func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	schedules, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]scheduleResponse, 0, len(schedules))
	for _, s := range schedules {
		resp = append(resp, toScheduleResponse(s))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"schedules": resp})
}

// CompleteSchedule はメンテナンス完了を記録する。
// 次回期日は（期日からではなく）完了日時から再計算される。
// POST /api/schedules/:id/complete
func (h *ScheduleHandler) CompleteSchedule(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	scheduleID := chi.URLParam(r, "id")

	var req completeScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	completedAt := time.Now()
	if req.CompletedAt != nil {
		completedAt = *req.CompletedAt
	}

	schedule, err := h.service.Complete(r.Context(), userID, scheduleID, completedAt)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toScheduleResponse(schedule))
}

// OverrideSchedule はユーザーの周期上書きを設定または解除する。
// PUT /api/schedules/:id/override
func (h *ScheduleHandler) OverrideSchedule(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	scheduleID := chi.URLParam(r, "id")

	var req overrideScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	var override *recurrence.Rule
	if req.FrequencyText != "" || req.FrequencyDays > 0 {
		rule := recurrence.Parse(req.FrequencyText, req.FrequencyDays)
		if !rule.Advanceable() {
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidOverrideError("認識できない周期です"))
			return
		}
		override = &rule
	}

	schedule, err := h.service.SetOverride(r.Context(), userID, scheduleID, override)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toScheduleResponse(schedule))
}

// SetScheduleDue は次回期日を直接設定する。不定期予定の期日設定に使用する。
// PUT /api/schedules/:id/due
func (h *ScheduleHandler) SetScheduleDue(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	scheduleID := chi.URLParam(r, "id")

	var req setDueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if req.DueAt.IsZero() {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidOverrideError("期日が指定されていません"))
		return
	}

	schedule, err := h.service.SetNextDue(r.Context(), userID, scheduleID, req.DueAt)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toScheduleResponse(schedule))
}

// toScheduleResponse はmodel.MaintenanceScheduleからAPIレスポンスに変換する。
func toScheduleResponse(schedule *model.MaintenanceSchedule) scheduleResponse {
	var override *string
	if schedule.IntervalOverride != nil {
		encoded := schedule.IntervalOverride.Encode()
		override = &encoded
	}

	return scheduleResponse{
		ID:               schedule.ID,
		ApplianceID:      schedule.ApplianceID,
		ItemName:         schedule.ItemName,
		Category:         string(schedule.Category),
		Importance:       string(schedule.Importance),
		Rule:             schedule.Rule.Encode(),
		IntervalOverride: override,
		NextDueAt:        schedule.NextDueAt,
		LastCompletedAt:  schedule.LastCompletedAt,
	}
}
