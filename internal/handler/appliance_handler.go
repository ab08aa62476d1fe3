// Package handler はHTTP APIのハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/menteman/internal/middleware"
	"github.com/hitoshi/menteman/internal/model"
)

// ApplianceServiceInterface は家電ハンドラーが必要とするサービスインターフェース。
type ApplianceServiceInterface interface {
	// Register は家電を登録し、取説抽出とメンテナンス予定の生成を行う。
	Register(ctx context.Context, userID, name, manufacturer, modelNumber string) (*model.Appliance, error)
	// Remove は家電と関連する予定を削除する。
	Remove(ctx context.Context, userID, applianceID string) error
	// ListForUser はユーザーの家電一覧を返す。
	ListForUser(ctx context.Context, userID string) ([]*model.Appliance, error)
}

// ApplianceHandler は家電管理のHTTPハンドラー。
type ApplianceHandler struct {
	service ApplianceServiceInterface
}

// NewApplianceHandler はApplianceHandlerを生成する。
func NewApplianceHandler(service ApplianceServiceInterface) *ApplianceHandler {
	return &ApplianceHandler{service: service}
}

// registerApplianceRequest は家電登録リクエストのボディ。
type registerApplianceRequest struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	ModelNumber  string `json:"model_number"`
}

// applianceResponse は家電情報のAPIレスポンス。
type applianceResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Manufacturer string    `json:"manufacturer"`
	ModelNumber  string    `json:"model_number"`
	CreatedAt    time.Time `json:"created_at"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// RegisterAppliance は家電登録を処理する。
// 取扱説明書の抽出（キャッシュ未存在時）とメンテナンス予定の生成まで同期で行う。
// POST /api/appliances
func (h *ApplianceHandler) RegisterAppliance(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req registerApplianceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	appliance, err := h.service.Register(r.Context(), userID, req.Name, req.Manufacturer, req.ModelNumber)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toApplianceResponse(appliance))
}

// ListAppliances はユーザーの家電一覧を返す。
// GET /api/appliances
func (h *ApplianceHandler) ListAppliances(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	appliances, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]applianceResponse, 0, len(appliances))
	for _, a := range appliances {
		resp = append(resp, toApplianceResponse(a))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"appliances": resp})
}

// DeleteAppliance は家電と関連するメンテナンス予定を削除する。
// DELETE /api/appliances/:id
func (h *ApplianceHandler) DeleteAppliance(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	applianceID := chi.URLParam(r, "id")

	if err := h.service.Remove(r.Context(), userID, applianceID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- ヘルパー関数 ---

// toApplianceResponse はmodel.ApplianceからAPIレスポンスに変換する。
func toApplianceResponse(appliance *model.Appliance) applianceResponse {
	return applianceResponse{
		ID:           appliance.ID,
		Name:         appliance.Name,
		Manufacturer: appliance.Manufacturer,
		ModelNumber:  appliance.ModelNumber,
		CreatedAt:    appliance.CreatedAt,
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// writeUnauthorized は認証エラーの統一レスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "認証情報を付与してアクセスしてください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeExtractionFailed:
		return http.StatusBadGateway
	case model.ErrCodeInvalidEndpoint:
		return http.StatusBadRequest
	case model.ErrCodeEndpointBlocked:
		return http.StatusForbidden
	case model.ErrCodeSubscriptionLimit:
		return http.StatusConflict
	case model.ErrCodeSubscriptionNotFound,
		model.ErrCodeScheduleNotFound,
		model.ErrCodeApplianceNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidOverride, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
