package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/menteman/internal/middleware"
	"github.com/hitoshi/menteman/internal/model"
)

// PushSubscriptionServiceInterface はプッシュ購読ハンドラーが必要とする
// サービスインターフェース。
type PushSubscriptionServiceInterface interface {
	// Register はユーザーのプッシュ購読を登録する。
	Register(ctx context.Context, userID, endpoint, p256dhKey, authKey string) (*model.PushSubscription, error)
	// Remove はユーザー自身の購読を削除する。
	Remove(ctx context.Context, userID, subscriptionID string) error
	// ListForUser はユーザーの購読一覧を返す。
	ListForUser(ctx context.Context, userID string) ([]*model.PushSubscription, error)
}

// PushHandler はプッシュ購読管理のHTTPハンドラー。
type PushHandler struct {
	service PushSubscriptionServiceInterface
}

// NewPushHandler はPushHandlerを生成する。
func NewPushHandler(service PushSubscriptionServiceInterface) *PushHandler {
	return &PushHandler{service: service}
}

// registerSubscriptionRequest は購読登録リクエストのボディ。
// ブラウザのPushSubscription.toJSON()の形式に合わせる。
type registerSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// subscriptionResponse は購読情報のAPIレスポンス。
type subscriptionResponse struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterSubscription はプッシュ購読登録を処理する。
// POST /api/push-subscriptions
func (h *PushHandler) RegisterSubscription(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req registerSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	sub, err := h.service.Register(r.Context(), userID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toSubscriptionResponse(sub))
}

// ListSubscriptions はユーザーの購読一覧を返す。
// GET /api/push-subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	subs, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, toSubscriptionResponse(sub))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"subscriptions": resp})
}

// DeleteSubscription は購読を削除する。
// DELETE /api/push-subscriptions/:id
func (h *PushHandler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	subscriptionID := chi.URLParam(r, "id")

	if err := h.service.Remove(r.Context(), userID, subscriptionID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toSubscriptionResponse はmodel.PushSubscriptionからAPIレスポンスに変換する。
// 暗号化鍵パラメータはレスポンスに含めない。
func toSubscriptionResponse(sub *model.PushSubscription) subscriptionResponse {
	return subscriptionResponse{
		ID:        sub.ID,
		Endpoint:  sub.Endpoint,
		CreatedAt: sub.CreatedAt,
	}
}
