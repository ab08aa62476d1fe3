package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/menteman/internal/model"
)

// AccountPurger はユーザーデータ破棄のインターフェース。
// account.Serviceの部分集合として定義する。
type AccountPurger interface {
	PurgeUser(ctx context.Context, userID string) error
}

// AccountHandler は内部向けユーザーデータ破棄のHTTPハンドラー。
// BFF側でアカウントが削除された際に呼び出される。
type AccountHandler struct {
	purger AccountPurger
	logger *slog.Logger
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(purger AccountPurger, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		purger: purger,
		logger: logger,
	}
}

// PurgeUser は指定ユーザーの全データを削除する。
// DELETE /internal/users/{userID}
func (h *AccountHandler) PurgeUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "ユーザーIDが指定されていません。",
			Category: "validation",
			Action:   "パスパラメータを確認してください。",
		})
		return
	}

	if err := h.purger.PurgeUser(r.Context(), userID); err != nil {
		h.logger.Error("user data purge failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
			Code:     "INTERNAL_ERROR",
			Message:  "ユーザーデータの削除に失敗しました。",
			Category: "system",
			Action:   "ログを確認してください。",
		})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
