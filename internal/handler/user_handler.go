package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/waterballsa/academy/internal/middleware"
	"github.com/waterballsa/academy/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はユーザーの退会処理を実行する。
	// ユーザーとIdP紐付けを削除し、セッションキャッシュを破棄する。
	Withdraw(ctx context.Context, userID int64) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookies AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
// cookiesは退会時にリフレッシュトークンCookieを失効させるために使う。
func NewUserHandler(service UserServiceInterface, cookies AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		cookies: cookies,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 退会後はリフレッシュトークンCookieを失効させる。発行済みのアクセストークンは期限まで有効。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	clearCookie(w, h.cookies, refreshCookieName, "/")
	slog.Info("user withdrew",
		slog.Int64("user_id", userID),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	w.WriteHeader(http.StatusNoContent)
}
