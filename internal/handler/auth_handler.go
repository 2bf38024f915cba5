// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/waterballsa/academy/internal/auth"
	"github.com/waterballsa/academy/internal/middleware"
	"github.com/waterballsa/academy/internal/model"
)

const (
	refreshCookieName = "refresh_token"
	oauthStateCookie  = "oauth_state"
	oauthStateMaxAge  = 600 // 10分
	tokenTypeBearer   = "Bearer"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(kind model.ProviderKind, state string) (string, error)
	HandleCallback(ctx context.Context, kind model.ProviderKind, code string) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.AccessGrant, error)
	Logout(ctx context.Context, userID int64)
	Session(ctx context.Context, userID int64) (*model.SessionSnapshot, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	RefreshMaxAge int // リフレッシュトークンCookieの有効期間（秒）
}

// AuthHandler はOAuth認証とトークン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// loginResponse はOAuthコールバック成功時のレスポンス。
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	UserID      int64  `json:"user_id"`
	IsNewUser   bool   `json:"is_new_user"`
}

// refreshRequest はリフレッシュのリクエストボディ。Cookieがない場合のみ使用する。
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refreshResponse はリフレッシュ成功時のレスポンス。
type refreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Authorize はOAuthフローを開始する。
// GET /auth/oauth/{provider}/authorize
func (h *AuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "provider")
	kind, err := model.ParseProviderKind(raw)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewUnsupportedProviderError(raw))
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	loginURL, err := h.service.GetLoginURL(kind, state)
	if err != nil {
		if errors.Is(err, auth.ErrUnsupportedProvider) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewUnsupportedProviderError(raw))
			return
		}
		handleServiceError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/oauth",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理し、アクセストークンを返す。
// リフレッシュトークンはHttpOnly Cookieとして設定する。
// GET /auth/oauth/{provider}/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "provider")
	kind, err := model.ParseProviderKind(raw)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewUnsupportedProviderError(raw))
		return
	}

	// 1. stateの検証（CSRF対策）
	query := r.URL.Query()
	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("provider", string(kind)))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("invalid state parameter"))
		return
	}
	clearCookie(w, h.config, oauthStateCookie, "/auth/oauth")

	// 2. IdP側で拒否された場合
	if idpErr := query.Get("error"); idpErr != "" {
		slog.Info("oauth authorization denied",
			slog.String("provider", string(kind)),
			slog.String("reason", idpErr),
		)
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewOAuthFailedError())
		return
	}

	// 3. 認可コードの取得
	code := query.Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("missing authorization code"))
		return
	}

	// 4. 認証処理
	result, err := h.service.HandleCallback(r.Context(), kind, code)
	if err != nil {
		if errors.Is(err, auth.ErrUnsupportedProvider) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewUnsupportedProviderError(raw))
			return
		}
		handleServiceError(w, err)
		return
	}

	// 5. リフレッシュトークンCookieを設定（HTTP Only）
	h.setRefreshCookie(w, result.RefreshToken)

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: result.AccessToken,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   result.ExpiresIn,
		UserID:      result.UserID,
		IsNewUser:   result.IsNewUser,
	})
}

// Refresh はリフレッシュトークンから新しいアクセストークンを発行する。
// リフレッシュトークンはCookieを優先し、なければJSONボディから読み取る。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := ""
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		token = cookie.Value
	}
	if token == "" && r.ContentLength != 0 {
		var req refreshRequest
		if !decodeJSONBody(w, r, nil, &req) {
			return
		}
		token = req.RefreshToken
	}
	if token == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidRefreshTokenError())
		return
	}

	grant, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, model.ErrUnauthorized) {
			clearCookie(w, h.config, refreshCookieName, "/")
		}
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken: grant.AccessToken,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   grant.ExpiresIn,
	})
}

// Logout はセッションキャッシュを破棄し、リフレッシュトークンCookieをクリアする。
// 発行済みのアクセストークンは有効期限まで有効なまま残る。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	h.service.Logout(r.Context(), userID)
	clearCookie(w, h.config, refreshCookieName, "/")

	w.WriteHeader(http.StatusNoContent)
}

// Session は現在のログインユーザーのセッションスナップショットを返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	snapshot, err := h.service.Session(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.RefreshMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearCookie はCookieを即時失効させる。
func clearCookie(w http.ResponseWriter, cfg AuthHandlerConfig, name, path string) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if name == refreshCookieName {
		cookie.Domain = cfg.CookieDomain
	}
	http.SetCookie(w, cookie)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
