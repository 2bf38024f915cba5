// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 認証・識別処理で発生するエラー。errors.Isで判定する。
var (
	// ErrUnauthorized はトークン系エラーの基底となる。
	ErrUnauthorized = errors.New("unauthorized")

	ErrTokenExpired        = fmt.Errorf("%w: token expired", ErrUnauthorized)
	ErrInvalidSignature    = fmt.Errorf("%w: invalid token signature", ErrUnauthorized)
	ErrMalformedToken      = fmt.Errorf("%w: malformed token", ErrUnauthorized)
	ErrWrongTokenKind      = fmt.Errorf("%w: wrong token kind", ErrUnauthorized)
	ErrInvalidRefreshToken = fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)

	ErrDecryptionFailed           = errors.New("decryption failed")
	ErrIdentityConflict           = errors.New("identity conflict")
	ErrUpstreamIdentityIncomplete = errors.New("upstream identity incomplete")
	ErrStoreUnavailable           = errors.New("identity store unavailable")
	ErrCacheUnavailable           = errors.New("session cache unavailable")
	ErrUserNotFound               = errors.New("user not found")
	ErrInvalidExperience          = errors.New("invalid experience delta")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, account, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized               = "UNAUTHORIZED"
	ErrCodeTokenExpired               = "TOKEN_EXPIRED"
	ErrCodeInvalidRefreshToken        = "INVALID_REFRESH_TOKEN"
	ErrCodeForbidden                  = "FORBIDDEN"
	ErrCodeUnsupportedProvider        = "UNSUPPORTED_PROVIDER"
	ErrCodeUpstreamIdentityIncomplete = "UPSTREAM_IDENTITY_INCOMPLETE"
	ErrCodeIdentityConflict           = "IDENTITY_CONFLICT"
	ErrCodeStoreUnavailable           = "STORE_UNAVAILABLE"
	ErrCodeUserNotFound               = "USER_NOT_FOUND"
	ErrCodeInvalidRequest             = "INVALID_REQUEST"
	ErrCodeInvalidExperience          = "INVALID_EXPERIENCE"
	ErrCodeOAuthFailed                = "OAUTH_FAILED"
)

// NewUnauthorizedError は認証失敗エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewTokenExpiredError はアクセストークン期限切れエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "アクセストークンの有効期限が切れています。",
		Category: "auth",
		Action:   "リフレッシュトークンでアクセストークンを再発行してください。",
	}
}

// NewInvalidRefreshTokenError は無効なリフレッシュトークンのエラーを生成する。
func NewInvalidRefreshTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRefreshToken,
		Message:  "リフレッシュトークンが無効です。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者に権限を確認してください。",
	}
}

// NewUnsupportedProviderError は未対応IdPのエラーを生成する。
func NewUnsupportedProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedProvider,
		Message:  fmt.Sprintf("対応していないログイン方法です: %s", provider),
		Category: "validation",
		Action:   "google または facebook を指定してください。",
	}
}

// NewUpstreamIdentityIncompleteError はIdPから必要な情報が得られなかった場合のエラーを生成する。
func NewUpstreamIdentityIncompleteError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamIdentityIncomplete,
		Message:  "ログインサービスからメールアドレスまたはアカウントIDを取得できませんでした。",
		Category: "auth",
		Action:   "ログインサービス側でメールアドレスの共有を許可してから、再度お試しください。",
	}
}

// NewIdentityConflictError はアカウント作成が競合した場合のエラーを生成する。
func NewIdentityConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityConflict,
		Message:  "アカウントの作成が他のリクエストと競合しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewStoreUnavailableError はデータストアが一時的に利用できない場合のエラーを生成する。
func NewStoreUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "一時的にサービスを利用できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "account",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewInvalidExperienceError は経験値の加算量が不正な場合のエラーを生成する。
func NewInvalidExperienceError(delta int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidExperience,
		Message:  fmt.Sprintf("無効な経験値です: %d", delta),
		Category: "validation",
		Action:   fmt.Sprintf("経験値は0以上%d以下の整数で指定してください。経験値を減らすことはできません。", MaxExperienceDelta),
	}
}

// NewOAuthFailedError はIdPとの認可コード交換に失敗した場合のエラーを生成する。
func NewOAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeOAuthFailed,
		Message:  "ログインサービスでの認証に失敗しました。",
		Category: "auth",
		Action:   "もう一度ログインをやり直してください。",
	}
}
