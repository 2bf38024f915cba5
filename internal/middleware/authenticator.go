// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/waterballsa/academy/internal/metrics"
	"github.com/waterballsa/academy/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証主体を格納するためのキー。
var principalContextKey = contextKey("principal")

// AccessTokenVerifier はアクセストークンの検証インターフェース。
// auth.TokenServiceが実装する。
type AccessTokenVerifier interface {
	VerifyAccess(token string) (*model.Principal, error)
}

// NewAuthenticator はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
//
// ヘッダーがない場合は匿名リクエストとして通過させる。
// ヘッダーの形式が不正な場合やトークンが無効な場合は401を返す。
// 検証は署名と有効期限のみで行い、データストアやキャッシュは参照しない。
func NewAuthenticator(verifier AccessTokenVerifier, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(header)
			if !ok {
				collector.RecordAuthFailure("malformed_header")
				WriteUnauthorized(w, model.NewUnauthorizedError(), BearerErrorInvalidRequest)
				return
			}

			principal, err := verifier.VerifyAccess(token)
			if err != nil {
				collector.RecordAuthFailure(authFailureReason(err))
				if errors.Is(err, model.ErrTokenExpired) {
					WriteUnauthorized(w, model.NewTokenExpiredError(), BearerErrorInvalidToken)
					return
				}
				WriteUnauthorized(w, model.NewUnauthorizedError(), BearerErrorInvalidToken)
				return
			}

			annotateUser(r.Context(), principal.UserID)
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireAuth は匿名リクエストを401で拒否する。
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			WriteUnauthorized(w, model.NewUnauthorizedError(), "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole はmin未満のロールのリクエストを403で拒否する。
// 匿名リクエストは401となる。
func RequireRole(min model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteUnauthorized(w, model.NewUnauthorizedError(), "")
				return
			}
			if !principal.Role.AtLeast(min) {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext はリクエストコンテキストから認証主体を取得する。
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}

// ContextWithPrincipal はコンテキストに認証主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証済みリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (int64, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return 0, fmt.Errorf("principal not found in context")
	}
	return p.UserID, nil
}

// bearerToken は "Bearer <token>" 形式のヘッダーからトークンを取り出す。
// スキーム名の大文字小文字は区別しない。
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, model.ErrTokenExpired):
		return "expired"
	case errors.Is(err, model.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, model.ErrWrongTokenKind):
		return "wrong_kind"
	default:
		return "malformed"
	}
}
