package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/waterballsa/academy/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// bearerRealm はWWW-Authenticateチャレンジのrealm。
const bearerRealm = "academy"

// Bearerチャレンジのerror属性（RFC 6750 3.1）。
const (
	BearerErrorInvalidRequest = "invalid_request"
	BearerErrorInvalidToken   = "invalid_token"
)

// WriteUnauthorized はBearerチャレンジ付きの401レスポンスを書き込む。
// bearerErrorが空の場合は資格情報が提示されていないものとしてerror属性を付けない。
func WriteUnauthorized(w http.ResponseWriter, apiErr *model.APIError, bearerError string) {
	challenge := fmt.Sprintf(`Bearer realm=%q`, bearerRealm)
	if bearerError != "" {
		challenge += fmt.Sprintf(`, error=%q`, bearerError)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
