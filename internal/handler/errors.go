package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/waterballsa/academy/internal/auth"
	"github.com/waterballsa/academy/internal/middleware"
	"github.com/waterballsa/academy/internal/model"
	"github.com/waterballsa/academy/internal/user"
)

// maxRequestBodySize はJSONリクエストボディの上限（1MB）。
const maxRequestBodySize = 1 << 20

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	switch {
	case errors.Is(err, model.ErrTokenExpired):
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewTokenExpiredError())
	case errors.Is(err, model.ErrInvalidRefreshToken):
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidRefreshTokenError())
	case errors.Is(err, model.ErrUnauthorized):
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	case errors.Is(err, auth.ErrOAuthExchange):
		slog.Warn("oauth exchange failed", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewOAuthFailedError())
	case errors.Is(err, auth.ErrUnsupportedProvider):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewUnsupportedProviderError(""))
	case errors.Is(err, model.ErrUpstreamIdentityIncomplete):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewUpstreamIdentityIncompleteError())
	case errors.Is(err, model.ErrIdentityConflict):
		writeAPIErrorResponse(w, http.StatusConflict, model.NewIdentityConflictError())
	case errors.Is(err, model.ErrStoreUnavailable):
		slog.Warn("identity store unavailable", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError())
	case errors.Is(err, model.ErrUserNotFound):
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
	case errors.Is(err, user.ErrInvalidEmail):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("email is required"))
	case errors.Is(err, user.ErrInvalidName):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("name is empty after sanitization"))
	case errors.Is(err, user.ErrInvalidRole):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("unknown role"))
	default:
		// 復号失敗を含むAPIError以外のエラーは内部サーバーエラーとして扱う
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeTokenExpired, model.ErrCodeInvalidRefreshToken:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeUnsupportedProvider, model.ErrCodeUpstreamIdentityIncomplete,
		model.ErrCodeInvalidRequest, model.ErrCodeInvalidExperience:
		return http.StatusBadRequest
	case model.ErrCodeIdentityConflict:
		return http.StatusConflict
	case model.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeOAuthFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSONBody はリクエストボディをdstにデコードし、validateタグで検証する。
// 失敗した場合は400レスポンスを書き込みfalseを返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		reason := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			reason = "request body is empty"
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(reason))
		return false
	}
	if v == nil {
		return true
	}
	if err := v.Struct(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(validationReason(err)))
		return false
	}
	return true
}

// newValidator はエラー表示にJSONフィールド名を使うvalidatorを生成する。
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationReason はvalidatorのエラーを "field: tag" 形式の一覧に変換する。
func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
