package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/studyhub/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードごとのHTTPステータス。
var statusByCode = map[string]int{
	model.ErrCodeInvalidCredentials:      http.StatusUnauthorized,
	model.ErrCodeRegistrationFailed:      http.StatusBadRequest,
	model.ErrCodeLogoutFailed:            http.StatusBadGateway,
	model.ErrCodeProfileUpdateFailed:     http.StatusInternalServerError,
	model.ErrCodeNotAuthenticated:        http.StatusUnauthorized,
	model.ErrCodeUserNotFound:            http.StatusNotFound,
	model.ErrCodeCourseNotFound:          http.StatusNotFound,
	model.ErrCodeInvalidSubscriptionTier: http.StatusBadRequest,
	model.ErrCodeRateLimited:             http.StatusTooManyRequests,
	model.ErrCodeInvalidRequest:          http.StatusBadRequest,
	model.ErrCodeCSRFTokenInvalid:        http.StatusForbidden,
	model.ErrCodeNotFound:                http.StatusNotFound,
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。未知のコードは500。
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
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

// WriteError はerrに含まれるAPIErrorをコードに応じたステータスで書き込む。
// APIErrorを含まないエラーは内部エラーとして扱い、詳細はログのみに記録する。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusForCode(apiErr.Code), apiErr)
		return
	}

	slog.Error("unexpected error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	WriteInternalServerError(w)
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
