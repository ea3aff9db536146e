// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/studyhub/internal/client"
	"github.com/hitoshi/studyhub/internal/middleware"
	"github.com/hitoshi/studyhub/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限。
const maxRequestBodySize = 64 << 10

// writeJSON はvをJSONで書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。
// 失敗した場合はINVALID_REQUESTのレスポンスを書き込み、falseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		reason := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			reason = "request body is empty"
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			reason = "request body is too large"
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(reason))
		return false
	}
	return true
}

// requireClient はリクエストのClientを返す。
// クライアントミドルウェアを通っていない場合は500を書き込む。
func requireClient(w http.ResponseWriter, r *http.Request) (*client.Client, bool) {
	c, ok := middleware.ClientFromContext(r.Context())
	if !ok {
		slog.Error("client missing from request context", slog.String("path", r.URL.Path))
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	return c, true
}

// requireUserID はログイン中のユーザーIDを返す。未ログインの場合は401を書き込む。
func requireUserID(w http.ResponseWriter, c *client.Client) (string, bool) {
	identity := c.Auth.State().Identity
	if identity == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return "", false
	}
	return identity.ID, true
}
