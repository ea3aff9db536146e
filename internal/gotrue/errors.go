package gotrue

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrNoSession はセッションが必要な操作をセッション無しで呼んだことを表す。
var ErrNoSession = errors.New("gotrue: no active session")

// APIError は認証サーバーが返したエラー。
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gotrue: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gotrue: %d: %s", e.StatusCode, e.Message)
}

// BackendMessage はユーザーに表示できるメッセージを返す。
func (e *APIError) BackendMessage() string {
	return e.Message
}

// errorBody は認証サーバーのエラーレスポンス。
// バージョンによってフィールド名が異なるため、いずれかに入っている値を使う。
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

// decodeError はエラーレスポンスのボディをAPIErrorに変換する。
func decodeError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		apiErr.Code = firstNonEmpty(eb.ErrorCode, eb.Error)
		apiErr.Message = firstNonEmpty(eb.ErrorDescription, eb.Msg, eb.Message)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(statusCode)
	}
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
