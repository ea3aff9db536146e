// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, billing, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials      = "INVALID_CREDENTIALS"
	ErrCodeRegistrationFailed      = "REGISTRATION_FAILED"
	ErrCodeLogoutFailed            = "LOGOUT_FAILED"
	ErrCodeProfileUpdateFailed     = "PROFILE_UPDATE_FAILED"
	ErrCodeNotAuthenticated        = "NOT_AUTHENTICATED"
	ErrCodeUserNotFound            = "USER_NOT_FOUND"
	ErrCodeCourseNotFound          = "COURSE_NOT_FOUND"
	ErrCodeInvalidSubscriptionTier = "INVALID_SUBSCRIPTION_TIER"
	ErrCodeRateLimited             = "RATE_LIMITED"
	ErrCodeInvalidRequest          = "INVALID_REQUEST"
	ErrCodeCSRFTokenInvalid        = "CSRF_TOKEN_INVALID"
	ErrCodeNotFound                = "NOT_FOUND"
)

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// ユーザーが存在しない場合とパスワード誤りを区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid login credentials",
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewRegistrationFailedError はユーザー登録失敗エラーを生成する。
// バックエンドのメッセージが空の場合は汎用メッセージを使う。
func NewRegistrationFailedError(message string) *APIError {
	if message == "" {
		message = "Registration failed"
	}
	return &APIError{
		Code:     ErrCodeRegistrationFailed,
		Message:  message,
		Category: "auth",
		Action:   "入力内容を確認し、再度お試しください。",
	}
}

// NewLogoutFailedError はログアウト失敗エラーを生成する。
func NewLogoutFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeLogoutFailed,
		Message:  "Error signing out",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewProfileUpdateFailedError はプロフィール更新失敗エラーを生成する。
func NewProfileUpdateFailedError(message string) *APIError {
	if message == "" {
		message = "Failed to update profile"
	}
	return &APIError{
		Code:     ErrCodeProfileUpdateFailed,
		Message:  message,
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNotAuthenticatedError は未認証エラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "User not authenticated",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewCourseNotFoundError はコースが見つからない場合のエラーを生成する。
func NewCourseNotFoundError(courseID string) *APIError {
	return &APIError{
		Code:     ErrCodeCourseNotFound,
		Message:  fmt.Sprintf("指定されたコースが見つかりません: %s", courseID),
		Category: "billing",
		Action:   "コースIDを確認してください。",
	}
}

// NewInvalidSubscriptionTierError は無効なプラン指定のエラーを生成する。
func NewInvalidSubscriptionTierError(tier string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSubscriptionTier,
		Message:  fmt.Sprintf("無効なプランです: %s", tier),
		Category: "validation",
		Action:   "プランには free、basic、premium のいずれかを指定してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewCSRFTokenInvalidError はCSRFトークン検証失敗のエラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewNotFoundError は未定義のエンドポイントへのリクエストのエラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "エンドポイントが見つかりません。",
		Category: "validation",
		Action:   "URLを確認してください。",
	}
}
