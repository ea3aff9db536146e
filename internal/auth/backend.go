// Package auth は認証セッションの状態管理を提供する。
//
// Serviceはブラウザセッションごとに1つ生成され、認証バックエンドのセッションと
// プロフィールから導いた状態を保持する。状態の変更はすべて1か所で直列化され、
// 購読者へ配信される。
package auth

import (
	"context"
	"errors"

	"github.com/hitoshi/studyhub/internal/model"
)

// ErrNotAuthenticated はログインしていない状態で本人の操作を呼び出したことを表す。
// 一時的な障害ではなく呼び出し側の誤りを示す。
var ErrNotAuthenticated = errors.New("user not authenticated")

// SignUpOptions はユーザー登録時の追加オプション。
type SignUpOptions struct {
	// RedirectTo はメール確認リンクの遷移先URL。
	RedirectTo string
	// Metadata はIdentityに保存される任意の属性（nameなど）。
	Metadata map[string]string
}

// Backend は認証バックエンドのインターフェース。
type Backend interface {
	// GetSession は現在のセッションを返す。セッションが無い場合はnil。
	GetSession(ctx context.Context) (*model.Session, error)

	// SubscribeSessionChanges はセッション変更時に呼ばれるコールバックを登録する。
	// サインアウト時はnilで呼ばれる。戻り値の関数で登録を解除する。
	SubscribeSessionChanges(fn func(*model.Session)) (unsubscribe func())

	// SignIn はメールアドレスとパスワードで認証する。
	SignIn(ctx context.Context, email, password string) (*model.Identity, error)

	// SignUp はユーザーを登録する。
	SignUp(ctx context.Context, email, password string, opts SignUpOptions) (*model.Identity, error)

	// SignOut はセッションを終了する。
	SignOut(ctx context.Context) error

	// GetUser はバックエンドから最新のIdentityを取得する。
	// メール確認状態のライブ再検証に使う。
	GetUser(ctx context.Context) (*model.Identity, error)
}

// BackendError はバックエンドが返したユーザー向けメッセージを持つエラー。
type BackendError interface {
	error
	BackendMessage() string
}

// backendMessage はerrがBackendErrorであればそのメッセージを返す。
func backendMessage(err error) string {
	var be BackendError
	if errors.As(err, &be) {
		return be.BackendMessage()
	}
	return ""
}

// ProfileProvider はプロフィールの取得・準備・更新を行う。profile.Serviceが実装する。
type ProfileProvider interface {
	FetchProfile(ctx context.Context, identityID string) *model.Profile
	EnsureProfile(ctx context.Context, identity *model.Identity, name string) *model.Profile
	UpdateProfile(ctx context.Context, identityID string, patch model.ProfilePatch) error
}

// Notifier はユーザーへのトースト通知。
type Notifier interface {
	Success(message string)
	Error(message string)
}
