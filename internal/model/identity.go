// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Identity は認証プロバイダーが管理するユーザー情報を表す。
// アプリケーションからはプロバイダー自身の更新操作以外では変更しない。
type Identity struct {
	ID               string
	Email            string
	EmailConfirmedAt *time.Time // 未確認の場合はnil
	CreatedAt        time.Time
	Metadata         map[string]string
}

// EmailConfirmed はメールアドレスが確認済みかどうかを返す。
func (i *Identity) EmailConfirmed() bool {
	return i != nil && i.EmailConfirmedAt != nil
}

// MetadataName はメタデータに含まれる表示名を返す。未設定の場合は空文字。
func (i *Identity) MetadataName() string {
	if i == nil || i.Metadata == nil {
		return ""
	}
	return strings.TrimSpace(i.Metadata["name"])
}

// EmailLocalPart はメールアドレスの@より前の部分を返す。
func (i *Identity) EmailLocalPart() string {
	if i == nil {
		return ""
	}
	local, _, _ := strings.Cut(i.Email, "@")
	return strings.TrimSpace(local)
}

// Session は認証プロバイダーが発行したログインセッションを表す。
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Identity     *Identity
}

// Expired は指定時刻の時点でアクセストークンが失効しているかを返す。
// ExpiresAtがゼロ値の場合は失効していないものとして扱う。
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}
