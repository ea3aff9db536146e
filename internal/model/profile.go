// Package model はドメインモデルを定義する。
package model

import (
	"math"
	"slices"
	"time"
)

// Role はユーザーの権限ロールを表す。
type Role string

const (
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
	// RoleAdmin は管理者。管理画面へのアクセスが許可される。
	RoleAdmin Role = "admin"
)

// ParseRole は保存値からRoleを復元する。未知の値や空文字はRoleUserとして扱う。
func ParseRole(v string) Role {
	if Role(v) == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// SubscriptionTier は購読プランを表す。
type SubscriptionTier string

const (
	// TierFree は無料プラン。
	TierFree SubscriptionTier = "free"
	// TierBasic はベーシックプラン。プレミアム判定を満たす。
	TierBasic SubscriptionTier = "basic"
	// TierPremium はプレミアムプラン。
	TierPremium SubscriptionTier = "premium"
)

// ParseSubscriptionTier は保存値からSubscriptionTierを復元する。
// 未知の値や空文字はTierFreeとして扱う。
func ParseSubscriptionTier(v string) SubscriptionTier {
	switch SubscriptionTier(v) {
	case TierBasic:
		return TierBasic
	case TierPremium:
		return TierPremium
	default:
		return TierFree
	}
}

// ValidSubscriptionTier は指定値が定義済みのプランかどうかを返す。
func ValidSubscriptionTier(v string) bool {
	switch SubscriptionTier(v) {
	case TierFree, TierBasic, TierPremium:
		return true
	}
	return false
}

// Progress は受講中コース全体のモジュール進捗を表す。
type Progress struct {
	Total      int
	Completed  int
	Percentage int
}

// NewProgress はモジュール数から進捗を計算する。
// Totalが0の場合、Percentageは0になる。
func NewProgress(total, completed int) Progress {
	p := Progress{Total: total, Completed: completed}
	if total > 0 {
		p.Percentage = int(math.Round(float64(completed) / float64(total) * 100))
	}
	return p
}

// SumProgress は受講登録ごとのモジュール数を合算して進捗を計算する。
func SumProgress(enrollments []*Enrollment) Progress {
	var total, completed int
	for _, e := range enrollments {
		if e == nil {
			continue
		}
		total += e.TotalModules
		completed += e.CompletedModules
	}
	return NewProgress(total, completed)
}

// Profile はIdentityに1対1で紐づくアプリケーション側のユーザー情報を表す。
type Profile struct {
	ID                 string // Identity.IDと同一
	Name               string
	Role               Role
	SubscriptionTier   SubscriptionTier
	PurchasedCourseIDs []string
	AvatarURL          string
	Phone              string
	Bio                string
	Address            string
	Progress           Progress // 取得時に受講登録から算出する。永続化しない。
	// Degraded はプロビジョニングに失敗しメモリ上の既定値で代替したことを示す。
	Degraded  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin は管理者ロールかどうかを返す。
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// IsPremium はbasicまたはpremiumプランかどうかを返す。
func (p *Profile) IsPremium() bool {
	if p == nil {
		return false
	}
	return p.SubscriptionTier == TierBasic || p.SubscriptionTier == TierPremium
}

// HasPurchased は指定コースを購入済みかどうかを返す。
func (p *Profile) HasPurchased(courseID string) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.PurchasedCourseIDs, courseID)
}

// HasPurchasedCourses は1つ以上のコースを購入済みかどうかを返す。
func (p *Profile) HasPurchasedCourses() bool {
	return p != nil && len(p.PurchasedCourseIDs) > 0
}

// Clone はスライスを含めたProfileのコピーを返す。
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.PurchasedCourseIDs = slices.Clone(p.PurchasedCourseIDs)
	return &c
}

// ProfilePatch はプロフィールの部分更新内容を表す。
// nilのフィールドは更新しない。
type ProfilePatch struct {
	Name      *string
	AvatarURL *string
	Phone     *string
	Bio       *string
	Address   *string
}

// Empty は更新対象のフィールドが1つもないかどうかを返す。
func (p ProfilePatch) Empty() bool {
	return p.Name == nil && p.AvatarURL == nil && p.Phone == nil && p.Bio == nil && p.Address == nil
}
