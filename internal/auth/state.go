package auth

import "github.com/hitoshi/studyhub/internal/model"

// Phase はセッション状態の段階。
type Phase int

const (
	// PhaseInitializing は既存セッションの確認中。
	PhaseInitializing Phase = iota
	// PhaseAuthenticated はIdentityとプロフィールが確定した状態。
	PhaseAuthenticated
	// PhaseAnonymous はセッションが無い状態。
	PhaseAnonymous
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// State はある時点のセッション状態のスナップショット。
// IdentityとProfileは読み取り専用として扱う。
type State struct {
	Identity  *model.Identity
	Profile   *model.Profile
	IsLoading bool
	// Resolved は起動時のセッション確認が完了したかどうか。
	Resolved bool
}

// IsAuthenticated はIdentityがあるかどうかを返す。
func (s State) IsAuthenticated() bool {
	return s.Identity != nil
}

// IsAdmin はプロフィールが管理者ロールかどうかを返す。
func (s State) IsAdmin() bool {
	return s.Profile.IsAdmin()
}

// IsPremiumUser はプロフィールがbasicまたはpremiumプランかどうかを返す。
func (s State) IsPremiumUser() bool {
	return s.Profile.IsPremium()
}

// HasPurchasedCourse は指定コースを購入済みかどうかを返す。
// プロフィールが無い場合はfalse。
func (s State) HasPurchasedCourse(courseID string) bool {
	return s.Profile.HasPurchased(courseID)
}

// Phase は現在の段階を返す。
func (s State) Phase() Phase {
	switch {
	case !s.Resolved:
		return PhaseInitializing
	case s.Identity != nil:
		return PhaseAuthenticated
	default:
		return PhaseAnonymous
	}
}

// Settled は起動時の確認が終わり、実行中の操作も無い状態かどうかを返す。
func (s State) Settled() bool {
	return s.Resolved && !s.IsLoading
}
