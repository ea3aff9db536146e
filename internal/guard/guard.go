// Package guard は保護されたルートへのアクセス可否を判定する。
package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/studyhub/internal/auth"
	"github.com/hitoshi/studyhub/internal/metrics"
	"github.com/hitoshi/studyhub/internal/model"
)

// 遷移先
const (
	LandingPath           = "/home"
	HomePath              = "/"
	EmailVerificationPath = "/email-verification"
	SubscriptionPath      = "/subscription"
)

// Requirements はルートごとのアクセス条件。ゼロ値はログインのみを要求する。
type Requirements struct {
	AdminOnly                 bool
	PremiumOnly               bool
	RequiresEmailVerification bool
}

// Outcome は判定結果の種類。
type Outcome int

const (
	// OutcomeLoading は状態が確定していないため判定を保留する。
	OutcomeLoading Outcome = iota
	// OutcomeRender は保護されたコンテンツを表示する。
	OutcomeRender
	// OutcomeRedirect はLocationへ遷移させる。
	OutcomeRedirect
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLoading:
		return "loading"
	case OutcomeRender:
		return "render"
	case OutcomeRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// 判定理由
const (
	ReasonLoading         = "loading"
	ReasonUnauthenticated = "unauthenticated"
	ReasonEmailUnverified = "email_unverified"
	ReasonNotAdmin        = "not_admin"
	ReasonNotPremium      = "not_premium"
	ReasonAllowed         = "allowed"
)

// Decision はガードの判定結果。
type Decision struct {
	Outcome Outcome
	// Location はリダイレクト先。
	Location string
	// From は遷移後に戻るための元のパス。保持しない遷移では空。
	From   string
	Reason string
}

// Verifier はバックエンドから最新のIdentityを取得する。auth.Backendが満たす。
type Verifier interface {
	GetUser(ctx context.Context) (*model.Identity, error)
}

// Guard はルートガード。
type Guard struct {
	returns       *ReturnPathStore
	recorder      metrics.Recorder
	settleTimeout time.Duration
}

// New はGuardを生成する。recorderがnilの場合はメトリクスを記録しない。
func New(returns *ReturnPathStore, recorder metrics.Recorder) *Guard {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Guard{returns: returns, recorder: recorder, settleTimeout: DefaultSettleTimeout}
}

// Evaluate は状態のスナップショットとルートの条件から表示・遷移を判定する。
//
// 優先順位: 未ログイン → メール未確認 → 管理者以外 → プレミアム以外 → 表示。
// メール確認状態はスナップショットではなくverifierからその都度取得し、
// 取得に失敗した場合は未確認として扱う。管理者・プレミアムの判定もキャッシュされたフラグではなく
// スナップショットのプロフィールから導く。
func (g *Guard) Evaluate(ctx context.Context, st auth.State, verifier Verifier, req Requirements, path, clientKey string) Decision {
	d := g.evaluate(ctx, st, verifier, req, path, clientKey)
	g.recorder.RecordGuardDecision(d.Outcome.String(), d.Reason)
	return d
}

func (g *Guard) evaluate(ctx context.Context, st auth.State, verifier Verifier, req Requirements, path, clientKey string) Decision {
	if !st.Settled() {
		return Decision{Outcome: OutcomeLoading, Reason: ReasonLoading}
	}

	if !st.IsAuthenticated() {
		g.save(ctx, clientKey, PurposeLogin, path)
		return Decision{Outcome: OutcomeRedirect, Location: LandingPath, From: path, Reason: ReasonUnauthenticated}
	}

	if req.RequiresEmailVerification && !g.emailConfirmed(ctx, st, verifier) {
		g.save(ctx, clientKey, PurposeVerification, path)
		return Decision{Outcome: OutcomeRedirect, Location: EmailVerificationPath, Reason: ReasonEmailUnverified}
	}

	if req.AdminOnly && !st.IsAdmin() {
		return Decision{Outcome: OutcomeRedirect, Location: HomePath, Reason: ReasonNotAdmin}
	}

	if req.PremiumOnly && !st.IsPremiumUser() {
		return Decision{Outcome: OutcomeRedirect, Location: SubscriptionPath, From: path, Reason: ReasonNotPremium}
	}

	return Decision{Outcome: OutcomeRender, Reason: ReasonAllowed}
}

// emailConfirmed はバックエンドから最新のメール確認状態を取得する。
func (g *Guard) emailConfirmed(ctx context.Context, st auth.State, verifier Verifier) bool {
	if verifier == nil {
		g.recorder.RecordVerificationFailure()
		slog.Error("メール確認状態を取得できません: verifierがありません",
			slog.String("user_id", st.Identity.ID),
		)
		return false
	}

	live, err := verifier.GetUser(ctx)
	if err != nil || live == nil {
		g.recorder.RecordVerificationFailure()
		attrs := []any{slog.String("user_id", st.Identity.ID)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		slog.Error("メール確認状態の再検証に失敗しました", attrs...)
		return false
	}
	if live.ID != st.Identity.ID {
		slog.Warn("再検証で別のIdentityが返されました",
			slog.String("user_id", st.Identity.ID),
			slog.String("live_user_id", live.ID),
		)
		return false
	}

	return live.EmailConfirmed()
}

func (g *Guard) save(ctx context.Context, clientKey string, purpose Purpose, path string) {
	if g.returns == nil {
		return
	}
	if err := g.returns.Save(ctx, clientKey, purpose, path); err != nil {
		slog.Warn("戻り先の保存に失敗しました",
			slog.String("purpose", string(purpose)),
			slog.String("error", err.Error()),
		)
	}
}
