package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/studyhub/internal/guard"
	"github.com/hitoshi/studyhub/internal/middleware"
)

// Page は画面ルート。表示はビューモデルのJSONで返す。
type Page struct {
	Path         string
	Name         string
	Requirements guard.Requirements
}

// PublicPages はログイン不要の画面。
var PublicPages = []Page{
	{Path: guard.LandingPath, Name: "landing"},
	{Path: LoginPath, Name: "login"},
	{Path: "/register", Name: "register"},
	{Path: guard.SubscriptionPath, Name: "subscription"},
	{Path: guard.EmailVerificationPath, Name: "email_verification"},
	{Path: "/reset-password", Name: "reset_password"},
	{Path: "/payment-confirmation", Name: "payment_confirmation"},
}

var (
	adminOnly    = guard.Requirements{AdminOnly: true}
	premiumOnly  = guard.Requirements{PremiumOnly: true}
	verifiedOnly = guard.Requirements{RequiresEmailVerification: true}
)

// ProtectedPages はガードを通す画面。
var ProtectedPages = []Page{
	{Path: guard.HomePath, Name: "dashboard"},
	{Path: "/courses", Name: "courses"},
	{Path: "/calendar", Name: "calendar"},
	{Path: "/iq-tests", Name: "iq_tests"},
	{Path: "/quizzes", Name: "quizzes"},
	{Path: "/music", Name: "music"},
	{Path: "/certificates", Name: "certificates", Requirements: verifiedOnly},
	{Path: "/certificates/{id}", Name: "certificate_detail", Requirements: verifiedOnly},
	{Path: "/progress", Name: "progress"},
	{Path: "/progress/{id}", Name: "progress_detail"},
	{Path: "/communication", Name: "communication"},
	{Path: "/profile", Name: "profile"},
	{Path: "/payments", Name: "payments"},
	{Path: "/gamification", Name: "gamification"},
	{Path: "/live-podcast", Name: "live_podcast", Requirements: premiumOnly},
	{Path: "/settings", Name: "settings"},

	{Path: "/admin", Name: "admin_dashboard", Requirements: adminOnly},
	{Path: "/admin/users", Name: "admin_users", Requirements: adminOnly},
	{Path: "/admin/users/{id}", Name: "admin_user_detail", Requirements: adminOnly},
	{Path: "/admin/courses", Name: "admin_courses", Requirements: adminOnly},
	{Path: "/admin/courses/{id}", Name: "admin_course_detail", Requirements: adminOnly},
	{Path: "/admin/enrollments", Name: "admin_enrollments", Requirements: adminOnly},
	{Path: "/admin/finance", Name: "admin_finance", Requirements: adminOnly},
	{Path: "/admin/content", Name: "admin_content", Requirements: adminOnly},
	{Path: "/admin/reports", Name: "admin_reports", Requirements: adminOnly},
	{Path: "/admin/iq-test-management", Name: "admin_iq_test_management", Requirements: adminOnly},
	{Path: "/admin/calendar", Name: "admin_calendar", Requirements: adminOnly},
}

type pageView struct {
	Page   string            `json:"page"`
	Path   string            `json:"path"`
	Params map[string]string `json:"params,omitempty"`
	State  stateView         `json:"state"`
}

// renderPage は画面のビューモデルを返すハンドラー。
// ガードを通過した場合はガードが判定に使った状態を、それ以外は現在の状態を使う。
func renderPage(page Page) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, ok := guard.StateFromContext(r.Context())
		if !ok {
			c, ok := requireClient(w, r)
			if !ok {
				return
			}
			st = c.Auth.State()
		}

		view := pageView{
			Page:  page.Name,
			Path:  r.URL.Path,
			State: toStateView(st),
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil && len(rctx.URLParams.Keys) > 0 {
			view.Params = make(map[string]string, len(rctx.URLParams.Keys))
			for i, key := range rctx.URLParams.Keys {
				view.Params[key] = rctx.URLParams.Values[i]
			}
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// guardSubject はリクエストのClientをガードの判定対象に変換する。
func guardSubject(r *http.Request) (guard.Subject, bool) {
	c, ok := middleware.ClientFromContext(r.Context())
	if !ok {
		return guard.Subject{}, false
	}
	subject := guard.Subject{States: c.Auth, Key: c.Key}
	if c.Backend != nil {
		subject.Verifier = c.Backend
	}
	return subject, true
}
