package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/studyhub/internal/guard"
	"github.com/hitoshi/studyhub/internal/middleware"
	"github.com/hitoshi/studyhub/internal/model"
)

// HealthChecker は依存先の疎通を確認する。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Clients           middleware.ClientStore
	ClientCookie      middleware.ClientCookieConfig
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// ルートガード
	Guard       *guard.Guard
	ReturnPaths *guard.ReturnPathStore

	// 購入
	BillingService BillingServiceInterface

	// 運用
	HealthChecker HealthChecker
	Metrics       http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → SecurityHeaders → CORS
//	  → Client → Logging → CSRF → RateLimit(General)
//
// /health と /metrics はクライアントを作らないよう、Clientミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authHandler := NewAuthHandler(deps.ReturnPaths)
	profileHandler := NewProfileHandler()
	billingHandler := NewBillingHandler(deps.BillingService)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewClientMiddleware(deps.Clients, deps.ClientCookie))
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		// 認証
		r.Route("/api/auth", func(r chi.Router) {
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/register", authHandler.Register)
			r.Post("/logout", authHandler.Logout)
			r.Get("/state", authHandler.State)
			r.Get("/notifications", authHandler.Notifications)
		})
		r.Get("/auth/email-verified", authHandler.EmailVerified)

		// プロフィール
		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/", profileHandler.Get)
			r.Patch("/", profileHandler.Update)
		})

		// 購入
		r.Post("/api/courses/{id}/purchase", billingHandler.PurchaseCourse)
		r.Post("/api/subscription", billingHandler.Subscribe)

		// 画面
		for _, page := range PublicPages {
			r.Get(page.Path, renderPage(page))
		}
		for _, page := range ProtectedPages {
			r.With(deps.Guard.Middleware(page.Requirements, guardSubject)).Get(page.Path, renderPage(page))
		}

		// 未定義の画面はランディングへ、未定義のAPIは404
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError())
				return
			}
			http.Redirect(w, r, guard.LandingPath, http.StatusFound)
		})
	})

	return r
}

// healthHandler はヘルスチェックのハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
