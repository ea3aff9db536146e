package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/studyhub/internal/guard"
	"github.com/hitoshi/studyhub/internal/middleware"
	"github.com/hitoshi/studyhub/internal/model"
)

// LoginPath はメール確認後にセッションが無い場合の遷移先。
const LoginPath = "/login"

// stateWaitTimeout は状態取得で確定を待つ上限。
const stateWaitTimeout = 5 * time.Second

// AuthHandler はログイン・登録・ログアウトと状態取得のHTTPハンドラー。
type AuthHandler struct {
	returns *guard.ReturnPathStore
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(returns *guard.ReturnPathStore) *AuthHandler {
	return &AuthHandler{returns: returns}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// From はログイン後に戻るパス。ガードが保存したパスが無い場合に使う。
	From string `json:"from"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	c, ok := requireClient(w, r)
	if !ok {
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("email and password are required"))
		return
	}

	p, err := c.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"profile":     toProfileView(p),
		"redirect_to": h.afterLogin(r.Context(), c.Key, req.From),
	})
}

// afterLogin はログイン後の遷移先を決める。
// ガードが保存したパス、リクエストのfrom、ホームの順に使う。
func (h *AuthHandler) afterLogin(ctx context.Context, clientKey, from string) string {
	if h.returns != nil {
		path, err := h.returns.Take(ctx, clientKey, guard.PurposeLogin)
		if err != nil {
			slog.Warn("failed to take return path", slog.String("error", err.Error()))
		}
		if path != "" {
			return path
		}
	}
	if guard.SafeLocalPath(from) {
		return from
	}
	return guard.HomePath
}

// Register はユーザーを登録する。登録後はメール確認待ちの画面へ遷移させる。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	c, ok := requireClient(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("email and password are required"))
		return
	}

	p, err := c.Auth.Register(r.Context(), req.Email, req.Password, strings.TrimSpace(req.Name))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"profile":     toProfileView(p),
		"redirect_to": guard.EmailVerificationPath,
	})
}

// Logout はセッションを終了する。失敗した場合は状態を変えずにエラーを返す。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	c, ok := requireClient(w, r)
	if !ok {
		return
	}
	if err := c.Auth.Logout(r.Context()); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirect_to": guard.LandingPath})
}

// State は現在のセッション状態を返す。
// wait=1の場合は状態が確定するまで待ってから返す。
// GET /api/auth/state
func (h *AuthHandler) State(w http.ResponseWriter, r *http.Request) {
	c, ok := requireClient(w, r)
	if !ok {
		return
	}

	st := c.Auth.State()
	if r.URL.Query().Get("wait") == "1" {
		ctx, cancel := context.WithTimeout(r.Context(), stateWaitTimeout)
		defer cancel()
		// 待ちきれない場合もその時点の状態を返す
		st, _ = c.Auth.WaitSettled(ctx)
	}
	writeJSON(w, http.StatusOK, toStateView(st))
}

// Notifications は未読のトースト通知を取り出して返す。
// GET /api/auth/notifications
func (h *AuthHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	c, ok := requireClient(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": c.Notifications.Drain(),
	})
}

// EmailVerified はメール確認リンクの遷移先。
// バックエンドでメール確認済みであれば、ガードが保存したパス（無ければホーム）へ遷移させる。
// 確認できない場合はログイン画面へ遷移させる。
// GET /auth/email-verified
func (h *AuthHandler) EmailVerified(w http.ResponseWriter, r *http.Request) {
	c, ok := requireClient(w, r)
	if !ok {
		return
	}

	if c.Backend == nil {
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return
	}
	identity, err := c.Backend.GetUser(r.Context())
	if err != nil || !identity.EmailConfirmed() {
		if err != nil {
			slog.Info("email verification could not be confirmed", slog.String("error", err.Error()))
		}
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return
	}

	target := guard.HomePath
	if h.returns != nil {
		path, err := h.returns.Take(r.Context(), c.Key, guard.PurposeVerification)
		if err != nil {
			slog.Warn("failed to take return path", slog.String("error", err.Error()))
		}
		if path != "" {
			target = path
		}
	}
	http.Redirect(w, r, target, http.StatusFound)
}
