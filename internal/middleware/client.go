// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/studyhub/internal/client"
)

// ClientCookieName はブラウザとクライアントを結びつけるCookieの名前。
const ClientCookieName = "studyhub_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// clientContextKey はリクエストコンテキストにClientを格納するためのキー。
var clientContextKey = contextKey("client")

// ClientStore はセッションキーからClientを取得・生成する。client.Registryが満たす。
type ClientStore interface {
	Get(key string) (*client.Client, bool)
	Create(ctx context.Context) (*client.Client, error)
}

// ClientCookieConfig はセッションCookieの属性。
type ClientCookieConfig struct {
	CookieDomain string
	CookieSecure bool
	MaxAge       int
}

// NewClientMiddleware はCookieのセッションキーからClientを取り出し、
// リクエストコンテキストに注入するミドルウェアを返す。
// Cookieが無い場合や対応するClientが破棄済みの場合は新しいClientを作り、Cookieを発行する。
func NewClientMiddleware(store ClientStore, config ClientCookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var c *client.Client
			if cookie, err := r.Cookie(ClientCookieName); err == nil && cookie.Value != "" {
				c, _ = store.Get(cookie.Value)
			}

			if c == nil {
				created, err := store.Create(r.Context())
				if err != nil {
					slog.Error("failed to create client",
						slog.String("error", err.Error()),
					)
					WriteInternalServerError(w)
					return
				}
				c = created
				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookieName,
					Value:    c.Key,
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   config.MaxAge,
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClient(r.Context(), c)))
		})
	}
}

// ClientFromContext はリクエストコンテキストからClientを取得する。
// クライアントミドルウェアを通過したリクエストでのみ有効。
func ClientFromContext(ctx context.Context) (*client.Client, bool) {
	c, ok := ctx.Value(clientContextKey).(*client.Client)
	return c, ok && c != nil
}

// ContextWithClient はコンテキストにClientを注入する。
func ContextWithClient(ctx context.Context, c *client.Client) context.Context {
	return context.WithValue(ctx, clientContextKey, c)
}

// UserIDFromContext はリクエストのClientがログイン中であればユーザーIDを返す。
func UserIDFromContext(ctx context.Context) (string, error) {
	c, ok := ClientFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("client not found in context")
	}
	st := c.Auth.State()
	if st.Identity == nil {
		return "", fmt.Errorf("user ID not found in context")
	}
	return st.Identity.ID, nil
}
