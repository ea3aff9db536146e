package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/studyhub/internal/billing"
	"github.com/hitoshi/studyhub/internal/cache"
	"github.com/hitoshi/studyhub/internal/client"
	"github.com/hitoshi/studyhub/internal/gotrue"
	"github.com/hitoshi/studyhub/internal/guard"
	"github.com/hitoshi/studyhub/internal/middleware"
	"github.com/hitoshi/studyhub/internal/profile"
	"github.com/hitoshi/studyhub/internal/repository/repotest"
	"github.com/stretchr/testify/require"
)

// fakeUser は認証サーバーに登録されたユーザー。
type fakeUser struct {
	id        string
	password  string
	confirmed bool
}

// fakeAuthServer はGoTrue互換APIの最小実装。
type fakeAuthServer struct {
	mu     sync.Mutex
	users  map[string]*fakeUser // email → user
	tokens map[string]string    // access token → email
	seq    int
}

func newFakeAuthServer() *fakeAuthServer {
	return &fakeAuthServer{
		users:  make(map[string]*fakeUser),
		tokens: make(map[string]string),
	}
}

func (f *fakeAuthServer) addUser(email, password string, confirmed bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("user-%d", f.seq)
	f.users[email] = &fakeUser{id: id, password: password, confirmed: confirmed}
	return id
}

func (f *fakeAuthServer) confirm(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[email].confirmed = true
}

func (f *fakeAuthServer) userJSON(email string, u *fakeUser) map[string]any {
	out := map[string]any{
		"id":         u.id,
		"email":      email,
		"created_at": "2026-01-01T00:00:00Z",
	}
	if u.confirmed {
		out["email_confirmed_at"] = "2026-01-01T00:00:00Z"
	}
	return out
}

func (f *fakeAuthServer) writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": msg})
}

func (f *fakeAuthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	switch r.URL.Path {
	case "/token":
		u, ok := f.users[body.Email]
		if !ok || u.password != body.Password {
			f.writeError(w, http.StatusBadRequest, "invalid_grant", "Invalid login credentials")
			return
		}
		f.seq++
		token := fmt.Sprintf("access-%d", f.seq)
		f.tokens[token] = body.Email
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  token,
			"expires_in":    3600,
			"refresh_token": "refresh-" + token,
			"user":          f.userJSON(body.Email, u),
		})
	case "/signup":
		if _, exists := f.users[body.Email]; exists {
			f.writeError(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
			return
		}
		f.seq++
		u := &fakeUser{id: fmt.Sprintf("user-%d", f.seq), password: body.Password}
		f.users[body.Email] = u
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(f.userJSON(body.Email, u))
	case "/user":
		email, ok := f.tokens[bearer]
		if !ok {
			f.writeError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(f.userJSON(email, f.users[email]))
	case "/logout":
		delete(f.tokens, bearer)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

// testApp はルーター全体と依存関係を束ねたテスト用アプリケーション。
type testApp struct {
	server *httptest.Server
	auth   *fakeAuthServer
	store  *repotest.Store
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	authServer := newFakeAuthServer()
	backend := httptest.NewServer(authServer)
	t.Cleanup(backend.Close)

	store := repotest.NewStore()
	registry := client.NewRegistry(client.Config{
		Profiles: profile.NewService(store, store, nil),
		GoTrue:   gotrue.Config{BaseURL: backend.URL, APIKey: "anon-key"},
	})
	t.Cleanup(registry.Close)

	returns := guard.NewReturnPathStore(cache.NewMemory("test"), time.Minute)
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(limiter.Stop)

	router := NewRouter(&RouterDeps{
		Clients:        registry,
		RateLimiter:    limiter,
		Guard:          guard.New(returns, nil),
		ReturnPaths:    returns,
		BillingService: billing.NewService(store, store.Courses(), store.PurchaseLog()),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testApp{server: server, auth: authServer, store: store}
}

// browser はCookieを保持し、リダイレクトを追わないHTTPクライアント。
type browser struct {
	t    *testing.T
	app  *testApp
	http *http.Client
	csrf string
}

func (a *testApp) newBrowser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:   t,
		app: a,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Timeout: 15 * time.Second,
		},
	}
}

func (b *browser) do(method, path string, body any) *http.Response {
	b.t.Helper()
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(b.t, err)
		r = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, b.app.server.URL+path, r)
	require.NoError(b.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.csrf != "" {
		req.Header.Set("X-CSRF-Token", b.csrf)
	}
	resp, err := b.http.Do(req)
	require.NoError(b.t, err)
	b.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (b *browser) get(path string) *http.Response {
	return b.do(http.MethodGet, path, nil)
}

// post はCSRFトークンを取得してからPOSTする。
func (b *browser) post(path string, body any) *http.Response {
	b.ensureCSRF()
	return b.do(http.MethodPost, path, body)
}

func (b *browser) patch(path string, body any) *http.Response {
	b.ensureCSRF()
	return b.do(http.MethodPatch, path, body)
}

func (b *browser) ensureCSRF() {
	b.t.Helper()
	if b.csrf != "" {
		return
	}
	var out struct {
		Token string `json:"token"`
	}
	decodeBody(b.t, b.get("/api/csrf-token"), &out)
	require.NotEmpty(b.t, out.Token)
	b.csrf = out.Token
}

// login はログインし、レスポンスのredirect_toを返す。
func (b *browser) login(email, password, from string) string {
	b.t.Helper()
	resp := b.post("/api/auth/login", map[string]string{"email": email, "password": password, "from": from})
	require.Equal(b.t, http.StatusOK, resp.StatusCode)
	var out struct {
		RedirectTo string `json:"redirect_to"`
	}
	decodeBody(b.t, resp, &out)
	return out.RedirectTo
}

func (b *browser) state() stateView {
	b.t.Helper()
	var st stateView
	resp := b.get("/api/auth/state?wait=1")
	require.Equal(b.t, http.StatusOK, resp.StatusCode)
	decodeBody(b.t, resp, &st)
	return st
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	decodeBody(t, resp, &body)
	return body.Code
}
