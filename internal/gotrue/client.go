// Package gotrue はGoTrue互換の認証サーバーのRESTクライアントを提供する。
// Clientは1つのブラウザセッション分のログイン状態をメモリ上に保持する。
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/studyhub/internal/auth"
	"github.com/hitoshi/studyhub/internal/metrics"
	"github.com/hitoshi/studyhub/internal/model"
	"golang.org/x/time/rate"
)

const (
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 1 << 20
	// refreshMargin は有効期限のこの時間前からトークンを更新する。
	refreshMargin = 30 * time.Second
)

// Config はClientの設定。
type Config struct {
	BaseURL string
	APIKey  string
	// Limiter は全クライアントで共有する送信レート制限。nilの場合は制限しない。
	Limiter *rate.Limiter
}

// Client はGoTrue互換APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	recorder   metrics.Recorder
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	now        func() time.Time

	mu        sync.Mutex
	session   *model.Session
	listeners map[int]func(*model.Session)
	nextID    int
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, recorder metrics.Recorder, cfg Config) *Client {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		recorder:   recorder,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		limiter:    limiter,
		now:        time.Now,
		listeners:  make(map[int]func(*model.Session)),
	}
}

// --- レスポンス型 ---

type userResponse struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	ConfirmedAt      *time.Time     `json:"confirmed_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

func (u *userResponse) identity() *model.Identity {
	if u == nil || u.ID == "" {
		return nil
	}
	confirmed := u.EmailConfirmedAt
	if confirmed == nil {
		confirmed = u.ConfirmedAt
	}
	meta := make(map[string]string, len(u.UserMetadata))
	for k, v := range u.UserMetadata {
		if s, ok := v.(string); ok {
			meta[k] = s
		}
	}
	return &model.Identity{
		ID:               u.ID,
		Email:            u.Email,
		EmailConfirmedAt: confirmed,
		CreatedAt:        u.CreatedAt,
		Metadata:         meta,
	}
}

// toSession はトークンレスポンスをSessionに変換する。
// 有効期限はexpires_at、expires_in、JWTのexpクレームの順で決める。
func (c *Client) toSession(tr *tokenResponse) *model.Session {
	sess := &model.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Identity:     tr.User.identity(),
	}
	switch {
	case tr.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		sess.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		sess.ExpiresAt = tokenExpiry(tr.AccessToken)
	}
	return sess
}

// tokenExpiry はアクセストークンのexpクレームを署名を検証せずに読み取る。
// 署名の検証は認証サーバー側の責務で、ここでは更新時期の判断にのみ使う。
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// --- auth.Backend ---

// GetSession は現在のセッションを返す。期限切れが近い場合は更新してから返す。
// 更新に失敗した場合はセッションを破棄する。
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	sess := c.currentSession()
	if sess == nil {
		return nil, nil
	}
	if !c.needsRefresh(sess) {
		return sess, nil
	}
	return c.refresh(ctx, sess)
}

// SubscribeSessionChanges はセッション変更時のコールバックを登録する。
func (c *Client) SubscribeSessionChanges(fn func(*model.Session)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// SignIn はメールアドレスとパスワードでトークンを取得する。
func (c *Client) SignIn(ctx context.Context, email, password string) (*model.Identity, error) {
	var tr tokenResponse
	err := c.do(ctx, "sign_in", http.MethodPost, "/token", url.Values{"grant_type": {"password"}}, "",
		map[string]string{"email": email, "password": password}, &tr)
	if err != nil {
		return nil, err
	}

	sess := c.toSession(&tr)
	if sess.Identity == nil {
		return nil, fmt.Errorf("gotrue: token response has no user")
	}
	c.setSession(sess)
	return sess.Identity, nil
}

// SignUp はユーザーを登録する。メール確認が不要な設定でセッションが返された場合はログイン状態になる。
func (c *Client) SignUp(ctx context.Context, email, password string, opts auth.SignUpOptions) (*model.Identity, error) {
	query := url.Values{}
	if opts.RedirectTo != "" {
		query.Set("redirect_to", opts.RedirectTo)
	}
	body := map[string]any{"email": email, "password": password}
	if len(opts.Metadata) > 0 {
		body["data"] = opts.Metadata
	}

	var raw json.RawMessage
	if err := c.do(ctx, "sign_up", http.MethodPost, "/signup", query, "", body, &raw); err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err == nil && tr.AccessToken != "" && tr.User != nil {
		sess := c.toSession(&tr)
		c.setSession(sess)
		return sess.Identity, nil
	}

	var u userResponse
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("gotrue: failed to decode signup response: %w", err)
	}
	ident := u.identity()
	if ident == nil {
		return nil, fmt.Errorf("gotrue: signup response has no user")
	}
	return ident, nil
}

// SignOut はサーバー側のセッションを終了する。
// トークンが既に無効な場合（401/403/404）は終了済みとして扱う。
// それ以外の失敗ではセッションを保持したままエラーを返す。
func (c *Client) SignOut(ctx context.Context) error {
	sess := c.currentSession()
	if sess == nil {
		return nil
	}

	err := c.do(ctx, "sign_out", http.MethodPost, "/logout", nil, sess.AccessToken, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			err = nil
		}
	}
	if err != nil {
		return err
	}

	c.setSession(nil)
	return nil
}

// GetUser はサーバーから最新のユーザー情報を取得する。
func (c *Client) GetUser(ctx context.Context) (*model.Identity, error) {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}

	var u userResponse
	if err := c.do(ctx, "get_user", http.MethodGet, "/user", nil, sess.AccessToken, nil, &u); err != nil {
		return nil, err
	}
	ident := u.identity()
	if ident == nil {
		return nil, fmt.Errorf("gotrue: user response has no id")
	}

	// 確認日時などの変化を保持中のセッションにも反映する（通知はしない）
	c.mu.Lock()
	if c.session != nil && c.session.AccessToken == sess.AccessToken {
		updated := *c.session
		updated.Identity = ident
		c.session = &updated
	}
	c.mu.Unlock()

	return ident, nil
}

// Refresh はリフレッシュトークンで新しいアクセストークンを取得する。
func (c *Client) Refresh(ctx context.Context) (*model.Session, error) {
	sess := c.currentSession()
	if sess == nil {
		return nil, ErrNoSession
	}
	return c.refresh(ctx, sess)
}

func (c *Client) refresh(ctx context.Context, sess *model.Session) (*model.Session, error) {
	if sess.RefreshToken == "" {
		c.setSession(nil)
		return nil, fmt.Errorf("gotrue: session expired without refresh token")
	}

	var tr tokenResponse
	err := c.do(ctx, "refresh", http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}}, "",
		map[string]string{"refresh_token": sess.RefreshToken}, &tr)
	if err != nil {
		c.logger.Warn("トークンの更新に失敗したためセッションを破棄します",
			slog.String("error", err.Error()),
		)
		c.setSession(nil)
		return nil, err
	}

	next := c.toSession(&tr)
	if next.Identity == nil {
		next.Identity = sess.Identity
	}
	c.setSession(next)
	return next, nil
}

func (c *Client) needsRefresh(sess *model.Session) bool {
	if sess.ExpiresAt.IsZero() {
		return false
	}
	return sess.Expired(c.now().Add(refreshMargin))
}

func (c *Client) currentSession() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// setSession はセッションを置き換え、購読者に通知する。
func (c *Client) setSession(sess *model.Session) {
	c.mu.Lock()
	c.session = sess
	fns := make([]func(*model.Session), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(sess)
	}
}

// do はリクエストを送り、2xxの場合はレスポンスをoutにデコードする。
// bearerが空の場合はAPIキーをAuthorizationに使う。
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, bearer string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("gotrue: rate limiter: %w", err)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gotrue: failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("gotrue: failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recorder.RecordBackendRequest(op, 0, c.now().Sub(start))
		c.logger.Error("認証サーバーへのリクエストに失敗しました",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("gotrue: %s: %w", op, err)
	}
	defer resp.Body.Close()
	c.recorder.RecordBackendRequest(op, resp.StatusCode, c.now().Sub(start))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("gotrue: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp.StatusCode, respBody)
		c.logger.Warn("認証サーバーがエラーを返しました",
			slog.String("operation", op),
			slog.Int("http_status", resp.StatusCode),
			slog.String("code", apiErr.Code),
		)
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("gotrue: failed to decode response: %w", err)
	}
	return nil
}

var _ auth.Backend = (*Client)(nil)
