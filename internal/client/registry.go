// Package client はブラウザセッションごとの認証クライアントを管理する。
//
// 1つのブラウザ（セッションCookie）に対して、認証バックエンドのクライアント、
// セッション状態を保持するauth.Service、トースト通知のキューを1組ずつ持つ。
// 一定時間アクセスのないクライアントは破棄される。
package client

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/studyhub/internal/auth"
	"github.com/hitoshi/studyhub/internal/gotrue"
	"github.com/hitoshi/studyhub/internal/metrics"
	"github.com/hitoshi/studyhub/internal/notify"
	gocache "github.com/patrickmn/go-cache"
)

// DefaultIdleTimeout はアクセスのないクライアントを破棄するまでの時間。
const DefaultIdleTimeout = 24 * time.Hour

// Client は1つのブラウザセッションに対応する認証クライアント。
type Client struct {
	Key           string
	Auth          *auth.Service
	Backend       *gotrue.Client
	Notifications *notify.Queue
}

// Close はセッション状態の購読を終了する。
func (c *Client) Close() {
	c.Auth.Close()
}

// Config はRegistryの設定。
type Config struct {
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Recorder    metrics.Recorder
	Profiles    auth.ProfileProvider
	GoTrue      gotrue.Config
	Auth        auth.ServiceConfig
	IdleTimeout time.Duration
	// NotificationCapacity は1クライアントが保持する未読通知の上限。0の場合は既定値。
	NotificationCapacity int
}

// Registry はセッションキーからClientを引く。
// 取得のたびに有効期限を延長し、期限切れや削除の際にClientを閉じる。
type Registry struct {
	cfg   Config
	items *gocache.Cache
}

// NewRegistry はRegistryを生成する。
func NewRegistry(cfg Config) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.Nop{}
	}

	items := gocache.New(cfg.IdleTimeout, cleanupInterval(cfg.IdleTimeout))
	items.OnEvicted(func(key string, v any) {
		if c, ok := v.(*Client); ok {
			c.Close()
			slog.Debug("クライアントを破棄しました", slog.String("client", shortKey(key)))
		}
	})
	return &Registry{cfg: cfg, items: items}
}

func cleanupInterval(idle time.Duration) time.Duration {
	if interval := idle / 4; interval < time.Minute {
		return interval
	}
	return time.Minute
}

// Get はkeyに対応するClientを返し、有効期限を延長する。
func (r *Registry) Get(key string) (*Client, bool) {
	if key == "" {
		return nil, false
	}
	v, ok := r.items.Get(key)
	if !ok {
		return nil, false
	}
	c := v.(*Client)
	// 取得後に期限切れで破棄されていた場合は閉じたClientを戻さない
	if err := r.items.Replace(key, c, gocache.DefaultExpiration); err != nil {
		return nil, false
	}
	return c, true
}

// Create は新しいセッションキーでClientを生成し、状態の購読を開始する。
func (r *Registry) Create(ctx context.Context) (*Client, error) {
	key, err := generateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate client key: %w", err)
	}

	backend := gotrue.NewClient(r.cfg.HTTPClient, r.cfg.Logger, r.cfg.Recorder, r.cfg.GoTrue)
	queue := notify.NewQueue(r.cfg.NotificationCapacity)
	svc := auth.NewService(backend, r.cfg.Profiles, queue, r.cfg.Recorder, r.cfg.Auth)
	if err := svc.Start(ctx); err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to start auth service: %w", err)
	}

	c := &Client{
		Key:           key,
		Auth:          svc,
		Backend:       backend,
		Notifications: queue,
	}
	r.items.Set(key, c, gocache.DefaultExpiration)
	return c, nil
}

// Remove はClientを削除して閉じる。
func (r *Registry) Remove(key string) {
	r.items.Delete(key)
}

// Len は保持しているClientの数を返す。
func (r *Registry) Len() int {
	return r.items.ItemCount()
}

// Close はすべてのClientを閉じる。
func (r *Registry) Close() {
	for key := range r.items.Items() {
		r.items.Delete(key)
	}
}

// generateKey は暗号的に安全なセッションキーを生成する。
func generateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// shortKey はログ出力用にキーの先頭だけを返す。
func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
