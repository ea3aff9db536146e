// Package cache はキー・バリュー型の短期データ保存を提供する。
//
// ドライバ:
//   - memory: プロセス内（単一インスタンス・開発用）
//   - redis: 複数インスタンスで共有する本番用
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound はキーが存在しないことを表す。
var ErrNotFound = errors.New("cache: key not found")

// Client はキャッシュ操作のインターフェース。
type Client interface {
	// Get は値を取得する。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, key string) (string, error)

	// Set は値を保存する。ttlが0の場合は期限なし。
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Take は値を取得して削除する。存在しない場合はErrNotFoundを返す。
	Take(ctx context.Context, key string) (string, error)

	// Delete はキーを削除する。存在しなくてもエラーにしない。
	Delete(ctx context.Context, key string) error

	// Ping は接続を確認する。
	Ping(ctx context.Context) error

	// Close は接続を閉じる。
	Close() error
}

// Config はキャッシュクライアント生成の設定。
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New は設定に応じたキャッシュクライアントを生成する。
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(ctx, cfg)
	case "memory", "":
		return NewMemory(cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("cache: unsupported driver %q", cfg.Driver)
	}
}

func prefixed(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
