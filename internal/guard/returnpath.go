package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/studyhub/internal/cache"
)

// Purpose は保存する戻り先の用途。
type Purpose string

const (
	// PurposeLogin はログイン後に戻る先。
	PurposeLogin Purpose = "login"
	// PurposeVerification はメール確認後に戻る先。
	PurposeVerification Purpose = "verification"
)

// DefaultReturnPathTTL は戻り先を保持する期間。
const DefaultReturnPathTTL = 24 * time.Hour

// ReturnPathStore はクライアントごとの戻り先パスをキャッシュに保存する。
type ReturnPathStore struct {
	cache cache.Client
	ttl   time.Duration
}

// NewReturnPathStore はReturnPathStoreを生成する。ttlが0以下の場合はDefaultReturnPathTTLを使う。
func NewReturnPathStore(c cache.Client, ttl time.Duration) *ReturnPathStore {
	if ttl <= 0 {
		ttl = DefaultReturnPathTTL
	}
	return &ReturnPathStore{cache: c, ttl: ttl}
}

func returnPathKey(clientKey string, purpose Purpose) string {
	return "return_path:" + string(purpose) + ":" + clientKey
}

// Save は戻り先を保存する。アプリ内のパス以外は保存しない。
func (s *ReturnPathStore) Save(ctx context.Context, clientKey string, purpose Purpose, path string) error {
	if clientKey == "" || !SafeLocalPath(path) {
		return nil
	}
	if err := s.cache.Set(ctx, returnPathKey(clientKey, purpose), path, s.ttl); err != nil {
		return fmt.Errorf("failed to save return path: %w", err)
	}
	return nil
}

// Take は戻り先を取り出して削除する。保存されていない場合は空文字を返す。
func (s *ReturnPathStore) Take(ctx context.Context, clientKey string, purpose Purpose) (string, error) {
	if clientKey == "" {
		return "", nil
	}
	path, err := s.cache.Take(ctx, returnPathKey(clientKey, purpose))
	if errors.Is(err, cache.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to take return path: %w", err)
	}
	if !SafeLocalPath(path) {
		return "", nil
	}
	return path, nil
}

// SafeLocalPath はpathが同一オリジン内の絶対パスかどうかを返す。
// "//host" や "/\host" のようなプロトコル相対URLは拒否する。
func SafeLocalPath(path string) bool {
	if !strings.HasPrefix(path, "/") {
		return false
	}
	if len(path) > 1 && (path[1] == '/' || path[1] == '\\') {
		return false
	}
	return !strings.ContainsAny(path, "\r\n")
}
