package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryClient はgo-cacheを使ったプロセス内キャッシュ。
type MemoryClient struct {
	prefix string
	c      *gocache.Cache
	// Takeの取得と削除を1操作にまとめる
	mu sync.Mutex
}

// NewMemory はプロセス内キャッシュを生成する。期限切れエントリは1分ごとに掃除する。
func NewMemory(prefix string) *MemoryClient {
	return &MemoryClient{
		prefix: prefix,
		c:      gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func (m *MemoryClient) Get(_ context.Context, key string) (string, error) {
	v, ok := m.c.Get(prefixed(m.prefix, key))
	if !ok {
		return "", ErrNotFound
	}
	s, _ := v.(string)
	return s, nil
}

func (m *MemoryClient) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(prefixed(m.prefix, key), value, ttl)
	return nil
}

func (m *MemoryClient) Take(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := prefixed(m.prefix, key)
	v, ok := m.c.Get(k)
	if !ok {
		return "", ErrNotFound
	}
	m.c.Delete(k)
	s, _ := v.(string)
	return s, nil
}

func (m *MemoryClient) Delete(_ context.Context, key string) error {
	m.c.Delete(prefixed(m.prefix, key))
	return nil
}

func (m *MemoryClient) Ping(context.Context) error { return nil }

func (m *MemoryClient) Close() error {
	m.c.Flush()
	return nil
}

var _ Client = (*MemoryClient)(nil)
