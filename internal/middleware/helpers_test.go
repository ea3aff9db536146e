package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/studyhub/internal/auth"
	"github.com/hitoshi/studyhub/internal/client"
	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/notify"
	"github.com/hitoshi/studyhub/internal/profile"
	"github.com/hitoshi/studyhub/internal/repository/repotest"
)

// stubBackend は固定のセッションを返すauth.Backend。
type stubBackend struct {
	session *model.Session
}

func (b *stubBackend) GetSession(context.Context) (*model.Session, error) { return b.session, nil }
func (b *stubBackend) SubscribeSessionChanges(func(*model.Session)) func() {
	return func() {}
}
func (b *stubBackend) SignIn(context.Context, string, string) (*model.Identity, error) {
	return nil, auth.ErrNotAuthenticated
}
func (b *stubBackend) SignUp(context.Context, string, string, auth.SignUpOptions) (*model.Identity, error) {
	return nil, auth.ErrNotAuthenticated
}
func (b *stubBackend) SignOut(context.Context) error { return nil }
func (b *stubBackend) GetUser(context.Context) (*model.Identity, error) {
	if b.session == nil {
		return nil, auth.ErrNotAuthenticated
	}
	return b.session.Identity, nil
}

// newTestClient は状態が確定済みのClientを返す。userIDが空の場合は未ログイン。
func newTestClient(t *testing.T, key, userID string) *client.Client {
	t.Helper()

	backend := &stubBackend{}
	if userID != "" {
		backend.session = &model.Session{
			AccessToken: "token",
			ExpiresAt:   time.Now().Add(time.Hour),
			Identity:    &model.Identity{ID: userID, Email: userID + "@example.com"},
		}
	}
	store := repotest.NewStore()
	queue := notify.NewQueue(0)
	svc := auth.NewService(backend, profile.NewService(store, store, nil), queue, nil, auth.ServiceConfig{})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start がエラーを返した: %v", err)
	}
	t.Cleanup(svc.Close)

	return &client.Client{Key: key, Auth: svc, Notifications: queue}
}

// stubStore はClientStoreのテスト実装。
type stubStore struct {
	clients   map[string]*client.Client
	createFn  func(ctx context.Context) (*client.Client, error)
	createCnt int
}

func (s *stubStore) Get(key string) (*client.Client, bool) {
	c, ok := s.clients[key]
	return c, ok
}

func (s *stubStore) Create(ctx context.Context) (*client.Client, error) {
	s.createCnt++
	return s.createFn(ctx)
}
