package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/repository/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(store *repotest.Store) *Service {
	s := NewService(store, store, nil)
	s.now = func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) }
	return s
}

func strPtr(s string) *string { return &s }

func TestFetchProfile_NotFoundReturnsNil(t *testing.T) {
	s := newTestService(repotest.NewStore())
	assert.Nil(t, s.FetchProfile(context.Background(), "nobody"))
}

func TestFetchProfile_QueryErrorTreatedAsNotFound(t *testing.T) {
	store := repotest.NewStore()
	store.PutProfile(&model.Profile{ID: "u1", Name: "Hanako"})
	store.FindByIDErr = func(string) error { return errors.New("connection reset") }

	s := newTestService(store)
	assert.Nil(t, s.FetchProfile(context.Background(), "u1"))
	assert.Equal(t, 1, store.FindByIDCalls, "リトライしない")
}

func TestFetchProfile_AttachesProgressFromEnrollments(t *testing.T) {
	store := repotest.NewStore()
	store.PutProfile(&model.Profile{ID: "u1", Name: "Hanako", Role: model.RoleUser, SubscriptionTier: model.TierFree})
	store.PutEnrollment(&model.Enrollment{UserID: "u1", CourseID: "c1", TotalModules: 10, CompletedModules: 5})
	store.PutEnrollment(&model.Enrollment{UserID: "u1", CourseID: "c2", TotalModules: 20, CompletedModules: 5})

	p := newTestService(store).FetchProfile(context.Background(), "u1")
	require.NotNil(t, p)
	assert.Equal(t, model.Progress{Total: 30, Completed: 10, Percentage: 33}, p.Progress)
}

func TestFetchProfile_EnrollmentErrorYieldsZeroProgress(t *testing.T) {
	store := repotest.NewStore()
	store.PutProfile(&model.Profile{ID: "u1", Name: "Hanako"})
	store.PutEnrollment(&model.Enrollment{UserID: "u1", TotalModules: 4, CompletedModules: 4})
	store.EnrollmentsErr = func(string) error { return errors.New("timeout") }

	p := newTestService(store).FetchProfile(context.Background(), "u1")
	require.NotNil(t, p)
	assert.Equal(t, model.Progress{}, p.Progress)
}

func TestCreateProfile_InsertsDefaults(t *testing.T) {
	store := repotest.NewStore()
	s := newTestService(store)

	require.NoError(t, s.CreateProfile(context.Background(), "u1", "Taro"))

	p := store.Profile("u1")
	require.NotNil(t, p)
	assert.Equal(t, "Taro", p.Name)
	assert.Equal(t, model.RoleUser, p.Role)
	assert.Equal(t, model.TierFree, p.SubscriptionTier)
	assert.Empty(t, p.PurchasedCourseIDs)
	assert.Equal(t, s.now(), p.CreatedAt)
	assert.Equal(t, s.now(), p.UpdatedAt)
}

func TestCreateProfile_ExistingProfileIsLeftAlone(t *testing.T) {
	store := repotest.NewStore()
	store.PutProfile(&model.Profile{ID: "u1", Name: "Original", Role: model.RoleAdmin})

	require.NoError(t, newTestService(store).CreateProfile(context.Background(), "u1", "Other"))

	assert.Equal(t, 0, store.CreateCalls)
	assert.Equal(t, "Original", store.Profile("u1").Name)
}

func TestCreateProfile_DuplicateKeyIsSwallowed(t *testing.T) {
	store := repotest.NewStore()
	// 存在確認をすり抜けて挿入が競合した状況を再現する
	store.ExistsErr = func(string) error { return errors.New("exists check failed") }
	s := newTestService(store)

	require.NoError(t, s.CreateProfile(context.Background(), "u1", "A"))
	require.NoError(t, s.CreateProfile(context.Background(), "u1", "B"))

	assert.Equal(t, 2, store.CreateCalls)
	assert.Equal(t, 1, store.ProfileCount())
	assert.Equal(t, "A", store.Profile("u1").Name)
}

func TestCreateProfile_ConcurrentCallsConvergeToOneRow(t *testing.T) {
	store := repotest.NewStore()
	s := newTestService(store)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.CreateProfile(context.Background(), "u1", "Taro")
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, store.ProfileCount())
}

func TestCreateProfile_OtherInsertErrorIsProvisioningFailure(t *testing.T) {
	store := repotest.NewStore()
	store.CreateErr = func(*model.Profile) error { return errors.New("permission denied") }

	err := newTestService(store).CreateProfile(context.Background(), "u1", "Taro")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvisioningFailed)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestEnsureProfile_ReturnsExisting(t *testing.T) {
	store := repotest.NewStore()
	store.PutProfile(&model.Profile{ID: "u1", Name: "Existing", SubscriptionTier: model.TierPremium})

	p := newTestService(store).EnsureProfile(context.Background(), &model.Identity{ID: "u1"}, "")
	require.NotNil(t, p)
	assert.Equal(t, "Existing", p.Name)
	assert.Equal(t, 0, store.CreateCalls)
}

func TestEnsureProfile_CreatesMissingProfileWithDerivedName(t *testing.T) {
	store := repotest.NewStore()
	ident := &model.Identity{ID: "u1", Email: "hanako@example.com"}

	p := newTestService(store).EnsureProfile(context.Background(), ident, "")
	require.NotNil(t, p)
	assert.Equal(t, "hanako", p.Name)
	assert.Equal(t, model.RoleUser, p.Role)
	assert.Equal(t, model.TierFree, p.SubscriptionTier)
	assert.Empty(t, p.PurchasedCourseIDs)
	assert.False(t, p.Degraded)
	assert.NotNil(t, store.Profile("u1"))
}

func TestEnsureProfile_DegradesWhenCreationFails(t *testing.T) {
	store := repotest.NewStore()
	store.CreateErr = func(*model.Profile) error { return errors.New("relation does not exist") }
	ident := &model.Identity{ID: "u1", Metadata: map[string]string{"name": "Jiro"}}

	p := newTestService(store).EnsureProfile(context.Background(), ident, "")
	require.NotNil(t, p, "作成に失敗してもnilを返さない")
	assert.True(t, p.Degraded)
	assert.Equal(t, "Jiro", p.Name)
	assert.Equal(t, model.RoleUser, p.Role)
	assert.Equal(t, model.TierFree, p.SubscriptionTier)
	assert.Equal(t, model.Progress{}, p.Progress)
}

// ctxStore はDBドライバと同様にキャンセル済みのcontextでの書き込みを失敗させる。
type ctxStore struct {
	*repotest.Store
}

func (c ctxStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.Store.Exists(ctx, id)
}

func (c ctxStore) Create(ctx context.Context, p *model.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Store.Create(ctx, p)
}

func TestEnsureProfile_CancelledCallerDoesNotDegradeSharedResult(t *testing.T) {
	store := repotest.NewStore()
	s := NewService(ctxStore{store}, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := s.EnsureProfile(ctx, &model.Identity{ID: "u1", Email: "hanako@example.com"}, "Hanako")
	require.NotNil(t, p)
	assert.False(t, p.Degraded)
	assert.NotNil(t, store.Profile("u1"))
}

func TestEnsureProfile_NilIdentity(t *testing.T) {
	assert.Nil(t, newTestService(repotest.NewStore()).EnsureProfile(context.Background(), nil, "x"))
}

func TestEnsureProfile_ConcurrentCallersGetIndependentCopies(t *testing.T) {
	store := repotest.NewStore()
	s := newTestService(store)
	ident := &model.Identity{ID: "u1", Email: "a@example.com"}

	var wg sync.WaitGroup
	results := make([]*model.Profile, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.EnsureProfile(context.Background(), ident, "")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.ProfileCount())
	for _, p := range results {
		require.NotNil(t, p)
		assert.Equal(t, "a", p.Name)
	}
	results[0].Name = "mutated"
	assert.Equal(t, "a", results[1].Name)
}

func TestUpdateProfile_WritesOnlyPresentFields(t *testing.T) {
	store := repotest.NewStore()
	store.PutProfile(&model.Profile{ID: "u1", Name: "Old", Phone: "090", Bio: "old bio"})
	s := newTestService(store)

	require.NoError(t, s.UpdateProfile(context.Background(), "u1", model.ProfilePatch{Name: strPtr("X")}))

	p := store.Profile("u1")
	assert.Equal(t, "X", p.Name)
	assert.Equal(t, "090", p.Phone)
	assert.Equal(t, "old bio", p.Bio)
	assert.Equal(t, s.now(), p.UpdatedAt)
}

func TestUpdateProfile_StripsMarkup(t *testing.T) {
	store := repotest.NewStore()
	store.PutProfile(&model.Profile{ID: "u1"})

	err := newTestService(store).UpdateProfile(context.Background(), "u1", model.ProfilePatch{
		Bio:  strPtr(`<script>alert(1)</script>Hello <b>world</b>`),
		Name: strPtr("  Taro  "),
	})
	require.NoError(t, err)

	p := store.Profile("u1")
	assert.Equal(t, "Hello world", p.Bio)
	assert.Equal(t, "Taro", p.Name)
}

func TestUpdateProfile_StoreErrorIsReturned(t *testing.T) {
	store := repotest.NewStore()
	store.PutProfile(&model.Profile{ID: "u1", Name: "Old"})
	store.UpdateErr = func(string) error { return errors.New("write failed") }

	err := newTestService(store).UpdateProfile(context.Background(), "u1", model.ProfilePatch{Name: strPtr("X")})
	require.Error(t, err)
	assert.Equal(t, "Old", store.Profile("u1").Name)
}

func TestDisplayName_Precedence(t *testing.T) {
	withMeta := &model.Identity{Email: "mail@example.com", Metadata: map[string]string{"name": "Meta"}}
	emailOnly := &model.Identity{Email: "mail@example.com"}

	assert.Equal(t, "Explicit", DisplayName(" Explicit ", withMeta))
	assert.Equal(t, "Meta", DisplayName("", withMeta))
	assert.Equal(t, "mail", DisplayName("", emailOnly))
	assert.Equal(t, "User", DisplayName("", &model.Identity{}))
	assert.Equal(t, "User", DisplayName("", nil))
}

func TestDefaultProfile(t *testing.T) {
	now := time.Now()
	p := DefaultProfile("u1", "Taro", now)

	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, model.RoleUser, p.Role)
	assert.Equal(t, model.TierFree, p.SubscriptionTier)
	assert.NotNil(t, p.PurchasedCourseIDs)
	assert.False(t, p.IsPremium())
	assert.False(t, p.Degraded)
}

func TestUpdateProfile_KeepsPlainTextPunctuation(t *testing.T) {
	store := repotest.NewStore()
	store.PutProfile(&model.Profile{ID: "u1"})

	err := newTestService(store).UpdateProfile(context.Background(), "u1", model.ProfilePatch{
		Name:    strPtr("O'Brien"),
		Address: strPtr("1-2-3 Shibuya & Co."),
	})
	require.NoError(t, err)

	p := store.Profile("u1")
	assert.Equal(t, "O'Brien", p.Name)
	assert.Equal(t, "1-2-3 Shibuya & Co.", p.Address)
}
