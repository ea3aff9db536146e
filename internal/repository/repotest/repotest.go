// Package repotest はテスト用のインメモリリポジトリを提供する。
// 各メソッドはエラー注入用のフックを持ち、フックがnilの場合はメモリ上のデータを操作する。
package repotest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/repository"
)

// Store はプロフィール・受講登録・コース・購入記録をメモリ上に保持する。
type Store struct {
	mu          sync.Mutex
	profiles    map[string]*model.Profile
	enrollments map[string][]*model.Enrollment
	courses     map[string]*model.Course
	purchases   []*model.Purchase

	// エラー注入用フック
	FindByIDErr    func(id string) error
	ExistsErr      func(id string) error
	CreateErr      func(p *model.Profile) error
	UpdateErr      func(id string) error
	EnrollmentsErr func(userID string) error
	PurchaseErr    func(p *model.Purchase) error

	// 呼び出し回数
	FindByIDCalls int
	CreateCalls   int
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		profiles:    make(map[string]*model.Profile),
		enrollments: make(map[string][]*model.Enrollment),
		courses:     make(map[string]*model.Course),
	}
}

// PutProfile はプロフィールを直接登録する。
func (s *Store) PutProfile(p *model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p.Clone()
}

// Profile は保存されているプロフィールのコピーを返す。
func (s *Store) Profile(id string) *model.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[id].Clone()
}

// ProfileCount は保存されているプロフィール数を返す。
func (s *Store) ProfileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}

// PutEnrollment は受講登録を追加する。
func (s *Store) PutEnrollment(e *model.Enrollment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	s.enrollments[e.UserID] = append(s.enrollments[e.UserID], &c)
}

// PutCourse はコースを登録する。
func (s *Store) PutCourse(c *model.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc := *c
	s.courses[c.ID] = &cc
}

// Purchases は記録された購入のコピーを返す。
func (s *Store) Purchases() []model.Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Purchase, 0, len(s.purchases))
	for _, p := range s.purchases {
		out = append(out, *p)
	}
	return out
}

// --- repository.ProfileRepository ---

func (s *Store) FindByID(_ context.Context, id string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FindByIDCalls++
	if s.FindByIDErr != nil {
		if err := s.FindByIDErr(id); err != nil {
			return nil, err
		}
	}
	return s.profiles[id].Clone(), nil
}

func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ExistsErr != nil {
		if err := s.ExistsErr(id); err != nil {
			return false, err
		}
	}
	_, ok := s.profiles[id]
	return ok, nil
}

func (s *Store) Create(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateCalls++
	if s.CreateErr != nil {
		if err := s.CreateErr(p); err != nil {
			return err
		}
	}
	if _, ok := s.profiles[p.ID]; ok {
		return fmt.Errorf("failed to insert profile %s: %w", p.ID, repository.ErrDuplicateKey)
	}
	s.profiles[p.ID] = p.Clone()
	return nil
}

func (s *Store) Upsert(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[p.ID]; ok {
		existing.Name = p.Name
		existing.Role = p.Role
		existing.SubscriptionTier = p.SubscriptionTier
		existing.UpdatedAt = p.UpdatedAt
		return nil
	}
	s.profiles[p.ID] = p.Clone()
	return nil
}

func (s *Store) Update(_ context.Context, id string, patch model.ProfilePatch, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		if err := s.UpdateErr(id); err != nil {
			return err
		}
	}
	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("profile not found: %s", id)
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.Name, patch.Name)
	set(&p.AvatarURL, patch.AvatarURL)
	set(&p.Phone, patch.Phone)
	set(&p.Bio, patch.Bio)
	set(&p.Address, patch.Address)
	p.UpdatedAt = updatedAt
	return nil
}

func (s *Store) AppendPurchasedCourse(_ context.Context, id, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok || slices.Contains(p.PurchasedCourseIDs, courseID) {
		return nil
	}
	p.PurchasedCourseIDs = append(p.PurchasedCourseIDs, courseID)
	return nil
}

func (s *Store) UpdateSubscriptionTier(_ context.Context, id string, tier model.SubscriptionTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("profile not found: %s", id)
	}
	p.SubscriptionTier = tier
	return nil
}

// --- repository.EnrollmentRepository ---

func (s *Store) ListByUserID(_ context.Context, userID string) ([]*model.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EnrollmentsErr != nil {
		if err := s.EnrollmentsErr(userID); err != nil {
			return nil, err
		}
	}
	return slices.Clone(s.enrollments[userID]), nil
}

// Courses はCourseRepositoryとしてのビューを返す。
func (s *Store) Courses() repository.CourseRepository { return courseView{s} }

// PurchaseLog はPurchaseRepositoryとしてのビューを返す。
func (s *Store) PurchaseLog() repository.PurchaseRepository { return purchaseView{s} }

type courseView struct{ s *Store }

func (v courseView) FindByID(_ context.Context, id string) (*model.Course, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	c, ok := v.s.courses[id]
	if !ok {
		return nil, nil
	}
	cc := *c
	return &cc, nil
}

type purchaseView struct{ s *Store }

func (v purchaseView) Create(_ context.Context, p *model.Purchase) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if v.s.PurchaseErr != nil {
		if err := v.s.PurchaseErr(p); err != nil {
			return err
		}
	}
	pp := *p
	v.s.purchases = append(v.s.purchases, &pp)
	return nil
}

var (
	_ repository.ProfileRepository    = (*Store)(nil)
	_ repository.EnrollmentRepository = (*Store)(nil)
	_ repository.CourseRepository     = courseView{}
	_ repository.PurchaseRepository   = purchaseView{}
)
