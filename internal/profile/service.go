// Package profile は認証済みIdentityに対応するプロフィールの取得・作成・更新を提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/studyhub/internal/metrics"
	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/repository"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/singleflight"
)

// ErrProvisioningFailed は重複以外の理由でプロフィールを作成できなかったことを表す。
var ErrProvisioningFailed = errors.New("profile provisioning failed")

// fallbackName はIdentityから表示名を導けない場合の名前。
const fallbackName = "User"

// Service はプロフィールに関するビジネスロジックを提供する。
type Service struct {
	profiles    repository.ProfileRepository
	enrollments repository.EnrollmentRepository
	recorder    metrics.Recorder
	sanitizer   *bluemonday.Policy
	group       singleflight.Group
	now         func() time.Time
}

// NewService はServiceを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewService(
	profiles repository.ProfileRepository,
	enrollments repository.EnrollmentRepository,
	recorder metrics.Recorder,
) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		profiles:    profiles,
		enrollments: enrollments,
		recorder:    recorder,
		sanitizer:   bluemonday.StrictPolicy(),
		now:         time.Now,
	}
}

// FetchProfile は指定Identityのプロフィールを取得し、受講状況から進捗を付与する。
// 見つからない場合と取得エラーの場合はいずれもnilを返す（エラーはログのみ）。
func (s *Service) FetchProfile(ctx context.Context, identityID string) *model.Profile {
	p, err := s.profiles.FindByID(ctx, identityID)
	if err != nil {
		slog.Error("プロフィールの取得に失敗しました",
			slog.String("user_id", identityID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if p == nil {
		return nil
	}

	enrollments, err := s.enrollments.ListByUserID(ctx, identityID)
	if err != nil {
		slog.Error("受講状況の取得に失敗しました",
			slog.String("user_id", identityID),
			slog.String("error", err.Error()),
		)
		enrollments = nil
	}
	p.Progress = model.SumProgress(enrollments)

	return p
}

// CreateProfile はプロフィールが存在しない場合にrole=user、tier=freeで作成する。
// 既に存在する場合、または同時作成による一意制約違反の場合は成功として扱う。
func (s *Service) CreateProfile(ctx context.Context, identityID, name string) error {
	exists, err := s.profiles.Exists(ctx, identityID)
	if err != nil {
		// 存在確認の失敗は挿入時の一意制約で吸収できるので続行する
		slog.Warn("プロフィールの存在確認に失敗しました",
			slog.String("user_id", identityID),
			slog.String("error", err.Error()),
		)
	}
	if exists {
		slog.Debug("プロフィールは既に存在します", slog.String("user_id", identityID))
		s.recorder.RecordProvisioning(metrics.ProvisionDuplicate)
		return nil
	}

	now := s.now()
	err = s.profiles.Create(ctx, &model.Profile{
		ID:                 identityID,
		Name:               name,
		Role:               model.RoleUser,
		SubscriptionTier:   model.TierFree,
		PurchasedCourseIDs: []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if errors.Is(err, repository.ErrDuplicateKey) {
		slog.Info("プロフィールは同時に作成済みでした", slog.String("user_id", identityID))
		s.recorder.RecordProvisioning(metrics.ProvisionDuplicate)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	slog.Info("プロフィールを作成しました", slog.String("user_id", identityID))
	s.recorder.RecordProvisioning(metrics.ProvisionCreated)
	return nil
}

// EnsureProfile はIdentityのプロフィールを返す。存在しなければ作成する。
// 作成にも失敗した場合はDegradedを立てた既定プロフィールを返すため、nilは返さない。
// 同一プロセス内の同一Identityに対する同時呼び出しは1回の処理にまとめる。
func (s *Service) EnsureProfile(ctx context.Context, identity *model.Identity, name string) *model.Profile {
	if identity == nil {
		return nil
	}

	// 共有結果は最初の呼び出し側のキャンセルに影響されない
	shared := context.WithoutCancel(ctx)
	v, _, _ := s.group.Do(identity.ID, func() (any, error) {
		return s.ensure(shared, identity, name), nil
	})
	// 共有結果を呼び出し側ごとに複製する
	return v.(*model.Profile).Clone()
}

func (s *Service) ensure(ctx context.Context, identity *model.Identity, name string) *model.Profile {
	if p := s.FetchProfile(ctx, identity.ID); p != nil {
		s.recorder.RecordProvisioning(metrics.ProvisionFound)
		return p
	}

	displayName := DisplayName(name, identity)

	if err := s.CreateProfile(ctx, identity.ID, displayName); err != nil {
		slog.Error("プロフィールを作成できないため既定のプロフィールで続行します",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		s.recorder.RecordProvisioning(metrics.ProvisionDegraded)
		p := DefaultProfile(identity.ID, displayName, s.now())
		p.Degraded = true
		return p
	}

	// 作成直後の行を読み直す。読めない場合は作成内容と同じ既定値を使う
	if p := s.FetchProfile(ctx, identity.ID); p != nil {
		return p
	}
	return DefaultProfile(identity.ID, displayName, s.now())
}

// UpdateProfile はpatchに含まれるフィールドのみを更新する。
// テキストはマークアップを取り除いてから保存する。
func (s *Service) UpdateProfile(ctx context.Context, identityID string, patch model.ProfilePatch) error {
	clean := model.ProfilePatch{
		Name:      s.sanitize(patch.Name),
		AvatarURL: s.sanitize(patch.AvatarURL),
		Phone:     s.sanitize(patch.Phone),
		Bio:       s.sanitize(patch.Bio),
		Address:   s.sanitize(patch.Address),
	}

	if err := s.profiles.Update(ctx, identityID, clean, s.now()); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	slog.Info("プロフィールを更新しました", slog.String("user_id", identityID))
	return nil
}

func (s *Service) sanitize(v *string) *string {
	if v == nil {
		return nil
	}
	// StrictPolicyはエンティティをエスケープするので平文に戻して保存する
	cleaned := strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(*v)))
	return &cleaned
}

// DisplayName は表示名を決定する。
// 優先順位: 明示された名前 → メタデータの名前 → メールアドレスのローカル部 → "User"。
func DisplayName(explicit string, identity *model.Identity) string {
	if n := strings.TrimSpace(explicit); n != "" {
		return n
	}
	if n := identity.MetadataName(); n != "" {
		return n
	}
	if n := identity.EmailLocalPart(); n != "" {
		return n
	}
	return fallbackName
}

// DefaultProfile は新規作成時と同じ内容のプロフィールを返す。
func DefaultProfile(id, name string, now time.Time) *model.Profile {
	return &model.Profile{
		ID:                 id,
		Name:               name,
		Role:               model.RoleUser,
		SubscriptionTier:   model.TierFree,
		PurchasedCourseIDs: []string{},
		Progress:           model.NewProgress(0, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
