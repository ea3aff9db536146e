// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/studyhub/internal/auth"
	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/repository"
)

// AdminName は管理者プロフィールの表示名。
const AdminName = "Admin User"

// Authenticator は管理者アカウントの登録とログインに使う認証バックエンドの操作。
type Authenticator interface {
	SignUp(ctx context.Context, email, password string, opts auth.SignUpOptions) (*model.Identity, error)
	SignIn(ctx context.Context, email, password string) (*model.Identity, error)
}

// Service はユーザー管理のサービス層。
// 管理者アカウントの作成を提供する。
type Service struct {
	authenticator Authenticator
	profiles      repository.ProfileRepository
	now           func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(authenticator Authenticator, profiles repository.ProfileRepository) *Service {
	return &Service{
		authenticator: authenticator,
		profiles:      profiles,
		now:           time.Now,
	}
}

// SetupAdmin は管理者アカウントを用意する。
// 登録に失敗した場合は登録済みとみなしてログインを試み、
// 得られたIDのプロフィールを管理者・premiumプランで作成または上書きする。
func (s *Service) SetupAdmin(ctx context.Context, email, password string) (*model.Profile, error) {
	if email == "" || password == "" {
		return nil, model.NewInvalidRequestError("email and password are required")
	}

	identity, signUpErr := s.authenticator.SignUp(ctx, email, password, auth.SignUpOptions{
		Metadata: map[string]string{"name": AdminName},
	})
	if signUpErr != nil {
		slog.Info("管理者の登録に失敗したためログインを試みます",
			slog.String("email", email),
			slog.String("error", signUpErr.Error()),
		)

		var signInErr error
		identity, signInErr = s.authenticator.SignIn(ctx, email, password)
		if signInErr != nil {
			return nil, fmt.Errorf("管理者アカウントを用意できませんでした: %w", errors.Join(signUpErr, signInErr))
		}
	}
	if identity == nil {
		return nil, fmt.Errorf("管理者アカウントを用意できませんでした: identity is nil")
	}

	now := s.now()
	profile := &model.Profile{
		ID:               identity.ID,
		Name:             AdminName,
		Role:             model.RoleAdmin,
		SubscriptionTier: model.TierPremium,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.profiles.Upsert(ctx, profile); err != nil {
		return nil, fmt.Errorf("管理者プロフィールの保存に失敗しました: %w", err)
	}

	slog.Info("管理者アカウントを用意しました",
		slog.String("user_id", identity.ID),
		slog.String("email", email),
	)
	return profile, nil
}
