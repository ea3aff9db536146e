// Package billing はコース購入とプラン変更のドメインロジックを提供する。
// 決済処理そのものは扱わず、完了済みの購入として記録する。
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/repository"
)

// Service はコース購入とプラン変更のサービス層。
type Service struct {
	profiles  repository.ProfileRepository
	courses   repository.CourseRepository
	purchases repository.PurchaseRepository
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	profiles repository.ProfileRepository,
	courses repository.CourseRepository,
	purchases repository.PurchaseRepository,
) *Service {
	return &Service{
		profiles:  profiles,
		courses:   courses,
		purchases: purchases,
		now:       time.Now,
	}
}

// PurchaseCourse はコースの購入を記録し、プロフィールの購入済みコースに追加する。
// 購入済みのコースを再度購入した場合も記録は残るが、購入済みコースは重複しない。
func (s *Service) PurchaseCourse(ctx context.Context, userID, courseID string) (*model.Purchase, error) {
	if err := s.requireProfile(ctx, userID); err != nil {
		return nil, err
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("コースの取得に失敗しました: %w", err)
	}
	if course == nil {
		return nil, model.NewCourseNotFoundError(courseID)
	}

	purchase := &model.Purchase{
		ID:        uuid.NewString(),
		UserID:    userID,
		CourseID:  course.ID,
		Amount:    course.Price,
		Status:    model.PurchaseStatusCompleted,
		CreatedAt: s.now(),
	}
	if err := s.purchases.Create(ctx, purchase); err != nil {
		return nil, fmt.Errorf("購入記録の作成に失敗しました: %w", err)
	}

	if err := s.profiles.AppendPurchasedCourse(ctx, userID, course.ID); err != nil {
		return nil, fmt.Errorf("購入済みコースの更新に失敗しました: %w", err)
	}

	slog.Info("コースを購入しました",
		slog.String("user_id", userID),
		slog.String("course_id", course.ID),
		slog.String("purchase_id", purchase.ID),
	)
	return purchase, nil
}

// Subscribe はユーザーのプランを変更する。
func (s *Service) Subscribe(ctx context.Context, userID, tier string) error {
	if !model.ValidSubscriptionTier(tier) {
		return model.NewInvalidSubscriptionTierError(tier)
	}
	if err := s.requireProfile(ctx, userID); err != nil {
		return err
	}

	if err := s.profiles.UpdateSubscriptionTier(ctx, userID, model.SubscriptionTier(tier)); err != nil {
		return fmt.Errorf("プランの更新に失敗しました: %w", err)
	}

	slog.Info("プランを変更しました",
		slog.String("user_id", userID),
		slog.String("tier", tier),
	)
	return nil
}

func (s *Service) requireProfile(ctx context.Context, userID string) error {
	exists, err := s.profiles.Exists(ctx, userID)
	if err != nil {
		return fmt.Errorf("プロフィールの確認に失敗しました: %w", err)
	}
	if !exists {
		return model.NewUserNotFoundError()
	}
	return nil
}
