// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/studyhub/internal/model"
)

// ErrDuplicateKey は一意制約違反による挿入失敗を表す。
// 呼び出し側はerrors.Isで他のエラーと区別できる。
var ErrDuplicateKey = errors.New("duplicate key")

// ProfileRepository はプロフィールデータの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	// Progressは設定しない。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// Exists は指定IDのプロフィールが存在するかを返す。
	Exists(ctx context.Context, id string) (bool, error)

	// Create はプロフィールを作成する。
	// 同一IDが既に存在する場合はErrDuplicateKeyをラップしたエラーを返す。
	Create(ctx context.Context, profile *model.Profile) error

	// Upsert はプロフィールを作成し、既に存在する場合はロール・プラン・名前を上書きする。
	Upsert(ctx context.Context, profile *model.Profile) error

	// Update はpatchのnilでないフィールドとupdated_atのみを更新する。
	Update(ctx context.Context, id string, patch model.ProfilePatch, updatedAt time.Time) error

	// AppendPurchasedCourse は購入済みコースにcourseIDを追加する。既に含まれる場合は何もしない。
	AppendPurchasedCourse(ctx context.Context, id, courseID string) error

	// UpdateSubscriptionTier はプランを更新する。
	UpdateSubscriptionTier(ctx context.Context, id string, tier model.SubscriptionTier) error
}

// EnrollmentRepository は受講登録データの永続化インターフェース。
type EnrollmentRepository interface {
	// ListByUserID はユーザーの受講登録一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Enrollment, error)
}

// CourseRepository はコースデータの永続化インターフェース。
type CourseRepository interface {
	// FindByID は指定IDのコースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Course, error)
}

// PurchaseRepository は購入記録の永続化インターフェース。
type PurchaseRepository interface {
	// Create は購入記録を作成する。
	Create(ctx context.Context, purchase *model.Purchase) error
}
