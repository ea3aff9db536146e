package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/studyhub/internal/model"
	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
// NULL列は空文字・既定値として復元する。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	p := &model.Profile{}
	var (
		name, role, tier            sql.NullString
		avatarURL, phone, bio, addr sql.NullString
		purchased                   pq.StringArray
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, role, subscription_tier, purchased_courses,
		        avatar_url, phone, bio, address, created_at, updated_at
		 FROM profiles WHERE id = $1`,
		id,
	).Scan(
		&p.ID, &name, &role, &tier, &purchased,
		&avatarURL, &phone, &bio, &addr,
		&p.CreatedAt, &p.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}

	p.Name = name.String
	p.Role = model.ParseRole(role.String)
	p.SubscriptionTier = model.ParseSubscriptionTier(tier.String)
	p.PurchasedCourseIDs = []string(purchased)
	if p.PurchasedCourseIDs == nil {
		p.PurchasedCourseIDs = []string{}
	}
	p.AvatarURL = avatarURL.String
	p.Phone = phone.String
	p.Bio = bio.String
	p.Address = addr.String

	return p, nil
}

// Exists は指定IDのプロフィールが存在するかを返す。
func (r *PostgresProfileRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM profiles WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check profile existence: %w", err)
	}
	return exists, nil
}

// Create はプロフィールを作成する。
// 同一IDが既に存在する場合はErrDuplicateKeyをラップして返す。
func (r *PostgresProfileRepo) Create(ctx context.Context, p *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, name, role, subscription_tier, purchased_courses, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, string(p.Role), string(p.SubscriptionTier),
		pq.StringArray(nonNil(p.PurchasedCourseIDs)), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to insert profile %s: %w", p.ID, ErrDuplicateKey)
		}
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// Upsert はプロフィールを作成し、既に存在する場合は名前・ロール・プランを上書きする。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, p *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, name, role, subscription_tier, purchased_courses, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   role = EXCLUDED.role,
		   subscription_tier = EXCLUDED.subscription_tier,
		   updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, string(p.Role), string(p.SubscriptionTier),
		pq.StringArray(nonNil(p.PurchasedCourseIDs)), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// Update はpatchのnilでないフィールドとupdated_atのみを更新する。
func (r *PostgresProfileRepo) Update(ctx context.Context, id string, patch model.ProfilePatch, updatedAt time.Time) error {
	query, args := buildProfileUpdate(id, patch, updatedAt)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("profile not found: %s", id)
	}
	return nil
}

// AppendPurchasedCourse は購入済みコースにcourseIDを追加する。
// 既に含まれている場合は更新しない（冪等）。
func (r *PostgresProfileRepo) AppendPurchasedCourse(ctx context.Context, id, courseID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles
		 SET purchased_courses = array_append(COALESCE(purchased_courses, '{}'), $2::text),
		     updated_at = now()
		 WHERE id = $1 AND NOT ($2::text = ANY(COALESCE(purchased_courses, '{}')))`,
		id, courseID,
	)
	if err != nil {
		return fmt.Errorf("failed to append purchased course: %w", err)
	}
	return nil
}

// UpdateSubscriptionTier はプランを更新する。
func (r *PostgresProfileRepo) UpdateSubscriptionTier(ctx context.Context, id string, tier model.SubscriptionTier) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET subscription_tier = $2, updated_at = now() WHERE id = $1`,
		id, string(tier),
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription tier: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("profile not found: %s", id)
	}
	return nil
}

// buildProfileUpdate は部分更新用のUPDATE文と引数を組み立てる。
// 引数の順序は$1=id、以降はSET句の出現順。
func buildProfileUpdate(id string, patch model.ProfilePatch, updatedAt time.Time) (string, []any) {
	sets := make([]string, 0, 6)
	args := []any{id}

	add := func(column string, v *string) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("name", patch.Name)
	add("avatar_url", patch.AvatarURL)
	add("phone", patch.Phone)
	add("bio", patch.Bio)
	add("address", patch.Address)

	args = append(args, updatedAt)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	return "UPDATE profiles SET " + strings.Join(sets, ", ") + " WHERE id = $1", args
}

// isUniqueViolation はエラーが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
