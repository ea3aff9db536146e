package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/studyhub/internal/model"
)

// PostgresCourseRepo はPostgreSQLを使用したコースリポジトリ。
type PostgresCourseRepo struct {
	db *sql.DB
}

// NewPostgresCourseRepo はPostgresCourseRepoを生成する。
func NewPostgresCourseRepo(db *sql.DB) *PostgresCourseRepo {
	return &PostgresCourseRepo{db: db}
}

// FindByID は指定IDのコースを取得する。見つからない場合はnilを返す。
func (r *PostgresCourseRepo) FindByID(ctx context.Context, id string) (*model.Course, error) {
	c := &model.Course{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, price, is_premium, created_at, updated_at FROM courses WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Title, &c.Price, &c.IsPremium, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find course by ID: %w", err)
	}

	return c, nil
}

// PostgresPurchaseRepo はPostgreSQLを使用した購入記録リポジトリ。
type PostgresPurchaseRepo struct {
	db *sql.DB
}

// NewPostgresPurchaseRepo はPostgresPurchaseRepoを生成する。
func NewPostgresPurchaseRepo(db *sql.DB) *PostgresPurchaseRepo {
	return &PostgresPurchaseRepo{db: db}
}

// Create は購入記録を作成する。
func (r *PostgresPurchaseRepo) Create(ctx context.Context, p *model.Purchase) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO purchases (id, user_id, course_id, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.UserID, p.CourseID, p.Amount, p.Status, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert purchase: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CourseRepository = (*PostgresCourseRepo)(nil)
var _ PurchaseRepository = (*PostgresPurchaseRepo)(nil)
