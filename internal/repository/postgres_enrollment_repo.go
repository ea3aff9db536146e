package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/studyhub/internal/model"
)

// PostgresEnrollmentRepo はPostgreSQLを使用した受講登録リポジトリ。
type PostgresEnrollmentRepo struct {
	db *sql.DB
}

// NewPostgresEnrollmentRepo はPostgresEnrollmentRepoを生成する。
func NewPostgresEnrollmentRepo(db *sql.DB) *PostgresEnrollmentRepo {
	return &PostgresEnrollmentRepo{db: db}
}

// ListByUserID はユーザーの受講登録一覧を登録日時順で返す。
// total_modules、completed_modulesがNULLの場合は0として扱う。
func (r *PostgresEnrollmentRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, course_id, total_modules, completed_modules, enrolled_at, completed_at
		 FROM enrollments
		 WHERE user_id = $1
		 ORDER BY enrolled_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []*model.Enrollment
	for rows.Next() {
		e := &model.Enrollment{}
		var total, completed sql.NullInt64
		var completedAt sql.NullTime

		if err := rows.Scan(
			&e.ID, &e.UserID, &e.CourseID,
			&total, &completed,
			&e.EnrolledAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		e.TotalModules = int(total.Int64)
		e.CompletedModules = int(completed.Int64)
		if completedAt.Valid {
			e.CompletedAt = &completedAt.Time
		}
		enrollments = append(enrollments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate enrollments: %w", err)
	}

	return enrollments, nil
}

// compile-time interface check
var _ EnrollmentRepository = (*PostgresEnrollmentRepo)(nil)
