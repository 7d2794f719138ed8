package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/printlink/internal/domain/model"
)

// ViewRepository — репозиторий аудита просмотров (таблица job_views).
// Таблица append-only: записи никогда не изменяются и не удаляются,
// в том числе после истечения или удаления задания.
type ViewRepository struct {
	db DBTX
}

// NewViewRepository создаёт репозиторий аудита просмотров.
func NewViewRepository(db DBTX) *ViewRepository {
	return &ViewRepository{db: db}
}

// Insert добавляет запись о просмотре.
func (r *ViewRepository) Insert(ctx context.Context, v *model.JobView) error {
	query := `
		INSERT INTO job_views (id, job_id, viewer, viewed_at, user_agent, ip)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, v.ID, v.JobID, v.Viewer, v.ViewedAt, v.UserAgent, v.IP)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита просмотра: %w", err)
	}
	return nil
}

// ListByJobID возвращает записи просмотров задания в хронологическом порядке.
func (r *ViewRepository) ListByJobID(ctx context.Context, jobID string) ([]*model.JobView, error) {
	query := `
		SELECT id, job_id, viewer, viewed_at, user_agent, ip
		FROM job_views WHERE job_id = $1 ORDER BY viewed_at
	`
	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса аудита просмотров: %w", err)
	}
	defer rows.Close()

	views := make([]*model.JobView, 0)
	for rows.Next() {
		var v model.JobView
		if err := rows.Scan(&v.ID, &v.JobID, &v.Viewer, &v.ViewedAt, &v.UserAgent, &v.IP); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи просмотра: %w", err)
		}
		views = append(views, &v)
	}
	return views, rows.Err()
}
