package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/printlink/internal/domain/model"
)

// AnalysisRepository — репозиторий результатов анализа документов
// (таблица document_analysis). Записи справочные, не на критическом пути.
type AnalysisRepository struct {
	db DBTX
}

// NewAnalysisRepository создаёт репозиторий результатов анализа.
func NewAnalysisRepository(db DBTX) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Insert добавляет результат анализа.
func (r *AnalysisRepository) Insert(ctx context.Context, a *model.DocumentAnalysis) error {
	query := `
		INSERT INTO document_analysis (id, job_id, result, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Exec(ctx, query, a.ID, a.JobID, a.Result, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка добавления результата анализа: %w", err)
	}
	return nil
}

// ListByJobID возвращает результаты анализа задания.
func (r *AnalysisRepository) ListByJobID(ctx context.Context, jobID string) ([]*model.DocumentAnalysis, error) {
	query := `
		SELECT id, job_id, result, created_at
		FROM document_analysis WHERE job_id = $1 ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса результатов анализа: %w", err)
	}
	defer rows.Close()

	analyses := make([]*model.DocumentAnalysis, 0)
	for rows.Next() {
		var a model.DocumentAnalysis
		if err := rows.Scan(&a.ID, &a.JobID, &a.Result, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования результата анализа: %w", err)
		}
		analyses = append(analyses, &a)
	}
	return analyses, rows.Err()
}
