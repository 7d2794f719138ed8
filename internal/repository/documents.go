package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/printlink/internal/domain/model"
)

// DocumentRepository — репозиторий зашифрованных документов (таблица documents).
type DocumentRepository struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Insert добавляет запись документа.
// Возвращает ErrConflict, если документ для задания уже существует.
func (r *DocumentRepository) Insert(ctx context.Context, d *model.Document) error {
	query := `
		INSERT INTO documents (id, job_id, storage_path, mime_type, filename, size,
			created_at, enc_secret, enc_iv, enc_auth_tag)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		d.ID, d.JobID, d.StoragePath, d.MimeType, d.Filename, d.Size,
		d.CreatedAt, d.EncSecret, d.EncIV, d.EncAuthTag,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка добавления документа: %w", err)
	}
	return nil
}

// GetByJobID возвращает документ задания.
// Возвращает ErrNotFound, если документ уже уничтожен или не существовал.
func (r *DocumentRepository) GetByJobID(ctx context.Context, jobID string) (*model.Document, error) {
	query := `
		SELECT id, job_id, storage_path, mime_type, filename, size, created_at,
			enc_secret, enc_iv, enc_auth_tag
		FROM documents WHERE job_id = $1
	`
	var d model.Document
	err := r.db.QueryRow(ctx, query, jobID).Scan(
		&d.ID, &d.JobID, &d.StoragePath, &d.MimeType, &d.Filename, &d.Size,
		&d.CreatedAt, &d.EncSecret, &d.EncIV, &d.EncAuthTag,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения документа: %w", err)
	}
	return &d, nil
}

// DeleteByJobID удаляет запись документа задания.
// Идемпотентна: отсутствие записи не является ошибкой.
func (r *DocumentRepository) DeleteByJobID(ctx context.Context, jobID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM documents WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("ошибка удаления документа: %w", err)
	}
	return nil
}
