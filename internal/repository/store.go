package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/printlink/internal/domain/model"
)

// Store — агрегат репозиториев поверх одного пула подключений.
// Составные операции (SubmitJob, RecordView) выполняются в транзакции,
// одиночные делегируются репозиториям напрямую.
type Store struct {
	tx       *TxRunner
	jobs     *JobRepository
	docs     *DocumentRepository
	views    *ViewRepository
	analyses *AnalysisRepository
}

// NewStore создаёт агрегат репозиториев.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		tx:       NewTxRunner(pool),
		jobs:     NewJobRepository(pool),
		docs:     NewDocumentRepository(pool),
		views:    NewViewRepository(pool),
		analyses: NewAnalysisRepository(pool),
	}
}

// SubmitJob атомарно создаёт задание, запись документа и (опционально)
// базовый результат анализа. При любой ошибке транзакция откатывается,
// частичных записей не остаётся.
func (s *Store) SubmitJob(ctx context.Context, job *model.Job, doc *model.Document, analysis *model.DocumentAnalysis) error {
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := NewJobRepository(tx).Insert(ctx, job); err != nil {
			return err
		}
		if err := NewDocumentRepository(tx).Insert(ctx, doc); err != nil {
			return err
		}
		if analysis != nil {
			if err := NewAnalysisRepository(tx).Insert(ctx, analysis); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordView атомарно добавляет запись аудита и увеличивает счётчик
// просмотров задания. Возвращает новое значение счётчика.
func (s *Store) RecordView(ctx context.Context, view *model.JobView) (int, error) {
	var count int
	err := s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := NewViewRepository(tx).Insert(ctx, view); err != nil {
			return err
		}
		var err error
		count, err = NewJobRepository(tx).IncrementViewCount(ctx, view.JobID, view.ViewedAt)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка записи просмотра: %w", err)
	}
	return count, nil
}

// JobByID возвращает задание по ID.
func (s *Store) JobByID(ctx context.Context, id string) (*model.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

// ListJobsByUser возвращает задания пользователя, новые первыми.
func (s *Store) ListJobsByUser(ctx context.Context, userID string) ([]*model.Job, error) {
	return s.jobs.ListByUser(ctx, userID)
}

// ListAllJobs возвращает все задания, новые первыми.
func (s *Store) ListAllJobs(ctx context.Context) ([]*model.Job, error) {
	return s.jobs.ListAll(ctx)
}

// ListLiveJobs возвращает задания в статусах pending и released.
func (s *Store) ListLiveJobs(ctx context.Context) ([]*model.Job, error) {
	return s.jobs.ListLive(ctx)
}

// UpdateJobStatus выполняет условный переход статуса.
// Возвращает true, если переход применён.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, from []model.JobStatus, to model.JobStatus, fields StatusFields) (bool, error) {
	return s.jobs.UpdateStatus(ctx, id, from, to, fields)
}

// CountJobsByStatus возвращает количество заданий в каждом статусе.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	return s.jobs.CountByStatus(ctx)
}

// DocumentByJobID возвращает документ задания.
func (s *Store) DocumentByJobID(ctx context.Context, jobID string) (*model.Document, error) {
	return s.docs.GetByJobID(ctx, jobID)
}

// DeleteDocument удаляет запись документа задания. Идемпотентна.
func (s *Store) DeleteDocument(ctx context.Context, jobID string) error {
	return s.docs.DeleteByJobID(ctx, jobID)
}

// AnalysesByJobID возвращает результаты анализа задания.
func (s *Store) AnalysesByJobID(ctx context.Context, jobID string) ([]*model.DocumentAnalysis, error) {
	return s.analyses.ListByJobID(ctx, jobID)
}

// ViewsByJobID возвращает записи аудита просмотров задания.
func (s *Store) ViewsByJobID(ctx context.Context, jobID string) ([]*model.JobView, error) {
	return s.views.ListByJobID(ctx, jobID)
}
