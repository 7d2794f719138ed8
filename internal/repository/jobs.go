package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/printlink/internal/domain/model"
)

// JobRepository — репозиторий заданий печати (таблица jobs).
type JobRepository struct {
	db DBTX
}

// NewJobRepository создаёт репозиторий заданий.
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

// jobColumns — список колонок jobs в порядке сканирования.
const jobColumns = `id, user_id, document_name, pages, copies, color, duplex, stapling,
	priority, notes, status, (cost * 100)::BIGINT, submitted_at, released_at, completed_at,
	deleted_at, secure_token, release_link, expires_at, view_count, first_viewed_at,
	printer_id, released_by`

// scanJob сканирует одну строку jobs в модель.
func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	err := row.Scan(
		&j.ID, &j.UserID, &j.DocumentName,
		&j.Params.Pages, &j.Params.Copies, &j.Params.Color, &j.Params.Duplex,
		&j.Params.Stapling, &j.Params.Priority, &j.Params.Notes,
		&j.Status, &j.CostCents, &j.SubmittedAt, &j.ReleasedAt, &j.CompletedAt,
		&j.DeletedAt, &j.SecureToken, &j.ReleaseLink, &j.ExpiresAt,
		&j.ViewCount, &j.FirstViewedAt, &j.PrinterID, &j.ReleasedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка сканирования задания: %w", err)
	}
	return &j, nil
}

// Insert добавляет новое задание.
// Возвращает ErrConflict при дублирующемся ID.
func (r *JobRepository) Insert(ctx context.Context, j *model.Job) error {
	query := `
		INSERT INTO jobs (id, user_id, document_name, pages, copies, color, duplex,
			stapling, priority, notes, status, cost, submitted_at, secure_token,
			release_link, expires_at, view_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::BIGINT / 100.0,
			$13, $14, $15, $16, $17)
	`
	_, err := r.db.Exec(ctx, query,
		j.ID, j.UserID, j.DocumentName,
		j.Params.Pages, j.Params.Copies, j.Params.Color, j.Params.Duplex,
		j.Params.Stapling, j.Params.Priority, j.Params.Notes,
		j.Status, j.CostCents, j.SubmittedAt, j.SecureToken,
		j.ReleaseLink, j.ExpiresAt, j.ViewCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка добавления задания: %w", err)
	}
	return nil
}

// GetByID возвращает задание по ID.
// Возвращает ErrNotFound, если задание не существует.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return scanJob(r.db.QueryRow(ctx, query, id))
}

// ListByUser возвращает задания пользователя, новые первыми.
func (r *JobRepository) ListByUser(ctx context.Context, userID string) ([]*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1 ORDER BY submitted_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса заданий пользователя: %w", err)
	}
	defer rows.Close()

	jobs := make([]*model.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ListAll возвращает все задания, новые первыми.
func (r *JobRepository) ListAll(ctx context.Context) ([]*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY submitted_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса заданий: %w", err)
	}
	defer rows.Close()

	jobs := make([]*model.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// StatusFields — поля, выставляемые при переходе статуса.
// nil-поля не изменяются (COALESCE с текущим значением).
type StatusFields struct {
	ReleasedAt  *time.Time
	CompletedAt *time.Time
	DeletedAt   *time.Time
	PrinterID   *string
	ReleasedBy  *string
}

// UpdateStatus выполняет условный переход статуса: UPDATE применяется,
// только если текущий статус входит в from. Возвращает true, если
// переход применён. Из конкурентных переходов выигрывает ровно один —
// атомарность гарантируется самим UPDATE.
func (r *JobRepository) UpdateStatus(ctx context.Context, id string, from []model.JobStatus, to model.JobStatus, fields StatusFields) (bool, error) {
	fromStr := make([]string, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}

	query := `
		UPDATE jobs SET
			status       = $2,
			released_at  = COALESCE($3, released_at),
			completed_at = COALESCE($4, completed_at),
			deleted_at   = COALESCE($5, deleted_at),
			printer_id   = COALESCE($6, printer_id),
			released_by  = COALESCE($7, released_by)
		WHERE id = $1 AND status = ANY($8)
	`
	tag, err := r.db.Exec(ctx, query,
		id, to,
		fields.ReleasedAt, fields.CompletedAt, fields.DeletedAt,
		fields.PrinterID, fields.ReleasedBy,
		fromStr,
	)
	if err != nil {
		return false, fmt.Errorf("ошибка перехода статуса: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementViewCount увеличивает счётчик просмотров на 1 и выставляет
// first_viewed_at, если это первый просмотр. Возвращает новое значение
// счётчика.
func (r *JobRepository) IncrementViewCount(ctx context.Context, id string, viewedAt time.Time) (int, error) {
	query := `
		UPDATE jobs SET
			view_count      = view_count + 1,
			first_viewed_at = COALESCE(first_viewed_at, $2)
		WHERE id = $1
		RETURNING view_count
	`
	var count int
	err := r.db.QueryRow(ctx, query, id, viewedAt).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка инкремента счётчика просмотров: %w", err)
	}
	return count, nil
}

// CountByStatus возвращает количество заданий в каждом статусе.
// Используется для gauge-метрики pl_jobs_total.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта заданий по статусам: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status model.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования счётчика статусов: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// ListLive возвращает задания в «живых» статусах (pending, released).
// Используется стартовой очисткой: индекс не персистентный, поэтому
// живые задания прежнего процесса после рестарта недостижимы и
// переводятся в deleted.
func (r *JobRepository) ListLive(ctx context.Context) ([]*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN ('pending', 'released')`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса живых заданий: %w", err)
	}
	defer rows.Close()

	jobs := make([]*model.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
