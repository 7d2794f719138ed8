// Пакет service — бизнес-логика жизненного цикла заданий печати:
// создание, валидация release-ссылок, просмотр, выпуск, подтверждение
// и удаление. Фоновая очистка истёкших заданий — в sweeper.go.
package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/printlink/internal/api/middleware"
	"github.com/bigkaa/printlink/internal/config"
	"github.com/bigkaa/printlink/internal/cryptox"
	"github.com/bigkaa/printlink/internal/domain/model"
	"github.com/bigkaa/printlink/internal/repository"
	"github.com/bigkaa/printlink/internal/storage/blobstore"
	"github.com/bigkaa/printlink/internal/storage/expiry"
)

// tokenLen — длина secure token в байтах до base64-кодирования.
const tokenLen = 32

// Store — операции хранилища, используемые жизненным циклом.
// Реализуется repository.Store; в тестах подменяется фейком.
type Store interface {
	SubmitJob(ctx context.Context, job *model.Job, doc *model.Document, analysis *model.DocumentAnalysis) error
	JobByID(ctx context.Context, id string) (*model.Job, error)
	ListJobsByUser(ctx context.Context, userID string) ([]*model.Job, error)
	ListAllJobs(ctx context.Context) ([]*model.Job, error)
	ListLiveJobs(ctx context.Context) ([]*model.Job, error)
	UpdateJobStatus(ctx context.Context, id string, from []model.JobStatus, to model.JobStatus, fields repository.StatusFields) (bool, error)
	CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error)
	RecordView(ctx context.Context, view *model.JobView) (int, error)
	DocumentByJobID(ctx context.Context, jobID string) (*model.Document, error)
	DeleteDocument(ctx context.Context, jobID string) error
	AnalysesByJobID(ctx context.Context, jobID string) ([]*model.DocumentAnalysis, error)
}

// Lifecycle — менеджер жизненного цикла заданий печати.
// Координирует хранилище, blob-файлы, expiry-индекс и шифрование.
type Lifecycle struct {
	cfg    *config.Config
	store  Store
	blobs  *blobstore.BlobStore
	index  *expiry.Index
	cipher *cryptox.Cipher
	logger *slog.Logger

	// now подменяется в тестах
	now func() time.Time
}

// NewLifecycle создаёт менеджер жизненного цикла.
func NewLifecycle(cfg *config.Config, store Store, blobs *blobstore.BlobStore, index *expiry.Index, cipher *cryptox.Cipher, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		cfg:    cfg,
		store:  store,
		blobs:  blobs,
		index:  index,
		cipher: cipher,
		logger: logger,
		now:    time.Now,
	}
}

// SubmitRequest — параметры создания задания печати.
type SubmitRequest struct {
	// UserID — идентификатор владельца (opaque)
	UserID string
	// DocumentName — отображаемое имя документа
	DocumentName string
	// Filename — оригинальное имя загруженного файла
	Filename string
	// MimeType — MIME-тип файла
	MimeType string
	// Content — содержимое файла (открытый текст)
	Content []byte
	// Params — параметры печати
	Params model.PrintParams
	// BaseURL — базовый URL из запроса (схема + хост);
	// PL_PUBLIC_BASE_URL имеет приоритет
	BaseURL string
	// ExpiresIn — срок действия ссылки; 0 — значение по умолчанию
	ExpiresIn time.Duration
}

// Submit создаёт задание печати: шифрует документ, атомарно пишет blob
// на диск, создаёт записи в БД одной транзакцией и регистрирует задание
// в expiry-индексе. При ошибке БД blob удаляется (компенсация),
// частичных заданий не остаётся.
func (l *Lifecycle) Submit(ctx context.Context, req *SubmitRequest) (*model.Job, error) {
	if err := l.validateSubmit(req); err != nil {
		middleware.OperationsTotal.WithLabelValues("submit", "error").Inc()
		return nil, err
	}

	now := l.now().UTC()
	jobID := uuid.New().String()

	token, err := newToken()
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("submit", "error").Inc()
		return nil, errInternal("Failed to generate secure token")
	}

	expiresIn := req.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = l.cfg.DefaultExpiration
	}

	if req.Params.Priority == "" {
		req.Params.Priority = "normal"
	}

	job := &model.Job{
		ID:           jobID,
		UserID:       req.UserID,
		DocumentName: req.DocumentName,
		Params:       req.Params,
		Status:       model.StatusPending,
		CostCents:    model.ComputeCostCents(req.Params),
		SubmittedAt:  now,
		SecureToken:  token,
		ReleaseLink:  l.buildReleaseLink(req.BaseURL, jobID, token),
		ExpiresAt:    now.Add(expiresIn),
	}

	// Шифруем документ свежим per-job секретом
	env, err := l.cipher.Encrypt(req.Content)
	if err != nil {
		l.logger.Error("Ошибка шифрования документа", slog.String("job_id", jobID), slog.String("error", err.Error()))
		middleware.OperationsTotal.WithLabelValues("submit", "error").Inc()
		return nil, errInternal("Failed to encrypt document")
	}

	storagePath, err := l.blobs.Save(jobID, env.Ciphertext)
	if err != nil {
		l.logger.Error("Ошибка записи blob", slog.String("job_id", jobID), slog.String("error", err.Error()))
		middleware.OperationsTotal.WithLabelValues("submit", "error").Inc()
		return nil, errInternal("Failed to store document")
	}

	doc := &model.Document{
		ID:          uuid.New().String(),
		JobID:       jobID,
		StoragePath: storagePath,
		MimeType:    req.MimeType,
		Filename:    req.Filename,
		Size:        int64(len(req.Content)),
		CreatedAt:   now,
		EncSecret:   env.Secret,
		EncIV:       env.IV,
		EncAuthTag:  env.AuthTag,
	}

	analysis := baselineAnalysis(jobID, job, doc, now)

	if err := l.store.SubmitJob(ctx, job, doc, analysis); err != nil {
		// Компенсация: blob без записей в БД — мусор
		if rmErr := l.blobs.Remove(storagePath); rmErr != nil {
			l.logger.Error("Ошибка компенсационного удаления blob",
				slog.String("job_id", jobID), slog.String("error", rmErr.Error()))
		}
		l.logger.Error("Ошибка создания задания в БД", slog.String("job_id", jobID), slog.String("error", err.Error()))
		middleware.OperationsTotal.WithLabelValues("submit", "error").Inc()
		return nil, errInternal("Failed to create print job")
	}

	l.index.Register(jobID, &expiry.Entry{
		ExpiresAt:    job.ExpiresAt,
		Token:        token,
		StoragePath:  storagePath,
		MimeType:     req.MimeType,
		OriginalName: req.Filename,
	})

	l.logger.Info("Задание печати создано",
		slog.String("job_id", jobID),
		slog.String("user_id", req.UserID),
		slog.Int("pages", req.Params.Pages),
		slog.Int("copies", req.Params.Copies),
		slog.Time("expires_at", job.ExpiresAt),
	)
	middleware.OperationsTotal.WithLabelValues("submit", "success").Inc()

	return job, nil
}

// ListJobs возвращает задания, новые первыми. Пустой userID — все
// задания, иначе фильтр по владельцу.
func (l *Lifecycle) ListJobs(ctx context.Context, userID string) ([]*model.Job, error) {
	var jobs []*model.Job
	var err error
	if userID == "" {
		jobs, err = l.store.ListAllJobs(ctx)
	} else {
		jobs, err = l.store.ListJobsByUser(ctx, userID)
	}
	if err != nil {
		l.logger.Error("Ошибка списка заданий", slog.String("user_id", userID), slog.String("error", err.Error()))
		return nil, errInternal("Failed to list print jobs")
	}
	return jobs, nil
}

// ReleaseData — данные release-страницы задания: задание, документ
// (если ещё существует) и справочные результаты анализа.
type ReleaseData struct {
	// Job — задание печати
	Job *model.Job
	// Document — метаданные документа; nil после выпуска
	Document *model.Document
	// Plaintext — расшифрованное содержимое документа; nil после выпуска
	Plaintext []byte
	// Analyses — результаты анализа документа
	Analyses []*model.DocumentAnalysis
}

// GetReleaseData валидирует release-ссылку и возвращает данные
// release-страницы. Просмотр в аудит не записывается — для этого
// существует ViewDocument.
func (l *Lifecycle) GetReleaseData(ctx context.Context, jobID, token string) (*ReleaseData, error) {
	l.index.MarkActive(jobID)
	defer l.index.UnmarkActive(jobID)

	job, err := l.validateLink(ctx, jobID, token)
	if err != nil {
		return nil, err
	}

	rd := &ReleaseData{Job: job}

	// После выпуска документ уничтожен — страница отдаётся без него
	if job.Status == model.StatusPending {
		doc, plaintext, err := l.loadDocument(ctx, jobID)
		if err != nil {
			return nil, err
		}
		rd.Document = doc
		rd.Plaintext = plaintext
	}

	// Результаты анализа справочные: их отсутствие не ломает страницу
	analyses, err := l.store.AnalysesByJobID(ctx, jobID)
	if err != nil {
		l.logger.Error("Ошибка чтения результатов анализа", slog.String("job_id", jobID), slog.String("error", err.Error()))
	} else {
		rd.Analyses = analyses
	}

	return rd, nil
}

// ViewResult — результат просмотра документа через release-ссылку.
type ViewResult struct {
	// Job — задание с обновлённым счётчиком просмотров
	Job *model.Job
	// Document — метаданные документа
	Document *model.Document
	// Plaintext — расшифрованное содержимое документа
	Plaintext []byte
	// ViewCount — счётчик просмотров после этого просмотра
	ViewCount int
}

// ViewDocument валидирует release-ссылку, расшифровывает документ и
// записывает просмотр в аудит. Ссылка многоразовая: повторные просмотры
// до истечения срока допустимы, first_viewed_at выставляется один раз.
//
// На время операции задание удерживается в индексе (MarkActive) —
// sweeper не удалит его из-под читателя.
func (l *Lifecycle) ViewDocument(ctx context.Context, jobID, token, viewer, userAgent, ip string) (*ViewResult, error) {
	l.index.MarkActive(jobID)
	defer l.index.UnmarkActive(jobID)

	job, err := l.validateLink(ctx, jobID, token)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("view", "error").Inc()
		return nil, err
	}

	if job.Status != model.StatusPending {
		middleware.OperationsTotal.WithLabelValues("view", "error").Inc()
		// После выпуска документ уничтожен
		if job.Status == model.StatusReleased {
			return nil, errAlreadyReleased()
		}
		return nil, errLinkExpired()
	}

	doc, plaintext, err := l.loadDocument(ctx, jobID)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("view", "error").Inc()
		return nil, err
	}

	view := &model.JobView{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Viewer:    viewer,
		ViewedAt:  l.now().UTC(),
		UserAgent: userAgent,
		IP:        ip,
	}
	count, err := l.store.RecordView(ctx, view)
	if err != nil {
		l.logger.Error("Ошибка записи просмотра", slog.String("job_id", jobID), slog.String("error", err.Error()))
		middleware.OperationsTotal.WithLabelValues("view", "error").Inc()
		return nil, errInternal("Failed to record view")
	}

	job.ViewCount = count
	if job.FirstViewedAt == nil {
		job.FirstViewedAt = &view.ViewedAt
	}

	l.logger.Info("Документ просмотрен",
		slog.String("job_id", jobID),
		slog.String("viewer", viewer),
		slog.Int("view_count", count),
	)
	middleware.OperationsTotal.WithLabelValues("view", "success").Inc()

	return &ViewResult{Job: job, Document: doc, Plaintext: plaintext, ViewCount: count}, nil
}

// Release выпускает задание на печать: условный переход pending →
// released, после которого документ уничтожается (запись documents и
// blob). Из конкурентных выпусков атомарно выигрывает ровно один,
// остальные получают ALREADY_RELEASED.
func (l *Lifecycle) Release(ctx context.Context, jobID, token, printerID, releasedBy string) (*model.Job, error) {
	l.index.MarkActive(jobID)
	defer l.index.UnmarkActive(jobID)

	job, err := l.validateLink(ctx, jobID, token)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("release", "error").Inc()
		return nil, err
	}

	// Путь blob нужен до уничтожения записи документа
	doc, docErr := l.store.DocumentByJobID(ctx, jobID)
	if docErr != nil && !errors.Is(docErr, repository.ErrNotFound) {
		l.logger.Error("Ошибка чтения документа", slog.String("job_id", jobID), slog.String("error", docErr.Error()))
		middleware.OperationsTotal.WithLabelValues("release", "error").Inc()
		return nil, errInternal("Failed to load document")
	}

	now := l.now().UTC()
	fields := repository.StatusFields{ReleasedAt: &now}
	if printerID != "" {
		fields.PrinterID = &printerID
	}
	if releasedBy != "" {
		fields.ReleasedBy = &releasedBy
	}

	applied, err := l.store.UpdateJobStatus(ctx, jobID,
		[]model.JobStatus{model.StatusPending}, model.StatusReleased, fields)
	if err != nil {
		l.logger.Error("Ошибка выпуска задания", slog.String("job_id", jobID), slog.String("error", err.Error()))
		middleware.OperationsTotal.WithLabelValues("release", "error").Inc()
		return nil, errInternal("Failed to release print job")
	}
	if !applied {
		middleware.OperationsTotal.WithLabelValues("release", "error").Inc()
		// Переход не применён: конкурент успел раньше или статус иной
		current, curErr := l.store.JobByID(ctx, jobID)
		if curErr == nil && current.Status == model.StatusReleased {
			return nil, errAlreadyReleased()
		}
		return nil, errIllegalTransition("Print job cannot be released in its current status")
	}

	// Уничтожаем документ: сначала запись, затем шифртекст.
	// Осиротевший blob при сбое уберёт стартовая очистка.
	if err := l.store.DeleteDocument(ctx, jobID); err != nil {
		l.logger.Error("Ошибка удаления записи документа", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
	if doc != nil {
		if err := l.blobs.Remove(doc.StoragePath); err != nil {
			l.logger.Error("Ошибка удаления blob", slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
	}

	// Задание остаётся в индексе до истечения срока или подтверждения,
	// но без пути blob — документа больше нет
	if entry := l.index.Get(jobID); entry != nil {
		entry.StoragePath = ""
		l.index.Update(jobID, entry)
	}

	job.Status = model.StatusReleased
	job.ReleasedAt = &now
	job.PrinterID = fields.PrinterID
	job.ReleasedBy = fields.ReleasedBy

	l.logger.Info("Задание выпущено на печать",
		slog.String("job_id", jobID),
		slog.String("printer_id", printerID),
		slog.String("released_by", releasedBy),
	)
	middleware.OperationsTotal.WithLabelValues("release", "success").Inc()

	return job, nil
}

// Complete подтверждает выполнение печати: условный переход
// released → completed. Задание удаляется из expiry-индекса.
func (l *Lifecycle) Complete(ctx context.Context, jobID string) (*model.Job, error) {
	now := l.now().UTC()

	applied, err := l.store.UpdateJobStatus(ctx, jobID,
		[]model.JobStatus{model.StatusReleased}, model.StatusCompleted,
		repository.StatusFields{CompletedAt: &now})
	if err != nil {
		l.logger.Error("Ошибка подтверждения печати", slog.String("job_id", jobID), slog.String("error", err.Error()))
		middleware.OperationsTotal.WithLabelValues("complete", "error").Inc()
		return nil, errInternal("Failed to complete print job")
	}
	if !applied {
		middleware.OperationsTotal.WithLabelValues("complete", "error").Inc()
		if _, getErr := l.store.JobByID(ctx, jobID); errors.Is(getErr, repository.ErrNotFound) {
			return nil, errNotFound("Print job not found")
		}
		return nil, errIllegalTransition("Only released print jobs can be completed")
	}

	l.index.Remove(jobID)

	job, err := l.store.JobByID(ctx, jobID)
	if err != nil {
		return nil, errInternal("Failed to load print job")
	}

	l.logger.Info("Печать подтверждена", slog.String("job_id", jobID))
	middleware.OperationsTotal.WithLabelValues("complete", "success").Inc()

	return job, nil
}

// Expire переводит задание в deleted и уничтожает его документ.
// Используется sweeper-ом и инлайн-очисткой при валидации истёкшей
// ссылки. Записи аудита просмотров не трогаются.
// Возвращает true, если переход применён этим вызовом.
func (l *Lifecycle) Expire(ctx context.Context, jobID string) (bool, error) {
	now := l.now().UTC()

	applied, err := l.store.UpdateJobStatus(ctx, jobID,
		[]model.JobStatus{model.StatusPending, model.StatusReleased}, model.StatusDeleted,
		repository.StatusFields{DeletedAt: &now})
	if err != nil {
		return false, fmt.Errorf("ошибка перевода задания %s в deleted: %w", jobID, err)
	}

	// Документ и blob уничтожаются независимо от исхода перехода:
	// конкурент мог перевести статус, но упасть до очистки.
	// Порядок фиксирован: сначала blob, затем запись документа. При
	// сбое удаления blob запись и индексная запись остаются, и
	// следующий проход sweeper-а повторяет попытку по пути из записи.
	doc, docErr := l.store.DocumentByJobID(ctx, jobID)
	if docErr == nil {
		if err := l.blobs.Remove(doc.StoragePath); err != nil {
			return applied, fmt.Errorf("ошибка удаления blob %s: %w", jobID, err)
		}
		if err := l.store.DeleteDocument(ctx, jobID); err != nil {
			return applied, fmt.Errorf("ошибка удаления записи документа %s: %w", jobID, err)
		}
	} else if !errors.Is(docErr, repository.ErrNotFound) {
		return applied, fmt.Errorf("ошибка чтения документа %s: %w", jobID, docErr)
	}

	l.index.Remove(jobID)

	if applied {
		l.logger.Info("Задание удалено по истечении срока", slog.String("job_id", jobID))
	}
	return applied, nil
}

// loadDocument читает запись документа, шифртекст с диска и
// расшифровывает его. Вызывается только для заданий в статусе pending,
// под удержанием MarkActive.
func (l *Lifecycle) loadDocument(ctx context.Context, jobID string) (*model.Document, []byte, error) {
	doc, err := l.store.DocumentByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, errAlreadyReleased()
		}
		l.logger.Error("Ошибка чтения документа", slog.String("job_id", jobID), slog.String("error", err.Error()))
		return nil, nil, errInternal("Failed to load document")
	}

	ciphertext, err := l.blobs.Read(doc.StoragePath)
	if err != nil {
		l.logger.Error("Ошибка чтения blob", slog.String("job_id", jobID), slog.String("error", err.Error()))
		return nil, nil, errInternal("Failed to read document")
	}

	plaintext, err := l.cipher.Decrypt(&cryptox.Envelope{
		Ciphertext: ciphertext,
		Secret:     doc.EncSecret,
		IV:         doc.EncIV,
		AuthTag:    doc.EncAuthTag,
	})
	if err != nil {
		// Fail closed: повреждённый документ наружу не отдаётся
		l.logger.Error("Ошибка расшифровки документа", slog.String("job_id", jobID), slog.String("error", err.Error()))
		return nil, nil, errInternal("Document integrity check failed")
	}

	return doc, plaintext, nil
}

// validateLink проверяет release-ссылку задания: существование, токен
// (сравнение за константное время), срок действия. Быстрый путь — по
// expiry-индексу, без обращения к БД при отказе; авторитетный fallback —
// строка jobs. Истёкшая ссылка инициирует немедленную очистку задания.
//
// Порядок проверок фиксирован: токен раньше срока — держатель
// неверного токена не узнаёт состояние задания.
func (l *Lifecycle) validateLink(ctx context.Context, jobID, token string) (*model.Job, error) {
	now := l.now().UTC()

	if entry := l.index.Get(jobID); entry != nil {
		if !tokenEqual(entry.Token, token) {
			return nil, errInvalidToken()
		}
		if now.After(entry.ExpiresAt) {
			l.expireInline(ctx, jobID)
			return nil, errLinkExpired()
		}
	}

	job, err := l.store.JobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errNotFound("Print job not found")
		}
		l.logger.Error("Ошибка чтения задания", slog.String("job_id", jobID), slog.String("error", err.Error()))
		return nil, errInternal("Failed to load print job")
	}

	if !tokenEqual(job.SecureToken, token) {
		return nil, errInvalidToken()
	}
	if !job.IsLive() {
		return nil, errLinkExpired()
	}
	if job.IsExpired(now) {
		l.expireInline(ctx, jobID)
		return nil, errLinkExpired()
	}

	return job, nil
}

// expireInline — немедленная очистка истёкшего задания при валидации,
// не дожидаясь sweeper-а. Ошибка очистки не меняет ответ клиенту.
func (l *Lifecycle) expireInline(ctx context.Context, jobID string) {
	if _, err := l.Expire(ctx, jobID); err != nil {
		l.logger.Error("Ошибка инлайн-очистки истёкшего задания",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
}

// validateSubmit проверяет входные данные создания задания.
// Лимит размера проверяется и здесь: HTTP-слой режет тело через
// MaxBytesReader, но Submit доступен и не-HTTP вызывающим.
func (l *Lifecycle) validateSubmit(req *SubmitRequest) error {
	if req.UserID == "" {
		return errValidation("user_id is required")
	}
	if req.DocumentName == "" {
		return errValidation("document_name is required")
	}
	if len(req.Content) == 0 {
		return errValidation("document file is required")
	}
	if int64(len(req.Content)) > l.cfg.MaxUploadBytes {
		return errFileTooLarge()
	}
	if req.Params.Pages < 1 {
		return errValidation("pages must be at least 1")
	}
	if req.Params.Copies < 1 {
		return errValidation("copies must be at least 1")
	}
	return nil
}

// buildReleaseLink собирает полный URL release-страницы задания.
// База выбирается по приоритету: PL_PUBLIC_BASE_URL → origin запроса
// (forwarded host или host).
func (l *Lifecycle) buildReleaseLink(requestBase, jobID, token string) string {
	base := l.cfg.PublicBaseURL
	if base == "" {
		base = requestBase
	}
	return fmt.Sprintf("%s/release/%s?token=%s", base, jobID, token)
}

// baselineAnalysis формирует базовый результат анализа документа,
// создаваемый вместе с заданием.
func baselineAnalysis(jobID string, job *model.Job, doc *model.Document, now time.Time) *model.DocumentAnalysis {
	result, err := json.Marshal(map[string]any{
		"pages":      job.Params.Pages,
		"copies":     job.Params.Copies,
		"color":      job.Params.Color,
		"duplex":     job.Params.Duplex,
		"size_bytes": doc.Size,
		"mime_type":  doc.MimeType,
		"cost_cents": job.CostCents,
	})
	if err != nil {
		return nil
	}
	return &model.DocumentAnalysis{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Result:    result,
		CreatedAt: now,
	}
}

// newToken генерирует криптографически случайный secure token.
func newToken() (string, error) {
	buf := make([]byte, tokenLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ошибка генерации токена: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// tokenEqual сравнивает токены за константное время.
func tokenEqual(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
