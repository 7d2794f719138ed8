package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	apierrors "github.com/bigkaa/printlink/internal/api/errors"
	"github.com/bigkaa/printlink/internal/config"
	"github.com/bigkaa/printlink/internal/cryptox"
	"github.com/bigkaa/printlink/internal/domain/model"
	"github.com/bigkaa/printlink/internal/repository"
	"github.com/bigkaa/printlink/internal/storage/blobstore"
	"github.com/bigkaa/printlink/internal/storage/expiry"
)

// testEnv — собранный для теста менеджер жизненного цикла с фейковым
// хранилищем и настоящими blob-хранилищем, индексом и шифратором.
type testEnv struct {
	lifecycle *Lifecycle
	store     *fakeStore
	blobs     *blobstore.BlobStore
	index     *expiry.Index
	clock     *fakeClock
}

// fakeClock — управляемые часы для проверки истечения сроков.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.New() вернул ошибку: %v", err)
	}

	cfg := &config.Config{
		DefaultExpiration: 15 * time.Minute,
		MaxUploadBytes:    20 * 1024 * 1024,
	}
	store := newFakeStore()
	index := expiry.New()
	clock := &fakeClock{now: time.Now().UTC()}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lc := NewLifecycle(cfg, store, blobs, index, cryptox.NewCipher(1000), logger)
	lc.now = clock.Now

	return &testEnv{lifecycle: lc, store: store, blobs: blobs, index: index, clock: clock}
}

func submitRequest() *SubmitRequest {
	return &SubmitRequest{
		UserID:       "user-1",
		DocumentName: "report.pdf",
		Filename:     "report.pdf",
		MimeType:     "application/pdf",
		Content:      []byte("%PDF-1.4 fake document body"),
		Params:       model.PrintParams{Pages: 2, Copies: 3, Duplex: true},
		BaseURL:      "https://print.example.com",
	}
}

// svcErr извлекает *Error или проваливает тест.
func svcErr(t *testing.T, err error) *Error {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("ожидалась ошибка *service.Error, получено: %v", err)
	}
	return e
}

// TestSubmit проверяет создание задания: статус, стоимость, токен,
// release-ссылка, blob на диске, запись в индексе.
func TestSubmit(t *testing.T) {
	env := newTestEnv(t)

	job, err := env.lifecycle.Submit(context.Background(), submitRequest())
	if err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}

	if job.Status != model.StatusPending {
		t.Errorf("статус = %s, ожидалось pending", job.Status)
	}
	// 10 × 2 × 3 × 0.8 = 48 центов
	if job.CostCents != 48 {
		t.Errorf("стоимость = %d центов, ожидалось 48", job.CostCents)
	}
	if len(job.SecureToken) < 32 {
		t.Errorf("длина токена = %d, ожидалось не менее 32", len(job.SecureToken))
	}
	wantLink := "https://print.example.com/release/" + job.ID + "?token=" + job.SecureToken
	if job.ReleaseLink != wantLink {
		t.Errorf("release-ссылка = %q, ожидалось %q", job.ReleaseLink, wantLink)
	}
	if !job.ExpiresAt.Equal(job.SubmittedAt.Add(15 * time.Minute)) {
		t.Errorf("срок истечения = %v, ожидалось submitted_at + 15m", job.ExpiresAt)
	}

	// Blob записан и зашифрован
	doc, err := env.store.DocumentByJobID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("документ не создан: %v", err)
	}
	ciphertext, err := env.blobs.Read(doc.StoragePath)
	if err != nil {
		t.Fatalf("blob не записан: %v", err)
	}
	if bytes.Contains(ciphertext, []byte("fake document")) {
		t.Error("blob содержит открытый текст")
	}

	// Задание в индексе
	entry := env.index.Get(job.ID)
	if entry == nil {
		t.Fatal("задание не зарегистрировано в индексе")
	}
	if entry.Token != job.SecureToken {
		t.Error("токен в индексе не совпадает с заданием")
	}

	// Базовый анализ создан
	analyses, _ := env.store.AnalysesByJobID(context.Background(), job.ID)
	if len(analyses) != 1 {
		t.Errorf("результатов анализа = %d, ожидался 1", len(analyses))
	}
}

// TestSubmitValidation проверяет отказ на некорректных входных данных.
func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"без user_id", func(r *SubmitRequest) { r.UserID = "" }},
		{"без имени документа", func(r *SubmitRequest) { r.DocumentName = "" }},
		{"без содержимого", func(r *SubmitRequest) { r.Content = nil }},
		{"нулевые страницы", func(r *SubmitRequest) { r.Params.Pages = 0 }},
		{"нулевые копии", func(r *SubmitRequest) { r.Params.Copies = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := submitRequest()
			tt.mutate(req)

			_, err := env.lifecycle.Submit(context.Background(), req)
			e := svcErr(t, err)
			if e.Code != apierrors.CodeValidationError {
				t.Errorf("код = %s, ожидалось VALIDATION_ERROR", e.Code)
			}
			if e.StatusCode != 400 {
				t.Errorf("статус = %d, ожидалось 400", e.StatusCode)
			}
		})
	}
}

// TestSubmitTooLarge проверяет лимит размера в самом Submit: лимит
// действует и для вызывающих в обход HTTP-слоя.
func TestSubmitTooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.lifecycle.cfg.MaxUploadBytes = 16

	req := submitRequest()
	req.Content = bytes.Repeat([]byte("a"), 17)

	_, err := env.lifecycle.Submit(context.Background(), req)
	e := svcErr(t, err)
	if e.StatusCode != 413 || e.Code != apierrors.CodeFileTooLarge {
		t.Errorf("ошибка = %d %s, ожидалось 413 FILE_TOO_LARGE", e.StatusCode, e.Code)
	}

	// Отказ до шифрования и записи: диск и индекс не тронуты
	if paths, _ := env.blobs.List(); len(paths) != 0 {
		t.Errorf("после отказа остались blob-ы: %v", paths)
	}
}

// TestSubmitCompensation проверяет компенсацию при отказе БД:
// blob удаляется, индекс не регистрируется.
func TestSubmitCompensation(t *testing.T) {
	env := newTestEnv(t)
	env.store.failSubmit = true

	_, err := env.lifecycle.Submit(context.Background(), submitRequest())
	if err == nil {
		t.Fatal("Submit() не вернул ошибку при отказе БД")
	}

	paths, _ := env.blobs.List()
	if len(paths) != 0 {
		t.Errorf("после отказа БД остались blob-ы: %v", paths)
	}
	if env.index.Count() != 0 {
		t.Errorf("после отказа БД в индексе %d записей", env.index.Count())
	}
}

// TestViewDocument проверяет многоразовый просмотр: счётчик растёт,
// first_viewed_at выставляется один раз, аудит пополняется.
func TestViewDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.lifecycle.Submit(ctx, submitRequest())
	if err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}

	res1, err := env.lifecycle.ViewDocument(ctx, job.ID, job.SecureToken, "viewer-1", "UA", "10.0.0.1")
	if err != nil {
		t.Fatalf("первый ViewDocument() вернул ошибку: %v", err)
	}
	if res1.ViewCount != 1 {
		t.Errorf("счётчик после первого просмотра = %d, ожидалось 1", res1.ViewCount)
	}
	if !bytes.Equal(res1.Plaintext, submitRequest().Content) {
		t.Error("расшифрованное содержимое не совпадает с исходным")
	}
	if res1.Job.FirstViewedAt == nil {
		t.Fatal("first_viewed_at не выставлен после первого просмотра")
	}
	firstViewed := *res1.Job.FirstViewedAt

	env.clock.Advance(time.Minute)

	res2, err := env.lifecycle.ViewDocument(ctx, job.ID, job.SecureToken, "viewer-2", "UA", "10.0.0.2")
	if err != nil {
		t.Fatalf("второй ViewDocument() вернул ошибку: %v", err)
	}
	if res2.ViewCount != 2 {
		t.Errorf("счётчик после второго просмотра = %d, ожидалось 2", res2.ViewCount)
	}
	if !res2.Job.FirstViewedAt.Equal(firstViewed) {
		t.Error("first_viewed_at изменился при повторном просмотре")
	}

	views := env.store.viewsForJob(job.ID)
	if len(views) != 2 {
		t.Errorf("записей аудита = %d, ожидалось 2", len(views))
	}
}

// TestViewWrongToken проверяет отказ с неверным токеном: 403, просмотр
// не записывается.
func TestViewWrongToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.lifecycle.Submit(ctx, submitRequest())
	if err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}

	_, err = env.lifecycle.ViewDocument(ctx, job.ID, "wrong-token", "viewer", "UA", "10.0.0.1")
	e := svcErr(t, err)
	if e.Code != apierrors.CodeInvalidToken {
		t.Errorf("код = %s, ожидалось INVALID_TOKEN", e.Code)
	}
	if e.StatusCode != 403 {
		t.Errorf("статус = %d, ожидалось 403", e.StatusCode)
	}

	if views := env.store.viewsForJob(job.ID); len(views) != 0 {
		t.Errorf("записей аудита = %d, просмотр с неверным токеном не должен записываться", len(views))
	}

	current, _ := env.store.JobByID(ctx, job.ID)
	if current.ViewCount != 0 {
		t.Errorf("счётчик = %d, не должен меняться при неверном токене", current.ViewCount)
	}
}

// TestViewUnknownJob проверяет 404 для несуществующего задания.
func TestViewUnknownJob(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.lifecycle.ViewDocument(context.Background(), "11111111-2222-3333-4444-555555555555", "token", "v", "UA", "ip")
	e := svcErr(t, err)
	if e.Code != apierrors.CodeNotFound {
		t.Errorf("код = %s, ожидалось NOT_FOUND", e.Code)
	}
}

// TestRelease проверяет выпуск: статус, уничтожение документа и blob,
// индексная запись остаётся без пути.
func TestRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.lifecycle.Submit(ctx, submitRequest())
	if err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}
	doc, _ := env.store.DocumentByJobID(ctx, job.ID)

	released, err := env.lifecycle.Release(ctx, job.ID, job.SecureToken, "printer-7", "operator-1")
	if err != nil {
		t.Fatalf("Release() вернул ошибку: %v", err)
	}

	if released.Status != model.StatusReleased {
		t.Errorf("статус = %s, ожидалось released", released.Status)
	}
	if released.PrinterID == nil || *released.PrinterID != "printer-7" {
		t.Error("printer_id не сохранён")
	}
	if released.ReleasedAt == nil {
		t.Error("released_at не выставлен")
	}

	// Документ уничтожен: и запись, и blob
	if _, err := env.store.DocumentByJobID(ctx, job.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("запись документа после выпуска: ошибка = %v, ожидалось ErrNotFound", err)
	}
	if env.blobs.Exists(doc.StoragePath) {
		t.Error("blob существует после выпуска")
	}

	// Индексная запись жива, но без пути
	entry := env.index.Get(job.ID)
	if entry == nil {
		t.Fatal("индексная запись удалена при выпуске")
	}
	if entry.StoragePath != "" {
		t.Errorf("путь blob в индексе = %q, ожидалась пустая строка", entry.StoragePath)
	}
}

// TestReleaseExactlyOnce проверяет, что повторный выпуск получает
// ALREADY_RELEASED с каноничным сообщением.
func TestReleaseExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.lifecycle.Submit(ctx, submitRequest())
	if err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}

	if _, err := env.lifecycle.Release(ctx, job.ID, job.SecureToken, "printer-1", "op"); err != nil {
		t.Fatalf("первый Release() вернул ошибку: %v", err)
	}

	_, err = env.lifecycle.Release(ctx, job.ID, job.SecureToken, "printer-2", "op")
	e := svcErr(t, err)
	if e.Code != apierrors.CodeAlreadyReleased {
		t.Errorf("код = %s, ожидалось ALREADY_RELEASED", e.Code)
	}
	if e.StatusCode != 409 {
		t.Errorf("статус = %d, ожидалось 409", e.StatusCode)
	}
	if e.Message != "Print job has already been released" {
		t.Errorf("сообщение = %q, ожидалось %q", e.Message, "Print job has already been released")
	}
}

// TestViewAfterRelease проверяет, что просмотр выпущенного задания
// отклоняется: документ уничтожен.
func TestViewAfterRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.lifecycle.Submit(ctx, submitRequest())
	if err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}
	if _, err := env.lifecycle.Release(ctx, job.ID, job.SecureToken, "printer-1", "op"); err != nil {
		t.Fatalf("Release() вернул ошибку: %v", err)
	}

	_, err = env.lifecycle.ViewDocument(ctx, job.ID, job.SecureToken, "viewer", "UA", "ip")
	e := svcErr(t, err)
	if e.Code != apierrors.CodeAlreadyReleased {
		t.Errorf("код = %s, ожидалось ALREADY_RELEASED", e.Code)
	}
}

// TestComplete проверяет подтверждение печати и запрет подтверждения
// невыпущенного задания.
func TestComplete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.lifecycle.Submit(ctx, submitRequest())
	if err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}

	// Подтверждение до выпуска — недопустимый переход
	_, err = env.lifecycle.Complete(ctx, job.ID)
	e := svcErr(t, err)
	if e.Code != apierrors.CodeIllegalTransition {
		t.Errorf("код = %s, ожидалось ILLEGAL_TRANSITION", e.Code)
	}
	if e.StatusCode != 400 {
		t.Errorf("статус = %d, ожидалось 400", e.StatusCode)
	}

	if _, err := env.lifecycle.Release(ctx, job.ID, job.SecureToken, "printer-1", "op"); err != nil {
		t.Fatalf("Release() вернул ошибку: %v", err)
	}

	completed, err := env.lifecycle.Complete(ctx, job.ID)
	if err != nil {
		t.Fatalf("Complete() вернул ошибку: %v", err)
	}
	if completed.Status != model.StatusCompleted {
		t.Errorf("статус = %s, ожидалось completed", completed.Status)
	}
	if completed.CompletedAt == nil {
		t.Error("completed_at не выставлен")
	}
	if env.index.Get(job.ID) != nil {
		t.Error("индексная запись существует после подтверждения")
	}
}

// TestCompleteUnknownJob проверяет 404 при подтверждении
// несуществующего задания.
func TestCompleteUnknownJob(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.lifecycle.Complete(context.Background(), "11111111-2222-3333-4444-555555555555")
	e := svcErr(t, err)
	if e.Code != apierrors.CodeNotFound {
		t.Errorf("код = %s, ожидалось NOT_FOUND", e.Code)
	}
}

// TestExpiredLinkInlineCleanup проверяет, что валидация истёкшей ссылки
// возвращает LINK_EXPIRED и немедленно уничтожает задание, не дожидаясь
// sweeper-а.
func TestExpiredLinkInlineCleanup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := submitRequest()
	req.ExpiresIn = 5 * time.Minute
	job, err := env.lifecycle.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}
	doc, _ := env.store.DocumentByJobID(ctx, job.ID)

	env.clock.Advance(6 * time.Minute)

	_, err = env.lifecycle.GetReleaseData(ctx, job.ID, job.SecureToken)
	e := svcErr(t, err)
	if e.Code != apierrors.CodeLinkExpired {
		t.Errorf("код = %s, ожидалось LINK_EXPIRED", e.Code)
	}
	if e.StatusCode != 410 {
		t.Errorf("статус = %d, ожидалось 410", e.StatusCode)
	}

	// Инлайн-очистка: статус deleted, blob и запись документа уничтожены
	current, _ := env.store.JobByID(ctx, job.ID)
	if current.Status != model.StatusDeleted {
		t.Errorf("статус после инлайн-очистки = %s, ожидалось deleted", current.Status)
	}
	if env.blobs.Exists(doc.StoragePath) {
		t.Error("blob существует после инлайн-очистки")
	}
	if env.index.Get(job.ID) != nil {
		t.Error("индексная запись существует после инлайн-очистки")
	}
}

// TestExpiredTokenCheckedFirst проверяет порядок проверок: неверный
// токен у истёкшего задания даёт INVALID_TOKEN, не LINK_EXPIRED.
func TestExpiredTokenCheckedFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := submitRequest()
	req.ExpiresIn = 5 * time.Minute
	job, err := env.lifecycle.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}

	env.clock.Advance(6 * time.Minute)

	_, err = env.lifecycle.GetReleaseData(ctx, job.ID, "wrong-token")
	e := svcErr(t, err)
	if e.Code != apierrors.CodeInvalidToken {
		t.Errorf("код = %s, неверный токен должен проверяться раньше срока", e.Code)
	}
}

// TestGetReleaseData проверяет данные release-страницы: документ,
// результаты анализа, отсутствие записи в аудите.
func TestGetReleaseData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.lifecycle.Submit(ctx, submitRequest())
	if err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}

	rd, err := env.lifecycle.GetReleaseData(ctx, job.ID, job.SecureToken)
	if err != nil {
		t.Fatalf("GetReleaseData() вернул ошибку: %v", err)
	}
	if rd.Document == nil {
		t.Fatal("документ отсутствует в данных release-страницы")
	}
	if !bytes.Equal(rd.Plaintext, submitRequest().Content) {
		t.Error("расшифрованное содержимое не совпадает с исходным")
	}
	if len(rd.Analyses) != 1 {
		t.Errorf("результатов анализа = %d, ожидался 1", len(rd.Analyses))
	}

	// GetReleaseData не записывает просмотр
	if views := env.store.viewsForJob(job.ID); len(views) != 0 {
		t.Errorf("записей аудита = %d, GetReleaseData не должен писать аудит", len(views))
	}
}

// TestListJobs проверяет фильтр по владельцу и порядок сортировки.
func TestListJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.lifecycle.Submit(ctx, submitRequest())
	if err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}
	env.clock.Advance(time.Minute)

	req2 := submitRequest()
	req2.DocumentName = "second.pdf"
	second, err := env.lifecycle.Submit(ctx, req2)
	if err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}

	req3 := submitRequest()
	req3.UserID = "user-2"
	if _, err := env.lifecycle.Submit(ctx, req3); err != nil {
		t.Fatalf("Submit() вернул ошибку: %v", err)
	}

	jobs, err := env.lifecycle.ListJobs(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListJobs() вернул ошибку: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("заданий = %d, ожидалось 2", len(jobs))
	}
	// Новые первыми
	if jobs[0].ID != second.ID || jobs[1].ID != first.ID {
		t.Error("задания не отсортированы по времени создания, новые первыми")
	}

	all, err := env.lifecycle.ListJobs(ctx, "")
	if err != nil {
		t.Fatalf("ListJobs() без фильтра вернул ошибку: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("заданий без фильтра = %d, ожидалось 3", len(all))
	}
}

// TestTokenGeneration проверяет формат токена: URL-safe, достаточная длина.
func TestTokenGeneration(t *testing.T) {
	token, err := newToken()
	if err != nil {
		t.Fatalf("newToken() вернул ошибку: %v", err)
	}
	if len(token) < 32 {
		t.Errorf("длина токена = %d, ожидалось не менее 32", len(token))
	}
	if strings.ContainsAny(token, "+/=") {
		t.Errorf("токен %q содержит не-URL-safe символы", token)
	}

	other, err := newToken()
	if err != nil {
		t.Fatalf("newToken() вернул ошибку: %v", err)
	}
	if token == other {
		t.Error("два вызова newToken() вернули одинаковый токен")
	}
}
