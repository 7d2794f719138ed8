// jobs.go — обработчики операций жизненного цикла заданий печати:
// создание, release-страница, просмотр, выпуск, подтверждение, список.
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/printlink/internal/api/errors"
	"github.com/bigkaa/printlink/internal/domain/model"
	"github.com/bigkaa/printlink/internal/service"
)

// maxMultipartMemory — лимит памяти для парсинга multipart-формы,
// остальное уходит во временные файлы.
const maxMultipartMemory = 4 << 20 // 4 MiB

// jobResponse — представление задания в ответах API.
// Стоимость отдаётся в денежных единицах, внутреннее хранение в центах
// наружу не просачивается.
type jobResponse struct {
	*model.Job
	Cost float64 `json:"cost"`
}

func toJobResponse(j *model.Job) *jobResponse {
	return &jobResponse{Job: j, Cost: j.Cost()}
}

// documentResponse — представление документа в ответах API.
// Содержимое отдаётся как data URL — release-страница вставляет его
// в iframe без дополнительного запроса.
type documentResponse struct {
	DataURL  string `json:"data_url"`
	MimeType string `json:"mime_type"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
}

func toDocumentResponse(doc *model.Document, plaintext []byte) *documentResponse {
	return &documentResponse{
		DataURL:  "data:" + doc.MimeType + ";base64," + base64.StdEncoding.EncodeToString(plaintext),
		MimeType: doc.MimeType,
		Name:     doc.Filename,
		Size:     doc.Size,
	}
}

// SubmitJob обрабатывает POST /jobs — создание задания печати.
//
// Ожидает multipart-форму: файл в поле file и параметры печати.
// Лимит размера применяется до какой-либо записи на диск: тело запроса
// обёрнуто в MaxBytesReader.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		if isMaxBytesError(err) {
			apierrors.FileTooLarge(w, "File exceeds the maximum upload size")
			return
		}
		apierrors.ValidationError(w, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // временные файлы формы

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "document file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		if isMaxBytesError(err) {
			apierrors.FileTooLarge(w, "File exceeds the maximum upload size")
			return
		}
		h.logger.Error("Ошибка чтения загружаемого файла", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Failed to read uploaded file")
		return
	}

	pages, err := formInt(r, "pages")
	if err != nil {
		apierrors.ValidationError(w, "pages must be a positive integer")
		return
	}
	copies, err := formInt(r, "copies")
	if err != nil {
		apierrors.ValidationError(w, "copies must be a positive integer")
		return
	}

	documentName := r.FormValue("document_name")
	if documentName == "" {
		documentName = header.Filename
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var expiresIn time.Duration
	if v := r.FormValue("expiration_duration_minutes"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			apierrors.ValidationError(w, "expiration_duration_minutes must be a positive integer")
			return
		}
		expiresIn = time.Duration(minutes) * time.Minute
	}

	req := &service.SubmitRequest{
		UserID:       r.FormValue("user_id"),
		DocumentName: documentName,
		Filename:     header.Filename,
		MimeType:     mimeType,
		Content:      content,
		Params: model.PrintParams{
			Pages:    pages,
			Copies:   copies,
			Color:    formBool(r, "color"),
			Duplex:   formBool(r, "duplex"),
			Stapling: formBool(r, "stapling"),
			Priority: r.FormValue("priority"),
			Notes:    r.FormValue("notes"),
		},
		BaseURL:   requestBaseURL(r),
		ExpiresIn: expiresIn,
	}

	job, err := h.lifecycle.Submit(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, map[string]any{"job": toJobResponse(job)})
}

// GetJob обрабатывает GET /jobs/{id}?token= — данные release-страницы.
// Токен обязателен; просмотр в аудит не записывается.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	token := r.URL.Query().Get("token")

	rd, err := h.lifecycle.GetReleaseData(r.Context(), jobID, token)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := map[string]any{
		"job":                toJobResponse(rd.Job),
		"document_available": rd.Document != nil,
	}
	if rd.Document != nil {
		resp["document"] = toDocumentResponse(rd.Document, rd.Plaintext)
	}
	if len(rd.Analyses) > 0 {
		resp["analysis"] = rd.Analyses
	}

	h.writeJSON(w, resp)
}

// viewRequest — тело POST /jobs/{id}/view.
type viewRequest struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// ViewJob обрабатывает POST /jobs/{id}/view — просмотр документа с
// записью в аудит. Ссылка многоразовая: повторные просмотры до
// истечения срока допустимы.
func (h *Handler) ViewJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	var req viewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Invalid request body")
		return
	}

	viewer := req.UserID
	if viewer == "" {
		viewer = "anonymous"
	}

	res, err := h.lifecycle.ViewDocument(r.Context(), jobID, req.Token, viewer,
		r.UserAgent(), clientIP(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, map[string]any{
		"success":    true,
		"document":   toDocumentResponse(res.Document, res.Plaintext),
		"view_count": res.ViewCount,
		"message":    "Document ready for viewing",
	})
}

// releaseRequest — тело POST /jobs/{id}/release.
type releaseRequest struct {
	Token      string `json:"token"`
	PrinterID  string `json:"printer_id"`
	ReleasedBy string `json:"released_by"`
}

// ReleaseJob обрабатывает POST /jobs/{id}/release — выпуск задания на
// печать. Из конкурентных выпусков побеждает ровно один.
func (h *Handler) ReleaseJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Invalid request body")
		return
	}

	if _, err := h.lifecycle.Release(r.Context(), jobID, req.Token, req.PrinterID, req.ReleasedBy); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, map[string]any{
		"success": true,
		"status":  string(model.StatusReleased),
	})
}

// CompleteJob обрабатывает POST /jobs/{id}/complete — подтверждение
// выполнения печати.
func (h *Handler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	if _, err := h.lifecycle.Complete(r.Context(), jobID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, map[string]any{"success": true})
}

// ListJobs обрабатывает GET /jobs?user_id= — список заданий, новые
// первыми. user_id — опциональный фильтр.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.lifecycle.ListJobs(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	list := make([]*jobResponse, 0, len(jobs))
	for _, j := range jobs {
		list = append(list, toJobResponse(j))
	}
	h.writeJSON(w, map[string]any{"jobs": list})
}

// formInt парсит положительное целое из поля формы.
func formInt(r *http.Request, field string) (int, error) {
	v := r.FormValue(field)
	if v == "" {
		return 0, errors.New("поле не задано")
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("некорректное значение")
	}
	return n, nil
}

// formBool парсит булево поле формы. Чекбоксы браузеров присылают
// "on", программные клиенты — "true"/"1".
func formBool(r *http.Request, field string) bool {
	switch r.FormValue(field) {
	case "true", "1", "on", "yes":
		return true
	default:
		return false
	}
}

// isMaxBytesError определяет превышение лимита MaxBytesReader.
func isMaxBytesError(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
