// Пакет errors — конструкторы стандартных ошибок HTTP-поверхности.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
//
// Сообщения — на английском: формат ответов является внешним
// контрактом release-страницы.
package errors //nolint:revive // конфликт имени со stdlib осознанный, пакет импортируется как apierrors

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок внешнего контракта.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidToken      = "INVALID_TOKEN"
	CodeLinkExpired       = "LINK_EXPIRED"
	CodeIllegalTransition = "ILLEGAL_TRANSITION"
	CodeAlreadyReleased   = "ALREADY_RELEASED"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeInternalError     = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 задание не найдено.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// InvalidToken — 403 токен не совпал.
func InvalidToken(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeInvalidToken, message)
}

// LinkExpired — 410 срок действия ссылки истёк.
func LinkExpired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeLinkExpired, message)
}

// IllegalTransition — 400 недопустимый переход статуса.
func IllegalTransition(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeIllegalTransition, message)
}

// AlreadyReleased — 409 задание уже выпущено конкурентным запросом.
func AlreadyReleased(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeAlreadyReleased, message)
}

// FileTooLarge — 413 файл превышает лимит загрузки.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
