package service

import (
	apierrors "github.com/bigkaa/printlink/internal/api/errors"
)

// Error — типизированная ошибка сервисного слоя с HTTP-кодом и
// машиночитаемым кодом внешнего контракта. Хендлеры транслируют её
// в стандартный JSON-ответ без интерпретации.
//
// Сообщения — на английском: они уходят во внешний контракт
// release-страницы.
type Error struct {
	// StatusCode — HTTP статус-код ответа
	StatusCode int
	// Code — машиночитаемый код ошибки
	Code string
	// Message — человекочитаемое описание
	Message string
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	return e.Message
}

func errValidation(message string) *Error {
	return &Error{StatusCode: 400, Code: apierrors.CodeValidationError, Message: message}
}

func errNotFound(message string) *Error {
	return &Error{StatusCode: 404, Code: apierrors.CodeNotFound, Message: message}
}

func errInvalidToken() *Error {
	return &Error{StatusCode: 403, Code: apierrors.CodeInvalidToken, Message: "Invalid or missing token"}
}

func errLinkExpired() *Error {
	return &Error{StatusCode: 410, Code: apierrors.CodeLinkExpired, Message: "Link expired"}
}

func errIllegalTransition(message string) *Error {
	return &Error{StatusCode: 400, Code: apierrors.CodeIllegalTransition, Message: message}
}

func errAlreadyReleased() *Error {
	return &Error{StatusCode: 409, Code: apierrors.CodeAlreadyReleased, Message: "Print job has already been released"}
}

func errFileTooLarge() *Error {
	return &Error{StatusCode: 413, Code: apierrors.CodeFileTooLarge, Message: "File exceeds the maximum upload size"}
}

func errInternal(message string) *Error {
	return &Error{StatusCode: 500, Code: apierrors.CodeInternalError, Message: message}
}
