// Пакет errors — ответы с ошибками в едином формате.
// Формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromError.
package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/domain/status"
	"github.com/bigkaa/goartstore/attachment-module/internal/repository"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
	"github.com/bigkaa/goartstore/attachment-module/internal/service"
	"github.com/bigkaa/goartstore/attachment-module/internal/stream"
	"github.com/bigkaa/goartstore/attachment-module/internal/validation"
)

// Коды ошибок.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeConflict             = "CONFLICT"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeContentTooLarge      = "CONTENT_TOO_LARGE"
	CodeCountValidation      = "COUNT_VALIDATION"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodeNotScanned           = "NOT_SCANNED"
	CodeNotClean             = "NOT_CLEAN"
	CodeMissingIdentifier    = "MISSING_IDENTIFIER"
	CodeReconcileInProgress  = "RECONCILE_IN_PROGRESS"
	CodeInternalError        = "INTERNAL_ERROR"
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

// mapping — соответствие доменной ошибки HTTP-статусу и коду.
// Порядок важен: проверяется первое совпадение.
var mapping = []struct {
	target error
	status int
	code   string
}{
	{stream.ErrContentTooLarge, http.StatusRequestEntityTooLarge, CodeContentTooLarge},
	{validation.ErrCountViolation, http.StatusBadRequest, CodeCountValidation},
	{validation.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType, CodeUnsupportedMediaType},
	{status.ErrNotScanned, http.StatusConflict, CodeNotScanned},
	{status.ErrNotClean, http.StatusForbidden, CodeNotClean},
	{model.ErrMissingIdentifier, http.StatusBadRequest, CodeMissingIdentifier},
	{service.ErrRecordExists, http.StatusConflict, CodeConflict},
	{schema.ErrUnknownEntity, http.StatusNotFound, CodeNotFound},
	{schema.ErrNotMedia, http.StatusBadRequest, CodeValidationError},
	{repository.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{service.ErrContentNotFound, http.StatusNotFound, CodeNotFound},
}

// Classify возвращает HTTP-статус и код для ошибки операции.
// Неизвестные ошибки — 500 INTERNAL_ERROR.
func Classify(err error) (int, string) {
	for _, m := range mapping {
		if stderrors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternalError
}

// FromError записывает ответ для ошибки операции. Текст внутренних
// ошибок клиенту не передаётся.
func FromError(w http.ResponseWriter, err error) {
	statusCode, code := Classify(err)
	message := err.Error()
	if code == CodeInternalError {
		message = "Внутренняя ошибка сервера"
	}
	WriteError(w, statusCode, code, message)
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// ReconcileInProgress — 409 сверка уже выполняется.
func ReconcileInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeReconcileInProgress, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
