// Пакет errors - ответы с ошибками в едином формате:
// {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // имя пакета совпадает со stdlib, импортируется как apierrors

import (
	"encoding/json"
	"net/http"

	"github.com/Adalik1/AdalikM-BOT/internal/service"
)

// Коды ошибок.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeForbidden          = "FORBIDDEN"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFoundOrConsumed = "KEY_INVALID_OR_USED"
	CodeExpired            = "KEY_EXPIRED"
	CodeDuplicate          = "DUPLICATE_UPLOAD"
	CodeConflict           = "KEY_CONFLICT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeDeliveryFailed     = "DELIVERY_FAILED"
	CodeFileTooLarge       = "FILE_TOO_LARGE"
	CodeInternalError      = "INTERNAL_ERROR"
)

// errorBody - структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail - детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode - HTTP статус-код, code - машиночитаемый код, message - описание.
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

// kindResponses - HTTP-статус и код для каждой категории ошибки сервиса.
var kindResponses = map[service.Kind]struct {
	status int
	code   string
}{
	service.KindValidation:         {http.StatusBadRequest, CodeValidationError},
	service.KindAuthorization:      {http.StatusForbidden, CodeForbidden},
	service.KindNotFoundOrConsumed: {http.StatusNotFound, CodeNotFoundOrConsumed},
	service.KindExpired:            {http.StatusGone, CodeExpired},
	service.KindDuplicate:          {http.StatusConflict, CodeDuplicate},
	service.KindConflict:           {http.StatusServiceUnavailable, CodeConflict},
	service.KindRateLimited:        {http.StatusTooManyRequests, CodeRateLimited},
	service.KindDelivery:           {http.StatusBadGateway, CodeDeliveryFailed},
	service.KindInternal:           {http.StatusInternalServerError, CodeInternalError},
}

// WriteServiceError переводит ошибку сервиса в HTTP-ответ.
// Внутренняя причина (Err) в ответ не попадает.
func WriteServiceError(w http.ResponseWriter, e *service.Error) {
	resp, ok := kindResponses[e.Kind]
	if !ok {
		resp = kindResponses[service.KindInternal]
	}
	message := e.Message
	if e.Kind == service.KindInternal {
		message = "Произошла ошибка при обработке запроса. Попробуйте ещё раз"
	}
	WriteError(w, resp.status, resp.code, message)
}

// --- Конструкторы для типичных ошибок ---

// ValidationError - 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// Unauthorized - 401 не указан идентификатор пользователя.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// FileTooLarge - 413 тело запроса превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// RateLimited - 429 слишком частые запросы.
func RateLimited(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// InternalError - 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
