// errors.go - ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
)

// ErrContentMissing - содержимое не найдено ни в хранилище байтов, ни inline.
var ErrContentMissing = errors.New("содержимое артефакта отсутствует")

// Kind - категория ошибки, по которой транспорт выбирает ответ.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindAuthorization      Kind = "authorization"
	KindNotFoundOrConsumed Kind = "not_found_or_consumed"
	KindExpired            Kind = "expired"
	KindDelivery           Kind = "delivery"
	KindConflict           Kind = "conflict"
	KindDuplicate          Kind = "duplicate"
	KindRateLimited        Kind = "rate_limited"
	KindInternal           Kind = "internal"
)

// Исходы для метрик и логов.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Outcome сводит категорию к исходу: отказ по вине запроса (rejected)
// или сбой системы (error).
func (k Kind) Outcome() string {
	switch k {
	case KindDelivery, KindConflict, KindInternal:
		return OutcomeError
	default:
		return OutcomeRejected
	}
}

// Error - ошибка сервиса с категорией и сообщением для пользователя.
// Err - внутренняя причина, пишется только в лог.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func internalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}
