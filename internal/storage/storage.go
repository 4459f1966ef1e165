// Пакет storage - общие определения хранилищ байтов (локальный диск, S3).
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound - объект отсутствует в хранилище байтов.
// Обе реализации оборачивают эту ошибку, чтобы сервис мог
// перейти к inline-копии из каталога.
var ErrNotFound = errors.New("объект не найден в хранилище")

// Checker - хранилище, умеющее проверять свою доступность.
type Checker interface {
	Check(ctx context.Context) error
}

// ReadinessChecker - проверка готовности хранилища байтов для health endpoint.
type ReadinessChecker struct {
	checker Checker
}

// NewReadinessChecker создаёт проверку готовности хранилища.
func NewReadinessChecker(c Checker) *ReadinessChecker {
	return &ReadinessChecker{checker: c}
}

// CheckReady возвращает статус ("ok", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.checker.Check(ctx); err != nil {
		return "fail", fmt.Sprintf("хранилище недоступно: %v", err)
	}
	return "ok", "хранилище доступно"
}
