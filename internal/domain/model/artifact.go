// Пакет model - доменные модели сервиса одноразовой выдачи файлов.
// Artifact - одна загруженная запись каталога: метаданные, inline-копия
// содержимого и состояние одноразового ключа.
package model

import (
	"strings"
	"time"
)

// StoredNameLayout - формат временной метки в начале storedName.
// Без символа '_', чтобы префикс однозначно отделялся от имени файла.
const StoredNameLayout = "20060102T150405.000000000"

// Artifact - загруженный файл и состояние его одноразового ключа.
// Сырой ключ никогда не хранится - только его хэш.
type Artifact struct {
	// ID - монотонно назначаемый идентификатор записи
	ID int64

	// KeyHash - SHA-256 одноразового ключа (hex), уникален
	KeyHash string

	// OriginalFilename - имя файла, которое видит получатель
	OriginalFilename string

	// StoredName - физическое имя в хранилище байтов.
	// Формат: {timestamp}_{sanitized original filename}
	StoredName string

	// Content - inline-копия байтов (резерв на случай недоступности хранилища)
	Content []byte

	// ContentType - заявленный MIME-тип
	ContentType string

	// Size - размер содержимого в байтах
	Size int64

	// UploaderID - идентификатор загрузившего
	UploaderID string

	// ContentHash - SHA-256 содержимого (hex), для дедупликации
	ContentHash string

	// Used - ключ погашен или истёк. Переход false → true необратим.
	Used bool

	// CreatedAt - момент приёма (UTC)
	CreatedAt time.Time

	// ExpiresAt - момент истечения. nil - бессрочно.
	ExpiresAt *time.Time

	// UsedBy - кто погасил ключ. nil при Used=true означает
	// системный переход по истечении срока.
	UsedBy *string

	// UsedAt - момент перехода в Used
	UsedAt *time.Time
}

// IsExpired проверяет, истёк ли срок действия ключа на момент now.
func (a *Artifact) IsExpired(now time.Time) bool {
	if a.ExpiresAt == nil {
		return false
	}
	return !now.Before(*a.ExpiresAt)
}

// IsRedeemable - ключ ещё не использован и не истёк.
func (a *Artifact) IsRedeemable(now time.Time) bool {
	return !a.Used && !a.IsExpired(now)
}

// ExpiredBySystem - запись переведена в Used при обнаружении истечения,
// а не погашена пользователем.
func (a *Artifact) ExpiredBySystem() bool {
	return a.Used && a.UsedBy == nil
}

// DisplayName возвращает имя файла для получателя.
// Если исходное имя не сохранено - снимает префикс времени со StoredName.
func (a *Artifact) DisplayName() string {
	if a.OriginalFilename != "" {
		return a.OriginalFilename
	}
	return StripStoredPrefix(a.StoredName)
}

// StripStoredPrefix отрезает префикс "{timestamp}_" от физического имени.
func StripStoredPrefix(storedName string) string {
	prefix, rest, ok := strings.Cut(storedName, "_")
	if !ok {
		return storedName
	}
	if _, err := time.Parse(StoredNameLayout, prefix); err != nil {
		return storedName
	}
	return rest
}
