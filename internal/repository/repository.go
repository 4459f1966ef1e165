// Пакет repository - слой доступа к каталогу артефактов.
// PostgreSQL - чистый SQL через pgx, SQLite - через gorm.
// Обе реализации удовлетворяют ArtifactRepository.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Adalik1/AdalikM-BOT/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound - запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict - конфликт уникальности (хеш ключа уже существует).
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// DBTX - интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ArtifactRepository - каталог артефактов.
type ArtifactRepository interface {
	// Create вставляет запись и заполняет a.ID.
	// ErrConflict - если key_hash уже занят.
	Create(ctx context.Context, a *model.Artifact) error
	// GetByKeyHash возвращает артефакт по хешу ключа.
	GetByKeyHash(ctx context.Context, keyHash string) (*model.Artifact, error)
	// ExistsByContentHash проверяет, загружалось ли уже такое содержимое.
	ExistsByContentHash(ctx context.Context, contentHash string) (bool, error)
	// MarkUsed атомарно помечает артефакт использованным.
	// false - запись уже была помечена (или отсутствует).
	MarkUsed(ctx context.Context, id int64, usedBy string, at time.Time) (bool, error)
	// MarkExpired помечает истёкший артефакт использованным без used_by.
	MarkExpired(ctx context.Context, id int64, at time.Time) (bool, error)
	// ListPurgeable возвращает использованные и истёкшие на момент now записи
	// (только id, key_hash, stored_name).
	ListPurgeable(ctx context.Context, now time.Time) ([]*model.Artifact, error)
	// DeleteByIDs удаляет записи, которые всё ещё подлежат очистке на момент now.
	DeleteByIDs(ctx context.Context, ids []int64, now time.Time) (int64, error)
	// Ping проверяет доступность каталога.
	Ping(ctx context.Context) error
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
