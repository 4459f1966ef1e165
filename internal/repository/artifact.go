package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Adalik1/AdalikM-BOT/internal/domain/model"
)

// pinger - пул подключений, умеющий проверять соединение.
type pinger interface {
	Ping(ctx context.Context) error
}

// artifactRepo - реализация ArtifactRepository на PostgreSQL.
type artifactRepo struct {
	db DBTX
}

// NewArtifactRepository создаёт репозиторий артефактов PostgreSQL.
func NewArtifactRepository(db DBTX) ArtifactRepository {
	return &artifactRepo{db: db}
}

const artifactColumns = `id, key_hash, original_filename, stored_name, content, content_type,
	size, uploader_id, content_hash, used, created_at, expires_at, used_by, used_at`

func (r *artifactRepo) Create(ctx context.Context, a *model.Artifact) error {
	query := `
		INSERT INTO artifacts (key_hash, original_filename, stored_name, content, content_type,
			size, uploader_id, content_hash, used, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9, $10)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		a.KeyHash, a.OriginalFilename, a.StoredName, a.Content, a.ContentType,
		a.Size, a.UploaderID, a.ContentHash, a.CreatedAt.UTC(), utcPtr(a.ExpiresAt),
	).Scan(&a.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: хеш ключа уже зарегистрирован", ErrConflict)
		}
		return fmt.Errorf("ошибка вставки артефакта: %w", err)
	}
	return nil
}

func (r *artifactRepo) GetByKeyHash(ctx context.Context, keyHash string) (*model.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE key_hash = $1`

	a := &model.Artifact{}
	err := r.db.QueryRow(ctx, query, keyHash).Scan(
		&a.ID, &a.KeyHash, &a.OriginalFilename, &a.StoredName, &a.Content, &a.ContentType,
		&a.Size, &a.UploaderID, &a.ContentHash, &a.Used, &a.CreatedAt, &a.ExpiresAt,
		&a.UsedBy, &a.UsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения артефакта: %w", err)
	}
	return a, nil
}

func (r *artifactRepo) ExistsByContentHash(ctx context.Context, contentHash string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM artifacts WHERE content_hash = $1)`, contentHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки дубликата: %w", err)
	}
	return exists, nil
}

func (r *artifactRepo) MarkUsed(ctx context.Context, id int64, usedBy string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE artifacts
		SET used = true, used_by = $2, used_at = $3
		WHERE id = $1 AND used = false`,
		id, usedBy, at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("ошибка пометки артефакта: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *artifactRepo) MarkExpired(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE artifacts
		SET used = true, used_at = $2
		WHERE id = $1 AND used = false`,
		id, at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("ошибка пометки истёкшего артефакта: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *artifactRepo) ListPurgeable(ctx context.Context, now time.Time) ([]*model.Artifact, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, key_hash, stored_name
		FROM artifacts
		WHERE used = true OR (expires_at IS NOT NULL AND expires_at <= $1)
		ORDER BY id`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки артефактов для очистки: %w", err)
	}
	defer rows.Close()

	var result []*model.Artifact
	for rows.Next() {
		a := &model.Artifact{}
		if err := rows.Scan(&a.ID, &a.KeyHash, &a.StoredName); err != nil {
			return nil, fmt.Errorf("ошибка сканирования артефакта: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *artifactRepo) DeleteByIDs(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `
		DELETE FROM artifacts
		WHERE id = ANY($1)
			AND (used = true OR (expires_at IS NOT NULL AND expires_at <= $2))`,
		ids, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления артефактов: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *artifactRepo) Ping(ctx context.Context) error {
	if p, ok := r.db.(pinger); ok {
		return p.Ping(ctx)
	}
	var one int
	return r.db.QueryRow(ctx, `SELECT 1`).Scan(&one)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
