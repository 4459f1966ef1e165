package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Adalik1/AdalikM-BOT/internal/domain/model"
)

// artifactRecord - строка таблицы artifacts в SQLite (схема для AutoMigrate).
type artifactRecord struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	KeyHash          string `gorm:"uniqueIndex;not null"`
	OriginalFilename string
	StoredName       string
	Content          []byte
	ContentType      string
	Size             int64
	UploaderID       string
	ContentHash      string `gorm:"index"`
	Used             bool   `gorm:"not null;default:false;index"`
	CreatedAt        time.Time
	ExpiresAt        *time.Time `gorm:"index"`
	UsedBy           *string
	UsedAt           *time.Time
}

func (artifactRecord) TableName() string { return "artifacts" }

func (rec *artifactRecord) toModel() *model.Artifact {
	return &model.Artifact{
		ID:               rec.ID,
		KeyHash:          rec.KeyHash,
		OriginalFilename: rec.OriginalFilename,
		StoredName:       rec.StoredName,
		Content:          rec.Content,
		ContentType:      rec.ContentType,
		Size:             rec.Size,
		UploaderID:       rec.UploaderID,
		ContentHash:      rec.ContentHash,
		Used:             rec.Used,
		CreatedAt:        rec.CreatedAt,
		ExpiresAt:        rec.ExpiresAt,
		UsedBy:           rec.UsedBy,
		UsedAt:           rec.UsedAt,
	}
}

// MigrateSQLite создаёт или обновляет таблицу artifacts в SQLite.
func MigrateSQLite(db *gorm.DB) error {
	if err := db.AutoMigrate(&artifactRecord{}); err != nil {
		return fmt.Errorf("ошибка миграции SQLite: %w", err)
	}
	return nil
}

// sqliteArtifactRepo - реализация ArtifactRepository на SQLite (gorm).
// Время хранится в UTC, чтобы строковые сравнения в SQLite были корректны.
type sqliteArtifactRepo struct {
	db *gorm.DB
}

// NewSQLiteArtifactRepository создаёт репозиторий артефактов SQLite.
// gorm.DB должен быть открыт с TranslateError: true.
func NewSQLiteArtifactRepository(db *gorm.DB) ArtifactRepository {
	return &sqliteArtifactRepo{db: db}
}

func (r *sqliteArtifactRepo) Create(ctx context.Context, a *model.Artifact) error {
	rec := &artifactRecord{
		KeyHash:          a.KeyHash,
		OriginalFilename: a.OriginalFilename,
		StoredName:       a.StoredName,
		Content:          a.Content,
		ContentType:      a.ContentType,
		Size:             a.Size,
		UploaderID:       a.UploaderID,
		ContentHash:      a.ContentHash,
		CreatedAt:        a.CreatedAt.UTC(),
		ExpiresAt:        utcPtr(a.ExpiresAt),
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: хеш ключа уже зарегистрирован", ErrConflict)
		}
		return fmt.Errorf("ошибка вставки артефакта: %w", err)
	}
	a.ID = rec.ID
	return nil
}

func (r *sqliteArtifactRepo) GetByKeyHash(ctx context.Context, keyHash string) (*model.Artifact, error) {
	var rec artifactRecord
	err := r.db.WithContext(ctx).Where("key_hash = ?", keyHash).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения артефакта: %w", err)
	}
	return rec.toModel(), nil
}

func (r *sqliteArtifactRepo) ExistsByContentHash(ctx context.Context, contentHash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&artifactRecord{}).
		Where("content_hash = ?", contentHash).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("ошибка проверки дубликата: %w", err)
	}
	return count > 0, nil
}

func (r *sqliteArtifactRepo) MarkUsed(ctx context.Context, id int64, usedBy string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&artifactRecord{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]any{"used": true, "used_by": usedBy, "used_at": at.UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("ошибка пометки артефакта: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *sqliteArtifactRepo) MarkExpired(ctx context.Context, id int64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&artifactRecord{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]any{"used": true, "used_at": at.UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("ошибка пометки истёкшего артефакта: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *sqliteArtifactRepo) ListPurgeable(ctx context.Context, now time.Time) ([]*model.Artifact, error) {
	var recs []artifactRecord
	err := r.db.WithContext(ctx).
		Select("id", "key_hash", "stored_name").
		Where("used = ? OR (expires_at IS NOT NULL AND expires_at <= ?)", true, now.UTC()).
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки артефактов для очистки: %w", err)
	}

	result := make([]*model.Artifact, 0, len(recs))
	for i := range recs {
		result = append(result, recs[i].toModel())
	}
	return result, nil
}

func (r *sqliteArtifactRepo) DeleteByIDs(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("id IN ? AND (used = ? OR (expires_at IS NOT NULL AND expires_at <= ?))", ids, true, now.UTC()).
		Delete(&artifactRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("ошибка удаления артефактов: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *sqliteArtifactRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("ошибка получения *sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
