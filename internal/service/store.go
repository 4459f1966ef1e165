// store.go - ArtifactStore: каталог (repository) + хранилище байтов.
//
// Содержимое хранится дважды: в хранилище байтов по storedName и
// inline-копией в каталоге. Чтение идёт в том же порядке.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Adalik1/AdalikM-BOT/internal/domain/model"
	"github.com/Adalik1/AdalikM-BOT/internal/repository"
	"github.com/Adalik1/AdalikM-BOT/internal/storage"
)

// BlobStore - хранилище байтов (локальный диск или S3).
type BlobStore interface {
	Put(ctx context.Context, name string, reader io.Reader) error
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
}

// PurgeResult - результат одного запуска очистки.
type PurgeResult struct {
	// Scanned - количество записей, подлежащих очистке
	Scanned int
	// Deleted - количество удалённых записей каталога
	Deleted int64
	// Errors - количество ошибок удаления байтов (не блокируют удаление записей)
	Errors int
	// Duration - длительность выполнения
	Duration time.Duration
}

// ArtifactStore - каталог артефактов и их содержимое.
type ArtifactStore struct {
	repo   repository.ArtifactRepository
	blobs  BlobStore
	logger *slog.Logger
	now    func() time.Time
}

// NewArtifactStore создаёт ArtifactStore.
func NewArtifactStore(repo repository.ArtifactRepository, blobs BlobStore, logger *slog.Logger) *ArtifactStore {
	return &ArtifactStore{
		repo:   repo,
		blobs:  blobs,
		logger: logger.With(slog.String("component", "artifact_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ExistsByContentHash проверяет, загружалось ли уже такое содержимое.
func (s *ArtifactStore) ExistsByContentHash(ctx context.Context, contentHash string) (bool, error) {
	return s.repo.ExistsByContentHash(ctx, contentHash)
}

// Insert записывает байты под a.StoredName и вставляет запись каталога
// (вместе с inline-копией data).
//
// При repository.ErrConflict байты остаются на месте: вызывающий код
// повторяет вставку с новым ключом под тем же StoredName.
// При любой другой ошибке вставки байты удаляются.
func (s *ArtifactStore) Insert(ctx context.Context, a *model.Artifact, data []byte) error {
	if err := s.blobs.Put(ctx, a.StoredName, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("ошибка записи содержимого: %w", err)
	}

	a.Content = data
	a.Size = int64(len(data))
	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return err
		}
		if delErr := s.blobs.Delete(ctx, a.StoredName); delErr != nil {
			s.logger.Warn("Не удалось удалить содержимое после ошибки вставки",
				slog.String("stored_name", a.StoredName),
				slog.String("error", delErr.Error()),
			)
		}
		return err
	}
	return nil
}

// DiscardPayload удаляет байты, записанные Insert, если запись так и не вставлена.
func (s *ArtifactStore) DiscardPayload(ctx context.Context, storedName string) {
	if err := s.blobs.Delete(ctx, storedName); err != nil {
		s.logger.Warn("Не удалось удалить осиротевшее содержимое",
			slog.String("stored_name", storedName),
			slog.String("error", err.Error()),
		)
	}
}

// FindByKeyHash возвращает артефакт по хешу ключа.
// repository.ErrNotFound - если записи нет.
func (s *ArtifactStore) FindByKeyHash(ctx context.Context, keyHash string) (*model.Artifact, error) {
	return s.repo.GetByKeyHash(ctx, keyHash)
}

// MarkUsed атомарно помечает артефакт погашенным. false - уже помечен.
func (s *ArtifactStore) MarkUsed(ctx context.Context, id int64, redeemerID string) (bool, error) {
	return s.repo.MarkUsed(ctx, id, redeemerID, s.now())
}

// MarkExpired помечает истёкший артефакт использованным от имени системы.
func (s *ArtifactStore) MarkExpired(ctx context.Context, id int64) (bool, error) {
	return s.repo.MarkExpired(ctx, id, s.now())
}

// Read возвращает содержимое артефакта: сначала из хранилища байтов,
// затем из inline-копии. ErrContentMissing - если не найдено нигде.
func (s *ArtifactStore) Read(ctx context.Context, a *model.Artifact) ([]byte, error) {
	data, err := s.readBlob(ctx, a.StoredName)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("Хранилище байтов недоступно, используется inline-копия",
			slog.Int64("artifact_id", a.ID),
			slog.String("stored_name", a.StoredName),
			slog.String("error", err.Error()),
		)
	}

	if len(a.Content) > 0 {
		return a.Content, nil
	}
	return nil, fmt.Errorf("%w: id=%d", ErrContentMissing, a.ID)
}

func (s *ArtifactStore) readBlob(ctx context.Context, name string) ([]byte, error) {
	if name == "" {
		return nil, storage.ErrNotFound
	}
	rc, err := s.blobs.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// PurgeExpiredAndUsed удаляет использованные и истёкшие артефакты.
//
// Порядок:
//  1. Выборка записей used OR expires_at <= now
//  2. Удаление байтов (ошибки логируются и считаются, но не блокируют шаг 3)
//  3. Удаление записей каталога
func (s *ArtifactStore) PurgeExpiredAndUsed(ctx context.Context) (*PurgeResult, error) {
	start := time.Now()
	now := s.now()
	result := &PurgeResult{}

	candidates, err := s.repo.ListPurgeable(ctx, now)
	if err != nil {
		return result, err
	}
	result.Scanned = len(candidates)

	ids := make([]int64, 0, len(candidates))
	for _, a := range candidates {
		ids = append(ids, a.ID)
		if a.StoredName == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, a.StoredName); err != nil {
			s.logger.Error("Очистка: ошибка удаления содержимого",
				slog.Int64("artifact_id", a.ID),
				slog.String("stored_name", a.StoredName),
				slog.String("error", err.Error()),
			)
			result.Errors++
		}
	}

	deleted, err := s.repo.DeleteByIDs(ctx, ids, now)
	result.Deleted = deleted
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}
	return result, nil
}
