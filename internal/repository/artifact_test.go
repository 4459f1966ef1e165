package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Adalik1/AdalikM-BOT/internal/database"
	"github.com/Adalik1/AdalikM-BOT/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// setupSQLite открывает временный SQLite-каталог.
func setupSQLite(t *testing.T) ArtifactRepository {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"), testLogger())
	if err != nil {
		t.Fatalf("OpenSQLite() ошибка: %v", err)
	}
	if err := MigrateSQLite(db); err != nil {
		t.Fatalf("MigrateSQLite() ошибка: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { sqlDB.Close() })
	return NewSQLiteArtifactRepository(db)
}

// setupPostgres запускает PostgreSQL контейнер и применяет миграции.
func setupPostgres(t *testing.T) ArtifactRepository {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("adalikm_test"),
		postgres.WithUsername("adalikm"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Не удалось получить DSN контейнера: %v", err)
	}

	logger := testLogger()
	if err := database.Migrate(dsn, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}
	pool, err := database.Connect(ctx, dsn, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return NewArtifactRepository(pool)
}

func TestSQLiteArtifactRepository(t *testing.T) {
	runArtifactContract(t, setupSQLite)
}

func TestPostgresArtifactRepository(t *testing.T) {
	runArtifactContract(t, setupPostgres)
}

// runArtifactContract - общий набор проверок для обеих реализаций.
func runArtifactContract(t *testing.T, setup func(t *testing.T) ArtifactRepository) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, setup(t)) })
	t.Run("KeyHashConflict", func(t *testing.T) { testKeyHashConflict(t, setup(t)) })
	t.Run("ContentHashExists", func(t *testing.T) { testContentHashExists(t, setup(t)) })
	t.Run("MarkUsedOnce", func(t *testing.T) { testMarkUsedOnce(t, setup(t)) })
	t.Run("MarkExpired", func(t *testing.T) { testMarkExpired(t, setup(t)) })
	t.Run("PurgeSelection", func(t *testing.T) { testPurgeSelection(t, setup(t)) })
	t.Run("Ping", func(t *testing.T) {
		if err := setup(t).Ping(context.Background()); err != nil {
			t.Errorf("Ping() ошибка: %v", err)
		}
	})
}

var seq int

func newArtifact(createdAt time.Time, expiresAt *time.Time) *model.Artifact {
	seq++
	return &model.Artifact{
		KeyHash:          fmt.Sprintf("keyhash-%04d", seq),
		OriginalFilename: "notes.txt",
		StoredName:       fmt.Sprintf("20260221T150405.%09d_notes.txt", seq),
		Content:          []byte("hello"),
		ContentType:      "text/plain",
		Size:             5,
		UploaderID:       "100",
		ContentHash:      fmt.Sprintf("contenthash-%04d", seq),
		CreatedAt:        createdAt,
		ExpiresAt:        expiresAt,
	}
}

func ptr[T any](v T) *T { return &v }

func testCreateAndGet(t *testing.T, repo ArtifactRepository) {
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 15, 0, 0, 0, time.UTC)
	a := newArtifact(now, ptr(now.Add(24*time.Hour)))

	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if a.ID == 0 {
		t.Fatal("ID не установлен после Create")
	}

	got, err := repo.GetByKeyHash(ctx, a.KeyHash)
	if err != nil {
		t.Fatalf("GetByKeyHash() ошибка: %v", err)
	}
	if got.ID != a.ID || got.StoredName != a.StoredName || got.OriginalFilename != "notes.txt" {
		t.Errorf("получена запись %+v, хотели %+v", got, a)
	}
	if string(got.Content) != "hello" {
		t.Errorf("Content = %q, хотели hello", got.Content)
	}
	if got.Used || got.UsedBy != nil || got.UsedAt != nil {
		t.Error("новая запись не должна быть использованной")
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(now.Add(24*time.Hour)) {
		t.Errorf("ExpiresAt = %v, хотели %v", got.ExpiresAt, now.Add(24*time.Hour))
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, хотели %v", got.CreatedAt, now)
	}

	// Бессрочный ключ
	b := newArtifact(now, nil)
	if err := repo.Create(ctx, b); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	got, err = repo.GetByKeyHash(ctx, b.KeyHash)
	if err != nil {
		t.Fatalf("GetByKeyHash() ошибка: %v", err)
	}
	if got.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, хотели nil", got.ExpiresAt)
	}

	if _, err := repo.GetByKeyHash(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

func testKeyHashConflict(t *testing.T, repo ArtifactRepository) {
	ctx := context.Background()
	now := time.Now().UTC()
	a := newArtifact(now, nil)
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	dup := newArtifact(now, nil)
	dup.KeyHash = a.KeyHash
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("ожидалась ErrConflict, получено %v", err)
	}
}

func testContentHashExists(t *testing.T, repo ArtifactRepository) {
	ctx := context.Background()
	a := newArtifact(time.Now().UTC(), nil)
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	exists, err := repo.ExistsByContentHash(ctx, a.ContentHash)
	if err != nil {
		t.Fatalf("ExistsByContentHash() ошибка: %v", err)
	}
	if !exists {
		t.Error("содержимое должно считаться загруженным")
	}

	exists, err = repo.ExistsByContentHash(ctx, "other")
	if err != nil {
		t.Fatalf("ExistsByContentHash() ошибка: %v", err)
	}
	if exists {
		t.Error("неизвестный хеш не должен считаться загруженным")
	}
}

func testMarkUsedOnce(t *testing.T, repo ArtifactRepository) {
	ctx := context.Background()
	now := time.Now().UTC()
	a := newArtifact(now, nil)
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	ok, err := repo.MarkUsed(ctx, a.ID, "200", now)
	if err != nil || !ok {
		t.Fatalf("MarkUsed() = %v, %v; хотели true, nil", ok, err)
	}
	ok, err = repo.MarkUsed(ctx, a.ID, "300", now)
	if err != nil || ok {
		t.Fatalf("повторный MarkUsed() = %v, %v; хотели false, nil", ok, err)
	}
	ok, err = repo.MarkExpired(ctx, a.ID, now)
	if err != nil || ok {
		t.Fatalf("MarkExpired() после MarkUsed = %v, %v; хотели false, nil", ok, err)
	}

	got, err := repo.GetByKeyHash(ctx, a.KeyHash)
	if err != nil {
		t.Fatalf("GetByKeyHash() ошибка: %v", err)
	}
	if !got.Used || got.UsedBy == nil || *got.UsedBy != "200" || got.UsedAt == nil {
		t.Errorf("ожидалась пометка used_by=200, получено %+v", got)
	}
}

func testMarkExpired(t *testing.T, repo ArtifactRepository) {
	ctx := context.Background()
	now := time.Now().UTC()
	a := newArtifact(now.Add(-2*time.Hour), ptr(now.Add(-time.Hour)))
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	ok, err := repo.MarkExpired(ctx, a.ID, now)
	if err != nil || !ok {
		t.Fatalf("MarkExpired() = %v, %v; хотели true, nil", ok, err)
	}
	ok, err = repo.MarkUsed(ctx, a.ID, "200", now)
	if err != nil || ok {
		t.Fatalf("MarkUsed() после MarkExpired = %v, %v; хотели false, nil", ok, err)
	}

	got, err := repo.GetByKeyHash(ctx, a.KeyHash)
	if err != nil {
		t.Fatalf("GetByKeyHash() ошибка: %v", err)
	}
	if !got.ExpiredBySystem() {
		t.Errorf("ожидалась системная пометка истечения, получено %+v", got)
	}
}

func testPurgeSelection(t *testing.T, repo ArtifactRepository) {
	ctx := context.Background()
	now := time.Now().UTC()

	active := newArtifact(now, ptr(now.Add(time.Hour)))
	forever := newArtifact(now, nil)
	expired := newArtifact(now.Add(-2*time.Hour), ptr(now.Add(-time.Hour)))
	used := newArtifact(now, ptr(now.Add(time.Hour)))
	for _, a := range []*model.Artifact{active, forever, expired, used} {
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
	}
	if ok, err := repo.MarkUsed(ctx, used.ID, "200", now); err != nil || !ok {
		t.Fatalf("MarkUsed() = %v, %v", ok, err)
	}

	list, err := repo.ListPurgeable(ctx, now)
	if err != nil {
		t.Fatalf("ListPurgeable() ошибка: %v", err)
	}
	got := map[int64]string{}
	for _, a := range list {
		got[a.ID] = a.StoredName
	}
	if len(got) != 2 || got[expired.ID] != expired.StoredName || got[used.ID] != used.StoredName {
		t.Fatalf("ListPurgeable() = %v, хотели id %d и %d", got, expired.ID, used.ID)
	}

	// active не подлежит очистке - DeleteByIDs его не удалит
	n, err := repo.DeleteByIDs(ctx, []int64{expired.ID, used.ID, active.ID}, now)
	if err != nil {
		t.Fatalf("DeleteByIDs() ошибка: %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteByIDs() удалено %d, хотели 2", n)
	}
	if _, err := repo.GetByKeyHash(ctx, active.KeyHash); err != nil {
		t.Errorf("активная запись должна остаться: %v", err)
	}
	if _, err := repo.GetByKeyHash(ctx, forever.KeyHash); err != nil {
		t.Errorf("бессрочная запись должна остаться: %v", err)
	}
	if _, err := repo.GetByKeyHash(ctx, expired.KeyHash); !errors.Is(err, ErrNotFound) {
		t.Errorf("истёкшая запись должна быть удалена, получено %v", err)
	}

	if n, err := repo.DeleteByIDs(ctx, nil, now); err != nil || n != 0 {
		t.Errorf("DeleteByIDs(nil) = %d, %v; хотели 0, nil", n, err)
	}
}
