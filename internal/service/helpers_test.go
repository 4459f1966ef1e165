package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Adalik1/AdalikM-BOT/internal/config"
	"github.com/Adalik1/AdalikM-BOT/internal/database"
	"github.com/Adalik1/AdalikM-BOT/internal/domain/model"
	"github.com/Adalik1/AdalikM-BOT/internal/repository"
	"github.com/Adalik1/AdalikM-BOT/internal/storage/filestore"
)

// testEnv - контроллер поверх временных SQLite-каталога и директории.
type testEnv struct {
	cfg   *config.Config
	repo  repository.ArtifactRepository
	fs    *filestore.FileStore
	store *ArtifactStore
	ctrl  *RedemptionController
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() *config.Config {
	return &config.Config{
		ExpiryHours:         24,
		MaxBytes:            2000000,
		MinInterval:         1,
		RateLimitMaxTracked: 100,
		AutoPurgeInterval:   3600,
	}
}

// newTestEnv создаёт окружение; mutate меняет конфигурацию до создания сервисов.
func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	dir := t.TempDir()
	db, err := database.OpenSQLite(filepath.Join(dir, "catalog.db"), quietLogger())
	if err != nil {
		t.Fatalf("OpenSQLite() ошибка: %v", err)
	}
	if err := repository.MigrateSQLite(db); err != nil {
		t.Fatalf("MigrateSQLite() ошибка: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { sqlDB.Close() })

	fs, err := filestore.New(filepath.Join(dir, "storage"))
	if err != nil {
		t.Fatalf("filestore.New() ошибка: %v", err)
	}

	return newTestEnvWith(t, cfg, repository.NewSQLiteArtifactRepository(db), fs, fs)
}

func newTestEnvWith(t *testing.T, cfg *config.Config, repo repository.ArtifactRepository, fs *filestore.FileStore, blobs BlobStore) *testEnv {
	t.Helper()
	store := NewArtifactStore(repo, blobs, quietLogger())
	return &testEnv{
		cfg:   cfg,
		repo:  repo,
		fs:    fs,
		store: store,
		ctrl:  NewRedemptionController(cfg, store, quietLogger()),
	}
}

// setNow фиксирует время контроллера и хранилища.
func (e *testEnv) setNow(now time.Time) {
	e.ctrl.now = func() time.Time { return now }
	e.store.now = func() time.Time { return now }
}

// submitText загружает текстовый файл и возвращает ключ.
func (e *testEnv) submitText(t *testing.T, requester, filename, content string) *SubmitResult {
	t.Helper()
	res, serr := e.ctrl.Submit(context.Background(), SubmitParams{
		RequesterID: requester,
		Reader:      strings.NewReader(content),
		Filename:    filename,
		ContentType: "text/plain",
		Size:        int64(len(content)),
	})
	if serr != nil {
		t.Fatalf("Submit(%q) ошибка: %v", filename, serr)
	}
	return res
}

// captured - Deliverer, запоминающий доставленный файл.
type captured struct {
	calls    int
	filename string
	data     []byte
}

func (c *captured) deliver(_ context.Context, filename string, data []byte) error {
	c.calls++
	c.filename = filename
	c.data = append([]byte(nil), data...)
	return nil
}

func expectKind(t *testing.T, serr *Error, want Kind) {
	t.Helper()
	if serr == nil {
		t.Fatalf("ожидалась ошибка %s, получен nil", want)
	}
	if serr.Kind != want {
		t.Fatalf("Kind = %s, хотели %s (%v)", serr.Kind, want, serr)
	}
}

// findArtifact возвращает запись каталога по ключу.
func (e *testEnv) findArtifact(t *testing.T, keyHash string) *model.Artifact {
	t.Helper()
	a, err := e.repo.GetByKeyHash(context.Background(), keyHash)
	if err != nil {
		t.Fatalf("GetByKeyHash() ошибка: %v", err)
	}
	return a
}

// payloadExists проверяет, что байты лежат в директории хранилища.
func (e *testEnv) payloadExists(storedName string) bool {
	_, err := os.Stat(filepath.Join(e.fs.DataDir(), storedName))
	return err == nil
}
