package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/Adalik1/AdalikM-BOT/internal/config"
	"github.com/Adalik1/AdalikM-BOT/internal/domain/model"
	"github.com/Adalik1/AdalikM-BOT/internal/keycodec"
	"github.com/Adalik1/AdalikM-BOT/internal/repository"
)

// conflictingRepo возвращает ErrConflict на первые conflicts вставок.
type conflictingRepo struct {
	repository.ArtifactRepository
	conflicts int
	failWith  error
	creates   int
}

func (r *conflictingRepo) Create(ctx context.Context, a *model.Artifact) error {
	r.creates++
	if r.failWith != nil {
		return r.failWith
	}
	if r.creates <= r.conflicts {
		return fmt.Errorf("%w: тест", repository.ErrConflict)
	}
	return r.ArtifactRepository.Create(ctx, a)
}

// failingDeleteBlobs - хранилище, в котором удаление всегда падает.
type failingDeleteBlobs struct {
	BlobStore
}

func (failingDeleteBlobs) Delete(context.Context, string) error {
	return errors.New("диск только для чтения")
}

// unavailableBlobs - хранилище, недоступное для чтения.
type unavailableBlobs struct {
	BlobStore
}

func (unavailableBlobs) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("соединение отклонено")
}

func TestSubmit_RetriesOnKeyConflict(t *testing.T) {
	base := newTestEnv(t, nil)
	repo := &conflictingRepo{ArtifactRepository: base.repo, conflicts: 2}
	env := newTestEnvWith(t, base.cfg, repo, base.fs, base.fs)

	res := env.submitText(t, "100", "retry.txt", "conflict twice")
	if repo.creates != 3 {
		t.Errorf("попыток вставки %d, хотели 3", repo.creates)
	}
	a := env.findArtifact(t, keycodec.Hash(res.Key))
	if !env.payloadExists(a.StoredName) {
		t.Error("содержимое должно остаться после повторной вставки")
	}
}

func TestSubmit_GivesUpAfterConflicts(t *testing.T) {
	base := newTestEnv(t, nil)
	repo := &conflictingRepo{ArtifactRepository: base.repo, conflicts: maxInsertAttempts}
	env := newTestEnvWith(t, base.cfg, repo, base.fs, base.fs)

	_, serr := env.ctrl.Submit(context.Background(), SubmitParams{
		RequesterID: "100", Reader: stringsReader("always conflict"), Filename: "x.txt",
	})
	expectKind(t, serr, KindConflict)
	assertStorageEmpty(t, env)
}

func TestSubmit_InsertFailureRemovesPayload(t *testing.T) {
	base := newTestEnv(t, nil)
	repo := &conflictingRepo{ArtifactRepository: base.repo, failWith: errors.New("диск переполнен")}
	env := newTestEnvWith(t, base.cfg, repo, base.fs, base.fs)

	_, serr := env.ctrl.Submit(context.Background(), SubmitParams{
		RequesterID: "100", Reader: stringsReader("will fail"), Filename: "x.txt",
	})
	expectKind(t, serr, KindInternal)
	assertStorageEmpty(t, env)
}

func TestRead_FallsBackWhenStoreUnavailable(t *testing.T) {
	base := newTestEnv(t, nil)
	res := base.submitText(t, "100", "a.txt", "still readable")

	env := newTestEnvWith(t, base.cfg, base.repo, base.fs, unavailableBlobs{base.fs})
	a := env.findArtifact(t, keycodec.Hash(res.Key))
	data, err := env.store.Read(context.Background(), a)
	if err != nil {
		t.Fatalf("Read() ошибка: %v", err)
	}
	if string(data) != "still readable" {
		t.Errorf("Read() = %q", data)
	}
}

func TestPurgeExpiredAndUsed(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	base := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	env.setNow(base)

	used := env.submitText(t, "100", "used.txt", "used")
	expired := env.submitText(t, "100", "expired.txt", "expired")

	var got captured
	if _, serr := env.ctrl.Redeem(ctx, RedeemParams{RequesterID: "200", Text: used.Key}, got.deliver); serr != nil {
		t.Fatalf("Redeem() ошибка: %v", serr)
	}

	// Активный ключ, выданный позже: истекает через 49ч от base
	env.setNow(base.Add(25 * time.Hour))
	active := env.submitText(t, "100", "active.txt", "active")

	usedArt := env.findArtifact(t, keycodec.Hash(used.Key))
	expiredArt := env.findArtifact(t, keycodec.Hash(expired.Key))
	activeArt := env.findArtifact(t, keycodec.Hash(active.Key))

	result, err := env.store.PurgeExpiredAndUsed(ctx)
	if err != nil {
		t.Fatalf("PurgeExpiredAndUsed() ошибка: %v", err)
	}
	if result.Scanned != 2 || result.Deleted != 2 || result.Errors != 0 {
		t.Errorf("PurgeResult = %+v, хотели 2/2/0", result)
	}

	for _, a := range []*model.Artifact{usedArt, expiredArt} {
		if env.payloadExists(a.StoredName) {
			t.Errorf("файл %s должен быть удалён", a.StoredName)
		}
		if _, err := env.repo.GetByKeyHash(ctx, a.KeyHash); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("запись %d должна быть удалена, получено %v", a.ID, err)
		}
	}
	if !env.payloadExists(activeArt.StoredName) {
		t.Error("файл активного ключа не должен удаляться")
	}

	for _, key := range []string{used.Key, expired.Key} {
		st, serr := env.ctrl.Status(ctx, key)
		if serr != nil || st.State != StatusNotFound {
			t.Errorf("Status после очистки = %+v, %v; хотели not_found", st, serr)
		}
		_, serr = env.ctrl.Redeem(ctx, RedeemParams{RequesterID: "200", Text: key}, got.deliver)
		expectKind(t, serr, KindNotFoundOrConsumed)
	}
}

func TestPurge_PayloadErrorsDoNotBlockCatalog(t *testing.T) {
	base := newTestEnv(t, nil)
	ctx := context.Background()
	res := base.submitText(t, "100", "stuck.txt", "stuck")

	var got captured
	if _, serr := base.ctrl.Redeem(ctx, RedeemParams{RequesterID: "200", Text: res.Key}, got.deliver); serr != nil {
		t.Fatalf("Redeem() ошибка: %v", serr)
	}

	env := newTestEnvWith(t, base.cfg, base.repo, base.fs, failingDeleteBlobs{base.fs})
	result, err := env.store.PurgeExpiredAndUsed(ctx)
	if err != nil {
		t.Fatalf("PurgeExpiredAndUsed() ошибка: %v", err)
	}
	if result.Errors != 1 || result.Deleted != 1 {
		t.Errorf("PurgeResult = %+v, хотели Errors=1 Deleted=1", result)
	}
	if _, err := env.repo.GetByKeyHash(ctx, keycodec.Hash(res.Key)); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("запись должна быть удалена несмотря на ошибку файла, получено %v", err)
	}
}

func TestPurgeScheduler_RunOnce(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.ExpiryHours = 1 })
	ctx := context.Background()
	base := time.Now().UTC().Add(-2 * time.Hour)
	env.setNow(base)
	env.submitText(t, "100", "old.txt", "old")
	env.store.now = func() time.Time { return time.Now().UTC() }

	p := NewPurgeScheduler(env.store, time.Hour, quietLogger())
	result := p.RunOnce(ctx)
	if result.Deleted != 1 {
		t.Errorf("Deleted = %d, хотели 1", result.Deleted)
	}
	result = p.RunOnce(ctx)
	if result.Scanned != 0 {
		t.Errorf("повторная очистка: Scanned = %d, хотели 0", result.Scanned)
	}
}

func TestPurgeScheduler_StartRunsImmediately(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.ExpiryHours = 1 })
	env.setNow(time.Now().UTC().Add(-2 * time.Hour))
	res := env.submitText(t, "100", "old.txt", "old")
	env.store.now = func() time.Time { return time.Now().UTC() }
	a := env.findArtifact(t, keycodec.Hash(res.Key))

	p := NewPurgeScheduler(env.store, time.Hour, quietLogger())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() ошибка: %v", err)
	}
	defer p.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for env.payloadExists(a.StoredName) {
		if time.Now().After(deadline) {
			t.Fatal("первая очистка не выполнена сразу после старта")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func stringsReader(s string) io.Reader {
	return &readerOnce{data: []byte(s)}
}

// readerOnce - io.Reader без Len/Seek, как поток multipart.
type readerOnce struct {
	data []byte
}

func (r *readerOnce) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func assertStorageEmpty(t *testing.T, env *testEnv) {
	t.Helper()
	entries, err := os.ReadDir(env.fs.DataDir())
	if err != nil {
		t.Fatalf("ReadDir() ошибка: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("в хранилище остались файлы: %d", len(entries))
	}
}
