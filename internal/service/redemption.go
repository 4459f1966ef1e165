// redemption.go - RedemptionController: загрузка файла с выдачей
// одноразового ключа, погашение ключа и запрос статуса.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Adalik1/AdalikM-BOT/internal/config"
	"github.com/Adalik1/AdalikM-BOT/internal/domain/model"
	"github.com/Adalik1/AdalikM-BOT/internal/keycodec"
	"github.com/Adalik1/AdalikM-BOT/internal/repository"
	"github.com/Adalik1/AdalikM-BOT/internal/storage/filestore"
)

// maxInsertAttempts - попытки вставки при коллизии хеша ключа.
const maxInsertAttempts = 3

// Повторы пометки ключа после доставки.
const (
	maxMarkAttempts = 3
	markRetryDelay  = 50 * time.Millisecond
)

// Состояния ключа в ответе на запрос статуса.
const (
	StatusNotFound = "not_found"
	StatusUsed     = "used"
	StatusExpired  = "expired"
	StatusActive   = "active"
)

// SubmitParams - параметры загрузки файла.
type SubmitParams struct {
	// RequesterID - кто загружает
	RequesterID string
	// ForwardedOriginID - исходный отправитель пересланного сообщения (пусто - нет)
	ForwardedOriginID string
	// Reader - поток данных файла
	Reader io.Reader
	// Filename - заявленное имя файла
	Filename string
	// ContentType - заявленный MIME-тип (может быть пустым)
	ContentType string
	// Size - заявленный размер; 0 - неизвестен
	Size int64
}

// SubmitResult - результат загрузки. Key передаётся получателю ровно один раз.
type SubmitResult struct {
	Key         string
	Filename    string
	ExpiresAt   *time.Time
	ExpiryHours int
}

// RedeemParams - параметры погашения ключа.
type RedeemParams struct {
	// RequesterID - кто погашает
	RequesterID string
	// Text - текст с ключом (может содержать лишний текст и переводы строк)
	Text string
}

// RedeemResult - результат успешного погашения.
type RedeemResult struct {
	ArtifactID int64
	Filename   string
	Size       int64
}

// StatusResult - состояние ключа.
type StatusResult struct {
	State    string
	Filename string
	// ExpiresAt - nil для бессрочного ключа
	ExpiresAt *time.Time
	// Hours, Minutes - остаток до истечения, округлённый вниз
	Hours   int
	Minutes int
}

// Deliverer передаёт файл получателю. Ошибка означает, что файл не доставлен.
type Deliverer func(ctx context.Context, filename string, data []byte) error

// RedemptionController - операции над одноразовыми ключами.
type RedemptionController struct {
	cfg    *config.Config
	store  *ArtifactStore
	logger *slog.Logger
	now    func() time.Time

	// inflight - хеши ключей, погашение которых сейчас выполняется.
	inflight sync.Map
}

// NewRedemptionController создаёт контроллер.
func NewRedemptionController(cfg *config.Config, store *ArtifactStore, logger *slog.Logger) *RedemptionController {
	return &RedemptionController{
		cfg:    cfg,
		store:  store,
		logger: logger.With(slog.String("component", "redemption")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit принимает файл и выдаёт одноразовый ключ.
//
// Поток:
//  1. Проверка типа (.txt или text/*)
//  2. Список загружающих
//  3. Список доверенных отправителей пересылки
//  4. Размер: заявленный, затем фактический
//  5. Дедупликация по хешу содержимого
//  6. Генерация ключа, запись байтов, вставка записи
func (c *RedemptionController) Submit(ctx context.Context, p SubmitParams) (*SubmitResult, *Error) {
	res, serr := c.submit(ctx, p)
	submissionsTotal.WithLabelValues(resultLabel(serr)).Inc()
	if serr != nil {
		c.logError("Загрузка отклонена", serr, slog.String("requester_id", p.RequesterID))
	}
	return res, serr
}

func (c *RedemptionController) submit(ctx context.Context, p SubmitParams) (*SubmitResult, *Error) {
	contentType := strings.TrimSpace(p.ContentType)

	// 1. Тип файла. Без заявленного типа решение откладывается до чтения байтов.
	sniff := false
	if !isPlainText(p.Filename, contentType) {
		if !undeclaredType(contentType) {
			return nil, newError(KindValidation, "Принимаются только текстовые файлы .txt")
		}
		sniff = true
	}

	// 2. Список загружающих
	if len(c.cfg.AllowedUploaders) > 0 && !slices.Contains(c.cfg.AllowedUploaders, p.RequesterID) {
		return nil, newError(KindAuthorization, "Нет прав на загрузку файлов")
	}

	// 3. Доверенные отправители пересылки
	if len(c.cfg.AuthForwarders) > 0 && !slices.Contains(c.cfg.AuthForwarders, p.ForwardedOriginID) {
		return nil, newError(KindAuthorization, "Принимаются только файлы от доверенных отправителей")
	}

	// 4. Размер
	tooLarge := fmt.Sprintf("Файл слишком большой (максимум %d байт)", c.cfg.MaxBytes)
	if p.Size > c.cfg.MaxBytes {
		return nil, newError(KindValidation, tooLarge)
	}
	if p.Reader == nil {
		return nil, newError(KindValidation, "Файл не передан")
	}
	data, err := io.ReadAll(io.LimitReader(p.Reader, c.cfg.MaxBytes+1))
	if err != nil {
		return nil, internalError("Не удалось прочитать файл", err)
	}
	if int64(len(data)) > c.cfg.MaxBytes {
		return nil, newError(KindValidation, tooLarge)
	}
	if len(data) == 0 {
		return nil, newError(KindValidation, "Файл пуст")
	}

	if sniff {
		detected := mimetype.Detect(data).String()
		if !strings.HasPrefix(detected, "text/") {
			return nil, newError(KindValidation, "Принимаются только текстовые файлы .txt")
		}
		contentType = detected
	}

	// 5. Дедупликация
	contentHash := keycodec.ContentHash(data)
	exists, err := c.store.ExistsByContentHash(ctx, contentHash)
	if err != nil {
		return nil, internalError("Ошибка проверки дубликата", err)
	}
	if exists {
		return nil, newError(KindDuplicate, "Этот файл уже был загружен ранее")
	}

	// 6. Ключ и вставка
	now := c.now()
	filename := displayFilename(p.Filename)
	a := &model.Artifact{
		OriginalFilename: filename,
		StoredName:       filestore.StoredName(now, filename),
		ContentType:      contentType,
		UploaderID:       p.RequesterID,
		ContentHash:      contentHash,
		CreatedAt:        now,
	}
	if window := c.cfg.ExpiryWindow(); window > 0 {
		expiresAt := now.Add(window)
		a.ExpiresAt = &expiresAt
	}

	var key string
	for attempt := 1; ; attempt++ {
		key, err = keycodec.Generate()
		if err != nil {
			c.store.DiscardPayload(ctx, a.StoredName)
			return nil, internalError("Ошибка генерации ключа", err)
		}
		a.KeyHash = keycodec.Hash(key)

		err = c.store.Insert(ctx, a, data)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, internalError("Ошибка сохранения файла", err)
		}
		c.logger.Warn("Коллизия хеша ключа, повтор с новым ключом",
			slog.Int("attempt", attempt),
		)
		if attempt >= maxInsertAttempts {
			c.store.DiscardPayload(ctx, a.StoredName)
			return nil, &Error{Kind: KindConflict, Message: "Не удалось выдать ключ, попробуйте ещё раз", Err: err}
		}
	}

	c.logger.Info("Файл принят",
		slog.Int64("artifact_id", a.ID),
		slog.String("key_hash", keyHashPrefix(a.KeyHash)),
		slog.String("filename", a.OriginalFilename),
		slog.Int64("size", a.Size),
		slog.String("uploader_id", a.UploaderID),
	)

	// 7. Ключ возвращается только здесь
	return &SubmitResult{
		Key:         key,
		Filename:    a.OriginalFilename,
		ExpiresAt:   a.ExpiresAt,
		ExpiryHours: c.cfg.ExpiryHours,
	}, nil
}

// Redeem погашает ключ: находит артефакт, передаёт файл через deliver
// и только после успешной доставки помечает ключ использованным.
//
// На время погашения хеш ключа резервируется в процессе: параллельный
// запрос с тем же ключом получает NotFoundOrConsumed без доставки.
func (c *RedemptionController) Redeem(ctx context.Context, p RedeemParams, deliver Deliverer) (*RedeemResult, *Error) {
	res, rerr := c.redeem(ctx, p, deliver)
	redemptionsTotal.WithLabelValues(resultLabel(rerr)).Inc()
	if rerr != nil {
		c.logError("Погашение отклонено", rerr, slog.String("requester_id", p.RequesterID))
	}
	return res, rerr
}

func (c *RedemptionController) redeem(ctx context.Context, p RedeemParams, deliver Deliverer) (*RedeemResult, *Error) {
	// 1. Нормализация
	key, ok := keycodec.Normalize(p.Text)
	if !ok {
		return nil, newError(KindValidation, "Не удалось распознать ключ")
	}
	keyHash := keycodec.Hash(key)

	if _, busy := c.inflight.LoadOrStore(keyHash, struct{}{}); busy {
		return nil, notFoundOrConsumed()
	}
	defer c.inflight.Delete(keyHash)

	// 2. Поиск
	a, err := c.store.FindByKeyHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundOrConsumed()
		}
		return nil, internalError("Ошибка поиска ключа", err)
	}
	now := c.now()
	if !a.IsRedeemable(now) {
		switch {
		case a.ExpiredBySystem():
			return nil, c.expiredError()
		case a.Used:
			return nil, notFoundOrConsumed()
		}

		// 3. Истечение срока: ключ переводится в used от имени системы
		if _, err := c.store.MarkExpired(ctx, a.ID); err != nil {
			return nil, internalError("Ошибка пометки истёкшего ключа", err)
		}
		c.logger.Info("Ключ истёк",
			slog.Int64("artifact_id", a.ID),
			slog.String("key_hash", keyHashPrefix(keyHash)),
		)
		return nil, c.expiredError()
	}

	// 4. Чтение содержимого
	data, err := c.store.Read(ctx, a)
	if err != nil {
		if errors.Is(err, ErrContentMissing) {
			return nil, &Error{Kind: KindDelivery, Message: "Содержимое файла не найдено", Err: err}
		}
		return nil, internalError("Ошибка чтения файла", err)
	}

	// 5. Доставка, затем пометка
	filename := a.DisplayName()
	if err := deliver(ctx, filename, data); err != nil {
		return nil, &Error{Kind: KindDelivery, Message: "Не удалось отправить файл, попробуйте ещё раз", Err: err}
	}

	marked, err := c.markUsed(ctx, a.ID, p.RequesterID)
	switch {
	case err != nil:
		// Файл уже у получателя, поэтому погашение считается успешным.
		// Ключ остаётся действительным до следующей удачной пометки.
		markUsedFailuresTotal.Inc()
		c.logger.Error("Файл доставлен, но ключ не помечен использованным",
			slog.Int64("artifact_id", a.ID),
			slog.String("key_hash", keyHashPrefix(keyHash)),
			slog.String("error", err.Error()),
		)
	case !marked:
		// Условное обновление не затронуло строк: ключ погасил другой процесс
		c.logger.Error("Файл доставлен, но ключ уже был помечен",
			slog.Int64("artifact_id", a.ID),
			slog.String("key_hash", keyHashPrefix(keyHash)),
		)
		return nil, notFoundOrConsumed()
	default:
		c.logger.Info("Ключ погашен",
			slog.Int64("artifact_id", a.ID),
			slog.String("key_hash", keyHashPrefix(keyHash)),
			slog.String("redeemer_id", p.RequesterID),
		)
	}

	return &RedeemResult{ArtifactID: a.ID, Filename: filename, Size: int64(len(data))}, nil
}

// markUsed помечает ключ после доставки, повторяя попытку при ошибке каталога.
// Отмена запроса не прерывает пометку: файл уже отправлен.
func (c *RedemptionController) markUsed(ctx context.Context, id int64, redeemerID string) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= maxMarkAttempts; attempt++ {
		var marked bool
		marked, err = c.store.MarkUsed(ctx, id, redeemerID)
		if err == nil {
			return marked, nil
		}
		c.logger.Warn("Ошибка пометки ключа, повтор",
			slog.Int64("artifact_id", id),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < maxMarkAttempts {
			time.Sleep(markRetryDelay)
		}
	}
	return false, err
}

// Status возвращает состояние ключа без изменения каталога.
func (c *RedemptionController) Status(ctx context.Context, text string) (*StatusResult, *Error) {
	key, ok := keycodec.Normalize(text)
	if !ok {
		return nil, newError(KindValidation, "Не удалось распознать ключ")
	}

	a, err := c.store.FindByKeyHash(ctx, keycodec.Hash(key))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &StatusResult{State: StatusNotFound}, nil
		}
		serr := internalError("Ошибка поиска ключа", err)
		c.logError("Ошибка запроса статуса", serr)
		return nil, serr
	}

	res := &StatusResult{Filename: a.DisplayName(), ExpiresAt: a.ExpiresAt}
	now := c.now()
	switch {
	case a.IsRedeemable(now):
		res.State = StatusActive
		if a.ExpiresAt != nil {
			remaining := a.ExpiresAt.Sub(now)
			res.Hours = int(remaining / time.Hour)
			res.Minutes = int((remaining % time.Hour) / time.Minute)
		}
	case a.Used && !a.ExpiredBySystem():
		res.State = StatusUsed
	default:
		res.State = StatusExpired
	}
	return res, nil
}

func (c *RedemptionController) expiredError() *Error {
	return newError(KindExpired, fmt.Sprintf("Ключ истёк (%dч). Запросите новый", c.cfg.ExpiryHours))
}

func (c *RedemptionController) logError(msg string, e *Error, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("kind", string(e.Kind)), slog.String("message", e.Message))
	level := slog.LevelInfo
	if e.Kind.Outcome() == OutcomeError {
		level = slog.LevelError
		if e.Err != nil {
			attrs = append(attrs, slog.String("error", e.Err.Error()))
		}
	}
	c.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func notFoundOrConsumed() *Error {
	return newError(KindNotFoundOrConsumed, "Ключ недействителен или уже использован")
}

// isPlainText - имя оканчивается на .txt или тип text/*.
func isPlainText(filename, contentType string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".txt") ||
		strings.HasPrefix(strings.ToLower(contentType), "text/")
}

// undeclaredType - клиент не сообщил осмысленный тип.
func undeclaredType(contentType string) bool {
	return contentType == "" || strings.EqualFold(contentType, "application/octet-stream")
}

// displayFilename - имя файла без пути, как его увидит получатель.
func displayFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "file.txt"
	}
	return name
}

// keyHashPrefix - короткий префикс хеша ключа для логов.
func keyHashPrefix(keyHash string) string {
	if len(keyHash) > 12 {
		return keyHash[:12]
	}
	return keyHash
}
