// purge.go - фоновая очистка использованных и истёкших артефактов.
//
// Запускается как задача gocron: первый прогон сразу после старта,
// далее каждые AUTO_PURGE_INTERVAL секунд. Параллельные прогоны исключены.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// PurgeScheduler - периодическая очистка каталога и хранилища байтов.
type PurgeScheduler struct {
	store    *ArtifactStore
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска RunOnce
	scheduler gocron.Scheduler
}

// NewPurgeScheduler создаёт планировщик очистки.
func NewPurgeScheduler(store *ArtifactStore, interval time.Duration, logger *slog.Logger) *PurgeScheduler {
	return &PurgeScheduler{
		store:    store,
		interval: interval,
		logger:   logger.With(slog.String("component", "purge")),
	}
}

// Start регистрирует задачу очистки и запускает планировщик.
// ctx передаётся в каждый прогон; его отмена прерывает текущий прогон.
func (p *PurgeScheduler) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("ошибка создания планировщика: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(func() { p.RunOnce(ctx) }),
		gocron.WithName("purge-expired-and-used"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("ошибка регистрации задачи очистки: %w", err)
	}

	s.Start()
	p.scheduler = s

	p.logger.Info("Очистка запущена",
		slog.String("interval", p.interval.String()),
	)
	return nil
}

// Stop останавливает планировщик и дожидается текущего прогона.
func (p *PurgeScheduler) Stop() {
	if p.scheduler == nil {
		return
	}
	if err := p.scheduler.Shutdown(); err != nil {
		p.logger.Warn("Ошибка остановки планировщика", slog.String("error", err.Error()))
	}
	p.scheduler = nil
	p.logger.Info("Очистка остановлена")
}

// RunOnce выполняет один прогон очистки.
func (p *PurgeScheduler) RunOnce(ctx context.Context) *PurgeResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.Debug("Очистка начата")

	result, err := p.store.PurgeExpiredAndUsed(ctx)

	purgeRunsTotal.Inc()
	purgeDeletedTotal.Add(float64(result.Deleted))
	purgePayloadErrorsTotal.Add(float64(result.Errors))
	purgeDurationSeconds.Observe(result.Duration.Seconds())

	if err != nil {
		p.logger.Error("Очистка завершилась с ошибкой",
			slog.Int("scanned", result.Scanned),
			slog.String("error", err.Error()),
		)
		return result
	}

	p.logger.Info("Очистка завершена",
		slog.Int("scanned", result.Scanned),
		slog.Int64("deleted", result.Deleted),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result
}
