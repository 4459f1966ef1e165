// Точка входа AdalikM - сервис выдачи текстовых файлов по одноразовым ключам.
// Загружает конфигурацию, открывает каталог (SQLite или PostgreSQL),
// подключает хранилище байтов (локальное или S3), запускает фоновую
// очистку, topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/Adalik1/AdalikM-BOT/internal/api/handlers"
	"github.com/Adalik1/AdalikM-BOT/internal/config"
	"github.com/Adalik1/AdalikM-BOT/internal/database"
	"github.com/Adalik1/AdalikM-BOT/internal/repository"
	"github.com/Adalik1/AdalikM-BOT/internal/server"
	"github.com/Adalik1/AdalikM-BOT/internal/service"
	"github.com/Adalik1/AdalikM-BOT/internal/storage"
	"github.com/Adalik1/AdalikM-BOT/internal/storage/filestore"
	"github.com/Adalik1/AdalikM-BOT/internal/storage/s3store"
)

// blobBackend - хранилище байтов с проверкой доступности.
type blobBackend interface {
	service.BlobStore
	storage.Checker
}

func main() {
	// 1. .env (опционально) и конфигурация из переменных окружения
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Ошибка чтения .env", slog.String("error", err.Error()))
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("AdalikM запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("db_driver", cfg.DBDriver),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.Int("expiry_hours", cfg.ExpiryHours),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Каталог
	var (
		repo         repository.ArtifactRepository
		dephealthSvc *service.DephealthService
	)
	switch cfg.DBDriver {
	case config.DBDriverPostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg.DBDSN, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}
		pool, err := database.Connect(ctx, cfg.DBDSN, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()
		repo = repository.NewArtifactRepository(pool)

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB := stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		dephealthSvc, err = service.NewDephealthService(
			"adalikm", cfg.DephealthGroup, pgDB, cfg.DBDSN, cfg.DephealthCheckInterval, logger,
		)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
			dephealthSvc = nil
		}
	default:
		db, err := database.OpenSQLite(cfg.DBPath, logger)
		if err != nil {
			logger.Error("Ошибка открытия SQLite", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := repository.MigrateSQLite(db); err != nil {
			logger.Error("Ошибка инициализации схемы SQLite", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		repo = repository.NewSQLiteArtifactRepository(db)
	}

	// 4. Хранилище байтов
	var blobs blobBackend
	switch cfg.StorageBackend {
	case config.StorageBackendS3:
		blobs, err = s3store.New(ctx, cfg, logger)
	default:
		var fs *filestore.FileStore
		if fs, err = filestore.New(cfg.StorageDir); err == nil {
			logger.Info("Локальное хранилище", slog.String("data_dir", fs.DataDir()))
			blobs = fs
		}
	}
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Хранилище инициализировано", slog.String("backend", cfg.StorageBackend))

	// 5. Сервисы
	store := service.NewArtifactStore(repo, blobs, logger)
	ctrl := service.NewRedemptionController(cfg, store, logger)
	limiter := service.NewRateLimiter(cfg.MinRequestInterval(), cfg.RateLimitMaxTracked)

	// 6. Фоновая очистка: первый прогон сразу, затем по интервалу
	purge := service.NewPurgeScheduler(store, cfg.PurgeInterval(), logger)
	if err := purge.Start(ctx); err != nil {
		logger.Error("Ошибка запуска очистки", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer purge.Stop()

	// 7. topologymetrics
	if dephealthSvc != nil {
		if err := dephealthSvc.Start(ctx); err != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
			defer dephealthSvc.Stop()
		}
	}

	// 8. HTTP
	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(repo, cfg.DBDriver),
		storage.NewReadinessChecker(blobs),
	)
	artifactsHandler := handlers.NewArtifactsHandler(ctrl, cfg, logger)
	srv := server.New(cfg, logger, artifactsHandler, healthHandler, limiter)

	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка HTTP-сервера", slog.String("error", err.Error()))
		cancel()
		purge.Stop()
		os.Exit(1)
	}

	logger.Info("AdalikM остановлен")
}
