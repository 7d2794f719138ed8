// Точка входа сервера печати. Загружает конфигурацию, подключается к
// PostgreSQL, применяет миграции, инициализирует blob-хранилище,
// expiry-индекс и шифратор документов, выполняет стартовую очистку,
// запускает sweeper, мониторинг зависимостей и HTTP-сервер с graceful
// shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/printlink/internal/api/handlers"
	"github.com/bigkaa/printlink/internal/config"
	"github.com/bigkaa/printlink/internal/cryptox"
	"github.com/bigkaa/printlink/internal/database"
	"github.com/bigkaa/printlink/internal/repository"
	"github.com/bigkaa/printlink/internal/server"
	"github.com/bigkaa/printlink/internal/service"
	"github.com/bigkaa/printlink/internal/storage/blobstore"
	"github.com/bigkaa/printlink/internal/storage/expiry"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Сервер печати запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Blob-хранилище зашифрованных документов
	blobs, err := blobstore.New(cfg.UploadsDir)
	if err != nil {
		logger.Error("Ошибка инициализации blob-хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Blob-хранилище готово", slog.String("uploads_dir", cfg.UploadsDir))

	// 6. Expiry-индекс и шифратор документов
	index := expiry.New()
	cipher := cryptox.NewCipher(cfg.PBKDF2Iterations)

	// 7. Хранилище и менеджер жизненного цикла
	store := repository.NewStore(pool)
	lifecycle := service.NewLifecycle(cfg, store, blobs, index, cipher, logger)

	// 8. Стартовая очистка и запуск sweeper-а.
	// Индекс не персистентный: живые задания прежнего процесса
	// переводятся в deleted, осиротевшие blob-ы удаляются.
	sweeper := service.NewSweeper(lifecycle, index, blobs, store, cfg.SweepInterval, logger)
	if err := sweeper.StartupCleanup(ctx); err != nil {
		logger.Error("Ошибка стартовой очистки", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 9. Мониторинг зависимостей через topologymetrics
	serviceID := cfg.DephealthName
	if serviceID == "" {
		serviceID = "printlink"
	}
	pgConnURL := fmt.Sprintf("postgres://%s@%s:%d/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	dephealthSvc, err := service.NewDephealthService(
		serviceID,
		cfg.DephealthGroup,
		pgDB,
		pgConnURL,
		cfg.IdPHealthURL,
		cfg.DephealthDepName,
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка инициализации мониторинга зависимостей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Error("Ошибка запуска мониторинга зависимостей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer dephealthSvc.Stop()

	// 10. HTTP handlers и сервер
	handler := handlers.New(cfg, lifecycle, index, database.NewReadinessChecker(pool), logger)
	srv := server.New(cfg, logger, handler)

	// 11. Запуск с ожиданием сигнала завершения
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка HTTP-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Сервер печати остановлен")
}
