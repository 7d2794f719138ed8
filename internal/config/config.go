// Пакет config — загрузка и валидация конфигурации сервера печати
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервера.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к директории blob-файлов загрузок
	UploadsDir string
	// Максимальный размер загружаемого файла в байтах
	MaxUploadBytes int64
	// Публичный базовый URL для release-ссылок (опционально;
	// иначе используется forwarded host или host запроса)
	PublicBaseURL string
	// Период фоновой очистки истёкших заданий
	SweepInterval time.Duration
	// Срок действия release-ссылки по умолчанию
	DefaultExpiration time.Duration
	// Количество итераций PBKDF2 (зафиксировано для совместимости
	// с существующими шифртекстами)
	PBKDF2Iterations int

	// Параметры подключения к PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// URL health endpoint внешнего identity provider для мониторинга
	// зависимостей через topologymetrics (опционально)
	IdPHealthURL string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Имя зависимости в метриках topologymetrics
	DephealthDepName string
	// Имя владельца пода для метки name в topologymetrics
	DephealthName string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// PL_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("PL_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("PL_PORT: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PL_PORT: значение %d вне допустимого диапазона", cfg.Port)
	}

	// PL_UPLOADS_DIR — обязательный
	cfg.UploadsDir, err = getEnvRequired("PL_UPLOADS_DIR")
	if err != nil {
		return nil, err
	}

	// PL_MAX_UPLOAD_BYTES — лимит загрузки (по умолчанию 20 MiB)
	cfg.MaxUploadBytes, err = getEnvInt64("PL_MAX_UPLOAD_BYTES", 20*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("PL_MAX_UPLOAD_BYTES: %w", err)
	}
	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("PL_MAX_UPLOAD_BYTES: значение должно быть положительным")
	}

	// PL_PUBLIC_BASE_URL — опциональный, без завершающего слэша
	cfg.PublicBaseURL = strings.TrimRight(getEnvDefault("PL_PUBLIC_BASE_URL", ""), "/")

	// PL_SWEEP_INTERVAL — период sweeper (по умолчанию 60s)
	cfg.SweepInterval, err = getEnvDuration("PL_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PL_SWEEP_INTERVAL: %w", err)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("PL_SWEEP_INTERVAL: значение должно быть положительным")
	}

	// PL_DEFAULT_EXPIRATION — срок ссылки по умолчанию (15m)
	cfg.DefaultExpiration, err = getEnvDuration("PL_DEFAULT_EXPIRATION", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PL_DEFAULT_EXPIRATION: %w", err)
	}
	if cfg.DefaultExpiration <= 0 {
		return nil, fmt.Errorf("PL_DEFAULT_EXPIRATION: значение должно быть положительным")
	}

	// PL_PBKDF2_ITERATIONS — итерации деривации ключа (100000)
	cfg.PBKDF2Iterations, err = getEnvInt("PL_PBKDF2_ITERATIONS", 100000)
	if err != nil {
		return nil, fmt.Errorf("PL_PBKDF2_ITERATIONS: %w", err)
	}
	if cfg.PBKDF2Iterations <= 0 {
		return nil, fmt.Errorf("PL_PBKDF2_ITERATIONS: значение должно быть положительным")
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("PL_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("PL_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("PL_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("PL_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("PL_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("PL_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("PL_DB_SSLMODE", "disable")

	// --- Логирование ---

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PL_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PL_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("PL_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PL_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// PL_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (5s)
	cfg.ShutdownTimeout, err = getEnvDuration("PL_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PL_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- topologymetrics ---

	cfg.IdPHealthURL = getEnvDefault("PL_IDP_HEALTH_URL", "")

	cfg.DephealthCheckInterval, err = getEnvDuration("PL_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PL_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("PL_DEPHEALTH_GROUP", "printlink")
	cfg.DephealthDepName = getEnvDefault("PL_DEPHEALTH_DEP_NAME", "identity-provider")
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1m, 1h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
