// Пакет handlers — HTTP-поверхность ядра жизненного цикла заданий
// печати. Тонкий слой: парсинг входных данных, вызов сервисного слоя,
// маппинг ошибок в статус-коды. Напрямую к хранилищам не обращается.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/bigkaa/printlink/internal/api/errors"
	"github.com/bigkaa/printlink/internal/config"
	"github.com/bigkaa/printlink/internal/database"
	"github.com/bigkaa/printlink/internal/service"
	"github.com/bigkaa/printlink/internal/storage/expiry"
)

// Handler — обработчики HTTP-запросов сервера печати.
type Handler struct {
	cfg       *config.Config
	lifecycle *service.Lifecycle
	index     *expiry.Index
	dbChecker *database.ReadinessChecker
	logger    *slog.Logger
}

// New создаёт Handler.
func New(cfg *config.Config, lifecycle *service.Lifecycle, index *expiry.Index, dbChecker *database.ReadinessChecker, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		lifecycle: lifecycle,
		index:     index,
		dbChecker: dbChecker,
		logger:    logger,
	}
}

// Register регистрирует маршруты на роутере.
func (h *Handler) Register(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.SubmitJob)
		r.Get("/", h.ListJobs)
		r.Get("/{id}", h.GetJob)
		r.Post("/{id}/view", h.ViewJob)
		r.Post("/{id}/release", h.ReleaseJob)
		r.Post("/{id}/complete", h.CompleteJob)
	})

	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Handle("/metrics", promhttp.Handler())
}

// writeJSON записывает JSON-ответ со статусом 200.
func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Ошибка кодирования JSON-ответа", slog.String("error", err.Error()))
	}
}

// writeServiceError транслирует ошибку сервисного слоя в HTTP-ответ.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		apierrors.WriteError(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}
	h.logger.Error("Необработанная ошибка сервисного слоя", slog.String("error", err.Error()))
	apierrors.InternalError(w, "Internal server error")
}

// requestBaseURL восстанавливает origin запроса: схема + хост.
// Уважает заголовки обратного прокси (X-Forwarded-Proto, X-Forwarded-Host).
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS != nil {
		scheme = "https"
	}

	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host
}

// clientIP возвращает адрес клиента с учётом X-Forwarded-For.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// Первый адрес в цепочке — исходный клиент
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	return host
}
