// metrics.go — Prometheus HTTP метрики сервера печати.
// Регистрирует метрики: pl_http_requests_total, pl_http_request_duration_seconds.
// Бизнес-метрики (pl_jobs_total, pl_operations_total) экспортируются
// для обновления из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pl_http_requests_total",
			Help: "Общее количество HTTP-запросов к серверу печати",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pl_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к серверу печати в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (экспортируются для обновления из сервисного слоя)
var (
	// JobsTotal — текущее количество заданий по статусам (gauge).
	JobsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pl_jobs_total",
			Help: "Текущее количество заданий печати по статусам",
		},
		[]string{"status"},
	)

	// OperationsTotal — общее количество операций жизненного цикла.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pl_operations_total",
			Help: "Общее количество операций жизненного цикла заданий",
		},
		[]string{"operation", "result"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем UUID на {id} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет UUID-сегмент пути на {id} для предотвращения
// взрывного роста кардинальности метрик.
// /jobs/a1b2c3d4-e5f6-7890-abcd-ef1234567890/view → /jobs/{id}/view
func normalizePath(path string) string {
	switch path {
	case "/jobs", "/health/live", "/health/ready", "/metrics":
		return path
	}

	parts := strings.Split(path, "/")
	for i, p := range parts {
		if len(p) == 36 && strings.Count(p, "-") == 4 {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
