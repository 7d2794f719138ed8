// health.go — health endpoints для Kubernetes-проб.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/bigkaa/printlink/internal/config"
)

// healthResponse — ответ health endpoint.
type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HealthLive обрабатывает GET /health/live — liveness-проба.
// Процесс жив и отвечает — этого достаточно.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, healthResponse{
		Status:  "ok",
		Version: config.Version,
	})
}

// HealthReady обрабатывает GET /health/ready — readiness-проба.
// Проверяет директорию загрузок, PostgreSQL и expiry-индекс.
// Любой отказ — 503, под выводится из балансировки.
func (h *Handler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	checks := make(map[string]string)
	ready := true

	// Директория загрузок существует и доступна
	if info, err := os.Stat(h.cfg.UploadsDir); err != nil || !info.IsDir() {
		checks["uploads_dir"] = "fail"
		ready = false
	} else {
		checks["uploads_dir"] = "ok"
	}

	// PostgreSQL отвечает на ping
	status, message := h.dbChecker.CheckReady()
	checks["postgresql"] = status
	if status != "ok" {
		checks["postgresql_detail"] = message
		ready = false
	}

	// Expiry-индекс инициализирован
	if h.index.IsReady() {
		checks["expiry_index"] = "ok"
	} else {
		checks["expiry_index"] = "fail"
		ready = false
	}

	resp := healthResponse{
		Status:  "ok",
		Version: config.Version,
		Checks:  checks,
	}
	if !ready {
		resp.Status = "fail"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	h.writeJSON(w, resp)
}
