// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/attachment-module/internal/config"
)

const (
	statusOK       = "ok"
	statusFail     = "fail"
	statusDegraded = "degraded"

	serviceName = "attachment-module"
)

// IndexReadinessChecker — интерфейс для проверки готовности индекса.
type IndexReadinessChecker interface {
	IsReady() bool
}

// ReadinessChecker — дополнительная проверка готовности (PostgreSQL).
type ReadinessChecker interface {
	Name() string
	CheckReady() (status string, message string)
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — каталог контента (для проверки FS)
	dataDir string
	// walDir — каталог WAL
	walDir string
	idx    IndexReadinessChecker
	extra  []ReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// Пустые dataDir/walDir и nil idx отключают соответствующие проверки.
func NewHealthHandler(dataDir, walDir string, idx IndexReadinessChecker, extra ...ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		dataDir: dataDir,
		walDir:  walDir,
		idx:     idx,
		extra:   extra,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
	})
}

// HealthReady обрабатывает GET /health/ready.
// Каталог контента, индекс и внешние проверки обязательны,
// недоступный WAL переводит сервис в degraded.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := statusOK
	httpStatus := http.StatusOK
	fail := func() {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	fsCheck := checkWritable(h.dataDir, "Каталог контента недоступен для записи: ")
	if fsCheck["status"] != statusOK {
		fail()
	}

	walCheck := checkWritable(h.walDir, "Каталог WAL недоступен для записи: ")
	if walCheck["status"] != statusOK && overallStatus != statusFail {
		overallStatus = statusDegraded
	}

	indexCheck := map[string]any{"status": statusOK}
	if h.idx != nil && !h.idx.IsReady() {
		indexCheck = map[string]any{"status": statusFail, "message": "Индекс не построен"}
		fail()
	}

	checks := map[string]any{
		"filesystem": fsCheck,
		"wal":        walCheck,
		"index":      indexCheck,
	}
	for _, c := range h.extra {
		st, msg := c.CheckReady()
		checks[c.Name()] = map[string]any{"status": st, "message": msg}
		if st != statusOK {
			fail()
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
		"checks":    checks,
	})
}

// checkWritable проверяет доступность каталога на запись.
func checkWritable(dir, failPrefix string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  statusOK,
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": failPrefix + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{"status": statusOK}
}
