// maintenance.go — обработчики POST /api/v1/maintenance/*.
// Восстановление удалённого контента, запуск GC и сверки по запросу.
package handlers

import (
	"context"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/attachment-module/internal/api/errors"
	"github.com/bigkaa/goartstore/attachment-module/internal/service"
)

// ReconcileRunner — интерфейс для запуска сверки.
// Позволяет тестировать handler без полного ReconcileService.
type ReconcileRunner interface {
	// RunOnce выполняет один цикл сверки.
	// Возвращает результат и флаг "уже выполняется".
	RunOnce() (*service.ReconcileResult, bool)
}

// GCRunner — интерфейс для запуска GC.
type GCRunner interface {
	RunOnce() *service.GCResult
}

// Restorer — восстановление контента, помеченного удалённым.
type Restorer interface {
	Restore(ctx context.Context, since time.Time) (int, error)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	restorer   Restorer
	gc         GCRunner
	reconciler ReconcileRunner
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
// gc и reconciler могут быть nil: соответствующий endpoint вернёт пустой результат.
func NewMaintenanceHandler(restorer Restorer, gc GCRunner, reconciler ReconcileRunner) *MaintenanceHandler {
	return &MaintenanceHandler{
		restorer:   restorer,
		gc:         gc,
		reconciler: reconciler,
	}
}

// Restore обрабатывает POST /api/v1/maintenance/restore?since=RFC3339.
// Снимает пометку удаления с контента, помеченного начиная с since.
func (h *MaintenanceHandler) Restore(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		apierrors.ValidationError(w, "Параметр since обязателен")
		return
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		apierrors.ValidationError(w, "Параметр since должен быть в формате RFC3339")
		return
	}

	restored, err := h.restorer.Restore(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":    since.UTC(),
		"restored": restored,
	})
}

// RunGC обрабатывает POST /api/v1/maintenance/gc.
func (h *MaintenanceHandler) RunGC(w http.ResponseWriter, _ *http.Request) {
	if h.gc == nil {
		writeJSON(w, http.StatusOK, &service.GCResult{})
		return
	}
	writeJSON(w, http.StatusOK, h.gc.RunOnce())
}

// Reconcile обрабатывает POST /api/v1/maintenance/reconcile.
// Запускает синхронный цикл сверки и возвращает результат.
// Если сверка уже выполняется — 409 RECONCILE_IN_PROGRESS.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, _ *http.Request) {
	if h.reconciler == nil {
		now := time.Now().UTC()
		writeJSON(w, http.StatusOK, &service.ReconcileResult{
			StartedAt:   now,
			CompletedAt: now,
			Issues:      []service.ReconcileIssue{},
		})
		return
	}

	result, inProgress := h.reconciler.RunOnce()
	if inProgress {
		apierrors.ReconcileInProgress(w, "Сверка уже выполняется")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
