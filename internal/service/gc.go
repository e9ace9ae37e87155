// gc.go — сервис фоновой очистки (Garbage Collection) контента.
//
// GC физически удаляет контент, помеченный удалённым дольше срока
// хранения (AT_DELETED_RETENTION), и завершённые записи WAL.
// До истечения срока контент можно восстановить (restore --since).
//
// Запускается как горутина с периодическим тикером (AT_GC_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/attachment-module/internal/storage/wal"
)

// Prometheus метрики GC
var (
	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "at_gc_runs_total",
		Help: "Общее количество запусков GC",
	})

	gcPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "at_gc_content_purged_total",
		Help: "Общее количество единиц контента, удалённых GC",
	})

	gcDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "at_gc_duration_seconds",
		Help:    "Длительность выполнения GC в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// GCResult — результат одного запуска GC.
type GCResult struct {
	// PurgedCount — количество физически удалённого контента
	PurgedCount int `json:"purged"`
	// WALCleaned — количество удалённых завершённых записей WAL
	WALCleaned int `json:"wal_cleaned"`
	// Errors — количество ошибок
	Errors int `json:"errors"`
	// Duration — длительность выполнения
	Duration time.Duration `json:"duration_ns"`
}

// GCService — сервис фоновой очистки контента.
type GCService struct {
	store     *AttachmentStore
	wal       *wal.WAL
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	now    func() time.Time
}

// NewGCService создаёт сервис GC.
func NewGCService(
	store *AttachmentStore,
	walEngine *wal.WAL,
	interval, retention time.Duration,
	logger *slog.Logger,
) *GCService {
	return &GCService{
		store:     store,
		wal:       walEngine,
		interval:  interval,
		retention: retention,
		logger:    logger.With(slog.String("component", "gc")),
		now:       time.Now,
	}
}

// Start запускает фоновую горутину GC.
func (gc *GCService) Start(ctx context.Context) {
	gcCtx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel

	go gc.run(gcCtx)

	gc.logger.Info("GC запущен",
		slog.String("interval", gc.interval.String()),
		slog.String("retention", gc.retention.String()),
	)
}

// Stop останавливает фоновый процесс GC.
func (gc *GCService) Stop() {
	if gc.cancel != nil {
		gc.cancel()
	}
	gc.logger.Info("GC остановлен")
}

func (gc *GCService) run(ctx context.Context) {
	gc.RunOnce()

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл GC. Параллельные вызовы выполняются
// последовательно.
func (gc *GCService) RunOnce() *GCResult {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := time.Now()
	now := gc.now().UTC()
	result := &GCResult{}

	result.PurgedCount, result.Errors = gc.store.PurgeDeleted(now, gc.retention)

	cleaned, err := gc.wal.CleanCompleted(now.Add(-gc.retention))
	if err != nil {
		gc.logger.Error("GC: ошибка очистки WAL", slog.String("error", err.Error()))
		result.Errors++
	}
	result.WALCleaned = cleaned
	result.Duration = time.Since(start)

	gcRunsTotal.Inc()
	gcPurgedTotal.Add(float64(result.PurgedCount))
	gcDurationSeconds.Observe(result.Duration.Seconds())

	gc.logger.Info("GC завершён",
		slog.Int("purged", result.PurgedCount),
		slog.Int("wal_cleaned", result.WALCleaned),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result
}
