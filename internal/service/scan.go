// scan.go — фоновое сканирование контента на вредоносное содержимое.
//
// Подтверждённый контент ставится в очередь (Submit). Воркеры передают
// его сканеру, переводят статус по автомату статусов, сохраняют
// attr.json и синхронизируют статус в записях через StatusSink.
// Непросканированный и упавший контент периодически ставится в
// очередь повторно.
package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/repository"
	"github.com/bigkaa/goartstore/attachment-module/internal/scanner"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/index"
)

// Scanner — проверка контента.
type Scanner interface {
	Scan(ctx context.Context, contentID string, content io.Reader) (scanner.Verdict, error)
}

// ScanService — пул воркеров сканирования.
type ScanService struct {
	store   *AttachmentStore
	idx     *index.Index
	scanner Scanner
	sink    repository.StatusSink
	workers int
	requeue time.Duration
	logger  *slog.Logger

	queue    chan string
	inflight mapset.Set[string]
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewScanService создаёт сервис сканирования и подключает его
// к хранилищу как очередь.
func NewScanService(
	store *AttachmentStore,
	idx *index.Index,
	sc Scanner,
	sink repository.StatusSink,
	workers, queueSize int,
	requeue time.Duration,
	logger *slog.Logger,
) *ScanService {
	s := &ScanService{
		store:    store,
		idx:      idx,
		scanner:  sc,
		sink:     sink,
		workers:  workers,
		requeue:  requeue,
		queue:    make(chan string, queueSize),
		inflight: mapset.NewSet[string](),
		logger:   logger.With(slog.String("component", "scan")),
	}
	store.SetScanSubmitter(s)
	return s
}

// Submit ставит контент в очередь без блокировки. При переполнении
// возвращает false: контент будет поставлен повторно по интервалу.
func (s *ScanService) Submit(contentID string) bool {
	if !s.inflight.Add(contentID) {
		return true
	}
	select {
	case s.queue <- contentID:
		return true
	default:
		s.inflight.Remove(contentID)
		scanQueueDropped.Inc()
		s.logger.Warn("Очередь сканирования переполнена",
			slog.String("content_id", contentID),
		)
		return false
	}
}

// Start запускает воркеры и периодическую повторную постановку.
func (s *ScanService) Start(ctx context.Context) {
	scanCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(scanCtx)
	}
	s.wg.Add(1)
	go s.requeueLoop(scanCtx)

	s.logger.Info("Сканирование запущено",
		slog.Int("workers", s.workers),
		slog.Int("queue_size", cap(s.queue)),
		slog.String("requeue_interval", s.requeue.String()),
	)
}

// Stop останавливает воркеры и ждёт их завершения.
func (s *ScanService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Сканирование остановлено")
}

func (s *ScanService) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			s.ScanOne(ctx, id)
			s.inflight.Remove(id)
		}
	}
}

func (s *ScanService) requeueLoop(ctx context.Context) {
	defer s.wg.Done()
	s.Requeue()

	ticker := time.NewTicker(s.requeue)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Requeue()
		}
	}
}

// Requeue ставит в очередь весь действующий контент, не получивший
// окончательного вердикта. Возвращает количество поставленных.
func (s *ScanService) Requeue() int {
	queued := 0
	for _, st := range []model.AttachmentStatus{model.StatusUnscanned, model.StatusScanning, model.StatusFailed} {
		for _, meta := range s.idx.List(index.Filter{Status: st}) {
			if s.inflight.Contains(meta.ContentID) {
				continue
			}
			if s.Submit(meta.ContentID) {
				queued++
			}
		}
	}
	for _, st := range []model.AttachmentStatus{
		model.StatusUnscanned, model.StatusScanning, model.StatusClean, model.StatusInfected, model.StatusFailed,
	} {
		contentItems.WithLabelValues(string(st)).Set(float64(s.idx.CountByStatus(st)))
	}
	return queued
}

// ScanOne сканирует один контент и возвращает итоговый статус.
// Пустой статус — контент пропущен (удалён или уже проверен).
func (s *ScanService) ScanOne(ctx context.Context, contentID string) model.AttachmentStatus {
	meta, err := s.store.Metadata(contentID)
	if err != nil || meta.IsDeleted() {
		return ""
	}
	switch meta.Status {
	case model.StatusClean, model.StatusInfected:
		return ""
	case model.StatusUnscanned, model.StatusFailed:
		// scanning после рестарта уже выставлен
		if meta, err = s.store.SetStatus(contentID, model.StatusScanning, time.Now()); err != nil {
			s.logger.Error("Ошибка смены статуса",
				slog.String("content_id", contentID),
				slog.String("error", err.Error()),
			)
			return ""
		}
	}

	start := time.Now()
	verdict, scanErr := s.scan(ctx, meta)
	scanDuration.Observe(time.Since(start).Seconds())

	final := model.StatusClean
	switch {
	case scanErr != nil:
		if ctx.Err() != nil {
			// остановка сервиса: контент останется scanning и будет поставлен повторно
			return ""
		}
		final = model.StatusFailed
		s.logger.Warn("Ошибка сканирования",
			slog.String("content_id", contentID),
			slog.String("error", scanErr.Error()),
		)
	case verdict == scanner.VerdictInfected:
		final = model.StatusInfected
	}
	scansTotal.WithLabelValues(string(final)).Inc()

	now := time.Now().UTC()
	if _, err := s.store.SetStatus(contentID, final, now); err != nil {
		s.logger.Error("Ошибка смены статуса",
			slog.String("content_id", contentID),
			slog.String("error", err.Error()),
		)
		return ""
	}

	updated, err := s.sink.UpdateStatusByContentID(ctx, contentID, final, now)
	if err != nil {
		s.logger.Error("Ошибка синхронизации статуса записей",
			slog.String("content_id", contentID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Info("Контент просканирован",
		slog.String("content_id", contentID),
		slog.String("status", string(final)),
		slog.Int("records", updated),
	)
	return final
}

func (s *ScanService) scan(ctx context.Context, meta *model.ContentMetadata) (scanner.Verdict, error) {
	f, err := s.store.Open(meta)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return s.scanner.Scan(ctx, meta.ContentID, f)
}
