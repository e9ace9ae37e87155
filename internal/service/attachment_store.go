// Пакет service — хранилище контента, сканирование, GC и операции
// над записями Attachment Module.
// attachment_store.go — хранилище контента вложений на локальном диске.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/domain/status"
	"github.com/bigkaa/goartstore/attachment-module/internal/mediatype"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/attr"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/index"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/wal"
	"github.com/bigkaa/goartstore/attachment-module/internal/stream"
)

// ErrContentNotFound — контент с данным идентификатором отсутствует.
var ErrContentNotFound = model.ErrContentNotFound

// ScanSubmitter — постановка контента в очередь сканирования.
type ScanSubmitter interface {
	Submit(contentID string) bool
}

// AttachmentStore — хранилище контента: файл + attr.json + индекс.
//
// Создание журналируется в WAL записью content_create, которая остаётся
// pending до подтверждения (ConfirmAttachment) или отмены
// (MarkAttachmentAsDeleted до подтверждения). Неподтверждённый контент
// удаляется физически, подтверждённый только помечается удалённым.
type AttachmentStore struct {
	files       *filestore.FileStore
	wal         *wal.WAL
	idx         *index.Index
	maxSize     int64
	scanEnabled bool
	logger      *slog.Logger

	mu      sync.Mutex
	pending map[string]string // content_id → tx_id
	scans   ScanSubmitter
	inline  func(entity string) bool
}

// NewAttachmentStore создаёт хранилище контента.
// maxSize — лимит размера по умолчанию; scanEnabled — новый контент
// получает статус unscanned (иначе сразу clean).
func NewAttachmentStore(
	files *filestore.FileStore,
	walEngine *wal.WAL,
	idx *index.Index,
	maxSize int64,
	scanEnabled bool,
	logger *slog.Logger,
) *AttachmentStore {
	return &AttachmentStore{
		files:       files,
		wal:         walEngine,
		idx:         idx,
		maxSize:     maxSize,
		scanEnabled: scanEnabled,
		pending:     make(map[string]string),
		logger:      logger.With(slog.String("component", "attachment_store")),
	}
}

// SetScanSubmitter подключает очередь сканирования.
func (s *AttachmentStore) SetScanSubmitter(sub ScanSubmitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans = sub
}

// SetInlinePolicy задаёт сущности, контент которых остаётся в самой
// записи (у сущности нет поля идентификатора контента).
func (s *AttachmentStore) SetInlinePolicy(inline func(entity string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inline = inline
}

// CreateAttachment сохраняет новый контент. Встроенный контент не
// читается и не сканируется.
//
// Поток:
//  1. WAL Start (content_create)
//  2. Save (streaming + SHA-256, лимит размера)
//  3. attr.json
//  4. index.Put
//
// WAL-запись остаётся pending до подтверждения.
func (s *AttachmentStore) CreateAttachment(_ context.Context, in model.CreateAttachmentInput) (model.AttachmentModificationResult, error) {
	s.mu.Lock()
	inline := s.inline
	s.mu.Unlock()
	if inline != nil && inline(in.Entity) {
		storeOpsTotal.WithLabelValues("inline", "ok").Inc()
		return model.AttachmentModificationResult{Status: model.StatusClean}, nil
	}

	contentID := uuid.New().String()
	storagePath := filestore.StoragePath(contentID)

	entry, err := s.wal.Start(wal.OpContentCreate, contentID, storagePath, in.Actor)
	if err != nil {
		return model.AttachmentModificationResult{}, fmt.Errorf("журнал создания контента: %w", err)
	}
	rollback := func(saved bool) {
		if saved {
			_ = s.files.Delete(storagePath)
			_ = attr.Delete(attr.PathFor(s.files.DataDir(), storagePath))
		}
		if rbErr := s.wal.Rollback(entry.TransactionID); rbErr != nil {
			s.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
	}

	limit := in.MaxSize
	if limit <= 0 {
		limit = s.maxSize
	}
	src := in.Content
	if src == nil {
		src = strings.NewReader("")
	}
	counted := stream.NewCountingReader(src, limit)

	saved, err := s.files.Save(contentID, counted)
	if err != nil {
		rollback(false)
		storeOpsTotal.WithLabelValues("create", "error").Inc()
		return model.AttachmentModificationResult{}, err
	}

	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = mediatype.ResolveMimeType(in.FileName)
	}
	st := model.StatusClean
	if s.scanEnabled {
		st = model.StatusUnscanned
	}
	meta := &model.ContentMetadata{
		ContentID:     contentID,
		Entity:        in.Entity,
		AttachmentKey: model.KeyString(in.AttachmentKeys),
		FileName:      in.FileName,
		StoragePath:   saved.StoragePath,
		MimeType:      mimeType,
		Size:          saved.Size,
		Checksum:      saved.Checksum,
		CreatedBy:     in.Actor,
		CreatedAt:     time.Now().UTC(),
		Status:        st,
	}
	if err := attr.Write(attr.PathFor(s.files.DataDir(), saved.StoragePath), meta); err != nil {
		rollback(true)
		storeOpsTotal.WithLabelValues("create", "error").Inc()
		return model.AttachmentModificationResult{}, fmt.Errorf("запись метаданных контента: %w", err)
	}
	s.idx.Put(meta)

	s.mu.Lock()
	s.pending[contentID] = entry.TransactionID
	s.mu.Unlock()

	storeOpsTotal.WithLabelValues("create", "ok").Inc()
	storedBytesTotal.Add(float64(saved.Size))
	s.logger.Info("Контент сохранён",
		slog.String("content_id", contentID),
		slog.String("entity", in.Entity),
		slog.String("file_name", in.FileName),
		slog.Int64("size", saved.Size),
		slog.String("status", string(st)),
	)

	return model.AttachmentModificationResult{
		IsExternallyStored: true,
		ContentID:          contentID,
		Status:             st,
	}, nil
}

// UpdateAttachment заменяет контент: прежний помечается удалённым,
// новый создаётся.
func (s *AttachmentStore) UpdateAttachment(ctx context.Context, in model.UpdateAttachmentInput) (model.AttachmentModificationResult, error) {
	if in.ContentID != "" {
		err := s.MarkAttachmentAsDeleted(ctx, model.MarkAsDeletedInput{ContentID: in.ContentID, Actor: in.Actor})
		if err != nil {
			return model.AttachmentModificationResult{}, err
		}
	}
	return s.CreateAttachment(ctx, in.CreateAttachmentInput)
}

// ConfirmAttachment фиксирует созданный контент после фиксации
// единицы работы и ставит его в очередь сканирования.
func (s *AttachmentStore) ConfirmAttachment(_ context.Context, contentID string) error {
	s.mu.Lock()
	txID, ok := s.pending[contentID]
	delete(s.pending, contentID)
	scans := s.scans
	s.mu.Unlock()

	if ok {
		if err := s.wal.Commit(txID); err != nil {
			return fmt.Errorf("фиксация контента %s: %w", contentID, err)
		}
	}

	meta := s.idx.Get(contentID)
	if meta == nil {
		return fmt.Errorf("%w: %s", ErrContentNotFound, contentID)
	}
	if scans != nil && meta.Status == model.StatusUnscanned && !meta.IsDeleted() {
		scans.Submit(contentID)
	}
	return nil
}

// MarkAttachmentAsDeleted помечает контент удалённым. Неподтверждённый
// контент (создан в отменяемой единице работы) удаляется физически.
// Повторная пометка — не ошибка.
func (s *AttachmentStore) MarkAttachmentAsDeleted(_ context.Context, in model.MarkAsDeletedInput) error {
	meta := s.idx.Get(in.ContentID)
	if meta == nil {
		return fmt.Errorf("%w: %s", ErrContentNotFound, in.ContentID)
	}

	s.mu.Lock()
	txID, unconfirmed := s.pending[in.ContentID]
	delete(s.pending, in.ContentID)
	s.mu.Unlock()

	if unconfirmed {
		s.discard(meta)
		if err := s.wal.Rollback(txID); err != nil {
			s.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", txID),
				slog.String("error", err.Error()),
			)
		}
		storeOpsTotal.WithLabelValues("discard", "ok").Inc()
		s.logger.Info("Неподтверждённый контент удалён",
			slog.String("content_id", in.ContentID),
		)
		return nil
	}

	if meta.IsDeleted() {
		return nil
	}
	now := time.Now().UTC()
	meta.DeletedAt = &now
	meta.DeletedBy = in.Actor
	if err := s.writeMeta(meta, in.Actor); err != nil {
		storeOpsTotal.WithLabelValues("mark_deleted", "error").Inc()
		return err
	}
	storeOpsTotal.WithLabelValues("mark_deleted", "ok").Inc()
	s.logger.Info("Контент помечен удалённым",
		slog.String("content_id", in.ContentID),
		slog.String("actor", in.Actor),
	)
	return nil
}

// UndeleteAttachment снимает пометку удаления.
func (s *AttachmentStore) UndeleteAttachment(_ context.Context, contentID string) error {
	meta := s.idx.Get(contentID)
	if meta == nil {
		return fmt.Errorf("%w: %s", ErrContentNotFound, contentID)
	}
	if !meta.IsDeleted() {
		return nil
	}
	meta.DeletedAt = nil
	meta.DeletedBy = ""
	if err := s.writeMeta(meta, ""); err != nil {
		storeOpsTotal.WithLabelValues("undelete", "error").Inc()
		return err
	}
	storeOpsTotal.WithLabelValues("undelete", "ok").Inc()
	return nil
}

// ReadAttachment открывает контент. Статус сканирования не проверяется:
// проверка выполняется вызывающим по статусу записи.
func (s *AttachmentStore) ReadAttachment(_ context.Context, contentID string) (io.ReadCloser, error) {
	meta := s.idx.Get(contentID)
	if meta == nil || meta.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, contentID)
	}
	f, err := s.files.Open(meta.StoragePath)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrContentNotFound, contentID)
		}
		return nil, err
	}
	return f, nil
}

// RestoreAttachment снимает пометку удаления с контента, помеченного
// начиная с since. Возвращает количество восстановленных.
func (s *AttachmentStore) RestoreAttachment(ctx context.Context, since time.Time) (int, error) {
	restored := 0
	var errs []error
	for _, meta := range s.idx.DeletedSince(since) {
		if err := s.UndeleteAttachment(ctx, meta.ContentID); err != nil {
			errs = append(errs, err)
			continue
		}
		restored++
	}
	s.logger.Info("Восстановление контента завершено",
		slog.Time("since", since),
		slog.Int("restored", restored),
		slog.Int("errors", len(errs)),
	)
	return restored, errors.Join(errs...)
}

// Metadata возвращает метаданные контента.
func (s *AttachmentStore) Metadata(contentID string) (*model.ContentMetadata, error) {
	meta := s.idx.Get(contentID)
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, contentID)
	}
	return meta, nil
}

// SetStatus переводит контент в статус to по автомату статусов.
func (s *AttachmentStore) SetStatus(contentID string, to model.AttachmentStatus, at time.Time) (*model.ContentMetadata, error) {
	meta := s.idx.Get(contentID)
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, contentID)
	}
	next, err := status.Transition(meta.Status, to)
	if err != nil {
		return nil, err
	}
	meta.Status = next
	if next != model.StatusScanning {
		scannedAt := at.UTC()
		meta.ScannedAt = &scannedAt
	}
	if err := attr.Write(attr.PathFor(s.files.DataDir(), meta.StoragePath), meta); err != nil {
		return nil, fmt.Errorf("запись статуса контента %s: %w", contentID, err)
	}
	s.idx.Put(meta)
	return meta, nil
}

// Open открывает файл контента по метаданным (для сканирования).
func (s *AttachmentStore) Open(meta *model.ContentMetadata) (io.ReadCloser, error) {
	return s.files.Open(meta.StoragePath)
}

// PurgeDeleted физически удаляет контент, помеченный удалённым раньше
// now-retention. Возвращает количество удалённых и ошибок.
func (s *AttachmentStore) PurgeDeleted(now time.Time, retention time.Duration) (purged, failed int) {
	for _, meta := range s.idx.List(index.Filter{OnlyDeleted: true}) {
		if !meta.IsPurgeable(now, retention) {
			continue
		}
		entry, err := s.wal.Start(wal.OpContentPurge, meta.ContentID, meta.StoragePath, "")
		if err != nil {
			s.logger.Error("GC: ошибка журнала",
				slog.String("content_id", meta.ContentID),
				slog.String("error", err.Error()),
			)
			failed++
			continue
		}
		if err := s.files.Delete(meta.StoragePath); err != nil {
			s.logger.Error("GC: ошибка удаления файла",
				slog.String("content_id", meta.ContentID),
				slog.String("storage_path", meta.StoragePath),
				slog.String("error", err.Error()),
			)
			_ = s.wal.Rollback(entry.TransactionID)
			failed++
			continue
		}
		if err := attr.Delete(attr.PathFor(s.files.DataDir(), meta.StoragePath)); err != nil {
			// файл уже удалён, attr.json будет удалён при восстановлении
			s.logger.Error("GC: ошибка удаления attr.json",
				slog.String("content_id", meta.ContentID),
				slog.String("error", err.Error()),
			)
			failed++
			continue
		}
		s.idx.Remove(meta.ContentID)
		_ = s.wal.Commit(entry.TransactionID)
		purged++
	}
	return purged, failed
}

// RecoverPending разбирает незавершённые WAL-записи после рестарта:
// неподтверждённый контент удаляется, начатая очистка завершается.
// Вызывается после построения индекса.
func (s *AttachmentStore) RecoverPending() (int, error) {
	if removed, err := s.files.CleanTemp(); err != nil {
		return 0, fmt.Errorf("очистка временных файлов: %w", err)
	} else if removed > 0 {
		s.logger.Warn("Удалены незавершённые временные файлы", slog.Int("count", removed))
	}

	entries, err := s.wal.Pending()
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		s.logger.Warn("Обнаружена незавершённая WAL-запись",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("content_id", entry.ContentID),
			slog.Time("started_at", entry.StartedAt),
		)
		switch entry.Operation {
		case wal.OpContentCreate, wal.OpContentPurge:
			_ = s.files.Delete(entry.StoragePath)
			_ = attr.Delete(attr.PathFor(s.files.DataDir(), entry.StoragePath))
			s.idx.Remove(entry.ContentID)
		}
		if entry.Operation == wal.OpContentPurge {
			err = s.wal.Commit(entry.TransactionID)
		} else {
			// attr.json записывается атомарно: пометка либо применена, либо нет
			err = s.wal.Rollback(entry.TransactionID)
		}
		if err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

// writeMeta сохраняет изменение метаданных под записью content_mark.
func (s *AttachmentStore) writeMeta(meta *model.ContentMetadata, actor string) error {
	entry, err := s.wal.Start(wal.OpContentMark, meta.ContentID, meta.StoragePath, actor)
	if err != nil {
		return fmt.Errorf("журнал изменения контента: %w", err)
	}
	if err := attr.Write(attr.PathFor(s.files.DataDir(), meta.StoragePath), meta); err != nil {
		_ = s.wal.Rollback(entry.TransactionID)
		return fmt.Errorf("запись метаданных контента %s: %w", meta.ContentID, err)
	}
	s.idx.Put(meta)
	return s.wal.Commit(entry.TransactionID)
}

// discard удаляет файл, attr.json и запись индекса.
func (s *AttachmentStore) discard(meta *model.ContentMetadata) {
	if err := s.files.Delete(meta.StoragePath); err != nil {
		s.logger.Error("Ошибка удаления файла контента",
			slog.String("content_id", meta.ContentID),
			slog.String("error", err.Error()),
		)
	}
	_ = attr.Delete(attr.PathFor(s.files.DataDir(), meta.StoragePath))
	s.idx.Remove(meta.ContentID)
}
