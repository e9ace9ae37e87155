// Пакет index — потокобезопасный in-memory индекс метаданных контента.
//
// Индекс строится при старте из attr.json файлов (BuildFromDir)
// и обновляется синхронно при операциях записи (Put, Remove).
// Не персистентный: при рестарте пересобирается из attr.json.
package index

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/attr"
)

// Index — индекс метаданных по content_id.
type Index struct {
	mu     sync.RWMutex
	items  map[string]*model.ContentMetadata
	ready  bool
	logger *slog.Logger
}

// New создаёт пустой индекс. Для заполнения вызовите BuildFromDir.
func New(logger *slog.Logger) *Index {
	return &Index{
		items:  make(map[string]*model.ContentMetadata),
		logger: logger.With(slog.String("component", "index")),
	}
}

// BuildFromDir строит индекс из attr.json файлов каталога данных.
// Заменяет текущее содержимое индекса.
func (idx *Index) BuildFromDir(dataDir string) error {
	result, err := attr.ScanDir(dataDir)
	if err != nil {
		return fmt.Errorf("ошибка построения индекса: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.items = make(map[string]*model.ContentMetadata, len(result.Items))
	for _, meta := range result.Items {
		idx.items[meta.ContentID] = meta
	}
	idx.ready = true

	for _, path := range result.Invalid {
		idx.logger.Warn("Пропущен невалидный attr.json", slog.String("path", path))
	}
	idx.logger.Info("Индекс метаданных построен",
		slog.Int("items", len(idx.items)),
		slog.Int("invalid", len(result.Invalid)),
		slog.String("data_dir", dataDir),
	)
	return nil
}

// IsReady возвращает true, если индекс построен.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Put добавляет или заменяет метаданные. Сохраняется копия.
func (idx *Index) Put(meta *model.ContentMetadata) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	copied := *meta
	idx.items[meta.ContentID] = &copied
}

// Remove удаляет метаданные. Возвращает true, если запись была.
func (idx *Index) Remove(contentID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.items[contentID]; !ok {
		return false
	}
	delete(idx.items, contentID)
	return true
}

// Get возвращает копию метаданных или nil.
func (idx *Index) Get(contentID string) *model.ContentMetadata {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	meta, ok := idx.items[contentID]
	if !ok {
		return nil
	}
	copied := *meta
	return &copied
}

// Filter — условие выборки.
type Filter struct {
	// Status — статус сканирования ("" — любой)
	Status model.AttachmentStatus
	// IncludeDeleted — включать помеченные удалёнными
	IncludeDeleted bool
	// OnlyDeleted — только помеченные удалёнными
	OnlyDeleted bool
}

func (f Filter) match(meta *model.ContentMetadata) bool {
	if f.Status != "" && meta.Status != f.Status {
		return false
	}
	if f.OnlyDeleted {
		return meta.IsDeleted()
	}
	return f.IncludeDeleted || !meta.IsDeleted()
}

// List возвращает копии метаданных, отсортированные по времени
// загрузки (старые первыми).
func (idx *Index) List(f Filter) []*model.ContentMetadata {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []*model.ContentMetadata
	for _, meta := range idx.items {
		if !f.match(meta) {
			continue
		}
		copied := *meta
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DeletedSince возвращает помеченные удалёнными начиная с since.
func (idx *Index) DeletedSince(since time.Time) []*model.ContentMetadata {
	var out []*model.ContentMetadata
	for _, meta := range idx.List(Filter{OnlyDeleted: true}) {
		if !meta.DeletedAt.Before(since) {
			out = append(out, meta)
		}
	}
	return out
}

// Count возвращает количество записей в индексе.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.items)
}

// CountByStatus возвращает количество действующих записей со статусом.
func (idx *Index) CountByStatus(st model.AttachmentStatus) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	count := 0
	for _, meta := range idx.items {
		if meta.Status == st && !meta.IsDeleted() {
			count++
		}
	}
	return count
}
