package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
	"github.com/bigkaa/goartstore/attachment-module/internal/txn"
)

// rowID — идентификатор строки в in-memory хранилище.
type rowID struct {
	Space  model.Space
	Entity string
	Key    string
}

// MemoryStore — in-memory хранилище записей (режим без БД и тесты).
// Единица работы откатывается восстановлением снимка; единицы работы
// выполняются последовательно.
type MemoryStore struct {
	shaper

	mu   sync.RWMutex
	rows map[rowID]*row

	// unitMu сериализует единицы работы и обновления статуса
	unitMu sync.Mutex
	logger *slog.Logger
}

// NewMemoryStore создаёт пустое in-memory хранилище.
func NewMemoryStore(s schema.Introspector, fields FieldLocator, logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		shaper: shaper{schema: s, fields: fields},
		rows:   make(map[rowID]*row),
		logger: logger.With(slog.String("component", "memory_store")),
	}
}

// Read реализует RecordReader.
func (m *MemoryStore) Read(_ context.Context, q Query) (model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	root, ok := m.rows[rowID{Space: q.Space, Entity: q.Entity, Key: model.KeyString(q.Keys)}]
	if !ok {
		return nil, ErrNotFound
	}
	return assemble(root, childIndex(m.spaceRows(q.Space)), q.Expands)
}

// Upsert реализует RecordWriter.
func (m *MemoryStore) Upsert(_ context.Context, space model.Space, entity string, rec model.Record) error {
	rows, err := m.flatten(entity, rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range rows {
		r := rows[i]
		id := rowID{Space: space, Entity: r.Entity, Key: r.Key}
		if existing, ok := m.rows[id]; ok {
			merged, err := mergeData(existing.Data, r.Data)
			if err != nil {
				return err
			}
			r.Data = merged
			if r.ParentEntity == "" {
				r.ParentEntity, r.ParentKey, r.ParentEdge = existing.ParentEntity, existing.ParentKey, existing.ParentEdge
				r.Position = existing.Position
			}
		}
		r.ContentID = contentIDOf(r.Data, r.ContentField)
		m.rows[id] = &r
	}
	return nil
}

// Delete реализует RecordWriter.
func (m *MemoryStore) Delete(_ context.Context, space model.Space, entity string, keys map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tree := m.subtree(space, rowID{Space: space, Entity: entity, Key: model.KeyString(keys)})
	if len(tree) == 0 {
		return ErrNotFound
	}
	for _, r := range tree {
		delete(m.rows, rowID{Space: space, Entity: r.Entity, Key: r.Key})
	}
	return nil
}

// CopyTree реализует RecordWriter.
func (m *MemoryStore) CopyTree(_ context.Context, entity string, keys map[string]any, from, to model.Space) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := model.KeyString(keys)
	source := m.subtree(from, rowID{Space: from, Entity: entity, Key: key})
	if len(source) == 0 {
		return ErrNotFound
	}
	for _, r := range m.subtree(to, rowID{Space: to, Entity: entity, Key: key}) {
		delete(m.rows, rowID{Space: to, Entity: r.Entity, Key: r.Key})
	}
	for _, r := range source {
		copied := *r
		copied.Data = append([]byte(nil), r.Data...)
		m.rows[rowID{Space: to, Entity: r.Entity, Key: r.Key}] = &copied
	}
	return nil
}

// UpdateStatusByContentID реализует StatusSink.
func (m *MemoryStore) UpdateStatusByContentID(_ context.Context, contentID string, status model.AttachmentStatus, scannedAt time.Time) (int, error) {
	if contentID == "" {
		return 0, nil
	}
	m.unitMu.Lock()
	defer m.unitMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	updated := 0
	for _, r := range m.rows {
		if r.ContentID != contentID {
			continue
		}
		names, err := m.fields.Resolve(r.Entity)
		if err != nil {
			return updated, err
		}
		patch := statusPatch(names, status, scannedAt)
		if len(patch) == 0 {
			continue
		}
		data, err := json.Marshal(patch)
		if err != nil {
			return updated, fmt.Errorf("ошибка сериализации статуса: %w", err)
		}
		if r.Data, err = mergeData(r.Data, data); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// RunInUnit реализует UnitRunner. При ошибке fn состояние восстанавливается
// из снимка, снятого перед началом.
func (m *MemoryStore) RunInUnit(ctx context.Context, fn func(ctx context.Context, store Store, reg txn.Registrar) error) error {
	uow := txn.NewUnitOfWork(m.logger)

	m.unitMu.Lock()
	snapshot := m.snapshot()
	err := fn(ctx, m, uow)
	if err != nil {
		m.restore(snapshot)
	}
	m.unitMu.Unlock()

	uow.Complete(ctx, err == nil)
	return err
}

// Len возвращает количество строк в пространстве.
func (m *MemoryStore) Len(space model.Space) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.spaceRows(space))
}

func (m *MemoryStore) spaceRows(space model.Space) []*row {
	var out []*row
	for id, r := range m.rows {
		if id.Space == space {
			out = append(out, r)
		}
	}
	return out
}

// subtree возвращает корень и всех его потомков (вызывается под блокировкой).
func (m *MemoryStore) subtree(space model.Space, root rowID) []*row {
	r, ok := m.rows[root]
	if !ok {
		return nil
	}
	children := childIndex(m.spaceRows(space))

	out := []*row{r}
	for i := 0; i < len(out); i++ {
		out = append(out, children[parentRef{Entity: out[i].Entity, Key: out[i].Key}]...)
	}
	return out
}

func (m *MemoryStore) snapshot() map[rowID]row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(map[rowID]row, len(m.rows))
	for id, r := range m.rows {
		snap[id] = *r
	}
	return snap
}

func (m *MemoryStore) restore(snap map[rowID]row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = make(map[rowID]*row, len(snap))
	for id, r := range snap {
		copied := r
		m.rows[id] = &copied
	}
}

// statusPatch формирует поля статуса для записи-вложения.
func statusPatch(names model.AttachmentFieldNames, status model.AttachmentStatus, scannedAt time.Time) map[string]any {
	patch := make(map[string]any, 2)
	if names.Status != "" {
		patch[names.Status] = string(status)
	}
	if names.ScannedAt != "" && !scannedAt.IsZero() {
		patch[names.ScannedAt] = scannedAt.UTC()
	}
	return patch
}
